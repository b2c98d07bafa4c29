package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"project-tachyon/internal/filesystem"
	"project-tachyon/internal/hash"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/network"
	"project-tachyon/internal/storage"
)

// ProgressTopic is the invalidation bus topic carrying per-task progress
// events; payloads are *storage.DownloadTask snapshots.
const ProgressTopic = "fetch:progress"

// activeDownloadInfo lets Pause/Stop reach a running download's
// cancellation without threading a context through the queue.
type activeDownloadInfo struct {
	Cancel context.CancelFunc
	Wait   *sync.WaitGroup
}

// Fetcher drives any number of Downloadables through a chunked,
// resumable, congestion-aware worker pool. One Fetcher is shared by
// every caller in the process — the modpack installer, Java runtime
// downloads, and manual single-file fetches issued from the control
// API all enqueue onto the same instance.
type Fetcher struct {
	logger  *slog.Logger
	storage *storage.Storage
	bus     *invalidation.Bus

	queue     *downloadQueue
	scheduler *hostScheduler

	httpClient *http.Client
	bufferPool sync.Pool

	bandwidthManager     *network.BandwidthManager
	congestionController *network.CongestionController
	allocator            *filesystem.Allocator
	verifier             *hash.Verifier

	activeDownloads sync.Map // id -> *activeDownloadInfo

	maxConcurrent    int
	runningDownloads int
	workerMutex      sync.Mutex
	workerCond       *sync.Cond

	userAgent string
}

// NewFetcher wires a Fetcher and starts its background dispatch loop.
// Callers stop it by cancelling ctx.
func NewFetcher(ctx context.Context, logger *slog.Logger, store *storage.Storage, bus *invalidation.Bus) *Fetcher {
	q := newDownloadQueue()
	f := &Fetcher{
		logger:    logger,
		storage:   store,
		bus:       bus,
		queue:     q,
		scheduler: newHostScheduler(q),
		httpClient: &http.Client{
			Timeout: 0, // per-request timeouts are set via context
		},
		bufferPool: sync.Pool{
			New: func() any {
				buf := make([]byte, 256*1024)
				return &buf
			},
		},
		bandwidthManager:     network.NewBandwidthManager(),
		congestionController: network.NewCongestionController(1, 8),
		allocator:            filesystem.NewAllocator(),
		verifier:             hash.NewVerifier(),
		maxConcurrent:        4,
		userAgent:            genericUserAgent,
	}
	f.workerCond = sync.NewCond(&f.workerMutex)

	go f.dispatchLoop(ctx)
	return f
}

// SetMaxConcurrent changes the global worker slot count.
func (f *Fetcher) SetMaxConcurrent(n int) {
	f.workerMutex.Lock()
	defer f.workerMutex.Unlock()
	if n < 1 {
		n = 1
	}
	f.maxConcurrent = n
	f.workerCond.Broadcast()
}

// SetGlobalBandwidthLimit sets the process-wide throughput ceiling in
// bytes per second; 0 disables the limit.
func (f *Fetcher) SetGlobalBandwidthLimit(bytesPerSec int) {
	f.bandwidthManager.SetLimit(bytesPerSec)
}

// SetHostLimit caps concurrent downloads against a single host.
func (f *Fetcher) SetHostLimit(host string, limit int) {
	f.scheduler.SetHostLimit(host, limit)
}

// Enqueue schedules a Downloadable for background fetching and returns
// the persisted task record tracking its progress.
func (f *Fetcher) Enqueue(d Downloadable) (*storage.DownloadTask, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("downloadable requires an ID")
	}
	now := time.Now().Format(time.RFC3339)
	task := &storage.DownloadTask{
		ID:            d.ID,
		Filename:      d.SavePath,
		URL:           d.URL,
		SavePath:      d.SavePath,
		Status:        "queued",
		Priority:      d.Priority,
		QueueOrder:    f.queue.GetNextOrder(),
		TotalSize:     d.ExpectedSize,
		ExpectedHash:  d.ExpectedHash,
		HashAlgorithm: string(d.HashKind),
		Headers:       encodeHeaders(d.Headers),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if alreadySatisfied(task) {
		task.Status = "completed"
		task.Progress = 100
		task.Downloaded = task.TotalSize
		task.UpdatedAt = now
		if err := f.storage.SaveTask(*task); err != nil {
			return nil, fmt.Errorf("failed to persist task: %w", err)
		}
		f.publish(task)
		return task, nil
	}

	if err := f.storage.SaveTask(*task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	f.queue.Push(task)
	f.publish(task)
	return task, nil
}

// alreadySatisfied reports whether task.SavePath already exists on
// disk with the size and (if specified) checksum the task expects, in
// which case re-enqueuing the same Downloadable is a no-op rather than
// a redundant re-download.
func alreadySatisfied(task *storage.DownloadTask) bool {
	if task.TotalSize <= 0 {
		return false
	}
	if err := hash.VerifySize(task.SavePath, task.TotalSize); err != nil {
		return false
	}
	if task.ExpectedHash != "" && task.HashAlgorithm != "" {
		actual, err := hash.CalculateHash(task.SavePath, hash.Kind(task.HashAlgorithm))
		if err != nil || actual != task.ExpectedHash {
			return false
		}
	}
	return true
}

// Pause requests cancellation of a running download; the worker leaves
// partial progress on disk for Resume to pick back up.
func (f *Fetcher) Pause(id string) error {
	v, ok := f.activeDownloads.Load(id)
	if !ok {
		return fmt.Errorf("task %s is not running", id)
	}
	info := v.(*activeDownloadInfo)
	info.Cancel()
	info.Wait.Wait()
	return nil
}

// Resume re-enqueues a previously paused or failed task.
func (f *Fetcher) Resume(id string) error {
	record, err := f.storage.GetTask(id)
	if err != nil {
		return err
	}
	record.Status = "queued"
	record.QueueOrder = f.queue.GetNextOrder()
	if err := f.storage.SaveTask(record); err != nil {
		return err
	}
	task := &record
	f.queue.Push(task)
	f.publish(task)
	return nil
}

// Stop cancels a running download, removes it from the queue and marks
// it "stopped" (distinct from the "error" status of a failed download).
func (f *Fetcher) Stop(id string) error {
	if v, ok := f.activeDownloads.Load(id); ok {
		info := v.(*activeDownloadInfo)
		info.Cancel()
		info.Wait.Wait()
	}
	f.queue.Remove(id)
	record, err := f.storage.GetTask(id)
	if err != nil {
		return err
	}
	record.Status = "stopped"
	record.UpdatedAt = time.Now().Format(time.RFC3339)
	if err := f.storage.SaveTask(record); err != nil {
		return err
	}
	f.publish(&record)
	return nil
}

// Delete removes a task's bookkeeping row. It does not stop an active
// worker — callers must Stop first.
func (f *Fetcher) Delete(id string) error {
	f.queue.Remove(id)
	return f.storage.DeleteTask(id)
}

// Wait blocks until no queued or running downloads remain. Intended for
// callers (like the modpack installer) driving a bounded batch of
// fetches to completion rather than an open-ended queue.
func (f *Fetcher) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.workerMutex.Lock()
			running := f.runningDownloads
			f.workerMutex.Unlock()
			if running == 0 && f.queue.Len() == 0 {
				return nil
			}
		}
	}
}

func (f *Fetcher) publish(task *storage.DownloadTask) {
	if f.bus == nil {
		return
	}
	snapshot := *task
	f.bus.Publish(invalidation.Event{Topic: ProgressTopic, Payload: &snapshot})
}
