package fetch

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"project-tachyon/internal/hash"
	"project-tachyon/internal/storage"
)

const (
	minChunkSize  = 4 * 1024 * 1024  // below this, a single-stream download is not worth splitting
	maxChunkCount = 16
)

// dispatchLoop is the background scheduler: it blocks on the queue's
// condition variable until a task is runnable and a worker slot is
// free, then hands the task to executeTask in its own goroutine.
func (f *Fetcher) dispatchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		f.workerMutex.Lock()
		for f.runningDownloads >= f.maxConcurrent {
			f.workerCond.Wait()
			if ctx.Err() != nil {
				f.workerMutex.Unlock()
				return
			}
		}
		running := f.runningDownloads
		max := f.maxConcurrent
		f.workerMutex.Unlock()

		task := f.scheduler.GetNextTask(running, max)
		if task == nil {
			f.queue.Wait()
			continue
		}

		f.workerMutex.Lock()
		f.runningDownloads++
		f.workerMutex.Unlock()
		f.scheduler.OnTaskStarted(task)

		go func(t *storage.DownloadTask) {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("download worker panicked", "task", t.ID, "panic", r)
					f.failTask(t, fmt.Sprintf("internal error: %v", r))
				}
				f.workerMutex.Lock()
				f.runningDownloads--
				f.workerCond.Broadcast()
				f.workerMutex.Unlock()
				f.scheduler.OnTaskCompleted(t)
			}()
			f.executeTask(ctx, t)
		}(task)
	}
}

// executeTask drives one download end to end: probing, pre-allocation,
// chunked parallel transfer with resume, integrity verification and
// status/progress publication.
func (f *Fetcher) executeTask(parent context.Context, task *storage.DownloadTask) {
	taskCtx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	f.activeDownloads.Store(task.ID, &activeDownloadInfo{Cancel: cancel, Wait: &wg})
	defer func() {
		cancel()
		f.activeDownloads.Delete(task.ID)
	}()

	task.Status = "downloading"
	task.StartTime = time.Now().Format(time.RFC3339)
	f.publish(task)

	headers := decodeHeaders(task.Headers)
	probe, err := f.probeURL(taskCtx, task.URL, headers)
	if err != nil {
		f.failTask(task, err.Error())
		return
	}
	if task.TotalSize == 0 {
		task.TotalSize = probe.Size
	}
	if task.Filename == "" || task.Filename == task.SavePath {
		task.Filename = probe.Filename
	}

	tempPath := f.allocator.TempPath(task.SavePath)

	completed, priorETag, priorLastModified, hasState := deserializeState(task.MetaJSON)
	if hasState && !validateResumeState(priorETag, priorLastModified, probe.ETag, probe.LastModified) {
		completed = nil
		_ = os.Remove(tempPath)
	}
	if completed == nil {
		completed = make(map[int]bool)
	}

	if err := os.MkdirAll(filepath.Dir(task.SavePath), 0755); err != nil {
		f.failTask(task, err.Error())
		return
	}
	if err := f.allocator.AllocateFile(tempPath, task.TotalSize); err != nil {
		f.failTask(task, err.Error())
		return
	}

	numParts := 1
	if probe.AcceptRanges && task.TotalSize > minChunkSize {
		numParts = int(math.Min(float64(maxChunkCount), math.Ceil(float64(task.TotalSize)/float64(minChunkSize))))
	}
	parts := splitParts(task.TotalSize, numParts)

	file, err := os.OpenFile(tempPath, os.O_RDWR, 0666)
	if err != nil {
		f.failTask(task, err.Error())
		return
	}
	defer file.Close()

	partCh := make(chan downloadPart, len(parts))
	errCh := make(chan error, 1)
	partDoneCh := make(chan downloadPart, len(parts))

	pending := 0
	for _, p := range parts {
		if completed[p.ID] {
			continue
		}
		pending++
		partCh <- p
	}
	if pending == 0 {
		f.finishTask(task, tempPath, headers, probe)
		return
	}
	close(partCh)

	host := extractDomain(task.URL)
	workerCount := f.congestionController.GetIdealConcurrency(host)
	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > pending {
		workerCount = pending
	}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go f.downloadWorker(taskCtx, &wg, task, file, headers, partCh, partDoneCh, errCh)
	}

	progressTicker := time.NewTicker(500 * time.Millisecond)
	defer progressTicker.Stop()

	var downloaded int64
	for _, p := range parts {
		if completed[p.ID] {
			downloaded += p.EndOffset - p.StartOffset + 1
		}
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	lastBytes := downloaded
	lastTick := time.Now()

	for {
		select {
		case <-taskCtx.Done():
			task.Status = "paused"
			task.MetaJSON = serializeState(completed, numParts, task.TotalSize, probe.ETag, probe.LastModified)
			task.UpdatedAt = time.Now().Format(time.RFC3339)
			_ = f.storage.SaveTask(*task)
			f.publish(task)
			return
		case err := <-errCh:
			cancel()
			<-doneCh
			task.MetaJSON = serializeState(completed, numParts, task.TotalSize, probe.ETag, probe.LastModified)
			f.failTask(task, err.Error())
			return
		case p := <-partDoneCh:
			completed[p.ID] = true
			downloaded += p.EndOffset - p.StartOffset + 1
		case <-progressTicker.C:
			elapsed := time.Since(lastTick).Seconds()
			if elapsed > 0 {
				task.Speed = float64(downloaded-lastBytes) / elapsed
			}
			lastBytes = downloaded
			lastTick = time.Now()
			task.Downloaded = downloaded
			if task.TotalSize > 0 {
				task.Progress = float64(downloaded) / float64(task.TotalSize) * 100
			}
			task.MetaJSON = serializeState(completed, numParts, task.TotalSize, probe.ETag, probe.LastModified)
			f.publish(task)
		case <-doneCh:
			if len(completed) >= numParts {
				f.finishTask(task, tempPath, headers, probe)
				return
			}
		}
	}
}

// finishTask verifies the fully-downloaded temp sibling — size first,
// then checksum — and only renames it into the real SavePath once both
// checks pass, so a failed verification never leaves a partial or
// corrupt file at the real destination.
func (f *Fetcher) finishTask(task *storage.DownloadTask, tempPath string, headers map[string]string, probe *probeResult) {
	if task.TotalSize > 0 {
		if err := hash.VerifySize(tempPath, task.TotalSize); err != nil {
			_ = os.Remove(tempPath)
			f.failTask(task, err.Error())
			return
		}
	}
	if task.ExpectedHash != "" && task.HashAlgorithm != "" {
		if err := f.verifier.Verify(tempPath, hash.Kind(task.HashAlgorithm), task.ExpectedHash); err != nil {
			_ = os.Remove(tempPath)
			f.failTask(task, err.Error())
			return
		}
	}
	if err := os.Rename(tempPath, task.SavePath); err != nil {
		f.failTask(task, err.Error())
		return
	}
	task.Status = "completed"
	task.Progress = 100
	task.Downloaded = task.TotalSize
	task.MetaJSON = ""
	task.UpdatedAt = time.Now().Format(time.RFC3339)
	if err := f.storage.SaveTask(*task); err != nil {
		f.logger.Error("failed to persist completed task", "task", task.ID, "error", err)
	}
	_ = f.storage.IncrementDailyBytes(task.TotalSize)
	_ = f.storage.IncrementDailyFiles()
	f.publish(task)
}

func (f *Fetcher) failTask(task *storage.DownloadTask, reason string) {
	task.Status = "error"
	task.UpdatedAt = time.Now().Format(time.RFC3339)
	if err := f.storage.SaveTask(*task); err != nil {
		f.logger.Error("failed to persist failed task", "task", task.ID, "error", err)
	}
	f.logger.Warn("download failed", "task", task.ID, "reason", reason)
	f.publish(task)
}

// downloadPart describes one contiguous byte range to fetch.
type downloadPart struct {
	ID          int
	StartOffset int64
	EndOffset   int64 // inclusive
}

func splitParts(totalSize int64, numParts int) []downloadPart {
	if numParts < 1 {
		numParts = 1
	}
	parts := make([]downloadPart, 0, numParts)
	chunkSize := totalSize / int64(numParts)
	var start int64
	for i := 0; i < numParts; i++ {
		end := start + chunkSize - 1
		if i == numParts-1 || end >= totalSize-1 {
			end = totalSize - 1
		}
		parts = append(parts, downloadPart{ID: i, StartOffset: start, EndOffset: end})
		start = end + 1
	}
	return parts
}
