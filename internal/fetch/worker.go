package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"project-tachyon/internal/storage"
)

const maxPartAttempts = 3

// downloadWorker pulls parts off partCh until it's drained, writing
// each at its file offset and reporting completion or terminal error
// back to executeTask via partDoneCh/errCh.
func (f *Fetcher) downloadWorker(ctx context.Context, wg *sync.WaitGroup, task *storage.DownloadTask, file *os.File, headers map[string]string, partCh <-chan downloadPart, partDoneCh chan<- downloadPart, errCh chan<- error) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case part, ok := <-partCh:
			if !ok {
				return
			}
			if err := f.processPart(ctx, task, file, headers, part); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			select {
			case partDoneCh <- part:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processPart retries a single chunk up to maxPartAttempts times,
// recording each attempt's outcome with the congestion controller so
// GetIdealConcurrency can react to errors and latency.
func (f *Fetcher) processPart(ctx context.Context, task *storage.DownloadTask, file *os.File, headers map[string]string, part downloadPart) error {
	host := extractDomain(task.URL)
	var lastErr error

	for attempt := 1; attempt <= maxPartAttempts; attempt++ {
		start := time.Now()
		err := f.downloadPart(ctx, task, file, headers, part)
		f.congestionController.RecordOutcome(host, time.Since(start), err)

		if err == nil {
			return nil
		}
		if err == ErrLinkExpired {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return fmt.Errorf("part %d failed after %d attempts: %w", part.ID, maxPartAttempts, lastErr)
}

// downloadPart issues a single ranged GET and streams the body into
// file at part's offset, honoring the bandwidth manager between reads.
func (f *Fetcher) downloadPart(ctx context.Context, task *storage.DownloadTask, file *os.File, headers map[string]string, part downloadPart) error {
	req, err := f.newRequest("GET", task.URL, headers)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", part.StartOffset, part.EndOffset))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return friendlyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrLinkExpired
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return friendlyHTTPError(resp.StatusCode)
	}

	bufPtr := f.bufferPool.Get().(*[]byte)
	defer f.bufferPool.Put(bufPtr)
	buf := *bufPtr

	offset := part.StartOffset
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := f.bandwidthManager.Wait(ctx, task.ID, n); err != nil {
				return err
			}
			if _, writeErr := file.WriteAt(buf[:n], offset); writeErr != nil {
				return fmt.Errorf("write failed: %w", writeErr)
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return friendlyError(readErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
