package fetch

import (
	"net/url"
	"sort"
	"sync"

	"project-tachyon/internal/storage"
)

// downloadQueue holds pending tasks ordered by QueueOrder, with a
// condition variable workers block on when nothing is runnable yet.
type downloadQueue struct {
	items []*storage.DownloadTask
	mutex sync.Mutex
	cond  *sync.Cond
}

func newDownloadQueue() *downloadQueue {
	q := &downloadQueue{items: make([]*storage.DownloadTask, 0)}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *downloadQueue) Push(task *storage.DownloadTask) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.items = append(q.items, task)
	sort.Slice(q.items, func(i, j int) bool { return q.items[i].QueueOrder < q.items[j].QueueOrder })
	q.cond.Signal()
}

func (q *downloadQueue) Remove(id string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *downloadQueue) GetAll() []*storage.DownloadTask {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	result := make([]*storage.DownloadTask, len(q.items))
	copy(result, q.items)
	return result
}

func (q *downloadQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *downloadQueue) GetNextOrder() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	maxOrder := 0
	for _, item := range q.items {
		if item.QueueOrder > maxOrder {
			maxOrder = item.QueueOrder
		}
	}
	return maxOrder + 1
}

func (q *downloadQueue) Wait() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.cond.Wait()
}

func (q *downloadQueue) Broadcast() {
	q.cond.Broadcast()
}

// hostScheduler enforces a per-host concurrency ceiling on top of the
// global worker-count limit, so one slow/overloaded host can't starve
// downloads from every other host sharing the queue.
type hostScheduler struct {
	queue         *downloadQueue
	mu            sync.Mutex
	hostLimits    map[string]int
	activePerHost map[string]int
}

func newHostScheduler(queue *downloadQueue) *hostScheduler {
	return &hostScheduler{
		queue:         queue,
		hostLimits:    make(map[string]int),
		activePerHost: make(map[string]int),
	}
}

func (s *hostScheduler) SetHostLimit(host string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostLimits[host] = limit
}

func (s *hostScheduler) OnTaskStarted(task *storage.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	domain := extractDomain(task.URL)
	s.activePerHost[domain]++
	task.Domain = domain
}

func (s *hostScheduler) OnTaskCompleted(task *storage.DownloadTask) {
	s.mu.Lock()
	domain := extractDomain(task.URL)
	if s.activePerHost[domain] > 0 {
		s.activePerHost[domain]--
	}
	s.mu.Unlock()
	s.queue.Broadcast()
}

// GetNextTask returns the next runnable task respecting the global slot
// count and any per-host limit, skipping tasks whose host is saturated.
func (s *hostScheduler) GetNextTask(activeCount, maxConcurrent int) *storage.DownloadTask {
	if activeCount >= maxConcurrent {
		return nil
	}

	for _, task := range s.queue.GetAll() {
		domain := extractDomain(task.URL)

		s.mu.Lock()
		limit := s.hostLimits[domain]
		active := s.activePerHost[domain]
		s.mu.Unlock()

		if limit > 0 && active >= limit {
			continue
		}

		if s.queue.Remove(task.ID) {
			return task
		}
	}
	return nil
}

func extractDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
