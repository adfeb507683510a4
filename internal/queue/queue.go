// Package queue implements the URL queue (C1): a FIFO of pending work
// items with priority ordering, in-flight/processed tracking, and
// retry re-admission subject to a retry ceiling.
//
// The queue is a single object guarded by one mutex — one of the two
// actor shapes sanctioned by the design notes (the other, used by the
// registry's sweep and the producer/pipeline pair, is a goroutine over
// a channel). All operations work on in-memory state and never block
// on I/O, so a mutex is sufficient to give callers a linearizable view.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caiatech/crawlcore/pkg/logging"
)

// Item is the unit of work flowing through the pipeline.
type Item struct {
	URL       string
	CrawlerID string
	Priority  int
	Retries   int
	AddedAt   time.Time
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued     int
	Processing int
	Processed  int
	Failed     int
}

// Queue is the URL queue (C1).
type Queue struct {
	mu sync.Mutex

	pending    itemHeap
	seq        int64 // tie-breaker so heap order is stable FIFO within a priority band
	processing map[string]*Item
	processed  map[string]struct{}

	retryCeiling int

	stats Stats
	log   zerolog.Logger
}

// New creates an empty queue. retryCeiling is the maximum number of
// times a failed URL may be re-admitted (spec.md default: 3).
func New(retryCeiling int) *Queue {
	q := &Queue{
		processing:   make(map[string]*Item),
		processed:    make(map[string]struct{}),
		retryCeiling: retryCeiling,
		log:          logging.GetLogger("queue"),
	}
	heap.Init(&q.pending)
	return q
}

// Push admits item iff its URL is absent from the pending items and
// from both the processing and processed sets; otherwise it is
// silently dropped. Returns true iff admitted.
func (q *Queue) Push(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(item)
}

// PushBatch is the atomic bulk form of Push. Returns the count admitted.
func (q *Queue) PushBatch(items []Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	admitted := 0
	for _, item := range items {
		if q.pushLocked(item) {
			admitted++
		}
	}
	return admitted
}

func (q *Queue) pushLocked(item Item) bool {
	if _, inFlight := q.processing[item.URL]; inFlight {
		return false
	}
	if _, done := q.processed[item.URL]; done {
		return false
	}
	for _, entry := range q.pending {
		if entry.item.URL == item.URL {
			return false
		}
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	q.seq++
	heap.Push(&q.pending, &heapEntry{item: item, seq: q.seq})
	q.stats.Queued++
	return true
}

// Pop removes the highest-priority, earliest-added pending item and
// moves its URL into the processing set. Returns false if the queue
// has nothing pending.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return Item{}, false
	}

	entry := heap.Pop(&q.pending).(*heapEntry)
	item := entry.item

	q.stats.Queued--
	q.stats.Processing++
	itemCopy := item
	q.processing[item.URL] = &itemCopy

	return item, true
}

// PopN pops up to n items in priority order. Used by the producer to
// satisfy a batch of demand in one locked section.
func (q *Queue) PopN(n int) []Item {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]Item, 0, n)
	for len(items) < n && q.pending.Len() > 0 {
		entry := heap.Pop(&q.pending).(*heapEntry)
		item := entry.item
		q.stats.Queued--
		q.stats.Processing++
		itemCopy := item
		q.processing[item.URL] = &itemCopy
		items = append(items, item)
	}
	return items
}

// MarkProcessed transitions a URL from processing to processed.
func (q *Queue) MarkProcessed(url string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.processing[url]; !ok {
		return
	}
	delete(q.processing, url)
	q.processed[url] = struct{}{}
	q.stats.Processing--
	q.stats.Processed++
}

// MarkFailed removes url from processing. If retry is true, a new
// work item is synthesized with Retries incremented from the failed
// item's own counter and re-admitted to the queue, subject to the
// retry ceiling — exceeding it discards the retry and leaves the URL
// terminally failed. Returns true if a retry was re-admitted.
func (q *Queue) MarkFailed(url string, retry bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.processing[url]
	if !ok {
		q.stats.Failed++
		return false
	}
	delete(q.processing, url)
	q.stats.Processing--
	q.stats.Failed++

	if !retry {
		return false
	}
	if item.Retries+1 > q.retryCeiling {
		q.log.Debug().Str("url", url).Int("retries", item.Retries).Msg("retry ceiling exceeded, terminal failure")
		return false
	}

	retryItem := Item{
		URL:       item.URL,
		CrawlerID: item.CrawlerID,
		Priority:  item.Priority,
		Retries:   item.Retries + 1,
		AddedAt:   time.Now(),
	}
	return q.pushLocked(retryItem)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Processed reports whether url is in the processing or processed set.
func (q *Queue) Processed(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[url]; ok {
		return true
	}
	_, ok := q.processed[url]
	return ok
}

// ProcessingURLs returns a snapshot of URLs currently in flight.
func (q *Queue) ProcessingURLs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	urls := make([]string, 0, len(q.processing))
	for url := range q.processing {
		urls = append(urls, url)
	}
	return urls
}

// Clear resets the queue to empty.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = itemHeap{}
	heap.Init(&q.pending)
	q.processing = make(map[string]*Item)
	q.processed = make(map[string]struct{})
	q.stats = Stats{}
}

// heapEntry wraps an Item with a monotonic sequence number so
// container/heap gives FIFO order within a priority band.
type heapEntry struct {
	item Item
	seq  int64
}

type itemHeap []*heapEntry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority // higher priority first
	}
	return h[i].seq < h[j].seq // earlier added first
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*heapEntry))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
