package sink

import (
	"sync"

	"devicebridge"
)

// readingQueue is a bounded FIFO between the dispatcher and one sink worker.
// When full, the oldest queued reading is dropped so the producer side never
// blocks; drops are counted, not silent.
type readingQueue struct {
	mu     sync.Mutex
	data   []devicebridge.Reading
	cap    int
	drops  int64
	closed bool
	signal chan struct{}
}

func newReadingQueue(capacity int) *readingQueue {
	return &readingQueue{
		data:   make([]devicebridge.Reading, 0, capacity),
		cap:    capacity,
		signal: make(chan struct{}, 1),
	}
}

// push enqueues r, evicting the oldest entry when the queue is full.
// Returns true if an eviction happened. Never blocks.
func (q *readingQueue) push(r devicebridge.Reading) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.data) >= q.cap {
		copy(q.data, q.data[1:])
		q.data = q.data[:len(q.data)-1]
		q.drops++
		dropped = true
	}
	q.data = append(q.data, r)
	q.mu.Unlock()

	q.notify()
	return dropped
}

func (q *readingQueue) popBatch(max int) []devicebridge.Reading {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]devicebridge.Reading, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

// close stops accepting new readings; already-queued readings stay drainable.
func (q *readingQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *readingQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *readingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *readingQueue) dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

func (q *readingQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
