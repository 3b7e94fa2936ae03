package router

import (
	"log/slog"
	"sync"
)

// recordQueue hands archive facts to the Recorder in the order they were
// produced under Router.mu. Whichever caller finds the queue idle becomes the
// flusher and drains it, including facts pushed by others meanwhile, so the
// recorder never sees two facts concurrently or out of order.
type recordQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []func() error
	flushing bool
}

func newRecordQueue() *recordQueue {
	q := &recordQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends events and reports whether the caller must run flush.
// It is called with Router.mu held.
func (q *recordQueue) push(events []func() error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, events...)
	if q.flushing || len(q.pending) == 0 {
		return false
	}
	q.flushing = true
	return true
}

// flush runs queued events until none are left.
func (q *recordQueue) flush() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.flushing = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := ev(); err != nil {
			slog.Warn("router: record failed", "err", err)
		}
	}
}

// wait blocks until every queued event has been handed to the recorder.
func (q *recordQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.flushing || len(q.pending) > 0 {
		q.cond.Wait()
	}
}
