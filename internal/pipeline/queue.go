package pipeline

import (
	log "log/slog"
	"sync"
	"time"

	"omni/internal/audio"
)

type queued struct {
	seg      *audio.Segment
	enqueued time.Time
}

// Queue is the unbounded, ordered hand-off of audio segments from the two
// capture workers to the single transcription consumer. FIFO in arrival
// order; nothing is ever discarded while the queue is open, so sustained
// over-capture shows up as growing Depth and OldestAge rather than lost
// segments. Crossing warnDepth is logged once per crossing.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queued
	closed bool

	warnDepth int
	warned    bool
}

func NewQueue(warnDepth int) *Queue {
	q := &Queue{warnDepth: warnDepth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends one segment. Segments pushed after Close are dropped.
func (q *Queue) Push(seg *audio.Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, queued{seg: seg, enqueued: time.Now()})

	if q.warnDepth > 0 {
		if len(q.items) > q.warnDepth && !q.warned {
			q.warned = true
			log.Warn("segment queue falling behind", "depth", len(q.items), "warn_depth", q.warnDepth)
		} else if len(q.items) <= q.warnDepth {
			q.warned = false
		}
	}

	q.cond.Signal()
}

// Pop blocks until a segment is available or the queue is closed. The
// second return is false only after Close; remaining items are dropped,
// which is the documented shutdown behavior.
func (q *Queue) Pop() (*audio.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item.seg, true
}

// Close wakes every blocked Pop. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Depth reports the number of segments waiting for transcription.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// OldestAge reports how long the head segment has been waiting, zero when
// the queue is empty.
func (q *Queue) OldestAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return time.Since(q.items[0].enqueued)
}
