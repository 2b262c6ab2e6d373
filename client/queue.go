package client

import (
	"github.com/ssau-fiit/cloudocs-sync/document"
	"sort"
	"sync"
	"time"
)

type pendingEntry struct {
	op  document.Operation
	seq uint64
}

// queue holds operations until the server acknowledges them and debounces
// sends of freshly issued ones.
type queue struct {
	mu       sync.Mutex
	interval time.Duration
	onFlush  func()
	timer    *time.Timer
	stopped  bool

	seq     uint64
	pending map[string]*pendingEntry
	unsent  []*pendingEntry
}

func newQueue(interval time.Duration, onFlush func()) *queue {
	return &queue{
		interval: interval,
		onFlush:  onFlush,
		pending:  make(map[string]*pendingEntry),
	}
}

// Enqueue adds op and restarts the debounce timer. It returns the issuance
// sequence of op.
func (q *queue) Enqueue(op document.Operation) uint64 {
	q.mu.Lock()
	q.seq++
	e := &pendingEntry{op: op, seq: q.seq}
	q.pending[op.ID] = e
	q.unsent = append(q.unsent, e)
	seq := q.seq

	immediate := false
	switch {
	case q.stopped:
	case q.interval <= 0:
		immediate = true
	default:
		if q.timer != nil {
			q.timer.Stop()
		}
		q.timer = time.AfterFunc(q.interval, q.onFlush)
	}
	q.mu.Unlock()

	if immediate {
		q.onFlush()
	}
	return seq
}

// Drain returns the operations not sent yet, oldest first, and marks them
// sent. The returned sequence is the last one issued at the time of the drain.
func (q *queue) Drain() ([]document.Operation, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]document.Operation, 0, len(q.unsent))
	for _, e := range q.unsent {
		ops = append(ops, e.op)
	}
	q.unsent = nil
	return ops, q.seq
}

// Restore puts operations that failed to send back in front of the unsent list.
func (q *queue) Restore(ops []document.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	back := make([]*pendingEntry, 0, len(ops)+len(q.unsent))
	for _, op := range ops {
		if e, ok := q.pending[op.ID]; ok {
			back = append(back, e)
		}
	}
	q.unsent = append(back, q.unsent...)
}

// RequeueAll marks every unacknowledged operation as unsent again.
func (q *queue) RequeueAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unsent = q.sortedLocked(0)
}

func (q *queue) Ack(id string) (document.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.pending[id]
	if !ok {
		return document.Operation{}, false
	}
	delete(q.pending, id)
	for i, u := range q.unsent {
		if u == e {
			q.unsent = append(q.unsent[:i:i], q.unsent[i+1:]...)
			break
		}
	}
	return e.op, true
}

func (q *queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns all unacknowledged operations in issuance order.
func (q *queue) Pending() []document.Operation {
	return q.Since(0)
}

// Since returns unacknowledged operations issued after seq.
func (q *queue) Since(seq uint64) []document.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.sortedLocked(seq)
	ops := make([]document.Operation, len(entries))
	for i, e := range entries {
		ops[i] = e.op
	}
	return ops
}

func (q *queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *queue) sortedLocked(after uint64) []*pendingEntry {
	out := make([]*pendingEntry, 0, len(q.pending))
	for _, e := range q.pending {
		if e.seq > after {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
