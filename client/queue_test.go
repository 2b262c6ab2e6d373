package client

import (
	"github.com/ssau-fiit/cloudocs-sync/document"
	"github.com/stretchr/testify/require"
	"sync/atomic"
	"testing"
	"time"
)

func op(id string) document.Operation {
	return document.Operation{ID: id, Type: document.OpInsert}
}

func ids(ops []document.Operation) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.ID
	}
	return out
}

func TestQueue_DebounceCoalescesBurst(t *testing.T) {
	var flushes int32
	q := newQueue(20*time.Millisecond, func() { atomic.AddInt32(&flushes, 1) })
	defer q.Stop()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		q.Enqueue(op(id))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&flushes) == 1 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return atomic.LoadInt32(&flushes) > 1 }, 60*time.Millisecond, 5*time.Millisecond)
}

func TestQueue_ImmediateWhenDebounceDisabled(t *testing.T) {
	var flushes int32
	q := newQueue(-1, func() { atomic.AddInt32(&flushes, 1) })

	q.Enqueue(op("a"))
	q.Enqueue(op("b"))
	require.Equal(t, int32(2), atomic.LoadInt32(&flushes))
}

func TestQueue_DrainAndAck(t *testing.T) {
	q := newQueue(time.Hour, func() {})
	defer q.Stop()

	q.Enqueue(op("a"))
	q.Enqueue(op("b"))
	ops, seq := q.Drain()
	require.Equal(t, []string{"a", "b"}, ids(ops))
	require.Equal(t, uint64(2), seq)

	ops, _ = q.Drain()
	require.Empty(t, ops)
	require.Equal(t, 2, q.Len())

	acked, ok := q.Ack("a")
	require.True(t, ok)
	require.Equal(t, "a", acked.ID)
	_, ok = q.Ack("a")
	require.False(t, ok)
	require.False(t, q.Has("a"))
	require.True(t, q.Has("b"))
}

func TestQueue_RequeueAllKeepsIssuanceOrder(t *testing.T) {
	q := newQueue(time.Hour, func() {})
	defer q.Stop()

	for _, id := range []string{"a", "b", "c", "d"} {
		q.Enqueue(op(id))
	}
	q.Drain()
	q.Ack("b")

	q.RequeueAll()
	ops, _ := q.Drain()
	require.Equal(t, []string{"a", "c", "d"}, ids(ops))
}

func TestQueue_RestoreSkipsAcked(t *testing.T) {
	q := newQueue(time.Hour, func() {})
	defer q.Stop()

	q.Enqueue(op("a"))
	q.Enqueue(op("b"))
	drained, _ := q.Drain()
	q.Enqueue(op("c"))
	q.Ack("a")

	q.Restore(drained)
	ops, _ := q.Drain()
	require.Equal(t, []string{"b", "c"}, ids(ops))
}

func TestQueue_AckRemovesUnsent(t *testing.T) {
	q := newQueue(time.Hour, func() {})
	defer q.Stop()

	q.Enqueue(op("a"))
	q.Enqueue(op("b"))
	q.Ack("a")

	ops, _ := q.Drain()
	require.Equal(t, []string{"b"}, ids(ops))
}

func TestQueue_Since(t *testing.T) {
	q := newQueue(time.Hour, func() {})
	defer q.Stop()

	q.Enqueue(op("a"))
	mark := q.Enqueue(op("b"))
	q.Enqueue(op("c"))
	q.Enqueue(op("d"))
	q.Ack("c")

	require.Equal(t, []string{"d"}, ids(q.Since(mark)))
	require.Equal(t, []string{"a", "b", "d"}, ids(q.Pending()))
}

func TestQueue_StopCancelsTimer(t *testing.T) {
	var flushes int32
	q := newQueue(10*time.Millisecond, func() { atomic.AddInt32(&flushes, 1) })

	q.Enqueue(op("a"))
	q.Stop()
	q.Enqueue(op("b"))

	time.Sleep(40 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&flushes))
	require.Equal(t, 2, q.Len())
}
