package client

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"
)

var errConnClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. Tests push server frames into in and read
// what the client wrote from out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) pushRaw(data string) {
	c.in <- []byte(data)
}

func (c *fakeConn) push(t *testing.T, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	c.in <- data
}

// next returns the next frame written by the client.
func (c *fakeConn) next(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case data := <-c.out:
		f, err := protocol.Decode(data)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
	}
	return protocol.Frame{}
}

func (c *fakeConn) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected outbound frame %s", data)
	case <-time.After(d):
	}
}

// fakeDialer hands out fakeConns. fail decides, per 1-based call number,
// whether the dial errors.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	conns []*fakeConn
	fail  func(call int) error
	block bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	fail := d.fail
	block := d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	var c *fakeConn
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) > i {
			c = d.conns[i]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

// recorder collects events of the given types.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client, types ...EventType) *recorder {
	r := &recorder{}
	for _, t := range types {
		c.On(t, func(ev Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestClient(t *testing.T, dialer Dialer, mutate ...func(*Config)) *Client {
	t.Helper()
	nop := zerolog.Nop()
	cfg := DefaultConfig("ws://collab.test/api/v1/documents/doc-1", "doc-1")
	cfg.ClientID = "alice"
	cfg.Dialer = dialer
	cfg.Logger = &nop
	cfg.DebounceInterval = 5 * time.Millisecond
	cfg.ReconnectInterval = time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.SkipSyncOnJoin = true
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// connect connects c and consumes the join_session frame.
func connect(t *testing.T, c *Client, d *fakeDialer) *fakeConn {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	d.mu.Lock()
	conn := d.conns[len(d.conns)-1]
	d.mu.Unlock()

	f := conn.next(t)
	require.Equal(t, protocol.TypeJoinSession, f.Type)
	return conn
}
