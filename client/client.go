package client

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"sync"
)

// Client keeps a local copy of a shared document in step with the server.
// Local edits are applied immediately, queued, and sent in debounced batches;
// remote edits and syncs arrive through the connection's read loop.
type Client struct {
	cfg  Config
	log  zerolog.Logger
	bus  *Bus
	doc  *document.Manager
	ops  *queue
	conn *connManager

	issueMu sync.Mutex
	flushMu sync.Mutex

	// syncPending is set while a sync_request is outstanding. syncMark is the
	// last sequence sent ahead of it.
	syncMu      sync.Mutex
	syncPending bool
	syncMark    uint64
}

func New(cfg Config) (*Client, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	c := &Client{
		cfg: cfg,
		log: cfg.logger(),
		doc: document.NewManager(cfg.Clock),
	}
	c.bus = NewBus(c.log)
	c.ops = newQueue(cfg.DebounceInterval, c.flush)
	c.conn = &connManager{
		endpoint: cfg.Endpoint,
		header:   cfg.Header,
		dialer:   cfg.Dialer,
		timeout:  cfg.ConnectTimeout,
		log:      c.log,
		bus:      c.bus,
		onFrame:  c.handleFrame,
		onOpen:   c.handleOpen,
		retry:    cfg.retryPolicy(),
	}
	return c, nil
}

func (c *Client) SessionID() string { return c.cfg.SessionID }
func (c *Client) ClientID() string  { return c.cfg.ClientID }

// Connect opens the connection and joins the session. Only this initial
// attempt reports errors; later drops are retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Disconnect() error {
	return c.conn.Disconnect()
}

// Close disconnects and stops the debounce timer. The client must not be
// used afterwards.
func (c *Client) Close() error {
	c.ops.Stop()
	return c.conn.Disconnect()
}

func (c *Client) ConnectionState() State {
	return c.conn.State()
}

func (c *Client) Insert(position int, text string) (document.Operation, error) {
	return c.issue(document.Operation{Type: document.OpInsert, Position: position, Content: text})
}

func (c *Client) Delete(position, length int) (document.Operation, error) {
	return c.issue(document.Operation{Type: document.OpDelete, Position: position, Length: length})
}

func (c *Client) Update(position int, text string, length int) (document.Operation, error) {
	return c.issue(document.Operation{Type: document.OpUpdate, Position: position, Content: text, Length: length})
}

func (c *Client) Replace(content string) (document.Operation, error) {
	return c.issue(document.Operation{Type: document.OpReplace, Content: content})
}

func (c *Client) issue(op document.Operation) (document.Operation, error) {
	if err := op.Validate(); err != nil {
		return document.Operation{}, err
	}
	now := c.cfg.Clock()
	op.ID = document.NewOperationID(c.cfg.ClientID, now)
	op.SessionID = c.cfg.SessionID
	op.ClientID = c.cfg.ClientID
	op.Timestamp = document.Timestamp(now)

	c.issueMu.Lock()
	state := c.doc.Apply(op)
	c.ops.Enqueue(op)
	c.issueMu.Unlock()

	c.bus.Emit(Event{
		Type:      EventDocumentChanged,
		Source:    SourceLocal,
		Operation: &op,
		Content:   state.Content,
		Version:   state.Version,
	})
	return op, nil
}

func (c *Client) Content() string { return c.doc.Content() }

func (c *Client) Version() int64 { return c.doc.Version() }

func (c *Client) Snapshot() document.State { return c.doc.Snapshot() }

// PendingOperations returns operations the server has not acknowledged yet,
// in issuance order.
func (c *Client) PendingOperations() []document.Operation {
	return c.ops.Pending()
}

func (c *Client) IsPending(id string) bool {
	return c.ops.Has(id)
}

// RequestSync asks the server for the full document, reporting the local
// version as the last known one.
func (c *Client) RequestSync() error {
	return c.RequestSyncFrom(c.doc.Version())
}

func (c *Client) RequestSyncFrom(lastVersion int64) error {
	if !c.conn.Connected() {
		return ErrNotConnected
	}

	// Everything issued so far must reach the server ahead of the request so
	// the response already contains it.
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	mark, err := c.flushLocked()
	if err != nil {
		return err
	}

	c.syncMu.Lock()
	c.syncPending = true
	c.syncMark = mark
	c.syncMu.Unlock()

	if err := c.conn.Send(protocol.NewSyncRequest(c.cfg.SessionID, c.cfg.ClientID, lastVersion)); err != nil {
		c.syncMu.Lock()
		c.syncPending = false
		c.syncMu.Unlock()
		return err
	}
	return nil
}

// takeSyncMark reports whether a sync_request is outstanding and clears it.
func (c *Client) takeSyncMark() (uint64, bool) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	pending := c.syncPending
	c.syncPending = false
	return c.syncMark, pending
}

func (c *Client) On(t EventType, fn Listener) ListenerID {
	return c.bus.On(t, fn)
}

func (c *Client) Off(t EventType, id ListenerID) {
	c.bus.Off(t, id)
}

func (c *Client) Subscribe(ctx context.Context, buffer int, types ...EventType) <-chan Event {
	return c.bus.Subscribe(ctx, buffer, types...)
}

// flush is the debounce callback.
func (c *Client) flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if _, err := c.flushLocked(); err != nil {
		c.log.Debug().Err(err).Int("pending", c.ops.Len()).Msg("operations kept for a later send")
	}
}

// flushLocked sends every unsent operation in issuance order and returns the
// sequence of the last operation issued before the drain.
func (c *Client) flushLocked() (uint64, error) {
	if !c.conn.Connected() {
		return 0, ErrNotConnected
	}

	ops, seq := c.ops.Drain()
	for i, op := range ops {
		if err := c.conn.Send(protocol.NewOperation(op)); err != nil {
			c.ops.Restore(ops[i:])
			return 0, err
		}
	}
	if len(ops) > 0 {
		c.log.Debug().Int("count", len(ops)).Msg("sent operations")
	}
	return seq, nil
}

// handleOpen runs after every successful dial: join, resend whatever was not
// acknowledged, then optionally resync.
func (c *Client) handleOpen() {
	// A request sent on a previous connection will not be answered.
	c.takeSyncMark()

	if err := c.conn.Send(protocol.NewJoinSession(c.cfg.SessionID, c.cfg.ClientID)); err != nil {
		c.log.Error().Err(err).Msg("failed to send join_session")
		return
	}

	c.ops.RequeueAll()
	if !c.cfg.SkipSyncOnJoin {
		if err := c.RequestSync(); err != nil {
			c.log.Error().Err(err).Msg("failed to request sync")
		}
		return
	}
	c.flush()
}
