package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"net/http"
	"sync"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// connManager owns the network connection: dialing, the read loop, close
// detection and bounded reconnection.
type connManager struct {
	endpoint string
	header   http.Header
	dialer   Dialer
	timeout  time.Duration
	log      zerolog.Logger
	bus      *Bus

	onFrame func([]byte)
	onOpen  func()

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	conn     Conn
	gen      uint64
	attempts int
	retry    backoff.BackOff
	timer    *time.Timer
	stopped  bool
}

func (m *connManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *connManager) Connected() bool {
	return m.State() == Connected
}

// Connect dials the endpoint unless a connection is already open. It cancels
// any scheduled reconnect and clears a previous Disconnect.
func (m *connManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = false
	m.stopTimerLocked()
	m.mu.Unlock()

	return m.open(ctx, false)
}

func (m *connManager) open(ctx context.Context, reconnect bool) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return nil
	}
	if reconnect && m.stopped {
		m.mu.Unlock()
		return nil
	}
	if !reconnect {
		m.state = Connecting
	}
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, m.endpoint, m.header)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, m.timeout, err)
		}
		m.mu.Lock()
		m.state = Disconnected
		m.mu.Unlock()
		return fmt.Errorf("connect to %s: %w", m.endpoint, err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = conn.Close()
		if reconnect {
			return nil
		}
		return ErrDisconnected
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.retry.Reset()
	m.mu.Unlock()

	m.log.Info().Str("endpoint", m.endpoint).Msg("connected")
	go m.readLoop(gen, conn)

	m.bus.Emit(Event{Type: EventConnected})
	m.onOpen()
	return nil
}

func (m *connManager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, conn, err)
			return
		}
		m.onFrame(data)
	}
}

func (m *connManager) handleClose(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = Disconnected
	stopped := m.stopped
	m.mu.Unlock()

	_ = conn.Close()
	m.log.Warn().Err(err).Msg("connection closed")
	m.bus.Emit(Event{Type: EventDisconnected, Err: err})

	if !stopped {
		m.scheduleReconnect()
	}
}

func (m *connManager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopped || m.state == Connected {
		m.mu.Unlock()
		return
	}

	delay := m.retry.NextBackOff()
	if delay == backoff.Stop {
		attempts := m.attempts
		m.state = Disconnected
		m.mu.Unlock()

		err := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts)
		m.log.Error().Err(err).Msg("giving up on reconnecting")
		m.bus.Emit(Event{Type: EventError, Err: err, Attempt: attempts})
		return
	}

	m.attempts++
	attempt := m.attempts
	m.state = Reconnecting
	m.timer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	m.bus.Emit(Event{Type: EventReconnecting, Attempt: attempt, Delay: delay})
}

func (m *connManager) reconnect() {
	err := m.open(context.Background(), true)
	if err == nil {
		return
	}

	m.log.Warn().Err(err).Msg("reconnect failed")
	m.bus.Emit(Event{Type: EventDisconnected, Err: err})
	m.scheduleReconnect()
}

// Disconnect closes the connection on purpose; no reconnect follows.
func (m *connManager) Disconnect() error {
	m.mu.Lock()
	m.stopped = true
	m.stopTimerLocked()
	m.attempts = 0
	m.retry.Reset()
	conn := m.conn
	m.conn = nil
	m.gen++
	prev := m.state
	m.state = Disconnected
	m.mu.Unlock()

	if prev == Disconnected && conn == nil {
		return nil
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.log.Info().Msg("disconnected")
	m.bus.Emit(Event{Type: EventDisconnected})
	return err
}

// Send encodes and writes msg. It fails with ErrNotConnected unless the
// connection is open.
func (m *connManager) Send(msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (m *connManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
