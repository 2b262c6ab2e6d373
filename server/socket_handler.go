package server

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"net/http"
	"sync"
	"time"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

func (s *Server) handleSocket(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("document", docID).Msg("error getting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("error upgrading connection")
		return
	}

	p := &peer{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		room: s.room(docID),
		log:  s.log,
	}
	go p.writePump(s.heartbeat)

	p.enqueue(protocol.Welcome{Type: protocol.TypeWelcome, Server: "cloudocs-relay"})
	p.readPump()
}

// peer is one websocket connection. Only writePump writes to conn.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	room *room
	log  zerolog.Logger

	mu     sync.Mutex
	id     string
	closed bool
}

func (p *peer) clientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *peer) joined() bool {
	return p.clientID() != ""
}

// enqueue queues msg for writing. A peer that cannot keep up is disconnected.
func (p *peer) enqueue(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode message")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- data:
	default:
		p.log.Warn().Str("client", p.id).Msg("send buffer full, dropping peer")
		p.closed = true
		close(p.send)
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func (p *peer) fail(message, code string) {
	p.enqueue(protocol.Error{Type: protocol.TypeError, Message: message, Code: code})
}

func (p *peer) readPump() {
	defer func() {
		p.room.leave(p)
		p.close()
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Warn().Err(err).Str("client", p.clientID()).Msg("failed to read message from client")
			}
			return
		}
		p.handle(data)
	}
}

func (p *peer) handle(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed frame")
		p.fail("malformed frame", "bad_frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	switch frame.Type {
	case protocol.TypeJoinSession:
		var msg protocol.JoinSession
		if err := frame.Into(&msg); err != nil || msg.ClientID == "" {
			p.fail("join_session needs a client_id", "bad_frame")
			return
		}
		if msg.SessionID != p.room.id {
			p.fail("session does not match document", "session_mismatch")
			return
		}
		if p.joined() {
			p.fail("already joined", "already_joined")
			return
		}
		p.mu.Lock()
		p.id = msg.ClientID
		p.mu.Unlock()
		if err := p.room.join(ctx, p); err != nil {
			p.log.Error().Err(err).Msg("failed to join session")
			p.mu.Lock()
			p.id = ""
			p.mu.Unlock()
			p.fail("could not join session", "internal")
		}

	case protocol.TypeOperation:
		if !p.joined() {
			p.fail("join_session required", "not_joined")
			return
		}
		var msg protocol.OperationMessage
		if err := frame.Into(&msg); err != nil {
			p.fail(err.Error(), "bad_frame")
			return
		}
		if err := p.room.apply(ctx, p, msg.Operation); err != nil {
			p.fail(err.Error(), "invalid_operation")
		}

	case protocol.TypeSyncRequest:
		if !p.joined() {
			p.fail("join_session required", "not_joined")
			return
		}
		p.room.sync(p)

	default:
		p.fail("unknown message type "+string(frame.Type), "unknown_type")
	}
}

func (p *peer) writePump(heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer p.conn.Close()

	beat, _ := protocol.Encode(protocol.Heartbeat{Type: protocol.TypeHeartbeat})
	for {
		select {
		case data, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.log.Error().Err(err).Msg("failed to write message")
				return
			}
		case <-tick:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, beat); err != nil {
				return
			}
		}
	}
}
