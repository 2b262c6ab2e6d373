package client

import (
	"fmt"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"time"
)

// ServerError is an application error reported by the server. It never
// changes document or connection state.
type ServerError struct {
	Message string
	Code    string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// newServerError reads message and code from an error payload. Servers are
// free to send any JSON type for either field.
func newServerError(payload map[string]any) *ServerError {
	serr := &ServerError{}
	if v, ok := payload["message"]; ok && v != nil {
		serr.Message = fmt.Sprint(v)
	}
	if v, ok := payload["code"]; ok && v != nil {
		serr.Code = fmt.Sprint(v)
	}
	return serr
}

// handleFrame is called from the read loop for every inbound frame.
// Malformed frames are dropped; the connection stays up.
func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping inbound frame")
		return
	}

	if err := c.route(frame); err != nil {
		c.log.Warn().Err(err).Str("type", string(frame.Type)).Msg("dropping inbound frame")
	}
}

func (c *Client) route(frame protocol.Frame) error {
	switch frame.Type {
	case protocol.TypeWelcome:
		c.bus.Emit(Event{Type: EventWelcome, Payload: frame.Payload()})

	case protocol.TypeSessionJoined:
		c.bus.Emit(Event{Type: EventSessionJoined, Payload: frame.Payload()})

	case protocol.TypeOperationAck:
		var msg protocol.OperationAck
		if err := frame.Into(&msg); err != nil {
			return err
		}
		ev := Event{Type: EventOperationAck, OperationID: msg.OperationID, Version: msg.Version}
		if op, ok := c.ops.Ack(msg.OperationID); ok {
			ev.Operation = &op
		} else {
			c.log.Debug().Str("operation_id", msg.OperationID).Msg("ack for unknown operation")
		}
		c.bus.Emit(ev)

	case protocol.TypeRemoteOperation:
		var msg protocol.RemoteOperation
		if err := frame.Into(&msg); err != nil {
			return err
		}
		if err := msg.Operation.Validate(); err != nil {
			return err
		}
		state := c.doc.Apply(msg.Operation)
		op := msg.Operation
		c.bus.Emit(Event{Type: EventRemoteOperation, Operation: &op, FromClient: msg.FromClient, Version: state.Version})
		c.bus.Emit(Event{
			Type:       EventDocumentChanged,
			Source:     SourceRemote,
			Operation:  &op,
			FromClient: msg.FromClient,
			Content:    state.Content,
			Version:    state.Version,
		})

	case protocol.TypeSyncResponse:
		var msg protocol.SyncResponse
		if err := frame.Into(&msg); err != nil {
			return err
		}
		c.applySync(msg)

	case protocol.TypeCollaboratorJoined:
		c.bus.Emit(Event{Type: EventCollaboratorJoined, Payload: frame.Payload()})

	case protocol.TypeCollaboratorLeft:
		c.bus.Emit(Event{Type: EventCollaboratorLeft, Payload: frame.Payload()})

	case protocol.TypeError:
		serr := newServerError(frame.Payload())
		c.log.Warn().Err(serr).Msg("server reported an error")
		c.bus.Emit(Event{Type: EventServerError, Err: serr, Payload: frame.Payload()})

	case protocol.TypeHeartbeat:
		c.log.Trace().Msg("heartbeat")

	default:
		c.log.Debug().Str("type", string(frame.Type)).Msg("ignoring unknown message type")
	}
	return nil
}

func (c *Client) applySync(msg protocol.SyncResponse) {
	if c.cfg.VerifyChecksum && msg.Checksum != "" {
		if sum := document.Checksum(msg.Content); sum != msg.Checksum {
			err := fmt.Errorf("%w: server %s, content %s", ErrChecksumMismatch, msg.Checksum, sum)
			c.log.Error().Err(err).Msg("sync response failed verification")
			c.bus.Emit(Event{Type: EventError, Err: err})
			// No automatic resync: the server would answer with the same
			// content and checksum.
		}
	}

	var modified time.Time
	if msg.Timestamp > 0 {
		sec := int64(msg.Timestamp)
		modified = time.Unix(sec, int64((msg.Timestamp-float64(sec))*float64(time.Second)))
	}
	state := c.doc.Sync(document.State{
		Content:      msg.Content,
		Version:      msg.CurrentVersion,
		Checksum:     msg.Checksum,
		LastModified: modified,
	})

	// Operations issued after our own sync request was sent are not part of
	// the response yet. An unrequested response replaces the state as is.
	if mark, pending := c.takeSyncMark(); pending {
		for _, op := range c.ops.Since(mark) {
			state = c.doc.Apply(op)
		}
	}

	c.bus.Emit(Event{Type: EventSyncComplete, Content: state.Content, Version: state.Version})
	c.bus.Emit(Event{Type: EventDocumentChanged, Source: SourceSync, Content: state.Content, Version: state.Version})
}
