package document

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"time"
)

type OpType string

const (
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
	OpUpdate  OpType = "update"
	OpReplace OpType = "replace"
)

var ErrInvalidOperation = errors.New("invalid operation")

// Operation is a single edit issued by one participant of a session.
// Position and Length count runes, not bytes.
type Operation struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	ClientID  string         `json:"client_id"`
	Type      OpType         `json:"type"`
	Position  int            `json:"position"`
	Content   string         `json:"content"`
	Length    int            `json:"length"`
	Timestamp float64        `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewOperationID returns an id of the form <client>-<unix millis>-<random>.
func NewOperationID(clientID string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", clientID, now.UnixMilli(), uuid.NewString()[:8])
}

// Timestamp converts t into fractional unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func (op Operation) Validate() error {
	switch op.Type {
	case OpInsert, OpDelete, OpUpdate, OpReplace:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
	}
	if op.Length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidOperation, op.Length)
	}
	return nil
}

// Apply returns buf with op applied. Out of range positions and lengths are
// clamped to the buffer, so Apply never panics.
func (op Operation) Apply(buf string) string {
	if op.Type == OpReplace {
		return op.Content
	}

	runes := []rune(buf)
	pos := clamp(op.Position, 0, len(runes))

	switch op.Type {
	case OpInsert:
		return splice(runes, pos, 0, op.Content)
	case OpDelete:
		return splice(runes, pos, clamp(op.Length, 0, len(runes)-pos), "")
	case OpUpdate:
		return splice(runes, pos, clamp(op.Length, 0, len(runes)-pos), op.Content)
	}
	return buf
}

func splice(runes []rune, pos, n int, text string) string {
	out := make([]rune, 0, len(runes)-n+len(text))
	out = append(out, runes[:pos]...)
	out = append(out, []rune(text)...)
	out = append(out, runes[pos+n:]...)
	return string(out)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
