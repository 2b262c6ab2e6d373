package client

import (
	"context"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"sync"
	"time"
)

// EventType names what happened on the client.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventReconnecting       EventType = "reconnecting"
	EventWelcome            EventType = "welcome"
	EventSessionJoined      EventType = "sessionJoined"
	EventOperationAck       EventType = "operationAck"
	EventRemoteOperation    EventType = "remoteOperation"
	EventSyncComplete       EventType = "syncComplete"
	EventDocumentChanged    EventType = "documentChanged"
	EventCollaboratorJoined EventType = "collaboratorJoined"
	EventCollaboratorLeft   EventType = "collaboratorLeft"
	EventServerError        EventType = "serverError"
	EventError              EventType = "error"
)

// Source tells where a document change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceSync   Source = "sync"
)

// Event carries whichever fields are relevant for its Type.
type Event struct {
	Type EventType

	Source      Source
	Operation   *document.Operation
	OperationID string
	FromClient  string
	Content     string
	Version     int64

	Attempt int
	Delay   time.Duration

	Payload map[string]any
	Err     error
}

type Listener func(Event)

type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// Bus is a small synchronous publish/subscribe hub. Listeners run on the
// goroutine that emits; a listener that panics is logged and skipped.
type Bus struct {
	mu        sync.RWMutex
	next      ListenerID
	listeners map[EventType][]registration
	log       zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[EventType][]registration),
		log:       log,
	}
}

func (b *Bus) On(t EventType, fn Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.listeners[t] = append(b.listeners[t], registration{id: b.next, fn: fn})
	return b.next
}

// Off removes a listener. Unknown ids are ignored.
func (b *Bus) Off(t EventType, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[t]
	for i, r := range regs {
		if r.id == id {
			b.listeners[t] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	regs := b.listeners[ev.Type]
	b.mu.RUnlock()

	for _, r := range regs {
		b.call(r, ev)
	}
}

func (b *Bus) call(r registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Str("event", string(ev.Type)).
				Uint64("listener", uint64(r.id)).
				Interface("panic", p).
				Msg("event listener panicked")
		}
	}()
	r.fn(ev)
}

// Subscribe delivers the given event types on a channel until ctx is done.
// Events are dropped when the channel buffer is full.
func (b *Bus) Subscribe(ctx context.Context, buffer int, types ...EventType) <-chan Event {
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false
	ids := make([]ListenerID, len(types))
	for i, t := range types {
		ids[i] = b.On(t, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- ev:
			default:
				b.log.Warn().Str("event", string(ev.Type)).Msg("subscriber channel full, dropping event")
			}
		})
	}

	go func() {
		<-ctx.Done()
		for i, t := range types {
			b.Off(t, ids[i])
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}
