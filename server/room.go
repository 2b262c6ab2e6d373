package server

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"sync"
)

// maxSeen bounds how many applied operation ids a room remembers for
// recognising resent operations.
const maxSeen = 4096

// room is one shared document and the peers editing it.
type room struct {
	id    string
	store database.Store
	log   zerolog.Logger

	mu       sync.Mutex
	doc      *document.Manager
	loaded   bool
	peers    map[*peer]struct{}
	seen     map[string]int64
	seenList []string
}

func newRoom(id string, store database.Store, log zerolog.Logger) *room {
	return &room{
		id:    id,
		store: store,
		log:   log.With().Str("document", id).Logger(),
		doc:   document.NewManager(nil),
		peers: make(map[*peer]struct{}),
		seen:  make(map[string]int64),
	}
}

func (r *room) loadLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	text, err := r.store.LoadText(ctx, r.id)
	if err != nil {
		return fmt.Errorf("error getting document text: %w", err)
	}
	r.doc.Sync(document.State{Content: text.Content, Version: text.Version})
	r.loaded = true
	return nil
}

func (r *room) snapshot() (document.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return document.State{}, false
	}
	return r.doc.Snapshot(), true
}

func (r *room) join(ctx context.Context, p *peer) error {
	r.mu.Lock()
	if err := r.loadLocked(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	others := r.othersLocked(p)
	r.peers[p] = struct{}{}
	version := r.doc.Version()
	r.mu.Unlock()

	collaborators := make([]string, 0, len(others))
	for _, o := range others {
		collaborators = append(collaborators, o.clientID())
	}

	p.enqueue(protocol.SessionJoined{
		Type:          protocol.TypeSessionJoined,
		SessionID:     r.id,
		ClientID:      p.clientID(),
		Version:       version,
		Collaborators: collaborators,
	})
	broadcast(others, protocol.Collaborator{
		Type:      protocol.TypeCollaboratorJoined,
		SessionID: r.id,
		ClientID:  p.clientID(),
	})
	r.log.Info().Str("client", p.clientID()).Int("peers", len(others)+1).Msg("client joined")
	return nil
}

func (r *room) leave(p *peer) {
	r.mu.Lock()
	if _, ok := r.peers[p]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, p)
	others := r.othersLocked(p)
	r.mu.Unlock()

	broadcast(others, protocol.Collaborator{
		Type:      protocol.TypeCollaboratorLeft,
		SessionID: r.id,
		ClientID:  p.clientID(),
	})
	r.log.Info().Str("client", p.clientID()).Msg("client left")
}

// apply sequences op after everything applied before it. An operation id seen
// before is acked again without being applied twice.
func (r *room) apply(ctx context.Context, p *peer, op document.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if version, ok := r.seen[op.ID]; ok {
		r.mu.Unlock()
		p.enqueue(protocol.OperationAck{Type: protocol.TypeOperationAck, OperationID: op.ID, Version: version})
		return nil
	}

	state := r.doc.Apply(op)
	r.remember(op.ID, state.Version)
	others := r.othersLocked(p)

	if err := r.store.SaveText(ctx, r.id, database.Text{Content: state.Content, Version: state.Version}); err != nil {
		r.log.Error().Err(err).Msg("failed to persist document text")
	}
	r.mu.Unlock()

	p.enqueue(protocol.OperationAck{Type: protocol.TypeOperationAck, OperationID: op.ID, Version: state.Version})
	broadcast(others, protocol.RemoteOperation{
		Type:       protocol.TypeRemoteOperation,
		Operation:  op,
		FromClient: p.clientID(),
	})
	return nil
}

func (r *room) sync(p *peer) {
	r.mu.Lock()
	state := r.doc.Snapshot()
	r.mu.Unlock()

	var ts float64
	if !state.LastModified.IsZero() {
		ts = document.Timestamp(state.LastModified)
	}
	p.enqueue(protocol.SyncResponse{
		Type:           protocol.TypeSyncResponse,
		Content:        state.Content,
		CurrentVersion: state.Version,
		Checksum:       document.Checksum(state.Content),
		Timestamp:      ts,
	})
}

func (r *room) closeAll() {
	r.mu.Lock()
	peers := r.othersLocked(nil)
	r.mu.Unlock()

	for _, p := range peers {
		p.enqueue(protocol.Error{Type: protocol.TypeError, Message: "document deleted", Code: "deleted"})
		p.close()
	}
}

func (r *room) remember(id string, version int64) {
	r.seen[id] = version
	r.seenList = append(r.seenList, id)
	if len(r.seenList) > maxSeen {
		delete(r.seen, r.seenList[0])
		r.seenList = r.seenList[1:]
	}
}

func (r *room) othersLocked(self *peer) []*peer {
	out := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

func broadcast(peers []*peer, msg any) {
	for _, p := range peers {
		p.enqueue(msg)
	}
}

