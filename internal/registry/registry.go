package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrMorningStark/chat/internal/hub"
	"github.com/MrMorningStark/chat/internal/presence"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

var (
	// ErrUnauthenticated is returned when a connection presents an empty
	// identity.
	ErrUnauthenticated = errors.New("connection has no authenticated identity")
	// ErrIdentityBound is returned when a connection that already carries an
	// identity tries to bind a different one. The identity is immutable for
	// the connection's lifetime.
	ErrIdentityBound = errors.New("connection already bound to an identity")
)

// Registry binds each live connection to exactly one identity and tracks its
// room memberships so disconnect can unwind everything deterministically.
// It owns all membership mutation; the hub only reads membership for fan-out.
// A connection may be joined to multiple rooms concurrently.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]string              // clientID -> identity
	clients    map[string]string              // identity -> clientID (latest connection wins)
	rooms      map[string]map[string]struct{} // clientID -> set of rooms

	hub       *hub.Hub
	presence  presence.Store
	heartbeat time.Duration
	cancel    context.CancelFunc
}

// New creates a session registry backed by the given hub and presence store.
func New(h *hub.Hub, store presence.Store, heartbeat time.Duration) *Registry {
	return &Registry{
		identities: make(map[string]string),
		clients:    make(map[string]string),
		rooms:      make(map[string]map[string]struct{}),
		hub:        h,
		presence:   store,
		heartbeat:  heartbeat,
	}
}

// Bind records the connection's identity and marks the user online. The
// identity is immutable for the connection's lifetime. A reconnect on a new
// connection supersedes the identity's previous mapping.
func (r *Registry) Bind(ctx context.Context, c *hub.Client, identity string) error {
	if identity == "" {
		return ErrUnauthenticated
	}

	r.mu.Lock()
	if existing, ok := r.identities[c.ID]; ok && existing != identity {
		r.mu.Unlock()
		return ErrIdentityBound
	}
	r.identities[c.ID] = identity
	r.clients[identity] = c.ID
	r.mu.Unlock()

	// Presence writes are best-effort: log and keep serving messaging.
	if err := r.presence.SetOnline(ctx, identity); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldUserID, identity).Msg("failed to mark user online")
	}
	return nil
}

// IdentityOf returns the identity bound to a connection.
func (r *Registry) IdentityOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[clientID]
	return id, ok
}

// ClientIDFor resolves an identity to its current live connection. Resolution
// happens at delivery time and is never cached by callers, since a user may
// reconnect on a new connection between call phases.
func (r *Registry) ClientIDFor(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clientID, ok := r.clients[identity]
	return clientID, ok
}

// JoinRoom adds the connection to a room. Joining twice is a no-op.
func (r *Registry) JoinRoom(c *hub.Client, room string) {
	r.mu.Lock()
	set, ok := r.rooms[c.ID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[c.ID] = set
	}
	if _, joined := set[room]; joined {
		r.mu.Unlock()
		return
	}
	set[room] = struct{}{}
	r.mu.Unlock()

	r.hub.JoinRoom(c, room)
}

// LeaveRoom removes the connection from a room. Idempotent.
func (r *Registry) LeaveRoom(c *hub.Client, room string) {
	r.mu.Lock()
	set, ok := r.rooms[c.ID]
	if ok {
		delete(set, room)
		if len(set) == 0 {
			delete(r.rooms, c.ID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.hub.LeaveRoom(c, room)
	}
}

// RoomsOf returns the rooms the connection is currently joined to.
func (r *Registry) RoomsOf(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[clientID]
	if len(set) == 0 {
		return nil
	}
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	return rooms
}

// Unbind removes the connection's binding and all room memberships, marking
// the user offline unless a newer connection has taken over the identity.
// It returns the identity, the rooms the connection was in, and whether the
// connection was superseded by a newer one; a superseded connection's close
// must not be reported as the user going offline, and the newer connection's
// call state must be left alone.
func (r *Registry) Unbind(ctx context.Context, c *hub.Client) (string, []string, bool) {
	r.mu.Lock()
	identity := r.identities[c.ID]
	delete(r.identities, c.ID)

	superseded := false
	if identity != "" {
		if current, ok := r.clients[identity]; ok && current == c.ID {
			delete(r.clients, identity)
		} else {
			superseded = true
		}
	}

	set := r.rooms[c.ID]
	delete(r.rooms, c.ID)
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		r.hub.LeaveRoom(c, room)
	}

	if identity != "" && !superseded {
		if err := r.presence.SetOffline(ctx, identity); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldUserID, identity).Msg("failed to mark user offline")
		}
	}

	return identity, rooms, superseded
}

// Identities returns all identities currently bound on this instance.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for identity := range r.clients {
		ids = append(ids, identity)
	}
	return ids
}

// StartHeartbeat refreshes the presence TTL for every bound identity on an
// interval. A crashed process stops refreshing and its users expire back to
// offline.
func (r *Registry) StartHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := pkglog.L()
	l.Info().Dur("interval", r.heartbeat).Msg("presence heartbeat started")
}

func (r *Registry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Registry) refreshAll(ctx context.Context) {
	for _, identity := range r.Identities() {
		if err := r.presence.Refresh(ctx, identity); err != nil {
			l := pkglog.L()
			l.Error().Err(err).Str(pkglog.FieldUserID, identity).Msg("failed to refresh presence")
		}
	}
}

// StopHeartbeat stops the refresh loop.
func (r *Registry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}
