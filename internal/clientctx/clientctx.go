// Package clientctx resolves which original origin a relative or ambiguous
// request belongs to, by looking up the issuing frame's current location.
//
// DESIGN: The hosting runtime's client table is reached only through the
// Resolver interface, so the interceptor can be tested against a fake. The
// lookup is the interceptor's only suspension point besides the forward call
// itself.
package clientctx

import (
	"context"
	"errors"
	"sync"
)

// ErrNoContext marks a request with no attributable frame: an absent client
// ID, or one the registry has never seen. The interceptor decides policy.
var ErrNoContext = errors.New("no client context")

// Location is a frame's current (already rewritten) location.
type Location struct {
	Host string // hostname the frame is loaded from, normally the sentinel
	Path string // local path, e.g. /srv/example.com/index.html
}

// Resolver looks up the current location of the frame issuing a request.
type Resolver interface {
	// Resolve suspends until the runtime supplies the frame's location.
	// Returns ErrNoContext when clientID is empty or unknown.
	Resolve(ctx context.Context, clientID string) (Location, error)
}

// Registry is an in-memory client table. The replay server records a client's
// location whenever it serves a navigation; the interceptor reads it back to
// attribute that client's relative fetches.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Location
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Location)}
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ctx context.Context, clientID string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	if clientID == "" {
		return Location{}, ErrNoContext
	}
	r.mu.RLock()
	loc, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return Location{}, ErrNoContext
	}
	return loc, nil
}

// Set records or updates a client's current location.
func (r *Registry) Set(clientID string, loc Location) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	r.clients[clientID] = loc
	r.mu.Unlock()
}

// Drop forgets a client, e.g. when its frame goes away.
func (r *Registry) Drop(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
