// Package registry keeps the server-side mapping between engine peer handles
// and connections, together with the queue of connections waiting to be
// accepted.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/1ureka/rudp/internal/queue"
)

// reapedMemory bounds how many reaped peer handles are remembered for
// diagnostics.
const reapedMemory = 1024

var (
	// ErrDuplicate is returned by Admit when the peer handle is already mapped.
	ErrDuplicate = errors.New("registry: peer already registered")
	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("registry: closed")
)

// Status classifies a peer handle looked up by Resolve.
type Status int

const (
	// Unknown handles were never seen or have been forgotten; a packet from
	// one is suspicious.
	Unknown Status = iota
	// Live handles map to a connection.
	Live
	// Stale handles belonged to a connection that was recently torn down.
	Stale
)

func (s Status) String() string {
	switch s {
	case Live:
		return "live"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Registry is a concurrency-safe peer-handle → connection map. The invariant
// is one connection per live handle and vice versa; entries disappear in the
// same critical section that hands them to the caller for teardown, so no
// event can be routed to a half-destroyed connection.
type Registry[C any] struct {
	mu     sync.RWMutex
	peers  map[uint32]C
	closed bool

	reaped  *lru.Cache[uint32, time.Time]
	pending *queue.Queue[C]
}

// New creates an empty registry.
func New[C any]() *Registry[C] {
	reaped, err := lru.New[uint32, time.Time](reapedMemory)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Registry[C]{
		peers:   make(map[uint32]C),
		reaped:  reaped,
		pending: queue.New[C](),
	}
}

// Admit maps id to c and makes c available to Accept.
func (r *Registry[C]) Admit(id uint32, c C) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.peers[id]; exists {
		return ErrDuplicate
	}
	r.peers[id] = c
	r.reaped.Remove(id)
	r.pending.Push(c)
	return nil
}

// Lookup returns the connection mapped to id.
func (r *Registry[C]) Lookup(id uint32) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.peers[id]
	return c, ok
}

// Resolve is Lookup plus a classification of misses.
func (r *Registry[C]) Resolve(id uint32) (C, Status) {
	r.mu.RLock()
	c, ok := r.peers[id]
	r.mu.RUnlock()

	if ok {
		return c, Live
	}
	if r.reaped.Contains(id) {
		return c, Stale
	}
	return c, Unknown
}

// Remove unmaps id and returns its connection for teardown. A second Remove of
// the same id returns false.
func (r *Registry[C]) Remove(id uint32) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.peers[id]
	if !ok {
		return c, false
	}
	delete(r.peers, id)
	r.reaped.Add(id, time.Now())
	return c, true
}

// Snapshot returns the live connections at the time of the call. The pump
// iterates the copy so no lock is held while talking to the engine.
func (r *Registry[C]) Snapshot() map[uint32]C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uint32]C, len(r.peers))
	for id, c := range r.peers {
		out[id] = c
	}
	return out
}

// Len returns the number of live entries.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// TryAccept pops the next admitted connection without blocking.
func (r *Registry[C]) TryAccept() (C, bool) {
	return r.pending.TryPop()
}

// Accept waits for the next admitted connection. It rechecks the queue at
// least every interval and returns ErrClosed once the registry is closed and
// the backlog is empty.
func (r *Registry[C]) Accept(ctx context.Context, interval time.Duration) (C, error) {
	var zero C
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if c, ok := r.pending.TryPop(); ok {
			return c, nil
		}
		if r.pending.Closed() {
			return zero, ErrClosed
		}

		select {
		case <-r.pending.Ready():
		case <-timer.C:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// Close empties the registry and returns every live connection so the caller
// can tear them down. Connections that were admitted but never accepted are
// dropped from the accept queue. Close is idempotent.
func (r *Registry[C]) Close() map[uint32]C {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.pending.Close()

	out := r.peers
	r.peers = make(map[uint32]C)
	for id := range out {
		r.reaped.Add(id, time.Now())
	}
	return out
}
