package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrTooManyConnections is returned by Registry.Add when the configured
// ceiling is reached.
var ErrTooManyConnections = errors.New("too many connections")

// Registry tracks the live transport handle for every connection and
// enforces the admission ceiling. The identifier is the durable key; the
// transport is a replaceable field so a STARTTLS upgrade rebinds it
// without hunting down aliases.
type Registry struct {
	mu       sync.Mutex
	max      int // 0 is unlimited
	idLength int
	conns    map[string]net.Conn
}

func NewRegistry(maxConnections, idLength int) *Registry {
	return &Registry{
		max:      maxConnections,
		idLength: idLength,
		conns:    make(map[string]net.Conn),
	}
}

// Add admits a transport, generating a fresh identifier unique among live
// connections. The ceiling check and the insert happen under one lock
// acquisition so the configured maximum is enforced exactly.
func (r *Registry) Add(conn net.Conn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.conns) >= r.max {
		return "", ErrTooManyConnections
	}

	for {
		id, err := randomID(r.idLength)
		if err != nil {
			return "", fmt.Errorf("generate connection id: %w", err)
		}
		if _, taken := r.conns[id]; taken {
			continue
		}
		r.conns[id] = conn
		return id, nil
	}
}

// Rebind replaces the transport for id, keeping the identifier. Returns
// false when id is not registered.
func (r *Registry) Rebind(id string, conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	r.conns[id] = conn
	return true
}

// Remove drops id from the registry. Returns false when it was already
// gone, which callers use to make teardown idempotent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) Get(id string) (net.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// IDFor finds the identifier bound to conn. Returns false for transports
// that were never admitted or have already been removed.
func (r *Registry) IDFor(conn net.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c == conn {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns a copy of the live connection map, used at shutdown.
func (r *Registry) Snapshot() map[string]net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]net.Conn, len(r.conns))
	for id, conn := range r.conns {
		out[id] = conn
	}
	return out
}

func randomID(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}
