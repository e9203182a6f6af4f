// Package registry tracks the live connections of one server process and
// fans broadcast frames out to them.
package registry

import (
	"log"
	"sync"

	"nickchat/internal/protocol"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Conn is one live transport session. It starts unbound; a successful login
// binds it to a user uuid until the transport goes away.
type Conn struct {
	writer     Writer
	remoteAddr string

	mu       sync.Mutex
	userUUID string
}

func NewConn(w Writer, remoteAddr string) *Conn {
	return &Conn{writer: w, remoteAddr: remoteAddr}
}

func (c *Conn) RemoteAddr() string { return c.remoteAddr }

func (c *Conn) Bind(userUUID string) {
	c.mu.Lock()
	c.userUUID = userUUID
	c.mu.Unlock()
}

// BoundUser returns the uuid of the logged-in user, or "" while unbound.
func (c *Conn) BoundUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userUUID
}

func (c *Conn) Send(message []byte) error {
	return c.writer.Write(message)
}

// Registry is the lifecycle-scoped set of live connections. It is owned by
// the server that created it; independent registries never share state.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func New() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

// Remove drops the connection and reports the user it was bound to, if any.
func (r *Registry) Remove(c *Conn) (userUUID string) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	return c.BoundUser()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// OnlineUUIDs reports the set of users currently bound to a live connection.
func (r *Registry) OnlineUUIDs() []string {
	r.mu.RLock()
	conns := r.snapshotLocked()
	r.mu.RUnlock()

	seen := make(map[string]struct{}, len(conns))
	uuids := make([]string, 0, len(conns))
	for _, c := range conns {
		id := c.BoundUser()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uuids = append(uuids, id)
	}
	return uuids
}

func (r *Registry) snapshotLocked() []*Conn {
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast serializes once and writes to a snapshot of the member set.
// A failed member is logged, closed, and removed; delivery to the rest
// continues. Broadcast never returns an error to the caller.
func (r *Registry) Broadcast(event string, payload map[string]interface{}) {
	frame, err := protocol.EncodeBroadcast(event, payload)
	if err != nil {
		log.Printf("broadcast %s: encode: %v", event, err)
		return
	}

	r.mu.RLock()
	conns := r.snapshotLocked()
	r.mu.RUnlock()

	var failed []*Conn
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			log.Printf("broadcast %s: write to %s: %v", event, c.RemoteAddr(), err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.writer.Close()
		r.Remove(c)
	}
}
