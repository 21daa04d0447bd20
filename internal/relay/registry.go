package relay

import (
	"errors"
	"sync"

	"github.com/chronologos/terminus/internal/protocol"
)

// ErrDuplicate is returned when a client ID is already registered live
// under the same role.
var ErrDuplicate = errors.New("client id already registered for this role")

// registry maps client IDs to the live connection for each role. A client
// ID appears at most once per role, and an entry is only ever removed by
// the peer that owns it.
type registry struct {
	mu      sync.Mutex
	masters map[string]*peer
	slaves  map[string]*peer
}

func newRegistry() *registry {
	return &registry{
		masters: make(map[string]*peer),
		slaves:  make(map[string]*peer),
	}
}

func (r *registry) table(role protocol.Role) map[string]*peer {
	if role == protocol.RoleMaster {
		return r.masters
	}
	return r.slaves
}

// register inserts p under its role and ID, and returns the opposite peer
// registered under the same ID, if any.
func (r *registry) register(p *peer) (opposite *peer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(p.role)
	if _, ok := t[p.id]; ok {
		return nil, ErrDuplicate
	}
	t[p.id] = p
	return r.table(p.role.Opposite())[p.id], nil
}

// unregister removes p if the registry still maps its ID to p. It returns
// the opposite peer and whether p was removed.
func (r *registry) unregister(p *peer) (opposite *peer, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(p.role)
	if t[p.id] != p {
		return nil, false
	}
	delete(t, p.id)
	return r.table(p.role.Opposite())[p.id], true
}

// lookup returns the peer registered for role and id, or nil.
func (r *registry) lookup(role protocol.Role, id string) *peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table(role)[id]
}

// count returns the number of registered masters and slaves.
func (r *registry) count() (masters, slaves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.masters), len(r.slaves)
}
