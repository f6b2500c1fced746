package server

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
)

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID          string    // Client UUID
	Name        string    // Client name, unique among connected clients
	RemoteAddr  string    // Peer address
	ConnectedAt time.Time // Handshake completion time
}

type clientSlot struct {
	info    ClientInfo
	session *yamux.Session // nil until BindSession
	closed  bool           // Set once the slot's session has been closed
}

// Registry maps client names to their sessions.
type Registry struct {
	mu    sync.RWMutex           // Protects slots
	slots map[string]*clientSlot // Name to client slot mapping
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]*clientSlot),
	}
}

// ReserveName claims name for a connecting client. The returned release func
// frees the name and closes any bound session; it is safe to call more than once.
func (r *Registry) ReserveName(name string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[name]; exists {
		return nil, &NameInUseError{Name: name}
	}

	slot := &clientSlot{info: ClientInfo{Name: name}}
	r.slots[name] = slot

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			if r.slots[name] == slot {
				delete(r.slots, name)
			}
			r.mu.Unlock()
			r.closeSlot(slot)
		})
	}

	return release, nil
}

// BindSession attaches a session and client details to a reserved name.
func (r *Registry) BindSession(name string, sess *yamux.Session, info ClientInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, exists := r.slots[name]
	if !exists || slot.closed {
		return &NameNotReservedError{Name: name}
	}

	info.Name = name
	slot.info = info
	slot.session = sess

	return nil
}

// Disconnect closes the session of the named client. It reports whether a
// bound client was found.
func (r *Registry) Disconnect(name string) bool {
	r.mu.RLock()
	slot, exists := r.slots[name]
	bound := exists && slot.session != nil
	r.mu.RUnlock()

	if !bound {
		return false
	}
	r.closeSlot(slot)
	return true
}

// Clients lists bound clients sorted by name.
func (r *Registry) Clients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(r.slots))
	for _, slot := range r.slots {
		if slot.session != nil {
			clients = append(clients, slot.info)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Name < clients[j].Name
	})
	return clients
}

// CloseAll closes every bound session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	slots := make([]*clientSlot, 0, len(r.slots))
	for _, slot := range r.slots {
		slots = append(slots, slot)
	}
	r.mu.RUnlock()

	for _, slot := range slots {
		r.closeSlot(slot)
	}
}

func (r *Registry) closeSlot(slot *clientSlot) {
	r.mu.Lock()
	if slot.closed {
		r.mu.Unlock()
		return
	}
	slot.closed = true
	sess := slot.session
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
}

type NameInUseError struct {
	Name string
}

func (e *NameInUseError) Error() string {
	return "client name already in use: " + e.Name
}

func (e *NameInUseError) Is(target error) bool {
	return target == common.ErrNameInUse
}

type NameNotReservedError struct {
	Name string
}

func (e *NameNotReservedError) Error() string {
	return "client name not reserved: " + e.Name
}
