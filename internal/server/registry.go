package server

import "sync"

// Registry is the authoritative set of identified clients, keyed by client ID.
// Snapshots preserve registration order.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds c. Registering an ID that is already present is a no-op.
// Display identities are not unique keys and may repeat.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.id]; exists {
		return
	}
	r.clients[c.id] = c
	r.order = append(r.order, c.id)
}

// Unregister removes the client with the given ID. It reports whether this
// call removed it; removing an absent ID is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; !exists {
		return false
	}
	delete(r.clients, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	return c, ok
}

// Snapshot returns the registered clients in registration order. The slice is
// a copy; callers may iterate it without holding the registry lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		clients = append(clients, r.clients[id])
	}
	return clients
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
