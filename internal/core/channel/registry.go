package channel

import (
	"sort"
	"sync"

	"github.com/hay-kot/weave/internal/core/werr"
)

// Registry owns every channel by name. Creation is serialized; lookups run
// concurrently.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	active   bool
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
		active:   true,
	}
}

// Create builds and registers a channel. Schemas are compiled before the
// name is reserved, so an invalid schema never claims a name.
func (r *Registry) Create(info Info) (Channel, error) {
	ch, err := New(info)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil, werr.Closed("registry is shutting down")
	}
	if _, ok := r.channels[info.Name]; ok {
		return nil, werr.AlreadyExists("%s", info.Name)
	}

	r.channels[info.Name] = ch
	return ch, nil
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.active {
		return nil, werr.Closed("registry is shutting down")
	}
	ch, ok := r.channels[name]
	if !ok {
		return nil, werr.NotFound("%s", name)
	}
	return ch, nil
}

// List returns the info of every channel sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.channels))
	for _, ch := range r.channels {
		infos = append(infos, ch.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// RemoveRequestor purges every pop owned by requestor from every channel.
func (r *Registry) RemoveRequestor(requestor string) {
	for _, ch := range r.snapshot() {
		ch.RemoveRequestor(requestor)
	}
}

// Remove unregisters the named channel and closes it, releasing its parked
// pops.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	delete(r.channels, name)
	r.mu.Unlock()

	if !ok {
		return werr.NotFound("%s", name)
	}
	ch.Close()
	return nil
}

// Shutdown marks the registry inactive and closes every channel, releasing
// all parked pops. Safe to call more than once.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()

	for _, ch := range r.snapshot() {
		ch.Close()
	}
}

func (r *Registry) snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	return channels
}
