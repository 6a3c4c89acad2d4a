package musiccast

import (
	"sort"
	"sync"
)

// Registry maps device ids to live actors. It is the one structure shared
// between the discovery goroutine (adds and removes), the gateway's
// routing lookups, and the actors themselves (self-removal, feed
// resolution).
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Add registers a device under its id. Returns false when the id is
// already present; the existing actor keeps running.
func (r *Registry) Add(d *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[d.ID]; exists {
		return false
	}
	r.devices[d.ID] = d
	r.logger.Info("device registered", "device_id", d.ID, "count", len(r.devices))
	return true
}

// Remove deletes a device by id. Returns false when the id was not
// present, so a self-removing actor and a discovery-driven removal can
// race without double-processing.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[id]; !exists {
		return false
	}
	delete(r.devices, id)
	r.logger.Info("device deregistered", "device_id", id, "count", len(r.devices))
	return true
}

// Get returns the device for an id, or nil.
func (r *Registry) Get(id string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// List returns every registered device, ordered by id.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
