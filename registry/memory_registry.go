package registry

import (
	"context"
	"slices"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-host setups and
// tests. TTLs are ignored: entries live until Deregister.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string][]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string][]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.DeleteFunc(r.services[serviceName], func(s ServiceInstance) bool {
		return s.Addr == instance.Addr
	})
	r.services[serviceName] = append(list, instance)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceName] = slices.DeleteFunc(r.services[serviceName], func(s ServiceInstance) bool {
		return s.Addr == addr
	})
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.services[serviceName]), nil
}

// Watch emits the instance list after every change. A slow watcher only
// ever sees the latest list.
func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	context.AfterFunc(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[serviceName] = slices.DeleteFunc(r.watchers[serviceName], func(w chan []ServiceInstance) bool {
			return w == ch
		})
		close(ch)
	})
	return ch
}

// notify must be called with r.mu held.
func (r *MemoryRegistry) notify(serviceName string) {
	for _, ch := range r.watchers[serviceName] {
		list := slices.Clone(r.services[serviceName])
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
