// Package registry lets hubs announce themselves and clients find them.
package registry

import "context"

// ServiceInstance is one hub as seen by discovery.
type ServiceInstance struct {
	Addr       string
	Weight     int // Weight for load balancing
	Version    string
	Interfaces []string // interface names the hub serves
}

// Serves reports whether the instance serves iface. An instance that
// announced no interfaces is assumed to serve everything.
func (s ServiceInstance) Serves(iface string) bool {
	if len(s.Interfaces) == 0 {
		return true
	}
	for _, name := range s.Interfaces {
		if name == iface {
			return true
		}
	}
	return false
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
