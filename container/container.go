// Package container resolves interface names to implementation instances.
//
// Each registered interface gets one Descriptor holding its contract, its
// type registry and its ownership policy:
//
//	Singleton   → the instance passed at registration, never replaced
//	PerCall     → Factory runs on every Resolve
//	PerSession  → one instance per (interface, client id), refreshed on every
//	              Resolve and dropped by the idle sweep or TerminateSession
//
// The container is built explicitly by the server's composition root and
// all registration happens before the first request is served.
package container

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/codec"
	"hubrpc/contract"
	"hubrpc/rpcerr"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultSweepInterval is how often Run evicts idle sessions when no
// interval is given.
const DefaultSweepInterval = time.Minute

// Container owns the interface name → Descriptor table.
type Container struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor

	logger *slog.Logger
	codec  codec.Codec
	now    func() time.Time
}

type Option func(*Container)

// WithLogger sets the logger used by the container and handed to factories.
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithCodec sets the payload codec of every interface registry.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Container) { c.codec = cdc }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Container) { c.now = now }
}

// New creates a container with the reserved session interface registered.
func New(opts ...Option) *Container {
	c := &Container{
		descriptors: make(map[string]*Descriptor),
		logger:      slog.Default(),
		codec:       &codec.JSONCodec{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store(c.newDescriptor(contract.SessionContract, Singleton, 0, sessionControl{c}, nil))
	return c
}

// RegisterSingleton registers an already constructed instance.
func (c *Container) RegisterSingleton(iface contract.Interface, instance any) error {
	if instance == nil {
		return fmt.Errorf("container: %s: nil singleton", iface.Name)
	}
	return c.register(iface, Singleton, 0, instance, nil)
}

// RegisterPerCall registers a factory invoked on every call.
func (c *Container) RegisterPerCall(iface contract.Interface, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("container: %s: nil factory", iface.Name)
	}
	return c.register(iface, PerCall, 0, nil, factory)
}

// RegisterPerSession registers a factory invoked once per client id. Entries
// idle for longer than idleTimeout are removed by EvictIdle; a non-positive
// timeout keeps them until TerminateSession.
func (c *Container) RegisterPerSession(iface contract.Interface, factory Factory, idleTimeout time.Duration) error {
	if factory == nil {
		return fmt.Errorf("container: %s: nil factory", iface.Name)
	}
	return c.register(iface, PerSession, idleTimeout, nil, factory)
}

func (c *Container) register(iface contract.Interface, policy Policy, idle time.Duration, instance any, factory Factory) error {
	if err := iface.Validate(); err != nil {
		return err
	}
	if iface.Name == contract.SessionInterface {
		return fmt.Errorf("container: %w: %q", rpcerr.ErrReservedInterface, iface.Name)
	}
	d := c.newDescriptor(iface, policy, idle, instance, factory)
	c.store(d)
	c.logger.Debug("interface registered", "interface", iface.Name, "policy", policy.String(), "idle_timeout", idle)
	return nil
}

func (c *Container) newDescriptor(iface contract.Interface, policy Policy, idle time.Duration, instance any, factory Factory) *Descriptor {
	types := contract.NewRegistry(c.codec)
	types.Register(iface)
	d := &Descriptor{
		Interface:   iface,
		Policy:      policy,
		Types:       types,
		IdleTimeout: idle,
		instance:    instance,
		factory:     factory,
		deps:        Deps{Logger: c.logger.With("interface", iface.Name)},
	}
	if policy == PerSession {
		d.sessions = make(map[string]*sessionEntry)
	}
	return d
}

// store replaces any previous descriptor for the same name in one step.
func (c *Container) store(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[d.Interface.Name] = d
}

// Lookup returns the descriptor registered under name.
func (c *Container) Lookup(name string) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptors[name]
	return d, ok
}

// Names returns every registered interface name, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.descriptors))
	for name := range c.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the instance serving name for clientID under the
// interface's policy.
func (c *Container) Resolve(name, clientID string) (any, error) {
	d, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", rpcerr.ErrUnknownInterface, name)
	}
	return c.resolve(d, clientID)
}

// ResolveDescriptor is Resolve for a descriptor already looked up, so the
// dispatcher does not pay for a second lookup.
func (c *Container) ResolveDescriptor(d *Descriptor, clientID string) (any, error) {
	return c.resolve(d, clientID)
}

func (c *Container) resolve(d *Descriptor, clientID string) (any, error) {
	switch d.Policy {
	case Singleton:
		return d.instance, nil
	case PerCall:
		return d.construct()
	case PerSession:
		if clientID == "" {
			return nil, errors.New("container: per-session interface requires a client id")
		}
		return d.session(clientID, c.now())
	}
	return nil, fmt.Errorf("container: %s: unsupported policy %v", d.Interface.Name, d.Policy)
}

// EvictIdle drops every per-session entry idle for longer than its
// interface's timeout and returns how many were dropped. It never fails.
func (c *Container) EvictIdle(now time.Time) int {
	evicted := 0
	for _, d := range c.perSession() {
		evicted += d.evict(now)
	}
	if evicted > 0 {
		c.logger.Debug("idle sessions evicted", "count", evicted)
	}
	return evicted
}

// Run sweeps idle sessions every interval until ctx is done.
func (c *Container) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.EvictIdle(c.now())
		}
	}
}

// TerminateSession removes clientID from every per-session interface and
// returns the number of interfaces that held state for it.
func (c *Container) TerminateSession(clientID string) int {
	var names []string
	for _, d := range c.perSession() {
		if d.remove(clientID) {
			names = append(names, d.Interface.Name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		c.logger.Info("client sessions deleted", "client", clientID, "interfaces", strings.Join(names, ", "))
	}
	return len(names)
}

// Sessions returns the number of live sessions held for name.
func (c *Container) Sessions(name string) int {
	d, ok := c.Lookup(name)
	if !ok || d.Policy != PerSession {
		return 0
	}
	return d.sessionCount()
}

func (c *Container) perSession() []*Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ds []*Descriptor
	for _, d := range c.descriptors {
		if d.Policy == PerSession {
			ds = append(ds, d)
		}
	}
	return ds
}

// sessionControl serves contract.SessionInterface.
type sessionControl struct {
	c *Container
}

func (s sessionControl) TerminateSession(clientID string) (int, error) {
	return s.c.TerminateSession(clientID), nil
}
