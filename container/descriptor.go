package container

import (
	"fmt"
	"hubrpc/contract"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Policy decides who owns the instance behind an interface.
type Policy int

const (
	Singleton  Policy = iota + 1 // one instance for the process, registered up front
	PerCall                      // a fresh instance for every call
	PerSession                   // one instance per client id, expired when idle
)

func (p Policy) String() string {
	switch p {
	case Singleton:
		return "Singleton"
	case PerCall:
		return "PerCall"
	case PerSession:
		return "PerSession"
	}
	return "None"
}

// Deps is the optional dependency slot handed to a Factory at construction
// time. Implementations that want a logger take it from here; others ignore it.
type Deps struct {
	Logger *slog.Logger
}

// Factory constructs one implementation instance.
type Factory func(Deps) any

// Descriptor is everything the container knows about one registered
// interface. It is immutable after registration except for the session
// table of PerSession descriptors.
type Descriptor struct {
	Interface   contract.Interface
	Policy      Policy
	Types       *contract.Registry // parameter and result types of Interface
	IdleTimeout time.Duration      // PerSession only; <= 0 never expires

	instance any     // Singleton
	factory  Factory // PerCall, PerSession
	deps     Deps

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry is one client's instance. The entry is published in the
// table before construction; mu serializes construction so concurrent
// first calls for the same client share a single instance. An entry whose
// construction failed is marked dropped and removed from the table, and
// callers that were waiting on it start over with a fresh entry.
type sessionEntry struct {
	mu           sync.Mutex
	ready        bool
	dropped      bool
	instance     any
	lastActivity atomic.Int64 // unix nanoseconds
}

func (d *Descriptor) session(clientID string, now time.Time) (any, error) {
	for {
		entry := d.entry(clientID, now)

		entry.mu.Lock()
		if entry.ready {
			entry.mu.Unlock()
			return entry.instance, nil
		}
		if entry.dropped {
			entry.mu.Unlock()
			continue
		}
		instance, err := d.construct()
		if err != nil {
			entry.dropped = true
			d.forget(clientID, entry)
			entry.mu.Unlock()
			return nil, err
		}
		entry.instance = instance
		entry.ready = true
		entry.mu.Unlock()
		return instance, nil
	}
}

// entry returns the table entry for clientID, creating it if needed, and
// marks it active.
func (d *Descriptor) entry(clientID string, now time.Time) *sessionEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.sessions[clientID]
	if !ok {
		entry = &sessionEntry{}
		d.sessions[clientID] = entry
	}
	entry.lastActivity.Store(now.UnixNano())
	return entry
}

// forget removes entry unless the table already holds a newer one.
func (d *Descriptor) forget(clientID string, entry *sessionEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[clientID] == entry {
		delete(d.sessions, clientID)
	}
}

// construct runs the factory. A panic or a nil instance is an error.
func (d *Descriptor) construct() (instance any, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			instance = nil
			err = fmt.Errorf("container: %s: factory panic: %v", d.Interface.Name, rv)
		}
	}()
	instance = d.factory(d.deps)
	if instance == nil {
		return nil, fmt.Errorf("container: %s: factory returned nil", d.Interface.Name)
	}
	return instance, nil
}

func (d *Descriptor) evict(now time.Time) int {
	if d.IdleTimeout <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for clientID, entry := range d.sessions {
		idle := now.Sub(time.Unix(0, entry.lastActivity.Load()))
		if idle > d.IdleTimeout {
			delete(d.sessions, clientID)
			evicted++
		}
	}
	return evicted
}

func (d *Descriptor) remove(clientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[clientID]; !ok {
		return false
	}
	delete(d.sessions, clientID)
	return true
}

func (d *Descriptor) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
