package contract

import (
	"errors"
	"fmt"
	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"sync"
)

// Registry maps type identifiers to Types and converts values to and from
// Envelopes with its payload codec. The server keeps one per interface; the
// client keeps one for all result types it expects.
type Registry struct {
	codec codec.Codec
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty Registry. A nil codec means JSON.
func NewRegistry(c codec.Codec) *Registry {
	if c == nil {
		c = &codec.JSONCodec{}
	}
	return &Registry{
		codec: c,
		types: make(map[string]Type),
	}
}

// Codec returns the payload codec.
func (r *Registry) Codec() codec.Codec {
	return r.codec
}

// Add records types directly.
func (r *Registry) Add(types ...Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		r.types[t.ID] = t
	}
}

// Register records the parameter and result types of every method of iface.
func (r *Registry) Register(iface Interface) {
	r.Add(iface.Types()...)
}

// Resolve looks a type identifier up.
func (r *Registry) Resolve(id string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	return t, ok
}

// Len returns the number of known types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Decode resolves env.TypeID and deserializes the payload as that type.
// It fails with rpcerr.ErrUnknownType before looking at the payload when the
// identifier is not registered.
func (r *Registry) Decode(env message.Envelope) (any, error) {
	t, ok := r.Resolve(env.TypeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", rpcerr.ErrUnknownType, env.TypeID)
	}
	v, err := t.Decode(r.codec, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload of %q: %w", rpcerr.ErrArgumentDecode, env.TypeID, err)
	}
	return v, nil
}

// DecodeAll decodes envelopes in order. The first failure aborts and is
// reported as an argument decode error carrying the argument position.
func (r *Registry) DecodeAll(envs []message.Envelope) ([]any, error) {
	values := make([]any, 0, len(envs))
	for i, env := range envs {
		v, err := r.Decode(env)
		if err != nil {
			if !errors.Is(err, rpcerr.ErrArgumentDecode) {
				err = fmt.Errorf("%w: %w", rpcerr.ErrArgumentDecode, err)
			}
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Encode wraps v in an Envelope tagged with its concrete runtime type.
func (r *Registry) Encode(v any) (message.Envelope, error) {
	id := IDOf(v)
	if id == "" {
		return message.Envelope{}, errors.New("contract: cannot encode untyped nil")
	}
	payload, err := r.codec.Encode(v)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("contract: encode %s: %w", id, err)
	}
	return message.Envelope{TypeID: id, Payload: payload}, nil
}

// EncodeAll encodes values in order.
func (r *Registry) EncodeAll(values []any) ([]message.Envelope, error) {
	envs := make([]message.Envelope, 0, len(values))
	for i, v := range values {
		env, err := r.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}
