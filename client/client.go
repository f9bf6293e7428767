// Package client is the caller side of the hub: one Client holds one
// persistent connection, identifies itself with a stable client id, and
// turns Go values into type-tagged requests and back.
//
//	c, _ := client.Dial(ctx, "127.0.0.1:9000")
//	c.RegisterInterface(remotecall.RemoteCall1Contract)
//	s, _ := client.CallAs[string](ctx, c, "IRemoteCall1", "Echo", "hi")
package client

import (
	"context"
	"fmt"
	"hubrpc/codec"
	"hubrpc/contract"
	"hubrpc/hook"
	"hubrpc/loadbalance"
	"hubrpc/middleware"
	"hubrpc/registry"
	"hubrpc/transport"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client is safe for concurrent use.
type Client struct {
	id        string
	t         *transport.ClientTransport
	types     *contract.Registry
	hooks     hook.Chain
	handler   middleware.HandlerFunc
	logger    *slog.Logger
	ready     atomic.Bool
	remote    string
	stopOnErr bool
}

type config struct {
	id            string
	codecType     codec.CodecType
	payload       codec.Codec
	logger        *slog.Logger
	hooks         hook.Chain
	middlewares   []middleware.Middleware
	retryAttempts int
	retryInterval time.Duration
	heartbeat     time.Duration
	stopOnErr     bool
}

type Option func(*config)

// WithClientID sets the session identity. The default is "Client-<uuid>".
func WithClientID(id string) Option {
	return func(c *config) { c.id = id }
}

// WithCodec sets the frame codec (JSON or Binary).
func WithCodec(t codec.CodecType) Option {
	return func(c *config) { c.codecType = t }
}

// WithPayloadCodec sets the codec argument and result payloads are
// serialized with. It must match the hub's container codec.
func WithPayloadCodec(cdc codec.Codec) Option {
	return func(c *config) { c.payload = cdc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithHook adds a hook called around every call made through the client.
func WithHook(h hook.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, h) }
}

// WithMiddleware wraps the client's send path, e.g. with
// middleware.RetryMiddleware.
func WithMiddleware(mw middleware.Middleware) Option {
	return func(c *config) { c.middlewares = append(c.middlewares, mw) }
}

// WithRetry makes Dial try to connect up to attempts times, interval apart.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(c *config) {
		c.retryAttempts = attempts
		c.retryInterval = interval
	}
}

// WithHeartbeat sets the transport heartbeat interval; zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) { c.heartbeat = d }
}

// WithStopOnCallbackError makes Subscribe return the first error a
// callback returns instead of logging it and carrying on.
func WithStopOnCallbackError() Option {
	return func(c *config) { c.stopOnErr = true }
}

func buildConfig(opts []Option) config {
	cfg := config{
		codecType:     codec.CodecTypeJSON,
		logger:        slog.Default(),
		retryAttempts: 1,
		heartbeat:     transport.DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = "Client-" + uuid.NewString()
	}
	if cfg.retryAttempts < 1 {
		cfg.retryAttempts = 1
	}
	return cfg
}

// Dial connects to the hub at addr, retrying as configured by WithRetry.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := buildConfig(opts)
	conn, err := dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	return newClient(conn, cfg), nil
}

// DialDiscovered finds the hubs registered as service, lets bal pick one
// keyed by the client id, and connects to it.
func DialDiscovered(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	cfg := buildConfig(opts)
	instances, err := reg.Discover(service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", service, err)
	}
	instance, err := bal.Pick(cfg.id, instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s: %w", service, err)
	}
	cfg.logger.Debug("hub selected", "service", service, "addr", instance.Addr, "strategy", bal.Name())
	conn, err := dial(ctx, instance.Addr, cfg)
	if err != nil {
		return nil, err
	}
	return newClient(conn, cfg), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Client {
	return newClient(conn, buildConfig(opts))
}

func dial(ctx context.Context, addr string, cfg config) (net.Conn, error) {
	var d net.Dialer
	var err error
	for attempt := 1; attempt <= cfg.retryAttempts; attempt++ {
		var conn net.Conn
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if attempt == cfg.retryAttempts {
			break
		}
		cfg.logger.Warn("connect failed, retrying", "addr", addr, "attempt", attempt, "of", cfg.retryAttempts, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.retryInterval):
		}
	}
	return nil, fmt.Errorf("client: connect %s: %w", addr, err)
}

func newClient(conn net.Conn, cfg config) *Client {
	logger := cfg.logger.With("client", cfg.id)
	c := &Client{
		id:        cfg.id,
		types:     contract.NewRegistry(cfg.payload),
		hooks:     cfg.hooks,
		logger:    logger,
		remote:    conn.RemoteAddr().String(),
		stopOnErr: cfg.stopOnErr,
	}
	c.t = transport.NewClientTransport(conn, cfg.codecType,
		transport.WithHeartbeat(cfg.heartbeat),
		transport.WithLogger(logger),
	)
	c.types.Register(contract.SessionContract)
	c.handler = middleware.Chain(cfg.middlewares...)(c.send)
	c.ready.Store(true)
	logger.Debug("connected", "remote", c.remote)
	return c
}

// RegisterInterface makes the result types of iface decodable. It returns
// c so registrations can be chained.
func (c *Client) RegisterInterface(iface contract.Interface) *Client {
	c.types.Register(iface)
	return c
}

// RegisterTypes adds individual types, for example the concrete types of
// values returned through an interface-typed result.
func (c *Client) RegisterTypes(types ...contract.Type) *Client {
	c.types.Add(types...)
	return c
}

// ID returns the client id sent with every request.
func (c *Client) ID() string {
	return c.id
}

// Ready reports whether the client can still make calls: it has not been
// terminated or closed and its connection is alive.
func (c *Client) Ready() bool {
	if !c.ready.Load() {
		return false
	}
	select {
	case <-c.t.Done():
		return false
	default:
		return true
	}
}

// Close closes the connection without terminating the hub-side sessions;
// they expire by idle timeout.
func (c *Client) Close() error {
	c.ready.Store(false)
	return c.t.Close()
}
