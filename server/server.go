// Package server implements the hub: the dispatcher that executes calls
// against the lifecycle container, and the TCP host that feeds it frames.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → Request/OneWay: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → Dispatcher.Handle → Codec.Encode → write response
//	  → StreamOpen: go pump (one per connection)
//	    → StreamSource → Codec.Encode → write StreamItem ... StreamEnd
package server

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/broadcast"
	"hubrpc/codec"
	"hubrpc/contract"
	"hubrpc/message"
	"hubrpc/middleware"
	"hubrpc/protocol"
	"hubrpc/registry"
	"hubrpc/rpcerr"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultServiceName is the name the hub registers under in service
// discovery when none is configured.
const DefaultServiceName = "hub"

// StreamSource produces the values pushed to one subscribed connection. The
// sequence must end when ctx is done.
type StreamSource func(ctx context.Context) iter.Seq[any]

// StreamFrom adapts a broadcast provider to a StreamSource. Every
// subscribed connection gets its own subscriber on p.
func StreamFrom[T any](p *broadcast.Provider[T]) StreamSource {
	return func(ctx context.Context) iter.Seq[any] {
		values := broadcast.Stream(ctx, p)
		return func(yield func(any) bool) {
			for v := range values {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Server is the TCP host of a Dispatcher.
type Server struct {
	dispatcher    *Dispatcher
	listener      net.Listener
	listenerMu    sync.Mutex
	wg            sync.WaitGroup          // Tracks in-flight requests and stream pumps for graceful shutdown
	shutdown      atomic.Bool             // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatcher.Handle)))
	registry      registry.Registry       // Service registry, nil if not using discovery
	advertiseAddr string                  // Address registered in the registry (e.g., "127.0.0.1:8080")

	serviceName string
	ttl         int64
	stream      StreamSource
	payloads    *contract.Registry // encodes stream values
	logger      *slog.Logger

	ctx    context.Context // cancelled by Shutdown, ends every stream
	cancel context.CancelFunc
	conns  sync.Map // *conn → struct{}
}

type Option func(*Server)

// WithStream sets the source served to connections that open a stream.
// Without one, StreamOpen is answered with StreamEnd.
func WithStream(src StreamSource) Option {
	return func(s *Server) { s.stream = src }
}

// WithPayloadCodec sets the codec stream values are encoded with. It must
// match the codec of the clients' type registries.
func WithPayloadCodec(c codec.Codec) Option {
	return func(s *Server) { s.payloads = contract.NewRegistry(c) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithServiceName sets the name the hub registers under.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// WithRegistryTTL sets the registration lease in seconds.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a hub serving d.
func NewServer(d *Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher:  d,
		serviceName: DefaultServiceName,
		ttl:         10,
		payloads:    contract.NewRegistry(nil),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address, optionally registers with the
// registry, and enters the Accept loop.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" is not routable.
//     Empty means the listener's own address.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	if reg != nil {
		instance := registry.ServiceInstance{
			Addr:       advertiseAddr,
			Weight:     1,
			Interfaces: svr.dispatcher.Container().Names(),
		}
		if err := reg.Register(svr.serviceName, instance, svr.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("register %s at %s: %w", svr.serviceName, advertiseAddr, err)
		}
		svr.registry = reg
		svr.advertiseAddr = advertiseAddr
	}
	return svr.ServeListener(listener)
}

// ServeListener runs the Accept loop on l until Shutdown.
func (svr *Server) ServeListener(l net.Listener) error {
	svr.listenerMu.Lock()
	svr.listener = l
	svr.listenerMu.Unlock()

	// Build the middleware chain once at startup (not per-request)
	//   Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatcher.Handle)

	svr.logger.Info("hub listening", "addr", l.Addr().String(), "service", svr.serviceName)
	for {
		conn, err := l.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.listenerMu.Lock()
	defer svr.listenerMu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// conn is one accepted connection. Every request goroutine and the stream
// pump share writeMu so frames never interleave.
type conn struct {
	id      string
	nc      net.Conn
	writeMu sync.Mutex

	streamMu   sync.Mutex
	stopStream context.CancelFunc // non-nil while a stream is open
}

// openStream claims the connection's single stream slot.
func (c *conn) openStream(stop context.CancelFunc) bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stopStream != nil {
		return false
	}
	c.stopStream = stop
	return true
}

func (c *conn) closeStream() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stopStream != nil {
		c.stopStream()
		c.stopStream = nil
	}
}

func (c *conn) write(codecType byte, msgType protocol.MsgType, seq uint32, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.nc, &protocol.Header{CodecType: codecType, MsgType: msgType, Seq: seq}, body)
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each request to its own goroutine for parallel processing.
func (svr *Server) handleConn(nc net.Conn) {
	c := &conn{id: uuid.NewString(), nc: nc}
	svr.conns.Store(c, struct{}{})
	ctx, cancel := context.WithCancel(context.Background())
	logger := svr.logger.With("conn", c.id, "remote", nc.RemoteAddr().String())
	defer func() {
		cancel()
		nc.Close()
		svr.conns.Delete(c)
		logger.Debug("connection closed")
	}()
	logger.Debug("connection accepted")

	for {
		header, body, err := protocol.Decode(nc)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read failed", "err", err)
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			// keepalive only
		case protocol.MsgTypeRequest, protocol.MsgTypeOneWay:
			if svr.shutdown.Load() {
				svr.reject(c, header)
				continue
			}
			svr.wg.Add(1)
			go svr.handleRequest(ctx, c, header, body)
		case protocol.MsgTypeStreamOpen:
			// Streams end on Shutdown; requests are left to finish.
			streamCtx, stop := context.WithCancel(ctx)
			if svr.shutdown.Load() || !c.openStream(stop) {
				stop()
				logger.Warn("stream refused", "seq", header.Seq)
				c.write(header.CodecType, protocol.MsgTypeStreamEnd, header.Seq, nil)
				continue
			}
			release := context.AfterFunc(svr.ctx, stop)
			svr.wg.Add(1)
			go func() {
				defer c.closeStream()
				defer release()
				svr.pump(streamCtx, c, header, logger)
			}()
		case protocol.MsgTypeStreamEnd:
			// The client no longer wants the stream.
			c.closeStream()
		default:
			logger.Warn("unexpected frame", "type", header.MsgType.String())
		}
	}
}

// handleRequest processes a single request: decode → middleware → dispatcher → encode → write.
func (svr *Server) handleRequest(ctx context.Context, c *conn, header *protocol.Header, body []byte) {
	defer svr.wg.Done()

	oneWay := header.MsgType == protocol.MsgTypeOneWay
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))

	var req message.Request
	var resp *message.Response
	err := cdc.Decode(body, &req)
	if err != nil {
		err = fmt.Errorf("%w: request body: %w", rpcerr.ErrArgumentDecode, err)
		svr.logger.Error("bad request frame", "conn", c.id, "err", err)
	} else {
		resp, err = svr.handler(ctx, &req, oneWay)
	}
	if oneWay {
		// Failures were logged by the dispatcher; there is nobody to tell.
		return
	}
	if err != nil {
		resp = errorResponse(&req, err)
	}

	out, err := cdc.Encode(resp)
	if err != nil {
		svr.logger.Error("encode response failed", "conn", c.id, "request", req.ID, "err", err)
		out, err = cdc.Encode(errorResponse(&req, fmt.Errorf("%w: encode response: %w", rpcerr.ErrInvocation, err)))
		if err != nil {
			return
		}
	}
	// Same seq as the request: this is how the client matches responses.
	if err := c.write(header.CodecType, protocol.MsgTypeResponse, header.Seq, out); err != nil {
		svr.logger.Debug("write response failed", "conn", c.id, "request", req.ID, "err", err)
	}
}

// reject answers a request arriving during shutdown without dispatching it.
func (svr *Server) reject(c *conn, header *protocol.Header) {
	if header.MsgType == protocol.MsgTypeOneWay {
		return
	}
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	out, err := cdc.Encode(errorResponse(&message.Request{}, fmt.Errorf("%w: hub is shutting down", rpcerr.ErrNotReady)))
	if err != nil {
		return
	}
	c.write(header.CodecType, protocol.MsgTypeResponse, header.Seq, out)
}

func errorResponse(req *message.Request, err error) *message.Response {
	resp := message.ReplyTo(req, message.StatusError)
	resp.Code = rpcerr.Code(err)
	resp.Error = err.Error()
	var ce *rpcerr.CallError
	if errors.As(err, &ce) {
		resp.Error = ce.Message()
	}
	return resp
}

// pump pushes stream values to c until the connection or the server goes
// away, then sends StreamEnd.
func (svr *Server) pump(ctx context.Context, c *conn, header *protocol.Header, logger *slog.Logger) {
	defer svr.wg.Done()
	defer c.write(header.CodecType, protocol.MsgTypeStreamEnd, header.Seq, nil)

	if svr.stream == nil {
		logger.Debug("stream requested but none configured")
		return
	}
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	logger.Debug("stream opened")
	for v := range svr.stream(ctx) {
		env, err := svr.payloads.Encode(v)
		if err != nil {
			logger.Error("encode stream value failed", "err", err)
			continue
		}
		body, err := cdc.Encode(&env)
		if err != nil {
			logger.Error("encode stream frame failed", "err", err)
			continue
		}
		if err := c.write(header.CodecType, protocol.MsgTypeStreamItem, header.Seq, body); err != nil {
			logger.Debug("stream write failed", "err", err)
			return
		}
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing to this hub)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. End every stream
//  5. Wait for in-flight requests to finish (with timeout)
//  6. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		if err := svr.registry.Deregister(svr.serviceName, svr.advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", "service", svr.serviceName, "err", err)
		}
	}

	svr.shutdown.Store(true)
	svr.listenerMu.Lock()
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.listenerMu.Unlock()

	svr.cancel()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.conns.Range(func(key, _ any) bool {
		key.(*conn).nc.Close()
		return true
	})
	return err
}
