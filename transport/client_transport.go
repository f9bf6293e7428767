// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport carries every call, one-way notification and the
// broadcast stream of one client over a single TCP connection. Each request
// gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads frames and routes them to the right waiter.
//
//	goroutine-1 ──Call(seq=1)──────┐
//	goroutine-2 ──Notify(seq=2)────┼──→ single TCP conn ──→ Hub
//	goroutine-3 ──OpenStream(seq=3)┘
//
//	recvLoop:  ←── response(seq=1)    → pending[1] → goroutine-1 wakes up
//	           ←── stream-item(seq=3)  → streams[3] (latest value wins)
package transport

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/protocol"
	"hubrpc/rpcerr"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultHeartbeat is the heartbeat interval used when none is configured.
const DefaultHeartbeat = 30 * time.Second

var (
	// ErrClosed is returned for operations on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrStreamEnded is returned by Stream.Next once the hub ended the stream.
	ErrStreamEnded = errors.New("stream ended")
)

type result struct {
	resp *message.Response
	err  error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn        // Underlying TCP connection
	codec   codec.CodecType // Serialization format for this transport
	seq     uint32          // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map        // map[uint32]chan result, one per waiting call
	streams sync.Map        // map[uint32]*Stream
	sending sync.Mutex      // Write lock: frames from concurrent callers must not interleave

	heartbeat time.Duration
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error // why the transport closed
}

type Option func(*ClientTransport)

// WithHeartbeat sets the heartbeat interval. Zero or negative disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads frames from the connection and dispatches them
//   - heartbeatLoop: sends periodic heartbeat frames to keep the connection alive
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     codecType,
		heartbeat: DefaultHeartbeat,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// send assigns the next sequence number, lets register claim it, then writes
// the frame. register runs under the write lock and before the frame goes
// out, so recvLoop can never see a reply for an unregistered seq.
func (t *ClientTransport) send(msgType protocol.MsgType, v any, register func(seq uint32)) (uint32, error) {
	var body []byte
	if v != nil {
		var err error
		body, err = codec.GetCodec(t.codec).Encode(v)
		if err != nil {
			return 0, err
		}
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if err := t.closedErr(); err != nil {
		return 0, err
	}
	t.seq++
	seq := t.seq
	if register != nil {
		register(seq)
	}
	header := protocol.Header{CodecType: byte(t.codec), MsgType: msgType, Seq: seq}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		return seq, fmt.Errorf("%w: write: %w", rpcerr.ErrCancelled, err)
	}
	return seq, nil
}

// Call sends req and waits for its response, the end of ctx, or the loss
// of the connection.
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	ch := make(chan result, 1) // Buffered so recvLoop never blocks on an abandoned caller
	seq, err := t.send(protocol.MsgTypeRequest, req, func(seq uint32) { t.pending.Store(seq, ch) })
	if err != nil {
		t.pending.Delete(seq)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, fmt.Errorf("%w: %w", rpcerr.ErrCancelled, ctx.Err())
	}
}

// Notify sends req as a one-way call. It returns once the frame is written.
func (t *ClientTransport) Notify(req *message.Request) error {
	_, err := t.send(protocol.MsgTypeOneWay, req, nil)
	return err
}

// Stream receives broadcast values pushed by the hub. It holds at most one
// undelivered value: a new value replaces an unread one.
type Stream struct {
	t       *ClientTransport
	seq     uint32
	items   chan message.Envelope
	ended   chan struct{}
	endOnce sync.Once
}

// OpenStream asks the hub to push its broadcast stream on this connection.
func (t *ClientTransport) OpenStream() (*Stream, error) {
	s := &Stream{t: t, items: make(chan message.Envelope, 1), ended: make(chan struct{})}
	seq, err := t.send(protocol.MsgTypeStreamOpen, nil, func(seq uint32) {
		s.seq = seq
		t.streams.Store(seq, s)
	})
	if err != nil {
		t.streams.Delete(seq)
		return nil, err
	}
	return s, nil
}

// Next returns the latest value not yet returned, waiting for one if
// necessary.
func (s *Stream) Next(ctx context.Context) (message.Envelope, error) {
	select {
	case env := <-s.items:
		return env, nil
	case <-s.ended:
		select {
		case env := <-s.items:
			return env, nil
		default:
		}
		return message.Envelope{}, ErrStreamEnded
	case <-ctx.Done():
		return message.Envelope{}, fmt.Errorf("%w: %w", rpcerr.ErrCancelled, ctx.Err())
	}
}

// Close stops the stream locally and asks the hub to stop pushing.
func (s *Stream) Close() error {
	if _, loaded := s.t.streams.LoadAndDelete(s.seq); !loaded {
		return nil
	}
	s.end()
	_, err := s.t.send(protocol.MsgTypeStreamEnd, nil, nil)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Ended is closed when the stream is over.
func (s *Stream) Ended() <-chan struct{} {
	return s.ended
}

func (s *Stream) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// offer stores env, replacing an unread value. Only recvLoop calls it, so
// after the drain the buffer is guaranteed to have room.
func (s *Stream) offer(env message.Envelope) {
	select {
	case s.items <- env:
	default:
		select {
		case <-s.items:
		default:
		}
		s.items <- env
	}
}

// recvLoop runs in a dedicated goroutine, continuously reading frames from the connection.
// Responses are routed by sequence number to the waiting caller; stream
// items go to the stream opened under that sequence number.
// It is the only reader of the connection; frame boundaries depend on it.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))

		switch header.MsgType {
		case protocol.MsgTypeResponse:
			ch, ok := t.pending.LoadAndDelete(header.Seq)
			if !ok {
				continue // caller gave up
			}
			var resp message.Response
			if err := cdc.Decode(body, &resp); err != nil {
				ch.(chan result) <- result{err: fmt.Errorf("%w: response body: %w", rpcerr.ErrArgumentDecode, err)}
				continue
			}
			ch.(chan result) <- result{resp: &resp}
		case protocol.MsgTypeStreamItem:
			s, ok := t.streams.Load(header.Seq)
			if !ok {
				continue
			}
			var env message.Envelope
			if err := cdc.Decode(body, &env); err != nil {
				t.logger.Warn("bad stream item", "seq", header.Seq, "err", err)
				continue
			}
			s.(*Stream).offer(env)
		case protocol.MsgTypeStreamEnd:
			if s, ok := t.streams.LoadAndDelete(header.Seq); ok {
				s.(*Stream).end()
			}
		case protocol.MsgTypeHeartbeat:
		default:
			t.logger.Warn("unexpected frame", "type", header.MsgType.String(), "seq", header.Seq)
		}
	}
}

// shutdown records why the transport closed and releases every waiter:
// pending calls fail with ErrCancelled and open streams end.
func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = cause
		t.errMu.Unlock()
		close(t.done)
		t.conn.Close()

		t.pending.Range(func(key, _ any) bool {
			// recvLoop may be delivering concurrently; whoever deletes the
			// entry owns the single send.
			if ch, ok := t.pending.LoadAndDelete(key); ok {
				ch.(chan result) <- result{err: fmt.Errorf("%w: connection lost: %w", rpcerr.ErrCancelled, cause)}
			}
			return true
		})
		t.streams.Range(func(key, value any) bool {
			value.(*Stream).end()
			t.streams.Delete(key)
			return true
		})
	})
}

func (t *ClientTransport) closedErr() error {
	select {
	case <-t.done:
		return fmt.Errorf("%w: %w", rpcerr.ErrNotReady, ErrClosed)
	default:
		return nil
	}
}

// Close closes the connection. Pending calls fail and streams end.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

// Done is closed once the transport is closed, by Close or by a broken connection.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns why the transport closed, or nil while it is open.
func (t *ClientTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have MsgType=Heartbeat and no body, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if _, err := t.send(protocol.MsgTypeHeartbeat, nil, nil); err != nil {
				return
			}
		}
	}
}
