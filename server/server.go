// Package server implements the bridge side of the socket protocol: it accepts a
// connection, reads one framed call, runs it, writes an 'S' or 'F' reply and closes.
//
// It backs the loopback bridge used in development and tests, and documents the
// peer contract the certificate-backed bridge implements.
//
//	Accept conn → handleConn (one call per connection)
//	  → ReadRequest → Middleware Chain → dispatch (reflect.Call) → WriteResponse → close
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cmbc-pay/codec"
	"cmbc-pay/message"
	"cmbc-pay/middleware"
	"cmbc-pay/protocol"
	"cmbc-pay/registry"
)

// Server is the bridge peer.
type Server struct {
	serviceMap    map[string]*service     // "cfca...PHPDecryptKitAllInOne" → *service
	codec         codec.Codec             // Request and result encoding
	limits        protocol.Limits         // Request size bound
	ioTimeout     time.Duration           // Per-connection deadline, 0 = none
	logger        *zap.Logger             //
	listener      net.Listener            // TCP listener
	wg            sync.WaitGroup          // Tracks in-flight calls for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatch)))
	registry      registry.Registry       // Where the bridge announces itself, nil to skip
	serviceName   string                  // Registry service name
	advertiseAddr string                  // Routable address registered in the registry
	ready         chan struct{}           // Closed once the listener is bound
}

type Option func(*Server)

func WithCodec(ct codec.CodecType) Option {
	return func(s *Server) { s.codec = codec.GetCodec(ct) }
}

func WithLimits(l protocol.Limits) Option {
	return func(s *Server) { s.limits = l }
}

func WithIOTimeout(d time.Duration) Option {
	return func(s *Server) { s.ioTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a bridge server with an empty service map.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		codec:      codec.GetCodec(codec.CodecTypeBinary),
		limits:     protocol.DefaultLimits(),
		logger:     zap.NewNop(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes rcvr's callable methods as "typeName::Method".
func (svr *Server) Register(typeName string, rcvr any) error {
	svc, err := newService(typeName, rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Addr blocks until the listener is bound and returns its address.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	return svr.listener.Addr()
}

// Serve listens on address and handles connections until Shutdown.
//
// When reg is non-nil the bridge is registered under serviceName with
// advertiseAddr (listen addresses like ":21230" are not routable).
func (svr *Server) Serve(network, address, serviceName, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the middleware chain once at startup (not per call)
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.serviceName = serviceName
	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		if err := reg.Register(serviceName, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, 10); err != nil {
			close(svr.ready)
			listener.Close()
			return fmt.Errorf("server: register %s: %w", serviceName, err)
		}
	}
	close(svr.ready)
	svr.logger.Info("bridge listening", zap.String("addr", listener.Addr().String()), zap.String("advertise", advertiseAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during Shutdown also lands here
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go svr.handleConn(conn)
	}
}

// handleConn serves exactly one call, then closes the connection. Closing is what
// tells the client the response is complete.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()
	defer conn.Close()

	if svr.ioTimeout > 0 {
		conn.SetDeadline(time.Now().Add(svr.ioTimeout))
	}

	args, err := protocol.ReadRequest(conn, svr.codec, svr.limits)
	if err != nil {
		svr.logger.Warn("bad request frame", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		protocol.WriteResponse(conn, svr.codec, nil, err)
		return
	}

	method, _ := args[0].(string)
	reply, callErr := svr.handler(context.Background(), &message.Call{Method: method, Params: args[1:]})

	var value any
	if reply != nil && !reply.Void {
		value = reply.Value
	}
	if err := protocol.WriteResponse(conn, svr.codec, value, callErr); err != nil {
		svr.logger.Warn("write response failed", zap.String("method", method), zap.Error(err))
	}
}

// dispatch resolves "Type::Method" and calls it.
func (svr *Server) dispatch(ctx context.Context, call *message.Call) (*message.Reply, error) {
	typeName, methodName, ok := message.SplitMethod(call.Method)
	if !ok {
		return nil, fmt.Errorf("invalid method %q", call.Method)
	}

	svc, ok := svr.serviceMap[typeName]
	if !ok {
		return nil, fmt.Errorf("class %s not found", typeName)
	}
	mType, ok := svc.method[methodName]
	if !ok {
		return nil, fmt.Errorf("method %s::%s not found", typeName, methodName)
	}

	value, err := svc.call(mType, call.Params)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return &message.Reply{Void: true}, nil
	}
	return &message.Reply{Value: value}, nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop picking this bridge)
//  2. Set the shutdown flag so the Accept error is recognized as intentional
//  3. Close the listener
//  4. Wait for in-flight calls, bounded by timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	select {
	case <-svr.ready:
	default:
		return errors.New("server: not serving")
	}

	if svr.registry != nil {
		if err := svr.registry.Deregister(svr.serviceName, svr.advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	svr.shutdown.Store(true)
	svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight calls")
	}
}
