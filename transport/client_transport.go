// Package transport implements the client side of the bridge socket protocol.
//
// Every call opens its own TCP connection, writes one framed request, then reads
// until the bridge closes the stream:
//
//	dial ──► write loop (unsent suffix until all bytes are accepted)
//	     ──► read loop  (ChunkSize reads until a zero-byte read / EOF)
//	     ──► close (exactly once, on every path)
//
// There is no pooling and no retry here; callers that want either wrap the call.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultChunkSize matches a typical Ethernet MTU payload.
const DefaultChunkSize = 1400

// Dialer opens the connection for one call. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a SocketTransport. Zero timeouts mean "no limit".
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ChunkSize      int
	Dialer         Dialer // nil means a *net.Dialer with ConnectTimeout
}

// SocketTransport performs one blocking request/response exchange per Call.
// It holds only immutable settings and is safe for concurrent use.
type SocketTransport struct {
	dialer         Dialer
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	chunkSize      int
}

func New(opts Options) *SocketTransport {
	t := &SocketTransport{
		dialer:         opts.Dialer,
		connectTimeout: opts.ConnectTimeout,
		readTimeout:    opts.ReadTimeout,
		writeTimeout:   opts.WriteTimeout,
		chunkSize:      opts.ChunkSize,
	}
	if t.dialer == nil {
		t.dialer = &net.Dialer{Timeout: opts.ConnectTimeout}
	}
	if t.chunkSize <= 0 {
		t.chunkSize = DefaultChunkSize
	}
	return t
}

// Call sends framed to addr and returns the raw response bytes.
func (t *SocketTransport) Call(ctx context.Context, addr string, framed []byte) ([]byte, error) {
	dialCtx := ctx
	if t.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}

	conn, err := t.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &OpError{Op: OpConnect, Addr: addr, Err: err}
	}
	conn = &onceCloser{Conn: conn}
	defer conn.Close()

	// Cancelling ctx unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if t.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := ctx.Err(); err != nil {
		return nil, &OpError{Op: OpWrite, Addr: addr, Err: err}
	}
	if err := writeFull(conn, framed); err != nil {
		return nil, &OpError{Op: OpWrite, Addr: addr, Err: ctxErr(ctx, err)}
	}

	// Set before checking ctx so a concurrent cancel cannot be overwritten.
	if t.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	if err := ctx.Err(); err != nil {
		return nil, &OpError{Op: OpRead, Addr: addr, Err: err}
	}
	resp, err := readAll(conn, t.chunkSize)
	if err != nil {
		return nil, &OpError{Op: OpRead, Addr: addr, Err: ctxErr(ctx, err)}
	}
	return resp, nil
}

// writeFull keeps writing the unsent suffix of b until every byte is accepted.
func writeFull(w io.Writer, b []byte) error {
	sent := 0
	for sent < len(b) {
		n, err := w.Write(b[sent:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		sent += n
	}
	return nil
}

// readAll reads chunkSize at a time until the peer signals end of stream,
// either with a zero-byte read or io.EOF.
func readAll(r io.Reader, chunkSize int) ([]byte, error) {
	var resp []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		resp = append(resp, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return resp, nil
		}
	}
}

// ctxErr prefers the context's reason when a deadline was forced by cancellation.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// onceCloser guarantees the underlying connection is closed a single time.
type onceCloser struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}
