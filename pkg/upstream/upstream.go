// Package upstream connects to the single origin server behind the proxy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ChunkSize is the largest chunk returned by Session.Next.
const ChunkSize = 4096

var ErrUnavailable = errors.New("upstream unavailable")

// Connector dials the fixed upstream address.
type Connector struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// New returns a connector for addr (host:port). The timeout bounds the
// connect and every later read and write on the session.
func New(addr string, timeout time.Duration) *Connector {
	return &Connector{
		addr:    addr,
		timeout: timeout,
		dialer:  net.Dialer{Timeout: timeout},
	}
}

func (c *Connector) Addr() string {
	return c.addr
}

// Dial opens a new session. Failures wrap ErrUnavailable.
func (c *Connector) Dial(ctx context.Context) (*Session, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &Session{
		conn:    conn,
		timeout: c.timeout,
		buf:     make([]byte, ChunkSize),
	}, nil
}

// Session is one upstream connection carrying a single request.
type Session struct {
	conn      net.Conn
	timeout   time.Duration
	buf       []byte
	closeOnce sync.Once
}

// Forward writes the raw request bytes unmodified.
func (s *Session) Forward(raw []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(raw)
	return err
}

// Next returns the next chunk of the response. It returns io.EOF once the
// upstream has closed the connection. The chunk is only valid until the
// following call.
func (s *Session) Next() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}
	n, err := s.conn.Read(s.buf)
	if n > 0 {
		// deliver data first, the error surfaces on the next call
		return s.buf[:n], nil
	}
	if err == nil {
		return nil, io.ErrNoProgress
	}
	return nil, err
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
