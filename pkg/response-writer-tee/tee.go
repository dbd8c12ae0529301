package tee

import (
	"bytes"
	"io"
	"time"
)

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Relay is a writer that forwards upstream chunks to the client and saves a
// copy of them to a buffer, as long as the saved response stays within limit.
// Once the limit would be exceeded the saved copy is dropped; writes to the
// client continue unaffected.
type Relay struct {
	w        io.Writer
	b        *bytes.Buffer
	limit    int
	timeout  time.Duration
	written  int64
	overflow bool
}

// NewRelay returns a Relay writing to w. If w supports write deadlines, each
// write is bounded by timeout (when non-zero).
func NewRelay(w io.Writer, limit int, timeout time.Duration) *Relay {
	return &Relay{
		w:       w,
		b:       &bytes.Buffer{},
		limit:   limit,
		timeout: timeout,
	}
}

// Implementation of io.Writer
func (r *Relay) Write(p []byte) (int, error) {
	if dw, ok := r.w.(deadlineWriter); ok && r.timeout > 0 {
		if err := dw.SetWriteDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	if err != nil {
		return n, err
	}
	if !r.overflow {
		if r.b.Len()+len(p) > r.limit {
			r.overflow = true
			r.b = &bytes.Buffer{}
		} else {
			r.b.Write(p)
		}
	}
	return n, nil
}

// Written returns the number of bytes delivered to the client.
func (r *Relay) Written() int64 {
	return r.written
}

// Response returns the saved response and whether it is complete, i.e. it
// never exceeded the limit.
func (r *Relay) Response() ([]byte, bool) {
	if r.overflow {
		return nil, false
	}
	return r.b.Bytes(), true
}
