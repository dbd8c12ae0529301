package cacheproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/always-cache/cacheproxy/cache"
	"github.com/always-cache/cacheproxy/pkg/admission"
	cachestatus "github.com/always-cache/cacheproxy/pkg/cache-status"
	parser "github.com/always-cache/cacheproxy/pkg/request-parser"
	tee "github.com/always-cache/cacheproxy/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

const (
	lingerTimeout  = 500 * time.Millisecond
	lingerMaxBytes = 256 * 1024
)

// exchange holds the state of one client connection.
type exchange struct {
	client      net.Conn
	log         zerolog.Logger
	req         parser.Request
	cacheStatus cachestatus.CacheStatus
	code        int
	sent        int64
}

// handle serves a single request on conn. The permit and the connection are
// released on every path.
func (p *Proxy) handle(ctx context.Context, conn net.Conn, permit *admission.Permit) {
	defer permit.Release()
	defer conn.Close()

	ActiveConnections.Inc()
	defer ActiveConnections.Dec()

	start := time.Now()
	x := &exchange{
		client: conn,
		log: p.log.With().
			Uint64("conn", p.connID.Add(1)).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}

	err := p.serve(ctx, x)
	if errors.Is(err, errClientGone) {
		x.log.Trace().Err(err).Msg("Closing connection without response")
		return
	}
	if err != nil && x.sent == 0 {
		x.code = statusFor(err)
		x.log.Trace().Err(err).Int("code", x.code).Msg("Sending error response")
		if x.write(errorResponse(x.code), p.clientTimeout) == nil {
			x.lingerClose()
		}
	} else if err != nil {
		x.log.Debug().Err(err).Int64("bytes", x.sent).Msg("Aborted after relaying part of the response")
	}

	RequestsTotal.WithLabelValues(x.cacheStatus.Label(), strconv.Itoa(x.code)).Inc()
	x.log.Debug().
		Str("method", x.req.Method).
		Str("target", x.req.Target).
		Str("cache", x.cacheStatus.Label()).
		Str("fwd", string(x.cacheStatus.FwdReason())).
		Bool("stored", x.cacheStatus.IsStored()).
		Int("code", x.code).
		Int64("bytes", x.sent).
		Dur("took", time.Since(start)).
		Msg("Sent response to client")
}

// serve runs the request through parsing, cache lookup and the upstream.
// When it returns an error and nothing has been sent yet, the caller
// answers with the matching error response.
func (p *Proxy) serve(ctx context.Context, x *exchange) error {
	raw, err := p.readRequest(x.client)
	if err != nil {
		return err
	}
	x.req, err = parser.Parse(raw, p.itemBytes)
	if err != nil {
		return err
	}
	x.log.Trace().Str("method", x.req.Method).Str("target", x.req.Target).Msg("Parsed request")

	if x.req.Method != "GET" {
		x.cacheStatus.Forward(cachestatus.FwdMethod)
		return fmt.Errorf("%w: %s", errMethodNotAllowed, x.req.Method)
	}
	if raw, err = p.readBody(x.client, raw, x.req); err != nil {
		return err
	}

	if payload, ok := p.lookup(x); ok {
		x.cacheStatus.Hit()
		x.code = responseCode(payload)
		return x.write(payload, p.clientTimeout)
	}
	x.cacheStatus.Forward(cachestatus.FwdUriMiss)
	return p.fetch(ctx, x, raw)
}

// readRequest reads until the end of the request head, EOF, or a full buffer.
func (p *Proxy) readRequest(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(p.clientTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", errClientGone, err)
	}
	buf := make([]byte, p.requestBufferBytes)
	n := 0
	for parser.HeaderEnd(buf[:n]) < 0 {
		if n == len(buf) {
			return nil, fmt.Errorf("%w: request head exceeds %d bytes", parser.ErrTooLarge, len(buf))
		}
		m, err := conn.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) && n > 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errClientGone, err)
		}
	}
	return buf[:n], nil
}

// readBody completes raw with the rest of a declared body, so the request
// forwarded upstream is whole.
func (p *Proxy) readBody(conn net.Conn, raw []byte, req parser.Request) ([]byte, error) {
	if !req.HasBody() {
		return raw, nil
	}
	if req.BodyOffset < 0 {
		return nil, fmt.Errorf("%w: body without end of headers", parser.ErrMalformed)
	}
	want := req.BodyOffset + req.ContentLength
	if len(raw) >= want {
		return raw[:want], nil
	}
	full := make([]byte, want)
	copy(full, raw)
	if _, err := io.ReadFull(conn, full[len(raw):]); err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", errClientGone, err)
	}
	return full, nil
}

func (p *Proxy) lookup(x *exchange) ([]byte, bool) {
	payload, ok, err := p.cache.Lookup(x.req.Target)
	switch {
	case err != nil:
		CacheLookups.WithLabelValues("error").Inc()
		x.log.Error().Err(err).Str("key", x.req.Target).Msg("Could not retrieve from cache")
		return nil, false
	case ok:
		CacheLookups.WithLabelValues("hit").Inc()
	default:
		CacheLookups.WithLabelValues("miss").Inc()
	}
	return payload, ok
}

// fetch forwards raw upstream and streams the response to the client,
// caching it when it is complete and small enough.
func (p *Proxy) fetch(ctx context.Context, x *exchange, raw []byte) error {
	start := time.Now()
	session, err := p.upstream.Dial(ctx)
	if err != nil {
		x.log.Warn().Err(err).Str("addr", p.upstream.Addr()).Msg("Could not connect to upstream")
		return err
	}
	defer session.Close()

	if err := session.Forward(raw); err != nil {
		return fmt.Errorf("%w: %w", errForward, err)
	}

	relay := tee.NewRelay(x.client, p.itemBytes, p.clientTimeout)
	for {
		chunk, err := session.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if relay.Written() == 0 {
				return fmt.Errorf("%w: %w", errEmptyResponse, err)
			}
			x.sent = relay.Written()
			return fmt.Errorf("reading upstream: %w", err)
		}
		if x.code == 0 {
			x.code = responseCode(chunk)
		}
		_, err = relay.Write(chunk)
		x.sent = relay.Written()
		if err != nil {
			if x.sent == 0 {
				return fmt.Errorf("%w: %w", errClientGone, err)
			}
			return fmt.Errorf("writing to client: %w", err)
		}
	}
	UpstreamDuration.Observe(time.Since(start).Seconds())

	if relay.Written() == 0 {
		return errEmptyResponse
	}
	response, complete := relay.Response()
	if !complete {
		x.cacheStatus.Detail("too-large")
		return nil
	}
	if err := p.cache.Insert(x.req.Target, response); errors.Is(err, cache.ErrItemTooLarge) {
		x.cacheStatus.Detail("too-large")
	} else if err != nil {
		x.log.Error().Err(err).Str("key", x.req.Target).Msg("Could not write to cache")
	} else {
		x.cacheStatus.Stored()
		p.refreshCacheMetrics()
	}
	return nil
}

func (x *exchange) write(b []byte, timeout time.Duration) error {
	if err := x.client.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %w", errClientGone, err)
	}
	n, err := x.client.Write(b)
	x.sent += int64(n)
	if err != nil && n == 0 {
		return fmt.Errorf("%w: %w", errClientGone, err)
	}
	return err
}

// lingerClose half-closes the connection and drains unread request bytes,
// so that closing does not reset the connection before the client has read
// the error response.
func (x *exchange) lingerClose() {
	if cw, ok := x.client.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	x.client.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(x.client, lingerMaxBytes))
}

// responseCode reads the status code from the start of a raw response,
// returning 0 if it cannot be found.
func responseCode(b []byte) int {
	// HTTP/1.x NNN
	sp := bytes.IndexByte(b, ' ')
	if sp < 0 || len(b) < sp+4 {
		return 0
	}
	code, err := strconv.Atoi(string(b[sp+1 : sp+4]))
	if err != nil {
		return 0
	}
	return code
}
