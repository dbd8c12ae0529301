// Package parser extracts the fields the proxy needs from a raw HTTP request
// head: method, target, Content-Length, Content-Type and the body offset.
// It works on a bounded buffer and never reads from the network itself.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	MaxMethodLen      = 15
	MaxTargetLen      = 2047
	MaxContentTypeLen = 127
)

var (
	ErrMalformed       = errors.New("malformed request")
	ErrInvalidTarget   = errors.New("invalid request target")
	ErrForbiddenHeader = errors.New("forbidden forwarding header")
	ErrTooLarge        = errors.New("request too large")
)

// Headers left by another proxy. Requests carrying them are refused so the
// proxy cannot be chained.
var forbiddenHeaders = []string{
	"x-forwarded-for",
	"x-forwarded-host",
	"forwarded",
	"x-real-ip",
}

type Request struct {
	Method        string
	Target        string
	ContentLength int
	ContentType   string
	// BodyOffset is the index in the buffer where the body begins,
	// or -1 if the header terminator was not found.
	BodyOffset int
}

// HasBody reports whether the request declared a body.
func (r Request) HasBody() bool {
	return r.ContentLength > 0
}

// HeaderEnd returns the offset just past the blank line ending the header
// section, or -1 if buf does not contain one yet.
func HeaderEnd(buf []byte) int {
	end := -1
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		end = i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 && (end < 0 || i+2 < end) {
		end = i + 2
	}
	return end
}

// Parse parses the request line and headers in buf.
// A declared Content-Length greater than maxBody fails with ErrTooLarge.
func Parse(buf []byte, maxBody int) (Request, error) {
	req := Request{BodyOffset: HeaderEnd(buf)}
	head := buf
	if req.BodyOffset >= 0 {
		head = buf[:req.BodyOffset]
	}

	line, rest := nextLine(head)
	if err := parseRequestLine(line, &req); err != nil {
		return req, err
	}

	seenLength := false
	for len(rest) > 0 {
		line, rest = nextLine(rest)
		if len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return req, fmt.Errorf("%w: header line without name", ErrMalformed)
		}
		name := string(bytes.ToLower(bytes.TrimSpace(line[:colon])))
		value := bytes.TrimSpace(line[colon+1:])

		for _, forbidden := range forbiddenHeaders {
			if name == forbidden {
				return req, fmt.Errorf("%w: %s", ErrForbiddenHeader, name)
			}
		}

		switch name {
		case "content-length":
			n, err := parseContentLength(value)
			if errors.Is(err, strconv.ErrRange) {
				return req, fmt.Errorf("%w: Content-Length %s exceeds %d", ErrTooLarge, value, maxBody)
			} else if err != nil {
				return req, fmt.Errorf("%w: bad Content-Length %q", ErrMalformed, value)
			}
			if seenLength && n != req.ContentLength {
				return req, fmt.Errorf("%w: conflicting Content-Length", ErrMalformed)
			}
			if n > maxBody {
				return req, fmt.Errorf("%w: Content-Length %d exceeds %d", ErrTooLarge, n, maxBody)
			}
			req.ContentLength = n
			seenLength = true
		case "content-type":
			if len(value) > MaxContentTypeLen {
				value = value[:MaxContentTypeLen]
			}
			req.ContentType = string(value)
		}
	}
	return req, nil
}

// parseContentLength accepts digits only, no sign or whitespace.
func parseContentLength(value []byte) (int, error) {
	if len(value) == 0 {
		return 0, strconv.ErrSyntax
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(string(value))
}

func parseRequestLine(line []byte, req *Request) error {
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return fmt.Errorf("%w: no method separator", ErrMalformed)
	}
	if sp == 0 || sp > MaxMethodLen {
		return fmt.Errorf("%w: bad method length %d", ErrMalformed, sp)
	}
	req.Method = string(line[:sp])

	targetAndVersion := line[sp+1:]
	sp = bytes.IndexByte(targetAndVersion, ' ')
	if sp < 0 {
		return fmt.Errorf("%w: no target separator", ErrMalformed)
	}
	target := targetAndVersion[:sp]
	if len(target) == 0 || len(target) > MaxTargetLen {
		return fmt.Errorf("%w: bad target length %d", ErrMalformed, len(target))
	}
	if bytes.Contains(target, []byte("://")) || bytes.Contains(target, []byte("//")) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	req.Target = string(target)
	return nil
}

// nextLine splits off the first line, dropping its CRLF or LF terminator.
func nextLine(b []byte) (line, rest []byte) {
	nl := bytes.IndexByte(b, '\n')
	if nl < 0 {
		return bytes.TrimSuffix(b, []byte("\r")), nil
	}
	return bytes.TrimSuffix(b[:nl], []byte("\r")), b[nl+1:]
}
