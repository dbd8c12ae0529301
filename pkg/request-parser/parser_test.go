package parser

import (
	"errors"
	"strings"
	"testing"
)

const ceiling = 10 * 1024

func TestParseSimpleGet(t *testing.T) {
	raw := []byte("GET /x HTTP/1.0\r\nHost: h\r\n\r\n")
	req, err := Parse(raw, ceiling)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" || req.Target != "/x" {
		t.Fatalf("Parsed %q %q", req.Method, req.Target)
	}
	if req.BodyOffset != len(raw) {
		t.Fatalf("Body offset is %d, expected %d", req.BodyOffset, len(raw))
	}
	if req.HasBody() {
		t.Fatal("Request without Content-Length has a body")
	}
}

func TestParseBodyFields(t *testing.T) {
	raw := []byte("POST /submit HTTP/1.1\r\ncontent-LENGTH: 5\r\nContent-Type: application/json\r\n\r\nhello")
	req, err := Parse(raw, ceiling)
	if err != nil {
		t.Fatal(err)
	}
	if req.ContentLength != 5 || req.ContentType != "application/json" {
		t.Fatalf("Content-Length %d, Content-Type %q", req.ContentLength, req.ContentType)
	}
	if body := string(raw[req.BodyOffset:]); body != "hello" {
		t.Fatalf("Body is %q", body)
	}
}

func TestParseHeadersOnly(t *testing.T) {
	req, err := Parse([]byte("GET /partial HTTP/1.0\r\nHost: h\r\n"), ceiling)
	if err != nil {
		t.Fatal(err)
	}
	if req.BodyOffset != -1 {
		t.Fatalf("Body offset is %d for a request without terminator", req.BodyOffset)
	}
}

func TestParseBareLineFeeds(t *testing.T) {
	raw := []byte("GET /lf HTTP/1.0\nHost: h\n\n")
	req, err := Parse(raw, ceiling)
	if err != nil {
		t.Fatal(err)
	}
	if req.Target != "/lf" || req.BodyOffset != len(raw) {
		t.Fatalf("Parsed %q with body offset %d", req.Target, req.BodyOffset)
	}
}

func TestParseContentTypeIsTruncated(t *testing.T) {
	long := strings.Repeat("a", 300)
	req, err := Parse([]byte("GET / HTTP/1.0\r\nContent-Type: "+long+"\r\n\r\n"), ceiling)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.ContentType) != MaxContentTypeLen {
		t.Fatalf("Content-Type length is %d", len(req.ContentType))
	}
}

func TestParseContentLengthAtCeiling(t *testing.T) {
	if _, err := Parse([]byte("GET / HTTP/1.0\r\nContent-Length: 10240\r\n\r\n"), ceiling); err != nil {
		t.Fatalf("Content-Length at ceiling rejected: %s", err)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"no space", "GET\r\n\r\n", ErrMalformed},
		{"no second space", "GET /x\r\n\r\n", ErrMalformed},
		{"empty method", " /x HTTP/1.0\r\n\r\n", ErrMalformed},
		{"long method", strings.Repeat("G", MaxMethodLen+1) + " /x HTTP/1.0\r\n\r\n", ErrMalformed},
		{"long target", "GET /" + strings.Repeat("a", MaxTargetLen) + " HTTP/1.0\r\n\r\n", ErrMalformed},
		{"absolute target", "GET http://other/x HTTP/1.0\r\n\r\n", ErrInvalidTarget},
		{"double slash", "GET //other/x HTTP/1.0\r\n\r\n", ErrInvalidTarget},
		{"bad length", "GET / HTTP/1.0\r\nContent-Length: ten\r\n\r\n", ErrMalformed},
		{"negative length", "GET / HTTP/1.0\r\nContent-Length: -1\r\n\r\n", ErrMalformed},
		{"conflicting length", "GET / HTTP/1.0\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n", ErrMalformed},
		{"huge length", "GET / HTTP/1.0\r\nContent-Length: 999999999\r\n\r\n", ErrTooLarge},
		{"length beyond int range", "GET / HTTP/1.0\r\nContent-Length: 99999999999999999999\r\n\r\n", ErrTooLarge},
		{"signed length", "GET / HTTP/1.0\r\nContent-Length: +5\r\n\r\n", ErrMalformed},
		{"empty length", "GET / HTTP/1.0\r\nContent-Length: \r\n\r\n", ErrMalformed},
		{"one over ceiling", "GET / HTTP/1.0\r\nContent-Length: 10241\r\n\r\n", ErrTooLarge},
		{"header without colon", "GET / HTTP/1.0\r\nHost\r\n\r\n", ErrMalformed},
		{"forwarded for", "GET / HTTP/1.0\r\nX-Forwarded-For: 10.0.0.1\r\n\r\n", ErrForbiddenHeader},
		{"forwarded host", "GET / HTTP/1.0\r\nx-forwarded-host: a\r\n\r\n", ErrForbiddenHeader},
		{"forwarded", "GET / HTTP/1.0\r\nForwarded: for=1.2.3.4\r\n\r\n", ErrForbiddenHeader},
		{"real ip", "GET / HTTP/1.0\r\nX-Real-IP: 1.2.3.4\r\n\r\n", ErrForbiddenHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), ceiling)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Got error %v, expected %v", err, tt.want)
			}
		})
	}
}

func TestHeaderEnd(t *testing.T) {
	if end := HeaderEnd([]byte("GET / HTTP/1.0\r\n")); end != -1 {
		t.Fatalf("Header end is %d", end)
	}
	if end := HeaderEnd([]byte("GET / HTTP/1.0\r\n\r\nbody")); end != 18 {
		t.Fatalf("Header end is %d", end)
	}
}
