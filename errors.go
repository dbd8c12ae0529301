package cacheproxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/cacheproxy/cache"
	parser "github.com/always-cache/cacheproxy/pkg/request-parser"
	"github.com/always-cache/cacheproxy/pkg/upstream"
)

// ErrProxyClosed is returned by Serve after its context is cancelled or its
// listener is closed.
var ErrProxyClosed = errors.New("cacheproxy: proxy closed")

var (
	errMethodNotAllowed = errors.New("method not allowed")
	errForward          = errors.New("could not forward request to upstream")
	errEmptyResponse    = errors.New("upstream closed without a response")
	errClientGone       = errors.New("client went away")
)

// statusFor maps a handler error to the status code sent to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, parser.ErrTooLarge), errors.Is(err, cache.ErrItemTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, parser.ErrMalformed),
		errors.Is(err, parser.ErrInvalidTarget),
		errors.Is(err, parser.ErrForbiddenHeader):
		return http.StatusBadRequest
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, upstream.ErrUnavailable), errors.Is(err, errEmptyResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var errorResponses = map[int][]byte{}

func init() {
	for _, code := range []int{
		http.StatusBadRequest,
		http.StatusMethodNotAllowed,
		http.StatusRequestEntityTooLarge,
		http.StatusInternalServerError,
		http.StatusBadGateway,
	} {
		errorResponses[code] = renderErrorResponse(code)
	}
}

func renderErrorResponse(code int) []byte {
	reason := http.StatusText(code)
	body := fmt.Sprintf(`{"error": "%s"}`, reason)
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body,
	))
}

// errorResponse returns the full response for code, falling back to 500.
func errorResponse(code int) []byte {
	if res, ok := errorResponses[code]; ok {
		return res
	}
	return errorResponses[http.StatusInternalServerError]
}
