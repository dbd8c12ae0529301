// Package cachestatus describes how the proxy handled a request, using the
// vocabulary of the Cache-Status header field (RFC 9211).
package cachestatus

import "fmt"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
	// The request never reached the cache lookup.
	None Status = "none"
)

type FwdReason string

const (
	// The request method's semantics require the request to be
	// forwarded. The proxy refuses such requests instead.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"
)

type CacheStatus struct {
	status    Status
	fwdReason FwdReason
	stored    bool
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.status = Hit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = Fwd
	cs.fwdReason = reason
}

// Stored marks that the forwarded response was written to the cache.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// Label returns a short value suitable as a metric label.
func (cs *CacheStatus) Label() string {
	if cs.status == "" {
		return string(None)
	}
	return string(cs.status)
}

func (cs *CacheStatus) FwdReason() FwdReason {
	return cs.fwdReason
}

func (cs *CacheStatus) IsStored() bool {
	return cs.stored
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("CacheProxy; %s", cs.Label())
	if cs.status == Fwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status = status + "; stored"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
