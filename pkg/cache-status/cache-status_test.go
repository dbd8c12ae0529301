package cachestatus

import "testing"

func TestString(t *testing.T) {
	tests := []struct {
		build func(*CacheStatus)
		want  string
	}{
		{func(cs *CacheStatus) {}, "CacheProxy; none"},
		{func(cs *CacheStatus) { cs.Hit() }, "CacheProxy; hit"},
		{func(cs *CacheStatus) { cs.Forward(FwdUriMiss); cs.Stored() }, "CacheProxy; fwd=uri-miss; stored"},
		{func(cs *CacheStatus) { cs.Forward(FwdUriMiss); cs.Detail("too-large") }, "CacheProxy; fwd=uri-miss; detail=too-large"},
	}
	for _, tt := range tests {
		cs := CacheStatus{}
		tt.build(&cs)
		if got := cs.String(); got != tt.want {
			t.Fatalf("Got %q, expected %q", got, tt.want)
		}
	}
}

func TestAccessors(t *testing.T) {
	cs := CacheStatus{}
	if cs.Label() != "none" || cs.IsStored() || cs.FwdReason() != "" {
		t.Fatalf("Zero value is %s", cs.String())
	}
	cs.Forward(FwdUriMiss)
	cs.Stored()
	if cs.Label() != "fwd" || !cs.IsStored() || cs.FwdReason() != FwdUriMiss {
		t.Fatalf("Forwarded status is %s", cs.String())
	}
}
