package cacheproxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/always-cache/cacheproxy/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newAdminProxy(t *testing.T) (*Proxy, http.Handler) {
	logger := zerolog.Nop()
	p := CreateProxy(Config{
		Logger:     &logger,
		Cache:      cache.NewMemCache(1000, 100),
		MaxClients: 3,
	})
	return p, p.AdminRouter()
}

func request(t *testing.T, h http.Handler, method, target string) *http.Response {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Result()
}

func TestAdminHealth(t *testing.T) {
	_, h := newAdminProxy(t)
	res := request(t, h, "GET", "/healthz")
	body, _ := io.ReadAll(res.Body)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestAdminStats(t *testing.T) {
	p, h := newAdminProxy(t)
	require.NoError(t, p.Cache().Insert("/a", []byte("hello")))

	res := request(t, h, "GET", "/stats")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var stats adminStats
	require.NoError(t, json.NewDecoder(res.Body).Decode(&stats))
	require.Equal(t, 1, stats.Cache.Entries)
	require.Equal(t, int64(5), stats.Cache.Bytes)
	require.Equal(t, int64(1000), stats.Cache.Capacity)
	require.Equal(t, 3, stats.MaxClients)
	require.Zero(t, stats.Active)
}

func TestAdminListAndPurge(t *testing.T) {
	p, h := newAdminProxy(t)
	require.NoError(t, p.Cache().Insert("/a", []byte("one")))
	require.NoError(t, p.Cache().Insert("/b?q=1", []byte("two")))

	res := request(t, h, "GET", "/cache")
	var entries []cache.EntryInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entries))
	require.Len(t, entries, 2)
	require.Equal(t, "/b?q=1", entries[0].Key)

	res = request(t, h, "DELETE", "/cache/entry?key=%2Fb%3Fq%3D1")
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res = request(t, h, "DELETE", "/cache/entry?key=%2Fb%3Fq%3D1")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res = request(t, h, "DELETE", "/cache/entry")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = request(t, h, "DELETE", "/cache")
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Zero(t, p.Cache().Stats().Entries)
}

func TestAdminMetrics(t *testing.T) {
	_, h := newAdminProxy(t)
	RequestsTotal.WithLabelValues("hit", "200").Inc()
	res := request(t, h, "GET", "/metrics")
	body, _ := io.ReadAll(res.Body)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "cacheproxy_requests_total")
}
