package cacheproxy

import (
	"encoding/json"
	"net/http"

	"github.com/always-cache/cacheproxy/cache"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type adminStats struct {
	Cache      cache.Stats `json:"cache"`
	MaxClients int         `json:"maxClients"`
	Active     int         `json:"activeConnections"`
}

// AdminRouter returns the HTTP handler of the management interface.
func (p *Proxy) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		p.writeJSON(w, adminStats{
			Cache:      p.cache.Stats(),
			MaxClients: p.pool.Size(),
			Active:     p.pool.InUse(),
		})
	})
	r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
		entries, err := p.cache.Entries()
		if err != nil {
			p.log.Error().Err(err).Msg("Could not list cache entries")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		p.writeJSON(w, entries)
	})
	r.Delete("/cache", func(w http.ResponseWriter, r *http.Request) {
		if err := p.cache.Clear(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		p.refreshCacheMetrics()
		p.log.Info().Msg("Cache cleared")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/cache/entry", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		removed, err := p.cache.Purge(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !removed {
			http.NotFound(w, r)
			return
		}
		p.refreshCacheMetrics()
		p.log.Info().Str("key", key).Msg("Cache entry purged")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (p *Proxy) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.log.Error().Err(err).Msg("Could not write admin response")
	}
}
