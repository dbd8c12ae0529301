package cacheproxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/always-cache/cacheproxy/cache"
	"github.com/always-cache/cacheproxy/pkg/admission"
	"github.com/always-cache/cacheproxy/pkg/upstream"

	"github.com/rs/zerolog"
)

const (
	DefaultUpstream           = "localhost:3000"
	DefaultMaxClients         = 10
	DefaultItemBytes          = 10 * 1024
	DefaultCacheBytes         = 200 * 1024 * 1024
	DefaultClientTimeout      = 30 * time.Second
	DefaultUpstreamTimeout    = 5 * time.Second
	DefaultRequestBufferBytes = 8192

	maxAcceptBackoff = time.Second
)

type Config struct {
	// Storage for cached responses.
	// A memory cache of DefaultCacheBytes is used if nil.
	Cache cache.CacheProvider
	// Address (host:port) of the upstream server.
	Upstream string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Maximum number of connections handled at the same time.
	MaxClients int
	// Largest response that is cached, also the largest request body accepted.
	ItemBytes int
	// Read and write timeout towards clients.
	ClientTimeout time.Duration
	// Connect, read and write timeout towards the upstream.
	UpstreamTimeout time.Duration
	// Size of the buffer holding the request line and headers.
	RequestBufferBytes int
}

type Proxy struct {
	cache              cache.CacheProvider
	upstream           *upstream.Connector
	pool               *admission.Pool
	log                zerolog.Logger
	itemBytes          int
	clientTimeout      time.Duration
	requestBufferBytes int

	connID            atomic.Uint64
	reportedEvictions atomic.Int64
	handlers          sync.WaitGroup

	mutex sync.Mutex
	addr  net.Addr
}

// CreateProxy initializes the proxy, filling in defaults for unset config values.
func CreateProxy(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	if config.Upstream == "" {
		config.Upstream = DefaultUpstream
	}
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultMaxClients
	}
	if config.ItemBytes <= 0 {
		config.ItemBytes = DefaultItemBytes
	}
	if config.ClientTimeout <= 0 {
		config.ClientTimeout = DefaultClientTimeout
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if config.RequestBufferBytes <= 0 {
		config.RequestBufferBytes = DefaultRequestBufferBytes
	}
	if config.Cache == nil {
		config.Cache = cache.NewMemCache(DefaultCacheBytes, int64(config.ItemBytes))
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("upstream", config.Upstream).
		Logger()

	return &Proxy{
		cache:              config.Cache,
		upstream:           upstream.New(config.Upstream, config.UpstreamTimeout),
		pool:               admission.New(config.MaxClients),
		log:                logger,
		itemBytes:          config.ItemBytes,
		clientTimeout:      config.ClientTimeout,
		requestBufferBytes: config.RequestBufferBytes,
	}
}

func (p *Proxy) Cache() cache.CacheProvider {
	return p.cache
}

func (p *Proxy) Pool() *admission.Pool {
	return p.pool
}

// Addr returns the address of the listener being served, or nil.
func (p *Proxy) Addr() net.Addr {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.addr
}

// ListenAndServe listens on addr and calls Serve.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln and handles each of them in its own
// goroutine. Every handler holds a permit from the admission pool, so no more
// than MaxClients connections are ever being handled; while none is free the
// accept loop waits.
// Serve returns ErrProxyClosed once ctx is cancelled or ln is closed, after
// all active handlers have returned.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	p.mutex.Lock()
	p.addr = ln.Addr()
	p.mutex.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer p.handlers.Wait()

	p.log.Info().Str("listen", ln.Addr().String()).Int("maxClients", p.pool.Size()).Msg("Accepting connections")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrProxyClosed
			}
			AcceptErrors.Inc()
			backoff = nextBackoff(backoff)
			p.log.Warn().Err(err).Dur("retryIn", backoff).Msg("Could not accept connection")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ErrProxyClosed
			}
			continue
		}
		backoff = 0

		// block accepting until a handler slot is free
		permit, err := p.pool.Acquire(ctx)
		if err != nil {
			conn.Close()
			return ErrProxyClosed
		}
		p.handlers.Add(1)
		go func() {
			defer p.handlers.Done()
			p.handle(ctx, conn, permit)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
