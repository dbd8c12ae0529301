package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/always-cache/cacheproxy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	listenFlag         string
	upstreamFlag       string
	maxClientsFlag     int
	cacheBytesFlag     int64
	itemBytesFlag      int
	providerFlag       string
	adminFlag          string
	statsIntervalFlag  time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.StringVar(&listenFlag, "listen", ":8080", "Address to accept client connections on")
	flag.StringVar(&upstreamFlag, "upstream", cacheproxy.DefaultUpstream, "Upstream server address (host:port)")
	flag.IntVar(&maxClientsFlag, "max-clients", cacheproxy.DefaultMaxClients, "Maximum number of connections handled at once")
	flag.Int64Var(&cacheBytesFlag, "cache-bytes", cacheproxy.DefaultCacheBytes, "Total cache capacity in bytes")
	flag.IntVar(&itemBytesFlag, "item-bytes", cacheproxy.DefaultItemBytes, "Largest cacheable response in bytes")
	flag.StringVar(&providerFlag, "provider", cacheproxy.ProviderMemory, "Cache provider (memory or sqlite)")
	flag.StringVar(&adminFlag, "admin", "", "Address for the admin interface (disabled if empty)")
	flag.DurationVar(&statsIntervalFlag, "stats-interval", 0, "Interval for logging cache statistics (disabled if zero)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	provider, err := config.NewCacheProvider()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache")
	}
	defer provider.Close()

	proxy := cacheproxy.CreateProxy(config.ProxyConfig(provider, &log.Logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proxy.StartTelemetry(ctx, config.StatsInterval)
	if config.AdminListen != "" {
		go serveAdmin(ctx, config.AdminListen, proxy.AdminRouter())
	}

	log.Info().Msgf("Proxying %s to %s (%s cache, %d bytes)",
		config.Listen, config.Upstream, config.Provider, config.CacheBytes)
	err = proxy.ListenAndServe(ctx, config.Listen)
	if err != nil && !errors.Is(err, cacheproxy.ErrProxyClosed) {
		log.Fatal().Err(err).Msg("Could not serve")
	}
	log.Info().Msg("Shut down")
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on top of it. A positional argument sets the listening port.
func loadConfig() (cacheproxy.FileConfig, error) {
	var config cacheproxy.FileConfig
	if configFlag != "" {
		var err error
		if config, err = cacheproxy.LoadConfig(configFlag); err != nil {
			return config, err
		}
	} else if err := config.AdjustConfig(); err != nil {
		return config, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.Listen = listenFlag
		case "upstream":
			config.Upstream = upstreamFlag
		case "max-clients":
			config.MaxClients = maxClientsFlag
		case "cache-bytes":
			config.CacheBytes = cacheBytesFlag
		case "item-bytes":
			config.ItemBytes = itemBytesFlag
		case "provider":
			config.Provider = providerFlag
		case "admin":
			config.AdminListen = adminFlag
		case "stats-interval":
			config.StatsInterval = statsIntervalFlag
		}
	})

	switch flag.NArg() {
	case 0:
	case 1:
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil || port < 1 || port > 65535 {
			return config, fmt.Errorf("invalid port %q", flag.Arg(0))
		}
		config.Listen = fmt.Sprintf(":%d", port)
	default:
		flag.Usage()
		return config, fmt.Errorf("too many arguments")
	}

	return config, config.AdjustConfig()
}

func serveAdmin(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.Info().Str("admin", addr).Msg("Serving admin interface")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Admin interface stopped")
	}
}
