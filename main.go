package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/posthog/ftexpose/catalog"
	"github.com/posthog/ftexpose/server"
	"github.com/posthog/ftexpose/transpiler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the YAML configuration file structure
type FileConfig struct {
	Host                string            `yaml:"host"`
	Port                int               `yaml:"port"`
	Upstream            string            `yaml:"upstream"`     // e.g., "db.internal:5432"
	MetricsAddr         string            `yaml:"metrics_addr"` // e.g., ":9187"
	LogLevel            string            `yaml:"log_level"`
	ExposeForeignTables *bool             `yaml:"expose_foreign_tables"`
	IdleTimeout         string            `yaml:"idle_timeout"`     // e.g., "24h"
	ShutdownTimeout     string            `yaml:"shutdown_timeout"` // e.g., "30s"
	Catalog             CatalogFileConfig `yaml:"catalog"`
}

type CatalogFileConfig struct {
	DSN             string   `yaml:"dsn"`
	RefreshInterval string   `yaml:"refresh_interval"` // e.g., "1m"
	SearchPath      []string `yaml:"search_path"`
}

// loadConfigFile loads configuration from a YAML file
func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// env returns the environment variable value or a default
func env(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	// Define CLI flags with environment variable fallbacks
	configFile := flag.String("config", env("FTEXPOSE_CONFIG", ""), "Path to YAML config file (env: FTEXPOSE_CONFIG)")
	host := flag.String("host", "", "Host to bind to (env: FTEXPOSE_HOST)")
	port := flag.Int("port", 0, "Port to listen on (env: FTEXPOSE_PORT)")
	upstream := flag.String("upstream", "", "Upstream PostgreSQL host:port (env: FTEXPOSE_UPSTREAM)")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve /metrics on (env: FTEXPOSE_METRICS_ADDR)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: FTEXPOSE_LOG_LEVEL)")
	exposeForeignTables := flag.Bool("expose-foreign-tables", true, "Add foreign tables to pg_class relkind filters (env: FTEXPOSE_EXPOSE_FOREIGN_TABLES)")
	idleTimeout := flag.String("idle-timeout", "", "Close clients idle for this long, e.g. 24h (env: FTEXPOSE_IDLE_TIMEOUT)")
	shutdownTimeout := flag.String("shutdown-timeout", "", "Graceful shutdown timeout, e.g. 30s (env: FTEXPOSE_SHUTDOWN_TIMEOUT)")
	catalogDSN := flag.String("catalog-dsn", "", "Connection string used to load relation metadata (env: FTEXPOSE_CATALOG_DSN)")
	catalogRefresh := flag.String("catalog-refresh-interval", "", "How often to reload relation metadata (env: FTEXPOSE_CATALOG_REFRESH_INTERVAL)")
	searchPath := flag.String("search-path", "", "Comma separated schemas for unqualified names (env: FTEXPOSE_SEARCH_PATH)")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ftexpose - PostgreSQL proxy that lists foreign tables alongside ordinary tables\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ftexpose [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  FTEXPOSE_CONFIG       Path to YAML config file\n")
		fmt.Fprintf(os.Stderr, "  FTEXPOSE_HOST         Host to bind to (default: 0.0.0.0)\n")
		fmt.Fprintf(os.Stderr, "  FTEXPOSE_PORT         Port to listen on (default: 6432)\n")
		fmt.Fprintf(os.Stderr, "  FTEXPOSE_UPSTREAM     Upstream PostgreSQL server (default: 127.0.0.1:5432)\n")
		fmt.Fprintf(os.Stderr, "  FTEXPOSE_CATALOG_DSN  Load relation metadata from this server (default: builtin catalog)\n")
		fmt.Fprintf(os.Stderr, "\nPrecedence: CLI flags > environment variables > config file > defaults\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	cliSet := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		cliSet[f.Name] = true
	})

	var fileCfg *FileConfig
	if *configFile != "" {
		var err error
		fileCfg, err = loadConfigFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config file: %v\n", err)
			os.Exit(1)
		}
	}

	var warnings []string
	resolved := resolveEffectiveConfig(fileCfg, configCLIInputs{
		Set:                 cliSet,
		Host:                *host,
		Port:                *port,
		Upstream:            *upstream,
		MetricsAddr:         *metricsAddr,
		LogLevel:            *logLevel,
		ExposeForeignTables: *exposeForeignTables,
		IdleTimeout:         *idleTimeout,
		ShutdownTimeout:     *shutdownTimeout,
		CatalogDSN:          *catalogDSN,
		CatalogRefresh:      *catalogRefresh,
		SearchPath:          *searchPath,
	}, os.Getenv, func(msg string) {
		warnings = append(warnings, msg)
	})

	level, _ := parseLogLevel(resolved.LogLevel)
	shutdownLogging := initLogging(level)
	defer shutdownLogging()

	if *configFile != "" {
		slog.Info("Loaded configuration.", "path", *configFile)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	shutdownTracing := initTracing()
	defer shutdownTracing()

	if err := run(resolved); err != nil {
		slog.Error("Server error.", "error", err)
		shutdownTracing()
		shutdownLogging()
		os.Exit(1)
	}
}

func run(resolved resolvedConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, closeCatalog, err := openCatalog(ctx, resolved.Catalog)
	if err != nil {
		return err
	}
	defer closeCatalog()

	tr := transpiler.New(transpiler.Config{
		Catalog:             cat,
		SearchPath:          resolved.Catalog.SearchPath,
		ExposeForeignTables: resolved.ExposeForeignTables,
	})
	defer tr.Close()
	if resolved.ExposeForeignTables {
		slog.Info("Foreign table exposure enabled.")
	}

	srv, err := server.New(resolved.Server, tr)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if resolved.Server.MetricsAddr != "" {
		metricsSrv := startMetricsServer(resolved.Server.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	addr := net.JoinHostPort(resolved.Server.Host, strconv.Itoa(resolved.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	slog.Info("Starting ftexpose proxy.", "addr", ln.Addr().String(), "upstream", resolved.Server.Upstream)
	if err := sdNotify(sdReady); err != nil {
		slog.Warn("Failed to notify systemd.", "error", err)
	}
	return serveUntilDone(ctx, srv, ln)
}

type proxyServer interface {
	Serve(net.Listener) error
	Close() error
}

// serveUntilDone serves ln until ctx is cancelled, then closes srv. Serve
// returns as soon as the listener is closed, so the connection drain in
// Close is waited for before returning.
func serveUntilDone(ctx context.Context, srv proxyServer, ln net.Listener) error {
	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		slog.Info("Shutting down...")
		if err := sdNotify(sdStopping); err != nil {
			slog.Warn("Failed to notify systemd.", "error", err)
		}
		drained <- srv.Close()
	}()

	err := srv.Serve(ln)
	if ctx.Err() == nil {
		return err
	}
	if derr := <-drained; derr != nil {
		slog.Warn("Shutdown did not finish cleanly.", "error", derr)
	}
	return nil
}

// openCatalog returns the builtin snapshot, or a cache refreshed from the
// upstream server when a DSN is configured.
func openCatalog(ctx context.Context, cfg catalogConfig) (catalog.Catalog, func(), error) {
	if cfg.DSN == "" {
		slog.Info("Using builtin catalog.")
		return catalog.Builtin(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create catalog pool: %w", err)
	}

	cache := catalog.NewCache(nil, catalog.NewPgLoader(pool))
	if err := cache.Refresh(ctx); err != nil {
		// Keep serving with the builtin snapshot; Run retries.
		slog.Warn("Initial catalog load failed, using builtin catalog.", "error", err)
	} else {
		slog.Info("Catalog loaded.", "relations", cache.Snapshot().Len())
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	go cache.Run(refreshCtx, cfg.RefreshInterval)

	return cache, func() {
		cancel()
		pool.Close()
	}, nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error.", "error", err)
		}
	}()
	slog.Info("Serving metrics.", "addr", addr)
	return srv
}
