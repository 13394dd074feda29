package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/posthog/ftexpose/server"
)

type configCLIInputs struct {
	Set map[string]bool

	Host                string
	Port                int
	Upstream            string
	MetricsAddr         string
	LogLevel            string
	ExposeForeignTables bool
	IdleTimeout         string
	ShutdownTimeout     string
	CatalogDSN          string
	CatalogRefresh      string
	SearchPath          string
}

// catalogConfig controls where relation metadata comes from. With no DSN the
// builtin system catalog snapshot is used.
type catalogConfig struct {
	DSN             string
	RefreshInterval time.Duration
	SearchPath      []string
}

type resolvedConfig struct {
	Server              server.Config
	Catalog             catalogConfig
	LogLevel            string
	ExposeForeignTables bool
}

func defaultServerConfig() server.Config {
	return server.Config{
		Host:     "0.0.0.0",
		Port:     6432,
		Upstream: "127.0.0.1:5432",
	}
}

func defaultCatalogConfig() catalogConfig {
	return catalogConfig{
		RefreshInterval: time.Minute,
		SearchPath:      []string{"public"},
	}
}

// splitSearchPath parses a comma separated schema list.
func splitSearchPath(s string) []string {
	var path []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			path = append(path, part)
		}
	}
	return path
}

func resolveEffectiveConfig(fileCfg *FileConfig, cli configCLIInputs, getenv func(string) string, warn func(string)) resolvedConfig {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if warn == nil {
		warn = func(string) {}
	}
	if cli.Set == nil {
		cli.Set = map[string]bool{}
	}

	cfg := defaultServerConfig()
	cat := defaultCatalogConfig()
	logLevel := "info"
	expose := true

	if fileCfg != nil {
		if fileCfg.Host != "" {
			cfg.Host = fileCfg.Host
		}
		if fileCfg.Port != 0 {
			cfg.Port = fileCfg.Port
		}
		if fileCfg.Upstream != "" {
			cfg.Upstream = fileCfg.Upstream
		}
		if fileCfg.MetricsAddr != "" {
			cfg.MetricsAddr = fileCfg.MetricsAddr
		}
		if fileCfg.LogLevel != "" {
			logLevel = fileCfg.LogLevel
		}
		if fileCfg.ExposeForeignTables != nil {
			expose = *fileCfg.ExposeForeignTables
		}
		if fileCfg.IdleTimeout != "" {
			if d, err := time.ParseDuration(fileCfg.IdleTimeout); err == nil {
				cfg.IdleTimeout = d
			} else {
				warn("Invalid idle_timeout duration: " + err.Error())
			}
		}
		if fileCfg.ShutdownTimeout != "" {
			if d, err := time.ParseDuration(fileCfg.ShutdownTimeout); err == nil {
				cfg.ShutdownTimeout = d
			} else {
				warn("Invalid shutdown_timeout duration: " + err.Error())
			}
		}

		if fileCfg.Catalog.DSN != "" {
			cat.DSN = fileCfg.Catalog.DSN
		}
		if fileCfg.Catalog.RefreshInterval != "" {
			if d, err := time.ParseDuration(fileCfg.Catalog.RefreshInterval); err == nil {
				cat.RefreshInterval = d
			} else {
				warn("Invalid catalog.refresh_interval duration: " + err.Error())
			}
		}
		if len(fileCfg.Catalog.SearchPath) > 0 {
			cat.SearchPath = fileCfg.Catalog.SearchPath
		}
	}

	if v := getenv("FTEXPOSE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("FTEXPOSE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		} else {
			warn("Invalid FTEXPOSE_PORT: " + err.Error())
		}
	}
	if v := getenv("FTEXPOSE_UPSTREAM"); v != "" {
		cfg.Upstream = v
	}
	if v := getenv("FTEXPOSE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("FTEXPOSE_LOG_LEVEL"); v != "" {
		logLevel = v
	}
	if v := getenv("FTEXPOSE_EXPOSE_FOREIGN_TABLES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			expose = b
		} else {
			warn("Invalid FTEXPOSE_EXPOSE_FOREIGN_TABLES: " + err.Error())
		}
	}
	if v := getenv("FTEXPOSE_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		} else {
			warn("Invalid FTEXPOSE_IDLE_TIMEOUT duration: " + err.Error())
		}
	}
	if v := getenv("FTEXPOSE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		} else {
			warn("Invalid FTEXPOSE_SHUTDOWN_TIMEOUT duration: " + err.Error())
		}
	}
	if v := getenv("FTEXPOSE_CATALOG_DSN"); v != "" {
		cat.DSN = v
	}
	if v := getenv("FTEXPOSE_CATALOG_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cat.RefreshInterval = d
		} else {
			warn("Invalid FTEXPOSE_CATALOG_REFRESH_INTERVAL duration: " + err.Error())
		}
	}
	if v := getenv("FTEXPOSE_SEARCH_PATH"); v != "" {
		if path := splitSearchPath(v); len(path) > 0 {
			cat.SearchPath = path
		}
	}

	if cli.Set["host"] {
		cfg.Host = cli.Host
	}
	if cli.Set["port"] {
		cfg.Port = cli.Port
	}
	if cli.Set["upstream"] {
		cfg.Upstream = cli.Upstream
	}
	if cli.Set["metrics-addr"] {
		cfg.MetricsAddr = cli.MetricsAddr
	}
	if cli.Set["log-level"] {
		logLevel = cli.LogLevel
	}
	if cli.Set["expose-foreign-tables"] {
		expose = cli.ExposeForeignTables
	}
	if cli.Set["idle-timeout"] {
		if d, err := time.ParseDuration(cli.IdleTimeout); err == nil {
			cfg.IdleTimeout = d
		} else {
			warn("Invalid --idle-timeout duration: " + err.Error())
		}
	}
	if cli.Set["shutdown-timeout"] {
		if d, err := time.ParseDuration(cli.ShutdownTimeout); err == nil {
			cfg.ShutdownTimeout = d
		} else {
			warn("Invalid --shutdown-timeout duration: " + err.Error())
		}
	}
	if cli.Set["catalog-dsn"] {
		cat.DSN = cli.CatalogDSN
	}
	if cli.Set["catalog-refresh-interval"] {
		if d, err := time.ParseDuration(cli.CatalogRefresh); err == nil {
			cat.RefreshInterval = d
		} else {
			warn("Invalid --catalog-refresh-interval duration: " + err.Error())
		}
	}
	if cli.Set["search-path"] {
		if path := splitSearchPath(cli.SearchPath); len(path) > 0 {
			cat.SearchPath = path
		}
	}

	if _, ok := parseLogLevel(logLevel); !ok {
		warn("Invalid log level: " + logLevel + " (expected debug, info, warn or error)")
		logLevel = "info"
	}

	return resolvedConfig{
		Server:              cfg,
		Catalog:             cat,
		LogLevel:            logLevel,
		ExposeForeignTables: expose,
	}
}
