//go:build integration

package server

import (
	"database/sql"
	"net"
	"net/url"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/posthog/ftexpose/transpiler"
)

// FTEXPOSE_TEST_UPSTREAM is a postgres:// URL for a scratch database whose
// user may create foreign data wrappers.
func upstreamURL(t *testing.T) *url.URL {
	t.Helper()
	raw := os.Getenv("FTEXPOSE_TEST_UPSTREAM")
	if raw == "" {
		t.Skip("FTEXPOSE_TEST_UPSTREAM not set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse FTEXPOSE_TEST_UPSTREAM: %v", err)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "5432")
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u
}

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Fatalf("ping %s: %v", dsn, err)
	}
	return db
}

func relnames(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.Query(query, args...)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return names
}

func TestProxyListsForeignTables(t *testing.T) {
	upstream := upstreamURL(t)
	direct := openDB(t, upstream.String())

	setup := []string{
		`DROP SCHEMA IF EXISTS ftexpose_it CASCADE`,
		`DROP SERVER IF EXISTS ftexpose_it_srv CASCADE`,
		`DROP FOREIGN DATA WRAPPER IF EXISTS ftexpose_it_fdw CASCADE`,
		`CREATE FOREIGN DATA WRAPPER ftexpose_it_fdw`,
		`CREATE SERVER ftexpose_it_srv FOREIGN DATA WRAPPER ftexpose_it_fdw`,
		`CREATE SCHEMA ftexpose_it`,
		`CREATE TABLE ftexpose_it.plain (id int)`,
		`CREATE FOREIGN TABLE ftexpose_it.remote (id int) SERVER ftexpose_it_srv`,
	}
	for _, stmt := range setup {
		if _, err := direct.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	t.Cleanup(func() {
		_, _ = direct.Exec(`DROP SCHEMA IF EXISTS ftexpose_it CASCADE`)
		_, _ = direct.Exec(`DROP FOREIGN DATA WRAPPER IF EXISTS ftexpose_it_fdw CASCADE`)
	})

	tr := transpiler.New(transpiler.DefaultConfig())
	defer tr.Close()
	srv, err := New(Config{Upstream: upstream.Host}, tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	proxied := *upstream
	proxied.Host = ln.Addr().String()
	viaProxy := openDB(t, proxied.String())

	const listTables = `SELECT c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p') AND n.nspname = 'ftexpose_it'
ORDER BY 1`

	if got := relnames(t, direct, listTables); len(got) != 1 || got[0] != "plain" {
		t.Fatalf("direct listing = %v, want [plain]", got)
	}

	t.Run("simple query", func(t *testing.T) {
		got := relnames(t, viaProxy, listTables)
		if len(got) != 2 || got[0] != "plain" || got[1] != "remote" {
			t.Errorf("proxied listing = %v, want [plain remote]", got)
		}
	})

	t.Run("extended query", func(t *testing.T) {
		got := relnames(t, viaProxy, `SELECT c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r') AND n.nspname = $1
ORDER BY 1`, "ftexpose_it")
		if len(got) != 2 || got[0] != "plain" || got[1] != "remote" {
			t.Errorf("proxied listing = %v, want [plain remote]", got)
		}
	})

	t.Run("views only", func(t *testing.T) {
		got := relnames(t, viaProxy, `SELECT c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('v') AND n.nspname = 'ftexpose_it'`)
		if len(got) != 0 {
			t.Errorf("proxied listing = %v, want none", got)
		}
	})

	t.Run("upstream errors pass through", func(t *testing.T) {
		if _, err := viaProxy.Exec(`SELECT * FROM ftexpose_it.no_such_table`); err == nil {
			t.Error("Exec() error = nil, want undefined table")
		}
	})
}
