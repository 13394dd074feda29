// pgx client compatibility check for ftexpose.
//
// Creates a fixture schema holding one ordinary and one foreign table
// directly on the upstream server, then runs the shared catalog queries
// from queries.yaml through the proxy and checks which tables come back.
// Also checks that parameterized and batched catalog queries are
// rewritten.
package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"
)

const (
	fixtureSchema  = "ftexpose_compat"
	ordinaryTable  = "plain"
	foreignTable   = "remote"
	fixtureWrapper = "ftexpose_compat_fdw"
	fixtureServer  = "ftexpose_compat_srv"
)

type query struct {
	Suite   string `yaml:"suite"`
	Name    string `yaml:"name"`
	SQL     string `yaml:"sql"`
	Foreign bool   `yaml:"foreign"`
}

type reporter struct {
	passed int
	failed int
}

func (r *reporter) report(suite, name string, err error, detail string) {
	if err == nil {
		r.passed++
		suffix := ""
		if detail != "" {
			suffix = " (" + detail + ")"
		}
		fmt.Printf("  PASS  %s/%s%s\n", suite, name, suffix)
		return
	}
	r.failed++
	fmt.Printf("  FAIL  %s/%s: %v\n", suite, name, err)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func connect(ctx context.Context, host, port string) (*pgx.Conn, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host,
		port,
		env("PGUSER", "postgres"),
		env("PGPASSWORD", "postgres"),
		env("PGDATABASE", "postgres"),
	)
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	return pgx.ConnectConfig(ctx, cfg)
}

func connectProxy(ctx context.Context) (*pgx.Conn, error) {
	return connect(ctx, env("PGHOST", "ftexpose"), env("PGPORT", "6432"))
}

func connectUpstream(ctx context.Context) (*pgx.Conn, error) {
	return connect(ctx, env("UPSTREAM_HOST", "postgres"), env("UPSTREAM_PORT", "5432"))
}

func waitForProxy(ctx context.Context) error {
	fmt.Println("Waiting for ftexpose...")
	for i := 0; i < 30; i++ {
		conn, err := connectProxy(ctx)
		if err == nil {
			conn.Close(ctx)
			fmt.Printf("Connected after %d attempt(s).\n", i+1)
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("could not connect after 30 seconds")
}

func createFixture(ctx context.Context) error {
	conn, err := connectUpstream(ctx)
	if err != nil {
		return fmt.Errorf("connect upstream: %w", err)
	}
	defer conn.Close(ctx)

	stmts := []string{
		"DROP SCHEMA IF EXISTS " + fixtureSchema + " CASCADE",
		"DROP FOREIGN DATA WRAPPER IF EXISTS " + fixtureWrapper + " CASCADE",
		"CREATE FOREIGN DATA WRAPPER " + fixtureWrapper,
		"CREATE SERVER " + fixtureServer + " FOREIGN DATA WRAPPER " + fixtureWrapper,
		"CREATE SCHEMA " + fixtureSchema,
		"CREATE TABLE " + fixtureSchema + "." + ordinaryTable + " (id int)",
		"CREATE FOREIGN TABLE " + fixtureSchema + "." + foreignTable + " (id int) SERVER " + fixtureServer,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func dropFixture(ctx context.Context) {
	conn, err := connectUpstream(ctx)
	if err != nil {
		return
	}
	defer conn.Close(ctx)
	_, _ = conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+fixtureSchema+" CASCADE")
	_, _ = conn.Exec(ctx, "DROP FOREIGN DATA WRAPPER IF EXISTS "+fixtureWrapper+" CASCADE")
}

func loadQueries(path string) ([]query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var queries []query
	if err := yaml.Unmarshal(data, &queries); err != nil {
		return nil, err
	}
	return queries, nil
}

// checkNames verifies the fixture tables in names: the ordinary table must
// be there iff the foreign one is expected, and the foreign one iff foreign.
func checkNames(names []string, foreign bool) error {
	hasOrdinary := slices.Contains(names, ordinaryTable)
	hasForeign := slices.Contains(names, foreignTable)
	if foreign && (!hasOrdinary || !hasForeign) {
		return fmt.Errorf("got %v, want %s and %s", names, ordinaryTable, foreignTable)
	}
	if !foreign && hasForeign {
		return fmt.Errorf("got %v, foreign table listed", names)
	}
	return nil
}

// firstColumn collects the relation name column: the one named "Name" when
// present, else the first.
func firstColumn(rows pgx.Rows) ([]string, error) {
	idx := 0
	for i, fd := range rows.FieldDescriptions() {
		if fd.Name == "Name" {
			idx = i
		}
	}
	var names []string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		names = append(names, fmt.Sprint(values[idx]))
	}
	return names, rows.Err()
}

func testSharedQueries(ctx context.Context, r *reporter) {
	fmt.Println("\n=== Shared catalog queries ===")

	queries, err := loadQueries(env("QUERIES_FILE", "/queries.yaml"))
	if err != nil {
		r.report("shared", "load_queries", err, "")
		return
	}

	conn, err := connectProxy(ctx)
	if err != nil {
		r.report("shared", "connect", err, "")
		return
	}
	defer conn.Close(ctx)

	for _, q := range queries {
		rows, err := conn.Query(ctx, q.SQL, pgx.QueryExecModeSimpleProtocol)
		if err != nil {
			r.report(q.Suite, q.Name, err, "")
			continue
		}
		names, err := firstColumn(rows)
		rows.Close()
		if err == nil {
			err = checkNames(names, q.Foreign)
		}
		r.report(q.Suite, q.Name, err, fmt.Sprintf("%d rows", len(names)))
	}
}

func testParameterized(ctx context.Context, r *reporter) {
	fmt.Println("\n=== Parameterized queries ===")
	suite := "extended"

	conn, err := connectProxy(ctx)
	if err != nil {
		r.report(suite, "connect", err, "")
		return
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r') AND n.nspname = $1`, fixtureSchema)
	if err != nil {
		r.report(suite, "prepared listing", err, "")
		return
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err == nil {
		err = checkNames(names, true)
	}
	r.report(suite, "prepared listing", err, "")
}

func testBatch(ctx context.Context, r *reporter) {
	fmt.Println("\n=== Batch queries ===")
	suite := "batch"

	conn, err := connectProxy(ctx)
	if err != nil {
		r.report(suite, "connect", err, "")
		return
	}
	defer conn.Close(ctx)

	const countKinds = `SELECT count(*)
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN (%s) AND n.nspname = $1`

	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(countKinds, "'r'"), fixtureSchema)
	batch.Queue(fmt.Sprintf(countKinds, "'v'"), fixtureSchema)
	br := conn.SendBatch(ctx, batch)

	for i, want := range []int64{2, 0} {
		var got int64
		err := br.QueryRow().Scan(&got)
		if err == nil && got != want {
			err = fmt.Errorf("expected %d, got %d", want, got)
		}
		r.report(suite, fmt.Sprintf("batch_query_%d", i+1), err, "")
	}

	r.report(suite, "batch_close", br.Close(), "")
}

func main() {
	ctx := context.Background()

	if err := waitForProxy(ctx); err != nil {
		fmt.Println("FAIL:", err)
		os.Exit(1)
	}
	if err := createFixture(ctx); err != nil {
		fmt.Println("FAIL:", err)
		os.Exit(1)
	}
	defer dropFixture(ctx)

	r := &reporter{}
	testSharedQueries(ctx, r)
	testParameterized(ctx, r)
	testBatch(ctx, r)

	fmt.Printf("\n%s\n", "==================================================")
	fmt.Printf("Results: %d passed, %d failed\n", r.passed, r.failed)
	fmt.Printf("%s\n", "==================================================")

	if r.failed > 0 {
		dropFixture(ctx)
		os.Exit(1)
	}
}
