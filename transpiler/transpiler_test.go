package transpiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/catalog"
)

func TestTranspile_PassThrough(t *testing.T) {
	// Queries the exposer has nothing to do with come back byte for byte
	tests := []struct {
		name  string
		input string
	}{
		{"simple select", "SELECT 1"},
		{"odd spacing", "select  1 ;"},
		{"comment", "SELECT 1 -- relkind IN ('r')"},
		{"insert", "INSERT INTO users (name) VALUES ('test')"},
		{"update", "UPDATE users SET name = 'test' WHERE id = 1"},
		{"delete", "DELETE FROM users WHERE id = 1"},
		{"create schema", "CREATE SCHEMA test"},
		{"drop table", "DROP TABLE users"},
		{"catalog without filter", "SELECT relname FROM pg_catalog.pg_class"},
		{"views only", "SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('v', 'm')"},
		{"already exposed", "SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r', 'f')"},
		{"parameters", "SELECT relname FROM pg_catalog.pg_class WHERE relname = $1"},
	}

	tr := New(DefaultConfig())
	defer tr.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tr.Transpile(tt.input)
			if err != nil {
				t.Fatalf("Transpile(%q) error: %v", tt.input, err)
			}
			if result.SQL != tt.input {
				t.Errorf("Transpile(%q) = %q, want input unchanged", tt.input, result.SQL)
			}
			if result.Changed {
				t.Errorf("Transpile(%q) reported a change", tt.input)
			}
		})
	}
}

func TestTranspile_ExposesForeignTables(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "single ordinary table kind",
			input:    "SELECT * FROM pg_catalog.pg_class WHERE relkind IN ('r')",
			contains: []string{"relkind IN ('r', 'f')"},
		},
		{
			name: "psql describe tables",
			input: `SELECT n.nspname as "Schema",
  c.relname as "Name",
  CASE c.relkind WHEN 'r' THEN 'table' WHEN 'f' THEN 'foreign table' END as "Type"
FROM pg_catalog.pg_class c
     LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r','p','')
      AND n.nspname <> 'pg_catalog'
      AND n.nspname !~ '^pg_toast'
      AND n.nspname <> 'information_schema'
  AND pg_catalog.pg_table_is_visible(c.oid)
ORDER BY 1,2;`,
			contains: []string{"c.relkind IN ('r', 'p', '', 'f')", "ORDER BY 1, 2"},
		},
		{
			name:     "unqualified catalog name",
			input:    "select relname from pg_class where relkind in ('r', 'v')",
			contains: []string{"relkind IN ('r', 'v', 'f')"},
		},
		{
			name:     "array form",
			input:    "SELECT relname FROM pg_catalog.pg_class WHERE relkind = ANY (ARRAY['r', 'p'])",
			contains: []string{"ARRAY['r', 'p', 'f']"},
		},
		{
			name:     "parameter kept",
			input:    "SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r') AND relname = $1",
			contains: []string{"relkind IN ('r', 'f')", "relname = $1"},
		},
		{
			name:     "subquery",
			input:    "SELECT count(*) FROM (SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r')) s",
			contains: []string{"relkind IN ('r', 'f')"},
		},
	}

	tr := New(DefaultConfig())
	defer tr.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tr.Transpile(tt.input)
			if err != nil {
				t.Fatalf("Transpile() error: %v", err)
			}
			if !result.Changed {
				t.Fatalf("Transpile() did not change %q", tt.input)
			}
			for _, want := range tt.contains {
				if !strings.Contains(result.SQL, want) {
					t.Errorf("result %q does not contain %q", result.SQL, want)
				}
			}
		})
	}
}

func TestTranspile_Idempotent(t *testing.T) {
	tr := New(DefaultConfig())
	defer tr.Close()

	first, err := tr.Transpile("SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r')")
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	second, err := tr.Transpile(first.SQL)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if second.Changed || second.SQL != first.SQL {
		t.Errorf("second pass = %q (changed %v), want %q unchanged", second.SQL, second.Changed, first.SQL)
	}
}

func TestTranspile_MultipleStatements(t *testing.T) {
	tr := New(DefaultConfig())
	defer tr.Close()

	result, err := tr.Transpile("SELECT 1; SELECT relname FROM pg_class WHERE relkind IN ('r'); SELECT relname FROM pg_class WHERE relkind IN ('v')")
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if !result.Changed {
		t.Fatal("Transpile() reported no change")
	}
	if got := strings.Count(result.SQL, "'f'"); got != 1 {
		t.Errorf("result %q has %d foreign table kinds, want 1", result.SQL, got)
	}
	if !strings.Contains(result.SQL, "SELECT 1;") {
		t.Errorf("result %q lost the first statement", result.SQL)
	}
}

func TestTranspile_ParseFailure(t *testing.T) {
	tr := New(DefaultConfig())
	defer tr.Close()

	input := "SELEC relname FROM pg_class WHERE relkind IN ('r')"
	result, err := tr.Transpile(input)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if !result.ParseFailed {
		t.Error("ParseFailed = false, want true")
	}
	if result.SQL != input {
		t.Errorf("SQL = %q, want input unchanged", result.SQL)
	}
}

func TestTranspile_BlankInput(t *testing.T) {
	tr := New(DefaultConfig())
	defer tr.Close()

	for _, input := range []string{"", "   ", "\n\t"} {
		result, err := tr.Transpile(input)
		if err != nil {
			t.Fatalf("Transpile(%q) error: %v", input, err)
		}
		if result.SQL != input || result.Changed || result.ParseFailed {
			t.Errorf("Transpile(%q) = %+v", input, result)
		}
	}
}

func TestTranspile_AnalysisErrors(t *testing.T) {
	tr := New(DefaultConfig())
	defer tr.Close()

	input := "SELECT * FROM users; SELECT relname FROM pg_class WHERE relkind IN ('r')"
	result, err := tr.Transpile(input)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if len(result.AnalysisErrors) != 1 {
		t.Fatalf("AnalysisErrors = %v, want 1 error", result.AnalysisErrors)
	}
	var aerr *analyze.Error
	if !errors.As(result.AnalysisErrors[0], &aerr) || aerr.Code != analyze.CodeUndefinedTable {
		t.Errorf("AnalysisErrors[0] = %v, want undefined table", result.AnalysisErrors[0])
	}
	// The statement that analyzed fine is still rewritten
	if !result.Changed || !strings.Contains(result.SQL, "IN ('r', 'f')") {
		t.Errorf("SQL = %q, want rewritten second statement", result.SQL)
	}
	if !strings.Contains(result.SQL, "FROM users") {
		t.Errorf("SQL = %q lost the unanalyzable statement", result.SQL)
	}
}

func TestTranspile_ExposureDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExposeForeignTables = false
	tr := New(cfg)
	defer tr.Close()

	input := "SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r')"
	result, err := tr.Transpile(input)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if result.Changed || result.SQL != input {
		t.Errorf("Transpile() = %q, want input unchanged", result.SQL)
	}
	if tr.Pipeline().PostParseAnalyzeHook() != nil {
		t.Error("hook installed with exposure disabled")
	}
}

func TestTranspile_CustomCatalog(t *testing.T) {
	// A user table that shadows pg_class in the search path is never a target
	cat := catalog.NewSnapshot(
		[]catalog.Namespace{{Oid: 2200, Name: catalog.PublicNamespace}, {Oid: 16384, Name: "app"}},
		[]catalog.Relation{{
			Oid:       16400,
			Name:      "pg_class",
			Namespace: 16384,
			Kind:      catalog.RelKindRelation,
			Columns:   []catalog.Column{{Name: "relkind", TypeOid: catalog.CharOID}},
		}},
	)
	tr := New(Config{Catalog: cat, SearchPath: []string{"app"}, ExposeForeignTables: true})
	defer tr.Close()

	input := "SELECT relkind FROM pg_class WHERE relkind IN ('r')"
	result, err := tr.Transpile(input)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if result.Changed || result.SQL != input {
		t.Errorf("Transpile() = %q, want input unchanged", result.SQL)
	}
	if len(result.AnalysisErrors) != 0 {
		t.Errorf("AnalysisErrors = %v", result.AnalysisErrors)
	}
}

func TestClose_UninstallsHook(t *testing.T) {
	tr := New(DefaultConfig())
	if tr.Pipeline().PostParseAnalyzeHook() == nil {
		t.Fatal("New did not install the exposer hook")
	}
	tr.Close()
	if tr.Pipeline().PostParseAnalyzeHook() != nil {
		t.Error("Close left the hook installed")
	}

	input := "SELECT relname FROM pg_catalog.pg_class WHERE relkind IN ('r')"
	result, err := tr.Transpile(input)
	if err != nil {
		t.Fatalf("Transpile() error: %v", err)
	}
	if result.Changed {
		t.Errorf("Transpile() after Close = %q, want unchanged", result.SQL)
	}
	tr.Close()
}
