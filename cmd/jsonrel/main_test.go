package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"jsonrel/internal/metrics"
)

const driversDoc = `{
  "drivers": [
    {"name": "Max", "number": 1, "team": {"name": "Red Bull"}},
    {"name": "Lewis", "number": 44, "team": {"name": "Mercedes"}}
  ]
}`

// testBackend records metric names so tests can assert the backend was used.
type testBackend struct {
	mu     sync.Mutex
	names  []string
	closed bool
}

func (b *testBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
}

func (b *testBackend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
}

func (b *testBackend) Flush() error { return nil }

func (b *testBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func testDeps(out, errOut io.Writer, backend *testBackend) deps {
	return deps{
		Stdout: out,
		Stderr: errOut,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			if backend == nil {
				return nil, errors.New("no backend")
			}
			return backend, nil
		},
	}
}

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestParseFlags validates flag parsing and basic validation.
//
// Edge cases:
//   - Missing or conflicting inputs should error.
//   - Unknown enum values should error.
//   - Only explicitly given flags are recorded as set.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantField func(t *testing.T, cfg runConfig)
	}{
		{
			name:    "missing_input",
			args:    []string{},
			wantErr: "missing required -url or -file",
		},
		{
			name:    "both_inputs",
			args:    []string{"-url", "http://x", "-file", "x.json"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "invalid_emit",
			args:    []string{"-file", "x", "-emit", "csv"},
			wantErr: "-emit must be",
		},
		{
			name:    "invalid_metrics",
			args:    []string{"-file", "x", "-metrics", "statsd"},
			wantErr: "-metrics must be none or datadog",
		},
		{
			name:    "zero_preview",
			args:    []string{"-file", "x", "-preview", "0"},
			wantErr: "-preview must be non-zero",
		},
		{
			name:    "extra_args",
			args:    []string{"-file", "x", "more"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "help",
			args:    []string{"-h"},
			wantErr: "Usage of jsonrel",
		},
		{
			name: "defaults",
			args: []string{"-file", "x"},
			wantField: func(t *testing.T, cfg runConfig) {
				if cfg.Emit != "text" || cfg.Metrics != "none" || !cfg.Strict {
					t.Fatalf("defaults=%+v", cfg)
				}
				if len(cfg.set) != 1 || !cfg.set["file"] {
					t.Fatalf("set=%v, want only file", cfg.set)
				}
			},
		},
		{
			name: "store_flags",
			args: []string{"-file", "x", "-store", "sqlite", "-dsn", "file:x.db", "-replace", "-strict=false"},
			wantField: func(t *testing.T, cfg runConfig) {
				if cfg.Store != "sqlite" || cfg.DSN != "file:x.db" || !cfg.Replace || cfg.Strict {
					t.Fatalf("cfg=%+v", cfg)
				}
				if !cfg.set["strict"] || !cfg.set["replace"] {
					t.Fatalf("set=%v", cfg.set)
				}
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseFlags(tc.args)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("parseFlags() err=%v, want contains %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() err=%v, want nil", err)
			}
			if tc.wantField != nil {
				tc.wantField(t, cfg)
			}
		})
	}
}

// TestRun_ConfigErrors verifies run() returns exit code 2 for configuration issues.
func TestRun_ConfigErrors(t *testing.T) {
	path := writeDoc(t, driversDoc)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no_input", args: nil, want: "missing required -url or -file"},
		{name: "missing_config", args: []string{"-file", path, "-config", filepath.Join(t.TempDir(), "nope.yaml")}, want: "config"},
		{name: "store_without_dsn", args: []string{"-file", path, "-store", "sqlite"}, want: "requires JSONREL_STORE_DSN"},
		{name: "unknown_store", args: []string{"-file", path, "-store", "oracle", "-dsn", "x"}, want: "unknown -store"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JSONREL_STORE_DSN", "")
			var out, errOut bytes.Buffer
			code := run(context.Background(), tc.args, testDeps(&out, &errOut, nil))
			if code != 2 {
				t.Fatalf("run()=%d, want 2; stderr=%q", code, errOut.String())
			}
			if !strings.Contains(errOut.String(), tc.want) {
				t.Fatalf("stderr=%q, want contains %q", errOut.String(), tc.want)
			}
		})
	}
}

func TestRun_FileEmitJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-file", writeDoc(t, driversDoc), "-emit", "json"}, testDeps(&out, &errOut, nil))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}

	var got struct {
		Tables        map[string][]map[string]any `json:"tables"`
		Relationships []map[string]string         `json:"relationships"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if n := len(got.Tables["drivers"]); n != 2 {
		t.Fatalf("drivers rows=%d, want 2", n)
	}
	if got.Tables["drivers"][0]["name"] != "Max" {
		t.Fatalf("first driver=%v", got.Tables["drivers"][0])
	}
}

func TestRun_FileEmitYAMLKeepsOrder(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-file", writeDoc(t, driversDoc), "-emit", "yaml"}, testDeps(&out, &errOut, nil))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}

	var root yaml.Node
	if err := yaml.Unmarshal(out.Bytes(), &root); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	top := root.Content[0]
	if top.Content[0].Value != "tables" || top.Content[2].Value != "relationships" {
		t.Fatalf("top-level keys=%q,%q", top.Content[0].Value, top.Content[2].Value)
	}
	row := top.Content[1].Content[1].Content[0]
	if row.Content[0].Value != "id" || row.Content[2].Value != "uid" {
		t.Fatalf("first columns=%q,%q, want id,uid", row.Content[0].Value, row.Content[2].Value)
	}
}

func TestRun_FileEmitSchema(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-file", writeDoc(t, driversDoc), "-emit", "schema"}, testDeps(&out, &errOut, nil))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"drivers"`) || !strings.Contains(out.String(), `"object"`) {
		t.Fatalf("schema output=%s", out.String())
	}
}

func TestRun_InvalidFile(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-file", writeDoc(t, `{"a": [1,`)}, testDeps(&out, &errOut, nil))
	if code != 1 {
		t.Fatalf("run()=%d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "decode") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_URLText(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, driversDoc)
	}))
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-url", srv.URL + "/api/drivers/"}, testDeps(&out, &errOut, nil))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}
	if !strings.Contains(gotQuery, "format=json") {
		t.Fatalf("query=%q, want format=json", gotQuery)
	}
	for _, want := range []string{"Table: drivers", "Shape: 2 rows", "Processed"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_URLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-url", srv.URL}, testDeps(&out, &errOut, nil)); code != 1 {
		t.Fatalf("run()=%d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "failed to fetch") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_StoreSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "out.db")
	dsn := "file:" + dbPath

	var out, errOut bytes.Buffer
	args := []string{"-file", writeDoc(t, driversDoc), "-store", "sqlite", "-dsn", dsn, "-table-prefix", "f1_", "-preview", "-1"}
	if code := run(context.Background(), args, testDeps(&out, &errOut, nil)); code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}
	// A second run with -replace must not duplicate rows.
	args = append(args, "-replace")
	if code := run(context.Background(), args, testDeps(&out, &errOut, nil)); code != 0 {
		t.Fatalf("replace run()=%d, want 0; stderr=%q", code, errOut.String())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "f1_drivers"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("f1_drivers rows=%d, want 2", n)
	}
}

func TestRun_DatadogBackend(t *testing.T) {
	backend := &testBackend{}
	var out, errOut bytes.Buffer
	args := []string{"-file", writeDoc(t, driversDoc), "-metrics", "datadog", "-dd_tags", "env:test"}
	if code := run(context.Background(), args, testDeps(&out, &errOut, backend)); code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%q", code, errOut.String())
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.closed {
		t.Fatalf("backend not closed")
	}
	if len(backend.names) == 0 {
		t.Fatalf("no metrics recorded")
	}
}

func TestRun_DatadogInitFailure(t *testing.T) {
	var out, errOut bytes.Buffer
	args := []string{"-file", writeDoc(t, driversDoc), "-metrics", "datadog"}
	if code := run(context.Background(), args, testDeps(&out, &errOut, nil)); code != 2 {
		t.Fatalf("run()=%d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "datadog backend init failed") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}
