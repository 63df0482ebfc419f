// Command jsonrel projects a JSON API response into relational tables,
// previews them and optionally loads them into a database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jsonrel/internal/config"
	"jsonrel/internal/display"
	"jsonrel/internal/fetch"
	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/load"
	"jsonrel/internal/logging"
	"jsonrel/internal/metrics"
	"jsonrel/internal/metrics/datadog"
	"jsonrel/internal/relational"
	"jsonrel/internal/schema"
	"jsonrel/internal/storage"
	_ "jsonrel/internal/storage/all"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject fake backend factory and capture stdout/stderr.
//   - Alternate runtimes: swap metrics backend or output sinks.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

// runConfig holds the parsed flags. set records which flags were given so
// they can override the config file.
type runConfig struct {
	URL         string
	File        string
	ConfigPath  string
	Preview     int
	Emit        string
	Store       string
	DSN         string
	TablePrefix string
	Replace     bool
	RootTable   string
	Strict      bool
	Metrics     string
	DDTagsCSV   string
	Verbose     bool

	set map[string]bool
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
	})
	stop()
	os.Exit(code)
}

// run executes one projection and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: the document could not be fetched, decoded, projected or stored.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	rc, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	applyFlags(cfg, rc)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if cfg.Store.Kind != "" && !knownKind(cfg.Store.Kind) {
		fmt.Fprintf(d.Stderr, "unknown -store %q (available: %s)\n", cfg.Store.Kind, strings.Join(storage.Kinds(), ", "))
		return 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	defer func() { _ = logger.Sync() }()

	if strings.EqualFold(cfg.Metrics.Backend, "datadog") {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.Metrics.Tags), "tool:jsonrel", "run_id:"+runID)
		backend, err := d.BackendFactory(ctx, cfg.Metrics.Job, tags, cfg.Metrics.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
			metrics.SetBackend(nil)
		}()
	}

	doc, ok := readDocument(ctx, rc, cfg, logger, d.Stderr)
	if !ok {
		return 1
	}

	proc := relational.NewProcessor(
		relational.WithRootTable(cfg.Project.RootTable),
		relational.WithMaxDepth(cfg.Project.MaxDepth),
		relational.WithStrictValidation(!cfg.Project.Lenient),
		relational.WithJob(cfg.Metrics.Job),
		relational.WithLogger(logger),
	)
	proj, err := proc.Process(doc)
	if err != nil {
		logger.Error("processing failed", zap.Error(err))
		fmt.Fprintf(d.Stderr, "processing failed: %v\n", err)
		return 1
	}

	if err := emit(d.Stdout, rc.Emit, proj, proc, cfg.Display); err != nil {
		fmt.Fprintf(d.Stderr, "write output: %v\n", err)
		return 1
	}

	if cfg.Store.Kind != "" {
		if err := store(ctx, cfg, proj, logger); err != nil {
			logger.Error("store failed", zap.Error(err))
			fmt.Fprintf(d.Stderr, "store failed: %v\n", err)
			return 1
		}
	}
	return 0
}

// parseFlags parses command arguments into a validated runConfig.
//
// Errors:
//   - Returns an error for invalid/missing required flags.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("jsonrel", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.URL, "url", "", "JSON API URL to fetch (format=json is appended)")
	fs.StringVar(&rc.File, "file", "", "Path to a local JSON document")
	fs.StringVar(&rc.ConfigPath, "config", "", "Optional YAML config file")
	fs.IntVar(&rc.Preview, "preview", display.DefaultMaxRows, "Rows shown per table in text output (-1 for shapes only)")
	fs.StringVar(&rc.Emit, "emit", "text", "Output format: text, json, yaml or schema")
	fs.StringVar(&rc.Store, "store", "", "Storage backend: "+strings.Join(storage.Kinds(), ", "))
	fs.StringVar(&rc.DSN, "dsn", "", "Storage DSN (or JSONREL_STORE_DSN)")
	fs.StringVar(&rc.TablePrefix, "table-prefix", "", "Prefix for stored table names")
	fs.BoolVar(&rc.Replace, "replace", false, "Drop existing tables before storing")
	fs.StringVar(&rc.RootTable, "root-table", "", "Table name for documents whose root is an array")
	fs.BoolVar(&rc.Strict, "strict", true, "Fail when the document does not validate against its inferred schema")
	fs.StringVar(&rc.Metrics, "metrics", "none", "Metrics backend: none or datadog")
	fs.StringVar(&rc.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:jsonrel)")
	fs.BoolVar(&rc.Verbose, "v", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return runConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	rc.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { rc.set[f.Name] = true })

	if rc.URL == "" && rc.File == "" {
		return runConfig{}, errors.New("missing required -url or -file")
	}
	if rc.URL != "" && rc.File != "" {
		return runConfig{}, errors.New("-url and -file are mutually exclusive")
	}
	switch rc.Emit {
	case "text", "json", "yaml", "schema":
	default:
		return runConfig{}, fmt.Errorf("-emit must be text, json, yaml or schema (got %q)", rc.Emit)
	}
	switch rc.Metrics {
	case "none", "datadog":
	default:
		return runConfig{}, fmt.Errorf("-metrics must be none or datadog (got %q)", rc.Metrics)
	}
	if rc.Preview == 0 {
		return runConfig{}, errors.New("-preview must be non-zero")
	}
	return rc, nil
}

// applyFlags overlays explicitly given flags onto cfg.
func applyFlags(cfg *config.Config, rc runConfig) {
	if rc.set["preview"] {
		cfg.Display.MaxRows = rc.Preview
	}
	if rc.set["store"] {
		cfg.Store.Kind = rc.Store
	}
	if rc.set["dsn"] {
		cfg.Store.DSN = rc.DSN
	}
	if rc.set["table-prefix"] {
		cfg.Store.TablePrefix = rc.TablePrefix
	}
	if rc.set["replace"] {
		cfg.Store.Replace = rc.Replace
	}
	if rc.set["root-table"] {
		cfg.Project.RootTable = rc.RootTable
	}
	if rc.set["strict"] {
		cfg.Project.Lenient = !rc.Strict
	}
	if rc.set["metrics"] {
		cfg.Metrics.Backend = rc.Metrics
	}
	if rc.set["dd_tags"] {
		cfg.Metrics.Tags = rc.DDTagsCSV
	}
	if rc.Verbose {
		cfg.Log.Level = "debug"
	}
}

func knownKind(kind string) bool {
	for _, k := range storage.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// readDocument loads the input. Failures are reported on stderr and turn
// into ok=false.
func readDocument(ctx context.Context, rc runConfig, cfg *config.Config, logger *zap.Logger, stderr io.Writer) (jsonvalue.Value, bool) {
	if rc.URL != "" {
		doc, ok := fetch.New(cfg.Fetch, cfg.Metrics.Job, logger).FetchOrNil(ctx, rc.URL)
		if !ok {
			fmt.Fprintf(stderr, "failed to fetch %s\n", rc.URL)
		}
		return doc, ok
	}
	raw, err := os.ReadFile(rc.File)
	if err != nil {
		fmt.Fprintf(stderr, "read %s: %v\n", rc.File, err)
		return jsonvalue.Value{}, false
	}
	doc, err := jsonvalue.Decode(raw)
	if err != nil {
		fmt.Fprintf(stderr, "decode %s: %v\n", rc.File, err)
		return jsonvalue.Value{}, false
	}
	return doc, true
}

func emit(w io.Writer, format string, proj relational.Projection, proc *relational.Processor, opts display.Options) error {
	switch format {
	case "json":
		return writeIndentedJSON(w, proj)
	case "yaml":
		return writeYAML(w, proj)
	case "schema":
		return writeIndentedJSON(w, schema.ToJSONSchema(proc.Schema()))
	}

	stats := proc.Stats()
	if _, err := fmt.Fprintf(w, "Schema check: %s\n", stats.Validation); err != nil {
		return err
	}
	if err := display.WriteProjection(w, proj, opts); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nProcessed %d tables, %d rows, %d relationships (%d non-object list elements skipped)\n",
		stats.Entities, stats.Rows, stats.Relationships, stats.SkippedElements)
	return err
}

func writeIndentedJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

func store(ctx context.Context, cfg *config.Config, proj relational.Projection, logger *zap.Logger) error {
	logger.Info("connecting to store",
		zap.String("kind", cfg.Store.Kind),
		zap.String("dsn", logging.SanitizeDSN(cfg.Store.DSN)),
	)
	repo, err := storage.NewMulti(ctx, storage.MultiConfig{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN})
	if err != nil {
		return fmt.Errorf("connect %s: %s", cfg.Store.Kind, logging.SanitizeDSN(err.Error()))
	}
	defer repo.Close()

	res, err := load.New(repo, logger, load.Options{
		TablePrefix: cfg.Store.TablePrefix,
		BatchSize:   cfg.Store.BatchSize,
		Replace:     cfg.Store.Replace,
		Job:         cfg.Metrics.Job,
	}).Load(ctx, proj)
	if err != nil {
		return err
	}
	for _, t := range res.Tables {
		logger.Info("stored table", zap.String("table", t.Table), zap.Int64("rows", t.Rows), zap.Int("batches", t.Batches))
	}
	return nil
}
