package load

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jsonrel/internal/metrics"
	"jsonrel/internal/relational"
	"jsonrel/internal/storage"
)

// DefaultBatchSize is the number of rows handed to the backend per InsertRows call.
const DefaultBatchSize = 500

// Options tunes a Loader.
type Options struct {
	// TablePrefix is prepended to every table name.
	TablePrefix string
	// BatchSize caps rows per insert; <= 0 selects DefaultBatchSize.
	BatchSize int
	// Replace drops the target tables, children first, before creating them.
	Replace bool
	// Job labels metrics.
	Job string
}

// TableResult reports what was written for one entity.
type TableResult struct {
	Entity  string
	Table   string
	Rows    int64
	Batches int
}

type Result struct {
	Tables []TableResult
	Rows   int64
}

// Loader writes projections into a MultiRepository.
type Loader struct {
	Repo storage.MultiRepository
	Log  *zap.Logger
	Opts Options
}

func New(repo storage.MultiRepository, log *zap.Logger, opts Options) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Job == "" {
		opts.Job = "jsonrel"
	}
	return &Loader{Repo: repo, Log: log, Opts: opts}
}

// Load creates the tables of proj and inserts every row.
//
// Errors:
//   - Plan errors (invalid identifiers) before anything is written.
//   - Backend errors from DropTables, EnsureTables or InsertRows, wrapped
//     with the stage and table.
func (l *Loader) Load(ctx context.Context, proj relational.Projection) (Result, error) {
	if l.Repo == nil {
		return Result{}, fmt.Errorf("load: Repo is required")
	}
	plan, err := BuildPlan(proj, l.Opts.TablePrefix)
	if err != nil {
		return Result{}, err
	}
	specs := plan.Specs()

	if l.Opts.Replace {
		start := time.Now()
		names := make([]string, len(specs))
		for i, s := range specs {
			names[len(specs)-1-i] = s.Name
		}
		err := l.Repo.DropTables(ctx, names)
		metrics.RecordStep(l.Opts.Job, "drop", err, time.Since(start))
		if err != nil {
			return Result{}, fmt.Errorf("load: drop: %w", err)
		}
		l.Log.Info("stage=drop ok", zap.Int("tables", len(names)), zap.Duration("duration", durMS(start)))
	}

	start := time.Now()
	err = l.Repo.EnsureTables(ctx, specs)
	metrics.RecordStep(l.Opts.Job, "ddl", err, time.Since(start))
	if err != nil {
		return Result{}, fmt.Errorf("load: ddl: %w", err)
	}
	l.Log.Info("stage=ddl ok", zap.Int("tables", len(specs)), zap.Duration("duration", durMS(start)))

	start = time.Now()
	var res Result
	for _, tp := range plan.Tables {
		tr, err := l.insertTable(ctx, plan, tp)
		res.Tables = append(res.Tables, tr)
		res.Rows += tr.Rows
		if err != nil {
			metrics.RecordStep(l.Opts.Job, "insert", err, time.Since(start))
			return res, err
		}
	}
	metrics.RecordStep(l.Opts.Job, "insert", nil, time.Since(start))
	l.Log.Info("stage=insert ok", zap.Int64("rows", res.Rows), zap.Duration("duration", durMS(start)))
	return res, nil
}

func (l *Loader) insertTable(ctx context.Context, plan Plan, tp tablePlan) (TableResult, error) {
	tr := TableResult{Entity: tp.Source.Name, Table: tp.Spec.Name}
	cols := tp.targetColumns()
	total := len(tp.Source.Rows)

	for start := 0; start < total; start += l.Opts.BatchSize {
		end := start + l.Opts.BatchSize
		if end > total {
			end = total
		}
		batch := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, plan.row(tp, i))
		}
		n, err := l.Repo.InsertRows(ctx, tp.Spec.Name, cols, batch)
		if err != nil {
			return tr, fmt.Errorf("load: insert into %s: %w", tp.Spec.Name, err)
		}
		tr.Rows += n
		tr.Batches++
		metrics.RecordBatch(l.Opts.Job, tp.Spec.Name)
	}
	l.Log.Debug("table loaded",
		zap.String("entity", tr.Entity),
		zap.String("table", tr.Table),
		zap.Int64("rows", tr.Rows),
		zap.Int("batches", tr.Batches),
	)
	return tr, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
