package relational

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/metrics"
	"jsonrel/internal/schema"
)

type options struct {
	rootTable string
	maxDepth  int
	strict    bool
	job       string
	log       *zap.Logger
}

// Option configures Project and Processor.
type Option func(*options)

// WithRootTable names the entity created for a document whose root is an
// array. Without it such documents project to nothing.
func WithRootTable(name string) Option { return func(o *options) { o.rootTable = name } }

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option { return func(o *options) { o.maxDepth = n } }

// WithStrictValidation makes Processor.Process fail when the document does
// not validate against its own inferred schema. Project ignores it.
func WithStrictValidation(strict bool) Option { return func(o *options) { o.strict = strict } }

// WithJob sets the job label used for metrics.
func WithJob(job string) Option { return func(o *options) { o.job = job } }

// WithLogger sets the Processor logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{maxDepth: DefaultMaxDepth, strict: true, job: "jsonrel"}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}

// Project decomposes doc into tables and relationships. Every call starts
// from a fresh allocator, so equal documents always project identically.
func Project(doc jsonvalue.Value) (Projection, error) {
	return ProjectWithOptions(doc)
}

// ProjectWithOptions is Project with options.
func ProjectWithOptions(doc jsonvalue.Value, opts ...Option) (Projection, error) {
	o := buildOptions(opts)
	doc = wrapRoot(doc, o.rootTable)
	n := NewNormalizer(NewIDAllocator(), o.maxDepth)
	if err := n.Normalize(doc, Analyze(schema.Infer(doc))); err != nil {
		return Projection{}, err
	}
	return Assemble(n), nil
}

func wrapRoot(doc jsonvalue.Value, rootTable string) jsonvalue.Value {
	if doc.Kind() != jsonvalue.Array || rootTable == "" {
		return doc
	}
	return jsonvalue.ObjectValue(jsonvalue.Member{Key: rootTable, Value: doc})
}

// Stats summarizes the last Processor run.
type Stats struct {
	Descriptors     int
	Entities        int
	Rows            int
	Relationships   int
	SkippedElements int
	Validation      string
}

// Processor runs the whole pipeline for one document at a time and keeps the
// intermediate artifacts for inspection. It is not safe for concurrent use.
type Processor struct {
	opts options
	ids  *IDAllocator
	norm *Normalizer

	schema      *schema.Node
	descriptors []TableDescriptor
	stats       Stats
}

func NewProcessor(opts ...Option) *Processor {
	o := buildOptions(opts)
	ids := NewIDAllocator()
	return &Processor{opts: o, ids: ids, norm: NewNormalizer(ids, o.maxDepth)}
}

// Process infers the schema, validates doc against it, discovers tables,
// normalizes and assembles. State from a previous run is cleared first.
//
// Errors:
//   - schema.ErrValidationFailure when strict validation is on and doc fails.
//   - ErrTooDeep from normalization.
func (p *Processor) Process(doc jsonvalue.Value) (Projection, error) {
	p.Reset()
	doc = wrapRoot(doc, p.opts.rootTable)

	err := p.step("infer", func() error {
		p.schema = schema.Infer(doc)
		return nil
	})
	if err != nil {
		return Projection{}, err
	}

	err = p.step("validate", func() error {
		msg, verr := schema.Report(p.schema, doc)
		p.stats.Validation = msg
		if verr == nil {
			p.opts.log.Debug("schema validation", zap.String("result", msg))
			return nil
		}
		if p.opts.strict || !errors.Is(verr, schema.ErrValidationFailure) {
			return verr
		}
		p.opts.log.Warn("schema validation", zap.String("result", msg))
		return nil
	})
	if err != nil {
		return Projection{}, err
	}

	_ = p.step("analyze", func() error {
		p.descriptors = Analyze(p.schema)
		return nil
	})

	if err := p.step("normalize", func() error { return p.norm.Normalize(doc, p.descriptors) }); err != nil {
		return Projection{}, err
	}

	var proj Projection
	_ = p.step("assemble", func() error {
		proj = Assemble(p.norm)
		return nil
	})

	p.stats.Descriptors = len(p.descriptors)
	p.stats.Entities = len(proj.Tables)
	p.stats.Rows = proj.RowCount()
	p.stats.Relationships = len(proj.Relationships)
	p.stats.SkippedElements = p.norm.Skipped()
	for _, t := range proj.Tables {
		metrics.RecordRows(p.opts.job, t.Name, len(t.Rows))
	}
	p.opts.log.Info("projection complete",
		zap.Int("descriptors", p.stats.Descriptors),
		zap.Int("tables", p.stats.Entities),
		zap.Int("rows", p.stats.Rows),
		zap.Int("relationships", p.stats.Relationships),
		zap.Int("skipped_elements", p.stats.SkippedElements),
	)
	return proj, nil
}

func (p *Processor) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(p.opts.job, name, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Schema returns the schema inferred by the last run.
func (p *Processor) Schema() *schema.Node { return p.schema }

// Descriptors returns the tables discovered by the last run.
func (p *Processor) Descriptors() []TableDescriptor { return p.descriptors }

func (p *Processor) Stats() Stats { return p.stats }

// Reset clears the allocator, buffers and last-run artifacts.
func (p *Processor) Reset() {
	p.ids.Reset()
	p.norm.Reset()
	p.schema = nil
	p.descriptors = nil
	p.stats = Stats{}
}
