// Package display renders a bounded, human-readable preview of a projection.
package display

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/relational"
)

const (
	DefaultMaxRows     = 3
	DefaultMaxColWidth = 40
)

// Options bounds the preview. Zero values select the defaults; a negative
// MaxRows prints shapes only.
type Options struct {
	MaxRows     int `yaml:"max_rows" env:"JSONREL_PREVIEW_ROWS" env-default:"3"`
	MaxColWidth int `yaml:"max_col_width" env:"JSONREL_PREVIEW_COL_WIDTH" env-default:"40"`
}

func (o Options) withDefaults() Options {
	if o.MaxRows == 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.MaxColWidth <= 0 {
		o.MaxColWidth = DefaultMaxColWidth
	}
	return o
}

// WriteProjection writes every table followed by the relationships.
func WriteProjection(w io.Writer, proj relational.Projection, opts Options) error {
	opts = opts.withDefaults()
	ew := &errWriter{w: w}

	if proj.Empty() {
		ew.printf("No tables found\n")
	}
	for _, t := range proj.Tables {
		writeTable(ew, t, opts)
	}
	writeRelationships(ew, proj.Relationships)
	return ew.err
}

func writeTable(ew *errWriter, t *relational.Table, opts Options) {
	title := "Table: " + t.Name
	ew.printf("\n%s\n%s\n", title, strings.Repeat("=", utf8.RuneCountInString(title)))
	ew.printf("Shape: %d rows × %d columns\n", len(t.Rows), len(t.Columns))
	ew.printf("Columns: %s\n", strings.Join(t.Columns, ", "))

	n := min(opts.MaxRows, len(t.Rows))
	if n <= 0 {
		return
	}
	ew.printf("\nData preview (first %d rows):\n", n)
	for i := 0; i < n; i++ {
		ew.printf("\nRow %d:\n", i)
		for c, col := range t.Columns {
			ew.printf("  • %s: %s\n", col, FormatValue(t.Rows[i][c], opts.MaxColWidth))
		}
		ew.printf("%s\n", strings.Repeat("-", 40))
	}
}

func writeRelationships(ew *errWriter, edges []relational.RelationshipEdge) {
	if len(edges) == 0 {
		ew.printf("\nNo relationships found\n")
		return
	}
	ew.printf("\nRelationships:\n")
	tw := tabwriter.NewWriter(ew, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "parent\tchild\tforeign_key")
	fmt.Fprintln(tw, "------\t-----\t-----------")
	for _, e := range edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Parent, e.Child, e.ForeignKey)
	}
	if err := tw.Flush(); err != nil && ew.err == nil {
		ew.err = err
	}
}

// FormatValue renders a cell: strings raw, other values as JSON, truncated
// to width runes with a trailing ellipsis.
func FormatValue(v jsonvalue.Value, width int) string {
	s := v.String()
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

// errWriter remembers the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e, format, args...)
}
