package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"jsonrel/internal/storage"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeTx struct {
	execs      []string
	args       [][]any
	committed  bool
	rolledBack bool
	failOn     int
}

func (f *fakeTx) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	f.args = append(f.args, args)
	if f.failOn > 0 && len(f.execs) == f.failOn {
		return nil, errors.New("boom")
	}
	return fakeResult(strings.Count(query, "(@p")), nil
}

func (f *fakeTx) Commit() error   { f.committed = true; return nil }
func (f *fakeTx) Rollback() error { f.rolledBack = true; return nil }

type fakeDB struct {
	execs  []string
	tx     *fakeTx
	closed bool
}

func (f *fakeDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return fakeResult(0), nil
}

func (f *fakeDB) BeginTx(context.Context, *sql.TxOptions) (txConn, error) { return f.tx, nil }
func (f *fakeDB) Close() error                                          { f.closed = true; return nil }

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	notNull := false
	got, err := buildCreateSQL(storage.TableSpec{
		Name:       "dbo.teams",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: storage.TypeBigInt},
		Columns: []storage.ColumnSpec{
			{Name: "uid", Type: storage.TypeText, Nullable: &notNull},
			{Name: "driver_id", Type: storage.TypeBigInt, References: "dbo.drivers"},
			{Name: "active", Type: storage.TypeBoolean},
			{Name: "score", Type: storage.TypeDouble},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'dbo.teams', N'U') IS NULL BEGIN CREATE TABLE [dbo].[teams] (",
		"[id] BIGINT NOT NULL PRIMARY KEY",
		"[uid] NVARCHAR(MAX) NOT NULL",
		"[driver_id] BIGINT NULL REFERENCES [dbo].[drivers]",
		"[active] BIT NULL",
		"[score] FLOAT NULL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("DDL missing %q:\n%s", want, got)
		}
	}
}

func TestBuildDropSQL(t *testing.T) {
	t.Parallel()

	got := buildDropSQL("o'brien")
	want := "IF OBJECT_ID(N'o''brien', N'U') IS NOT NULL DROP TABLE [o'brien];"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	t.Parallel()

	q, args, err := buildBulkInsertSQL("t", []string{"a", "b]"}, [][]any{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("buildBulkInsertSQL: %v", err)
	}
	if q != "INSERT INTO [t] ([a], [b]]]) VALUES (@p1, @p2), (@p3, @p4)" {
		t.Fatalf("sql=%q", q)
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}
}

// TestInsertRows_ChunksAndCommits covers the transactional insert path.
//
// Edge cases:
//   - Rows beyond the parameter limit are split across statements.
//   - A failed statement leaves the transaction uncommitted.
func TestInsertRows_ChunksAndCommits(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 1500)
	for i := range rows {
		rows[i] = []any{int64(i), "x"}
	}

	tx := &fakeTx{}
	repo := &MultiRepo{db: &fakeDB{tx: tx}}
	n, err := repo.InsertRows(context.Background(), "t", []string{"id", "v"}, rows)
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 1500 {
		t.Fatalf("n=%d, want 1500", n)
	}
	if len(tx.execs) != 2 {
		t.Fatalf("statements=%d, want 2", len(tx.execs))
	}
	if !tx.committed {
		t.Fatalf("transaction not committed")
	}

	failing := &fakeTx{failOn: 1}
	repo = &MultiRepo{db: &fakeDB{tx: failing}}
	if _, err := repo.InsertRows(context.Background(), "t", []string{"id", "v"}, rows[:1]); err == nil {
		t.Fatalf("expected insert error")
	}
	if failing.committed || !failing.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", failing.committed, failing.rolledBack)
	}
}

func TestEnsureAndDropTables(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	repo := &MultiRepo{db: db}
	ctx := context.Background()

	specs := []storage.TableSpec{
		{Name: "a", Columns: []storage.ColumnSpec{{Name: "x", Type: storage.TypeText}}},
		{Name: "b", Columns: []storage.ColumnSpec{{Name: "y", Type: storage.TypeBigInt}}},
	}
	if err := repo.EnsureTables(ctx, specs); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if err := repo.DropTables(ctx, []string{"b", "a"}); err != nil {
		t.Fatalf("DropTables: %v", err)
	}
	if len(db.execs) != 4 || !strings.Contains(db.execs[2], "DROP TABLE [b]") {
		t.Fatalf("execs=%v", db.execs)
	}
	if err := repo.EnsureTables(ctx, []storage.TableSpec{{Name: ""}}); err == nil {
		t.Fatalf("expected validation error")
	}

	repo.Close()
	if !db.closed {
		t.Fatalf("Close did not close the handle")
	}
}
