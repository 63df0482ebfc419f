package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"jsonrel/internal/storage"
)

// maxParams is the prepared statement placeholder limit.
const maxParams = 65535

// MultiRepo implements storage.MultiRepository for MySQL and MariaDB.
//
// The DSN uses the driver's format, e.g.
// "user:pass@tcp(localhost:3306)/jsonrel?charset=utf8mb4". Tables are
// created with InnoDB so foreign keys are enforced.
type MultiRepo struct {
	db *sql.DB
}

func init() {
	storage.RegisterMulti("mysql", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MultiRepo{db: db}, nil
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mysql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *MultiRepo) DropTables(ctx context.Context, tables []string) error {
	for _, name := range tables {
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myIdent(name)); err != nil {
			return fmt.Errorf("mysql: drop table %s: %w", name, err)
		}
	}
	return nil
}

func (r *MultiRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args, err := buildInsertSQL(table, columns, chunk)
		if err != nil {
			return total, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mysql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// myIdent backtick-quotes an identifier. A dotted name is split into
// database and table.
func myIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(strings.TrimSpace(p), "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

func myType(logical string) string {
	switch logical {
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeDouble:
		return "DOUBLE"
	case storage.TypeBoolean:
		return "BOOLEAN"
	default:
		return "LONGTEXT"
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	var defs, fks []string
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", myIdent(t.PrimaryKey.Name), myType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		def := myIdent(c.Name) + " " + myType(c.Type)
		if !c.IsNullable() {
			def += " NOT NULL"
		} else {
			def += " NULL"
		}
		defs = append(defs, def)
		// Inline REFERENCES is parsed but ignored by InnoDB.
		if c.References != "" {
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (`id`)", myIdent(c.Name), myIdent(c.References)))
		}
	}
	defs = append(defs, fks...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", myIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("mysql: insert into %s: no columns", table)
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = myIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mysql: insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}
