package mysql

import (
	"strings"
	"testing"

	"jsonrel/internal/storage"
)

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	got, err := buildCreateTableSQL(storage.TableSpec{
		Name:       "teams",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: storage.TypeBigInt},
		Columns: []storage.ColumnSpec{
			{Name: "uid", Type: storage.TypeText},
			{Name: "driver_id", Type: storage.TypeBigInt, References: "drivers"},
			{Name: "active", Type: storage.TypeBoolean},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS `teams`",
		"`id` BIGINT NOT NULL PRIMARY KEY",
		"`uid` LONGTEXT NULL",
		"`active` BOOLEAN NULL",
		"FOREIGN KEY (`driver_id`) REFERENCES `drivers` (`id`)",
		"ENGINE=InnoDB",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("DDL missing %q:\n%s", want, got)
		}
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args, err := buildInsertSQL("db.t", []string{"a", "b`c"}, [][]any{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("buildInsertSQL: %v", err)
	}
	if q != "INSERT INTO `db`.`t` (`a`, `b``c`) VALUES (?,?), (?,?)" {
		t.Fatalf("sql=%q", q)
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}
	if _, _, err := buildInsertSQL("t", []string{"a"}, [][]any{{}}); err == nil {
		t.Fatalf("expected row width error")
	}
}
