package load

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/relational"
	"jsonrel/internal/storage"
	_ "jsonrel/internal/storage/sqlite"
)

const driversDoc = `{
	"season": 2024,
	"drivers": [
		{"id": 44, "name": "Lewis", "teams": [{"name": "Mercedes", "years": [2013, 2024]}, {"name": "McLaren"}]},
		{"id": 1, "name": "Max", "teams": [{"name": "Red Bull"}]}
	]
}`

func project(t *testing.T, doc string) relational.Projection {
	t.Helper()
	p, err := relational.Project(jsonvalue.MustDecode(doc))
	require.NoError(t, err)
	return p
}

type fakeRepo struct {
	dropped  []string
	ensured  []storage.TableSpec
	inserted map[string][][]any
	batches  map[string]int
	failOn   string
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	f.ensured = append(f.ensured, tables...)
	return nil
}

func (f *fakeRepo) DropTables(_ context.Context, tables []string) error {
	f.dropped = append(f.dropped, tables...)
	return nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	if table == f.failOn {
		return 0, errors.New("boom")
	}
	if f.inserted == nil {
		f.inserted = map[string][][]any{}
		f.batches = map[string]int{}
	}
	f.inserted[table] = append(f.inserted[table], rows...)
	f.batches[table]++
	return int64(len(rows)), nil
}

func specByName(t *testing.T, plan Plan, name string) storage.TableSpec {
	t.Helper()
	for _, s := range plan.Specs() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no spec %q", name)
	return storage.TableSpec{}
}

func TestBuildPlan_Drivers(t *testing.T) {
	plan, err := BuildPlan(project(t, driversDoc), "f1_")
	require.NoError(t, err)

	name, ok := plan.TableName("teams")
	require.True(t, ok)
	assert.Equal(t, "f1_teams", name)

	drivers := specByName(t, plan, "f1_drivers")
	assert.Equal(t, []string{"id", "uid", "source_id", "name"}, drivers.ColumnNames())
	assert.Equal(t, storage.TypeBigInt, drivers.Columns[1].Type)

	teams := specByName(t, plan, "f1_teams")
	assert.Equal(t, []string{"id", "uid", "driver_id", "name", "years"}, teams.ColumnNames())
	assert.Equal(t, "f1_drivers", teams.Columns[1].References)
	assert.Equal(t, storage.TypeText, teams.Columns[3].Type)

	tp := plan.Tables[1]
	assert.Equal(t, []any{int64(1), "0.teams.0", int64(1), "Mercedes", "[2013,2024]"}, plan.row(tp, 0))
	assert.Equal(t, []any{int64(2), "0.teams.1", int64(1), "McLaren", nil}, plan.row(tp, 1))
	assert.Equal(t, []any{int64(3), "1.teams.0", int64(2), "Red Bull", nil}, plan.row(tp, 2))
}

// TestBuildPlan_ParentOutsideProjection covers descriptors nested under
// plain objects: the parent is not a table, so its uid is kept as text.
func TestBuildPlan_ParentOutsideProjection(t *testing.T) {
	plan, err := BuildPlan(project(t, `{"season":{"races":[{"name":"Monza"}]}}`), "")
	require.NoError(t, err)

	races := specByName(t, plan, "races")
	assert.Equal(t, []string{"id", "uid", "season_uid", "name"}, races.ColumnNames())
	assert.Empty(t, races.Columns[1].References)
	assert.Equal(t, []any{int64(1), "0.0", "0", "Monza"}, plan.row(plan.Tables[0], 0))
}

func TestBuildPlan_SelfReference(t *testing.T) {
	plan, err := BuildPlan(project(t, `{"nodes":[{"name":"a","children":[{"name":"b","children":[{"name":"c"}]}]}]}`), "")
	require.NoError(t, err)

	children := specByName(t, plan, "children")
	assert.Equal(t, []string{"id", "uid", "node_id", "child_id", "name"}, children.ColumnNames())
	assert.Equal(t, "nodes", children.Columns[1].References)
	assert.Equal(t, "children", children.Columns[2].References)

	tp := plan.Tables[1]
	assert.Equal(t, []any{int64(1), "0.children.0", int64(1), nil, "b"}, plan.row(tp, 0))
	assert.Equal(t, []any{int64(2), "0.children.0.children.0", nil, int64(1), "c"}, plan.row(tp, 1))
}

// TestBuildPlan_SharedParentUIDs checks that children of rows from different
// entities with equal uids resolve to their own parent ids.
func TestBuildPlan_SharedParentUIDs(t *testing.T) {
	plan, err := BuildPlan(project(t, `{"a":[{"x":{"y":[{"k":1}]}}],"b":[{"x":{"y":[{"k":2}]}}]}`), "")
	require.NoError(t, err)

	y := specByName(t, plan, "y")
	assert.Equal(t, []string{"id", "uid", "x_id", "k"}, y.ColumnNames())

	var tp tablePlan
	for _, cand := range plan.Tables {
		if cand.Spec.Name == "y" {
			tp = cand
		}
	}
	require.NotNil(t, tp.Source)
	first, second := plan.row(tp, 0), plan.row(tp, 1)
	assert.Equal(t, int64(1), first[2])
	assert.Equal(t, int64(1), first[3])
	assert.Equal(t, int64(2), second[2])
	assert.Equal(t, int64(2), second[3])
	assert.NotEqual(t, first[1], second[1])
}

func TestBuildPlan_RejectsDuplicateUIDs(t *testing.T) {
	tbl := &relational.Table{
		Name:    "rows",
		Columns: []string{relational.ColumnID, relational.ColumnUID},
		Rows: [][]jsonvalue.Value{
			{jsonvalue.IntValue(1), jsonvalue.StringValue("0")},
			{jsonvalue.IntValue(2), jsonvalue.StringValue("0")},
		},
		Parents: make([]relational.ParentRef, 2),
	}
	_, err := BuildPlan(relational.Projection{Tables: []*relational.Table{tbl}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate uid")
}

func TestInferColumnType(t *testing.T) {
	tests := []struct {
		name string
		vals []jsonvalue.Value
		want string
	}{
		{name: "ints", vals: []jsonvalue.Value{jsonvalue.IntValue(1), jsonvalue.NullValue()}, want: storage.TypeBigInt},
		{name: "mixed numbers", vals: []jsonvalue.Value{jsonvalue.IntValue(1), jsonvalue.NumberLiteral("1.5")}, want: storage.TypeDouble},
		{name: "bools", vals: []jsonvalue.Value{jsonvalue.BoolValue(true)}, want: storage.TypeBoolean},
		{name: "bool and number", vals: []jsonvalue.Value{jsonvalue.BoolValue(true), jsonvalue.IntValue(1)}, want: storage.TypeText},
		{name: "all null", vals: []jsonvalue.Value{jsonvalue.NullValue()}, want: storage.TypeText},
		{name: "huge integer", vals: []jsonvalue.Value{jsonvalue.NumberLiteral("123456789012345678901234567890")}, want: storage.TypeDouble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := &relational.Table{Name: "t", Columns: []string{"v"}}
			for _, v := range tt.vals {
				tbl.Rows = append(tbl.Rows, []jsonvalue.Value{v})
			}
			assert.Equal(t, tt.want, inferColumnType(tbl, 0))
		})
	}
}

func TestBindValue(t *testing.T) {
	assert.Nil(t, bindValue(jsonvalue.NullValue(), storage.TypeText))
	assert.Equal(t, int64(7), bindValue(jsonvalue.IntValue(7), storage.TypeBigInt))
	assert.Equal(t, 1.5, bindValue(jsonvalue.NumberLiteral("1.5"), storage.TypeDouble))
	assert.Equal(t, true, bindValue(jsonvalue.BoolValue(true), storage.TypeBoolean))
	assert.Equal(t, "true", bindValue(jsonvalue.BoolValue(true), storage.TypeText))
	assert.Equal(t, "x", bindValue(jsonvalue.StringValue("x"), storage.TypeText))
}

// TestLoader_Fake covers batching and replace ordering.
//
// Edge cases:
//   - Replace drops children before parents.
//   - BatchSize splits a table into several InsertRows calls.
//   - An insert failure stops the load and reports the partial result.
func TestLoader_Fake(t *testing.T) {
	repo := &fakeRepo{}
	l := New(repo, nil, Options{BatchSize: 2, Replace: true})

	res, err := l.Load(context.Background(), project(t, driversDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"teams", "drivers"}, repo.dropped)
	require.Len(t, repo.ensured, 2)
	assert.Equal(t, "drivers", repo.ensured[0].Name)
	assert.Equal(t, int64(5), res.Rows)
	assert.Equal(t, 2, repo.batches["teams"])
	assert.Equal(t, 1, repo.batches["drivers"])
	require.Len(t, res.Tables, 2)
	assert.Equal(t, TableResult{Entity: "teams", Table: "teams", Rows: 3, Batches: 2}, res.Tables[1])

	failing := &fakeRepo{failOn: "teams"}
	res, err = New(failing, nil, Options{}).Load(context.Background(), project(t, driversDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert into teams")
	assert.Equal(t, int64(2), res.Rows)
	assert.Empty(t, failing.dropped)
}

func TestLoader_SQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "jsonrel.db")

	repo, err := storage.NewMulti(ctx, storage.MultiConfig{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer repo.Close()

	l := New(repo, nil, Options{TablePrefix: "f1_", Replace: true})
	_, err = l.Load(ctx, project(t, driversDoc))
	require.NoError(t, err)
	// A second replace load leaves exactly one copy of the data.
	_, err = l.Load(ctx, project(t, driversDoc))
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT d.name, t.name
		FROM f1_teams t JOIN f1_drivers d ON d.id = t.driver_id
		ORDER BY t.id`)
	require.NoError(t, err)
	defer rows.Close()

	var got [][2]string
	for rows.Next() {
		var d, team string
		require.NoError(t, rows.Scan(&d, &team))
		got = append(got, [2]string{d, team})
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, [][2]string{{"Lewis", "Mercedes"}, {"Lewis", "McLaren"}, {"Max", "Red Bull"}}, got)
}

// TestBuildSpecs_ReferencesExistingTables checks that every reference
// targets a table created at or before the referencing one.
func TestBuildSpecs_ReferencesExistingTables(t *testing.T) {
	docs := []string{
		driversDoc,
		`{"a":[{"b":[{"a":[{"x":1}]}]}]}`,
		`{"nodes":[{"children":[{"children":[{"v":1}]}]}]}`,
	}
	for _, doc := range docs {
		specs, err := BuildSpecs(project(t, doc), "")
		require.NoError(t, err)
		created := map[string]bool{}
		for _, s := range specs {
			created[s.Name] = true
			for _, c := range s.Columns {
				if c.References != "" {
					assert.True(t, created[c.References], "%s.%s references %s before it exists", s.Name, c.Name, c.References)
				}
			}
		}
	}
}
