// Package load writes a relational.Projection into a storage backend.
//
// Tables are created in discovery order so every foreign key points at a
// table that already exists (or at the table itself for recursive
// entities). Entity and attribute names are folded into portable SQL
// identifiers.
package load

import (
	"fmt"

	"github.com/jinzhu/inflection"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/relational"
	"jsonrel/internal/storage"
)

type columnKind int

const (
	columnAttr columnKind = iota
	columnParentID
	columnParentUID
)

// planColumn maps one target column onto its source. Attribute columns read
// Source.Columns[SourceIndex]; parent columns are derived from the row's
// ParentRef when it names ParentEntity.
type planColumn struct {
	Target       string
	Type         string
	Kind         columnKind
	SourceIndex  int
	ParentEntity string
}

type tablePlan struct {
	Source  *relational.Table
	Spec    storage.TableSpec
	Columns []planColumn
}

func (t tablePlan) targetColumns() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Target
	}
	return out
}

// Plan is the storage layout of one projection.
type Plan struct {
	Tables []tablePlan

	names map[string]string
	pos   map[string]int
	ids   map[string]map[string]int64
}

// Specs returns the table specs in creation order.
func (p Plan) Specs() []storage.TableSpec {
	out := make([]storage.TableSpec, len(p.Tables))
	for i, t := range p.Tables {
		out[i] = t.Spec
	}
	return out
}

// TableName returns the storage name chosen for entity.
func (p Plan) TableName(entity string) (string, bool) {
	name, ok := p.names[entity]
	return name, ok
}

// BuildPlan compiles the storage layout for proj. prefix is prepended to
// every table name verbatim, so "staging." targets a schema.
func BuildPlan(proj relational.Projection, prefix string) (Plan, error) {
	p := Plan{
		names: make(map[string]string, len(proj.Tables)),
		pos:   make(map[string]int, len(proj.Tables)),
		ids:   make(map[string]map[string]int64, len(proj.Tables)),
	}
	takenTables := map[string]bool{}
	for i, t := range proj.Tables {
		p.pos[t.Name] = i
		p.names[t.Name] = prefix + storage.UniqueIdent(storage.NormalizeIdent(t.Name), takenTables)

		byUID := make(map[string]int64, len(t.Rows))
		for i := range t.Rows {
			uid, _ := t.Value(i, relational.ColumnUID)
			if _, dup := byUID[uid.Str()]; dup {
				return Plan{}, fmt.Errorf("load: table %s: duplicate uid %q", t.Name, uid.Str())
			}
			byUID[uid.Str()] = int64(i + 1)
		}
		p.ids[t.Name] = byUID
	}

	for _, t := range proj.Tables {
		tp, err := p.compileTable(t)
		if err != nil {
			return Plan{}, err
		}
		p.Tables = append(p.Tables, tp)
	}
	return p, nil
}

func (p Plan) compileTable(t *relational.Table) (tablePlan, error) {
	tp := tablePlan{Source: t}
	taken := map[string]bool{}
	notNull := false

	idIdx, uidIdx := t.Column(relational.ColumnID), t.Column(relational.ColumnUID)
	if idIdx < 0 || uidIdx < 0 {
		return tablePlan{}, fmt.Errorf("load: table %s lacks %s/%s columns", t.Name, relational.ColumnID, relational.ColumnUID)
	}
	pk := storage.UniqueIdent(relational.ColumnID, taken)
	tp.Spec.PrimaryKey = &storage.PrimaryKeySpec{Name: pk, Type: storage.TypeBigInt}
	tp.Columns = append(tp.Columns, planColumn{Target: pk, Type: storage.TypeBigInt, SourceIndex: idIdx})

	uid := storage.UniqueIdent(relational.ColumnUID, taken)
	tp.Spec.Columns = append(tp.Spec.Columns, storage.ColumnSpec{Name: uid, Type: storage.TypeText, Nullable: &notNull})
	tp.Columns = append(tp.Columns, planColumn{Target: uid, Type: storage.TypeText, SourceIndex: uidIdx})

	for _, parent := range parentEntities(t) {
		base := storage.NormalizeIdent(inflection.Singular(parent))
		if ref, ok := p.names[parent]; ok {
			col := storage.UniqueIdent(base+"_id", taken)
			// A reference to a later table would fail at creation time.
			if p.pos[parent] > p.pos[t.Name] {
				ref = ""
			}
			tp.Spec.Columns = append(tp.Spec.Columns, storage.ColumnSpec{Name: col, Type: storage.TypeBigInt, References: ref})
			tp.Columns = append(tp.Columns, planColumn{Target: col, Type: storage.TypeBigInt, Kind: columnParentID, SourceIndex: -1, ParentEntity: parent})
			continue
		}
		col := storage.UniqueIdent(base+"_uid", taken)
		tp.Spec.Columns = append(tp.Spec.Columns, storage.ColumnSpec{Name: col, Type: storage.TypeText})
		tp.Columns = append(tp.Columns, planColumn{Target: col, Type: storage.TypeText, Kind: columnParentUID, SourceIndex: -1, ParentEntity: parent})
	}

	for i, name := range t.Columns {
		if i == idIdx || i == uidIdx {
			continue
		}
		col := storage.UniqueIdent(storage.NormalizeIdent(name), taken)
		typ := inferColumnType(t, i)
		tp.Spec.Columns = append(tp.Spec.Columns, storage.ColumnSpec{Name: col, Type: typ})
		tp.Columns = append(tp.Columns, planColumn{Target: col, Type: typ, SourceIndex: i})
	}

	tp.Spec.Name = p.names[t.Name]
	if err := tp.Spec.Validate(); err != nil {
		return tablePlan{}, err
	}
	return tp, nil
}

// parentEntities lists the distinct parent entities of t's rows in first-seen order.
func parentEntities(t *relational.Table) []string {
	var out []string
	seen := map[string]bool{}
	for _, ref := range t.Parents {
		if ref.Entity == "" || seen[ref.Entity] {
			continue
		}
		seen[ref.Entity] = true
		out = append(out, ref.Entity)
	}
	return out
}

// inferColumnType picks the narrowest logical type holding every non-null
// value of column col. Integers mixed with other numbers widen to double;
// any other mix falls back to text.
func inferColumnType(t *relational.Table, col int) string {
	var sawBool, sawInt, sawFloat, sawOther bool
	for _, row := range t.Rows {
		v := row[col]
		switch v.Kind() {
		case jsonvalue.Null:
		case jsonvalue.Bool:
			sawBool = true
		case jsonvalue.Number:
			if _, ok := v.Int64(); ok && v.IsInteger() {
				sawInt = true
			} else {
				sawFloat = true
			}
		default:
			sawOther = true
		}
	}
	switch {
	case sawOther:
		return storage.TypeText
	case sawBool && !sawInt && !sawFloat:
		return storage.TypeBoolean
	case sawBool:
		return storage.TypeText
	case sawFloat:
		return storage.TypeDouble
	case sawInt:
		return storage.TypeBigInt
	default:
		return storage.TypeText
	}
}

// bindValue converts v to the Go value a backend binds for typ.
func bindValue(v jsonvalue.Value, typ string) any {
	if v.IsNull() {
		return nil
	}
	switch typ {
	case storage.TypeBigInt:
		if n, ok := v.Int64(); ok {
			return n
		}
	case storage.TypeDouble:
		if f, ok := v.Float64(); ok {
			return f
		}
	case storage.TypeBoolean:
		if v.Kind() == jsonvalue.Bool {
			return v.Bool()
		}
	}
	return v.String()
}

// row renders source row i in target column order.
func (p Plan) row(t tablePlan, i int) []any {
	src := t.Source.Rows[i]
	parent := t.Source.Parents[i]
	out := make([]any, len(t.Columns))
	for c, col := range t.Columns {
		switch col.Kind {
		case columnAttr:
			out[c] = bindValue(src[col.SourceIndex], col.Type)
		case columnParentID:
			if parent.Entity != col.ParentEntity {
				continue
			}
			if id, ok := p.ids[parent.Entity][parent.UID]; ok {
				out[c] = id
			}
		case columnParentUID:
			if parent.Entity == col.ParentEntity {
				out[c] = parent.UID
			}
		}
	}
	return out
}

// BuildSpecs returns the table specs BuildPlan would create, parents first.
func BuildSpecs(proj relational.Projection, prefix string) ([]storage.TableSpec, error) {
	p, err := BuildPlan(proj, prefix)
	if err != nil {
		return nil, err
	}
	return p.Specs(), nil
}
