package relational

import (
	"bytes"

	"jsonrel/internal/jsonvalue"
)

const (
	// ColumnID is the 1-based primary key column added to every table.
	ColumnID = "id"
	// ColumnUID carries the hierarchical uid of each row.
	ColumnUID = "uid"
)

// Table is one entity's rows. Rows and Parents are index-aligned.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]jsonvalue.Value
	// Parents holds each row's parent reference; it is not a visible column.
	Parents []ParentRef
}

// Column returns the index of name in Columns, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at row, column name.
func (t *Table) Value(row int, name string) (jsonvalue.Value, bool) {
	i := t.Column(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return jsonvalue.Value{}, false
	}
	return t.Rows[row][i], true
}

// Projection is the relational form of one document.
type Projection struct {
	// Tables in entity discovery order.
	Tables        []*Table
	Relationships []RelationshipEdge
}

// Table looks a table up by entity name.
func (p Projection) Table(name string) (*Table, bool) {
	for _, t := range p.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// TableNames lists entity names in discovery order.
func (p Projection) TableNames() []string {
	out := make([]string, len(p.Tables))
	for i, t := range p.Tables {
		out[i] = t.Name
	}
	return out
}

// Empty reports whether the projection holds no tables.
func (p Projection) Empty() bool { return len(p.Tables) == 0 }

// RowCount sums rows over all tables.
func (p Projection) RowCount() int {
	total := 0
	for _, t := range p.Tables {
		total += len(t.Rows)
	}
	return total
}

// Assemble turns the normalizer's buffers into a Projection.
func Assemble(n *Normalizer) Projection {
	out := Projection{Tables: make([]*Table, 0, len(n.Entities()))}
	for _, name := range n.Entities() {
		out.Tables = append(out.Tables, assembleTable(name, n.Records(name)))
	}
	out.Relationships = dedupeEdges(n.Edges())
	return out
}

func assembleTable(name string, recs []EntityRecord) *Table {
	t := &Table{Name: name, Columns: []string{ColumnID, ColumnUID}}
	index := map[string]int{ColumnID: 0, ColumnUID: 1}

	present := map[string]struct{}{}
	for _, r := range recs {
		for _, a := range r.Attrs {
			present[a.Name] = struct{}{}
		}
	}
	// Source attributes named like the reserved columns move aside to a
	// source_ prefixed name that no other attribute uses.
	renamed := map[string]string{}
	for _, reserved := range []string{ColumnID, ColumnUID} {
		if _, ok := present[reserved]; !ok {
			continue
		}
		col := "source_" + reserved
		for {
			if _, taken := present[col]; !taken {
				break
			}
			col = "source_" + col
		}
		renamed[reserved] = col
	}
	colFor := func(attr string) int {
		col := attr
		if r, ok := renamed[attr]; ok {
			col = r
		}
		if i, ok := index[col]; ok {
			return i
		}
		index[col] = len(t.Columns)
		t.Columns = append(t.Columns, col)
		return index[col]
	}
	for _, r := range recs {
		for _, a := range r.Attrs {
			colFor(a.Name)
		}
	}
	t.Rows = make([][]jsonvalue.Value, len(recs))
	t.Parents = make([]ParentRef, len(recs))
	for i, r := range recs {
		row := make([]jsonvalue.Value, len(t.Columns))
		row[0] = jsonvalue.IntValue(int64(i + 1))
		row[1] = jsonvalue.StringValue(r.UID)
		for _, a := range r.Attrs {
			row[colFor(a.Name)] = a.Value
		}
		t.Rows[i] = row
		t.Parents[i] = r.Parent
	}
	return t
}

func dedupeEdges(edges []RelationshipEdge) []RelationshipEdge {
	seen := make(map[RelationshipEdge]struct{}, len(edges))
	out := []RelationshipEdge{}
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// MarshalJSON encodes the projection as
// {"tables":{name:[{col:value,...}]},"relationships":[...]} keeping table
// and column order.
func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"tables":{`)
	for ti, t := range p.Tables {
		if ti > 0 {
			buf.WriteByte(',')
		}
		buf.Write(jsonvalue.StringValue(t.Name).AppendJSON(nil))
		buf.WriteString(":[")
		for ri := range t.Rows {
			if ri > 0 {
				buf.WriteByte(',')
			}
			buf.Write(t.RowObject(ri).AppendJSON(nil))
		}
		buf.WriteByte(']')
	}
	buf.WriteString(`},"relationships":[`)
	for i, e := range p.Relationships {
		if i > 0 {
			buf.WriteByte(',')
		}
		obj := jsonvalue.ObjectValue(
			jsonvalue.Member{Key: "parent", Value: jsonvalue.StringValue(e.Parent)},
			jsonvalue.Member{Key: "child", Value: jsonvalue.StringValue(e.Child)},
			jsonvalue.Member{Key: "foreign_key", Value: jsonvalue.StringValue(e.ForeignKey)},
		)
		buf.Write(obj.AppendJSON(nil))
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// RowObject returns row i as an object keyed by column name.
func (t *Table) RowObject(i int) jsonvalue.Value {
	row := t.Rows[i]
	members := make([]jsonvalue.Member, len(t.Columns))
	for c, name := range t.Columns {
		members[c] = jsonvalue.Member{Key: name, Value: row[c]}
	}
	return jsonvalue.ObjectValue(members...)
}
