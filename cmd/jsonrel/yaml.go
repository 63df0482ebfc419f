package main

import (
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/relational"
)

// writeYAML renders the projection with the same layout as its JSON form.
// yaml.Node keeps table and column order, which a map would lose.
func writeYAML(w io.Writer, proj relational.Projection) error {
	tables := mappingNode()
	for _, t := range proj.Tables {
		rows := &yaml.Node{Kind: yaml.SequenceNode}
		for i := range t.Rows {
			rows.Content = append(rows.Content, valueNode(t.RowObject(i)))
		}
		tables.Content = append(tables.Content, stringNode(t.Name), rows)
	}

	rels := &yaml.Node{Kind: yaml.SequenceNode}
	for _, e := range proj.Relationships {
		m := mappingNode()
		m.Content = append(m.Content,
			stringNode("parent"), stringNode(e.Parent),
			stringNode("child"), stringNode(e.Child),
			stringNode("foreign_key"), stringNode(e.ForeignKey),
		)
		rels.Content = append(rels.Content, m)
	}

	root := mappingNode()
	root.Content = append(root.Content,
		stringNode("tables"), tables,
		stringNode("relationships"), rels,
	)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

func mappingNode() *yaml.Node { return &yaml.Node{Kind: yaml.MappingNode} }

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func valueNode(v jsonvalue.Value) *yaml.Node {
	switch v.Kind() {
	case jsonvalue.Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.Bool())}
	case jsonvalue.Number:
		tag := "!!float"
		if v.IsInteger() {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.Literal()}
	case jsonvalue.String:
		return stringNode(v.Str())
	case jsonvalue.Array:
		n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, e := range v.Elems() {
			n.Content = append(n.Content, valueNode(e))
		}
		return n
	case jsonvalue.Object:
		n := mappingNode()
		for _, m := range v.Members() {
			n.Content = append(n.Content, stringNode(m.Key), valueNode(m.Value))
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}
