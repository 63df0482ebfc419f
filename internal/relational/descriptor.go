// Package relational decomposes one JSON document into normalized tables.
//
// The pipeline is: schema inference, table discovery (Analyze), recursive
// normalization into uid-keyed entity records, and assembly into a
// Projection of tables plus parent/child relationships.
package relational

import (
	"sort"
	"strings"

	"jsonrel/internal/schema"
)

// TableDescriptor names one array-typed path in the document.
type TableDescriptor struct {
	// Path is the dot-joined property names from the root, for display.
	// Keys may themselves contain dots, so navigation uses Segments.
	Path string
	// Segments are the property names from the root.
	Segments []string
	// Name is the last path segment.
	Name string
	// IsEntity is true when the array items are objects with at least one property.
	IsEntity bool
}

// Depth is the number of path segments.
func (d TableDescriptor) Depth() int { return len(d.Segments) }

// Analyze enumerates array-typed paths reachable through object properties of
// root. Arrays are reported but never descended into; their items are handled
// by the normalizer's recursion.
//
// Descriptors are ordered by depth, ties keeping document key order.
func Analyze(root *schema.Node) []TableDescriptor {
	if root == nil || !root.Has(schema.TypeObject) {
		return nil
	}
	var out []TableDescriptor
	var walk func(props []*schema.Property, prefix []string)
	walk = func(props []*schema.Property, prefix []string) {
		for _, p := range props {
			segs := append(append(make([]string, 0, len(prefix)+1), prefix...), p.Name)
			n := p.Schema
			if n.Has(schema.TypeArray) {
				out = append(out, TableDescriptor{
					Path:     strings.Join(segs, "."),
					Segments: segs,
					Name:     p.Name,
					IsEntity: isEntityItems(n.Items),
				})
				continue
			}
			if n.Has(schema.TypeObject) {
				walk(n.Properties, segs)
			}
		}
	}
	walk(root.Properties, nil)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth() < out[j].Depth() })
	return out
}

func isEntityItems(items *schema.Node) bool {
	return items != nil && items.Has(schema.TypeObject) && len(items.Properties) > 0
}
