// Package schema infers a structural schema from a single JSON sample and
// validates documents against it.
//
// Inference follows the genson model: every object key becomes a property,
// array items are merged across all elements, and type tags union when a
// position holds values of different kinds.
package schema

import (
	"sort"

	"jsonrel/internal/jsonvalue"
)

// Type is a JSON Schema primitive type name.
type Type string

const (
	TypeNull    Type = "null"
	TypeBoolean Type = "boolean"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

var typeRank = map[Type]int{
	TypeObject:  0,
	TypeArray:   1,
	TypeString:  2,
	TypeNumber:  3,
	TypeInteger: 4,
	TypeBoolean: 5,
	TypeNull:    6,
}

// Node is one position in the inferred schema. It is built once and treated
// as read-only afterwards.
type Node struct {
	// Types is never empty for an inferred node and stays in a fixed
	// canonical order.
	Types []Type
	// Properties is set when Types includes object; first-seen key order.
	Properties []*Property
	// Items is set when Types includes array and at least one element was seen.
	Items *Node

	objects int // number of object samples merged into this node
}

// Property is a named child of an object node.
type Property struct {
	Name   string
	Schema *Node

	seen int // number of object samples that carried this key
}

// Has reports whether t is one of n's type tags.
func (n *Node) Has(t Type) bool {
	if n == nil {
		return false
	}
	for _, x := range n.Types {
		if x == t {
			return true
		}
	}
	return false
}

// Property returns the child schema for name.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// Required lists the properties present in every object sample, in property order.
func (n *Node) Required() []string {
	if n == nil || n.objects == 0 {
		return nil
	}
	var out []string
	for _, p := range n.Properties {
		if p.seen == n.objects {
			out = append(out, p.Name)
		}
	}
	return out
}

// Infer derives the schema of one sample document.
func Infer(v jsonvalue.Value) *Node {
	switch v.Kind() {
	case jsonvalue.Null:
		return &Node{Types: []Type{TypeNull}}
	case jsonvalue.Bool:
		return &Node{Types: []Type{TypeBoolean}}
	case jsonvalue.Number:
		if v.IsInteger() {
			return &Node{Types: []Type{TypeInteger}}
		}
		return &Node{Types: []Type{TypeNumber}}
	case jsonvalue.String:
		return &Node{Types: []Type{TypeString}}
	case jsonvalue.Array:
		n := &Node{Types: []Type{TypeArray}}
		for _, e := range v.Elems() {
			n.Items = Merge(n.Items, Infer(e))
		}
		return n
	case jsonvalue.Object:
		n := &Node{Types: []Type{TypeObject}, objects: 1}
		for _, m := range v.Members() {
			n.Properties = append(n.Properties, &Property{Name: m.Key, Schema: Infer(m.Value), seen: 1})
		}
		return n
	}
	return &Node{Types: []Type{TypeNull}}
}

// Merge generalizes two schema nodes into one that accepts both samples.
// Either argument may be nil. The inputs are not modified.
func Merge(a, b *Node) *Node {
	if a == nil {
		return clone(b)
	}
	if b == nil {
		return clone(a)
	}
	out := &Node{
		Types:   unionTypes(a.Types, b.Types),
		objects: a.objects + b.objects,
	}
	if a.Items != nil || b.Items != nil {
		out.Items = Merge(a.Items, b.Items)
	}
	if a.Has(TypeObject) || b.Has(TypeObject) {
		byName := make(map[string]*Property)
		for _, src := range [][]*Property{a.Properties, b.Properties} {
			for _, p := range src {
				if cur, ok := byName[p.Name]; ok {
					cur.Schema = Merge(cur.Schema, p.Schema)
					cur.seen += p.seen
					continue
				}
				np := &Property{Name: p.Name, Schema: clone(p.Schema), seen: p.seen}
				byName[p.Name] = np
				out.Properties = append(out.Properties, np)
			}
		}
	}
	return out
}

func clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Types:   append([]Type(nil), n.Types...),
		Items:   clone(n.Items),
		objects: n.objects,
	}
	for _, p := range n.Properties {
		out.Properties = append(out.Properties, &Property{Name: p.Name, Schema: clone(p.Schema), seen: p.seen})
	}
	return out
}

func unionTypes(a, b []Type) []Type {
	set := make(map[Type]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		set[t] = struct{}{}
	}
	// number subsumes integer
	if _, ok := set[TypeNumber]; ok {
		delete(set, TypeInteger)
	}
	out := make([]Type, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return typeRank[out[i]] < typeRank[out[j]] })
	return out
}
