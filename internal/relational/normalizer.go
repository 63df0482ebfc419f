package relational

import (
	"errors"
	"fmt"
	"strconv"

	"jsonrel/internal/jsonvalue"
)

// DefaultMaxDepth bounds entity nesting during normalization.
const DefaultMaxDepth = 512

// ErrTooDeep is returned when entities nest deeper than the configured limit.
var ErrTooDeep = errors.New("relational: document nested too deeply")

// Attr is one named value on an entity record.
type Attr struct {
	Name  string
	Value jsonvalue.Value
}

// ParentRef points at the parent row of a record. The zero value means "no parent".
type ParentRef struct {
	Entity string
	UID    string
}

// EntityRecord is one flattened object. Records are complete when appended
// to a buffer and never change afterwards.
type EntityRecord struct {
	Entity string
	UID    string
	Parent ParentRef
	// Links holds the synthetic *_uid attributes tying the record to its
	// parent and singleton children.
	Links []Attr
	// Attrs holds source attributes in document order.
	Attrs []Attr
}

// RelationshipEdge is one parent/child pairing between entities.
type RelationshipEdge struct {
	Parent     string `json:"parent" yaml:"parent"`
	Child      string `json:"child" yaml:"child"`
	ForeignKey string `json:"foreign_key" yaml:"foreign_key"`
}

// Normalizer walks a document along table descriptors and fills per-entity
// record buffers plus an edge buffer.
type Normalizer struct {
	ids      *IDAllocator
	maxDepth int

	order   []string
	buffers map[string][]EntityRecord
	uids    map[string]map[string]struct{}
	edges   []RelationshipEdge
	skipped int
}

// NewNormalizer builds a Normalizer drawing descriptor uids from ids.
// maxDepth <= 0 selects DefaultMaxDepth.
func NewNormalizer(ids *IDAllocator, maxDepth int) *Normalizer {
	if ids == nil {
		ids = NewIDAllocator()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	n := &Normalizer{ids: ids, maxDepth: maxDepth}
	n.Reset()
	return n
}

// Reset drops buffered records and edges. The allocator is left alone.
func (n *Normalizer) Reset() {
	n.order = nil
	n.buffers = make(map[string][]EntityRecord)
	n.uids = make(map[string]map[string]struct{})
	n.edges = nil
	n.skipped = 0
}

// Normalize processes every descriptor in order.
func (n *Normalizer) Normalize(doc jsonvalue.Value, descs []TableDescriptor) error {
	for _, d := range descs {
		if err := n.normalizeDescriptor(doc, d); err != nil {
			return err
		}
	}
	return nil
}

// Entities returns entity names in discovery order.
func (n *Normalizer) Entities() []string { return n.order }

// Records returns the buffer for entity.
func (n *Normalizer) Records(entity string) []EntityRecord { return n.buffers[entity] }

// Edges returns every edge seen, duplicates included.
func (n *Normalizer) Edges() []RelationshipEdge { return n.edges }

// Skipped counts non-object elements met inside entity arrays.
func (n *Normalizer) Skipped() int { return n.skipped }

func (n *Normalizer) normalizeDescriptor(doc jsonvalue.Value, d TableDescriptor) error {
	if !d.IsEntity {
		return nil
	}
	segs := d.Segments
	cur := navigate(doc, segs)
	if cur.Kind() != jsonvalue.Array {
		return nil
	}

	var parent ParentRef
	if len(segs) > 1 {
		parent = ParentRef{
			Entity: segs[len(segs)-2],
			UID:    n.ids.SegmentsUID(segs[:len(segs)-1]),
		}
	}
	for idx, elem := range cur.Elems() {
		if elem.Kind() != jsonvalue.Object {
			n.skipped++
			continue
		}
		uid := n.claim(d.Name, RowUID(parent.UID, idx))
		if err := n.store(d.Name, elem, uid, parent, 0); err != nil {
			return err
		}
	}
	return nil
}

// navigate follows segs into objects by key, stepping into the first element
// of any list met on the way. Dead ends resolve to an empty object.
func navigate(doc jsonvalue.Value, segs []string) jsonvalue.Value {
	cur := doc
	for _, seg := range segs {
		if cur.Kind() == jsonvalue.Array {
			elems := cur.Elems()
			if len(elems) == 0 {
				return jsonvalue.ObjectValue()
			}
			cur = elems[0]
		}
		next, ok := cur.Get(seg)
		if !ok {
			return jsonvalue.ObjectValue()
		}
		cur = next
	}
	return cur
}

// claim reserves uid within entity, suffixing "~n" on collision. Collisions
// occur when two descriptor paths share an entity name and their parent
// segments sit at the same counter values, or when same-named children hang
// off parents of different entities that share a uid.
func (n *Normalizer) claim(entity, uid string) string {
	seen := n.uids[entity]
	if seen == nil {
		seen = make(map[string]struct{})
		n.uids[entity] = seen
	}
	out := uid
	for i := 2; ; i++ {
		if _, dup := seen[out]; !dup {
			break
		}
		out = uid + "~" + strconv.Itoa(i)
	}
	seen[out] = struct{}{}
	return out
}

// store appends one record for obj and recurses into its children. uid must
// already be claimed within name.
func (n *Normalizer) store(name string, obj jsonvalue.Value, uid string, parent ParentRef, depth int) error {
	if depth > n.maxDepth {
		return fmt.Errorf("%w: entity %q at uid %s exceeds depth %d", ErrTooDeep, name, uid, n.maxDepth)
	}
	if _, ok := n.buffers[name]; !ok {
		n.order = append(n.order, name)
		n.buffers[name] = nil
	}

	rec := EntityRecord{Entity: name, UID: uid, Parent: parent}
	if parent.UID != "" {
		rec.Links = append(rec.Links, Attr{Name: "parent_" + parent.Entity + "_uid", Value: jsonvalue.StringValue(parent.UID)})
		n.edges = append(n.edges, RelationshipEdge{Parent: parent.Entity, Child: name, ForeignKey: parent.Entity + "_uid"})
	}
	members := obj.Members()
	// Singleton children are claimed up front so the link matches their uid.
	singleton := make([]string, len(members))
	for i, m := range members {
		switch {
		case m.Value.Kind() == jsonvalue.Object:
			singleton[i] = n.claim(m.Key, uid+"."+m.Key)
			rec.Links = append(rec.Links, Attr{Name: m.Key + "_uid", Value: jsonvalue.StringValue(singleton[i])})
		case m.Value.Kind() == jsonvalue.Array:
			if !isObjectList(m.Value) {
				rec.Attrs = append(rec.Attrs, Attr{Name: m.Key, Value: jsonvalue.StringValue(m.Value.JSON())})
			}
		default:
			rec.Attrs = append(rec.Attrs, Attr{Name: m.Key, Value: m.Value})
		}
	}
	n.buffers[name] = append(n.buffers[name], rec)

	self := ParentRef{Entity: name, UID: uid}
	for i, m := range members {
		switch {
		case m.Value.Kind() == jsonvalue.Object:
			if err := n.store(m.Key, m.Value, singleton[i], self, depth+1); err != nil {
				return err
			}
		case isObjectList(m.Value):
			for j, elem := range m.Value.Elems() {
				childUID := n.claim(m.Key, uid+"."+m.Key+"."+strconv.Itoa(j))
				if err := n.store(m.Key, elem, childUID, self, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// isObjectList reports whether v is a non-empty list made only of objects.
func isObjectList(v jsonvalue.Value) bool {
	if v.Kind() != jsonvalue.Array || v.Len() == 0 {
		return false
	}
	for _, e := range v.Elems() {
		if e.Kind() != jsonvalue.Object {
			return false
		}
	}
	return true
}
