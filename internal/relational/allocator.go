package relational

import (
	"strconv"
	"strings"
)

// IDAllocator hands out hierarchical synthetic identifiers for one run.
//
// Counters are keyed by path segment name and start at zero. An allocator is
// not safe for concurrent use; each run owns its own instance.
type IDAllocator struct {
	counters map[string]int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{counters: make(map[string]int)}
}

// ParentUID advances the counter of every segment in the dotted path and
// joins the values with dots. Two allocators that see the same calls in the
// same order return the same identifiers.
func (a *IDAllocator) ParentUID(path string) string {
	return a.SegmentsUID(strings.Split(path, "."))
}

// SegmentsUID is ParentUID for a path already split into property names,
// which may contain dots.
func (a *IDAllocator) SegmentsUID(segs []string) string {
	if a.counters == nil {
		a.counters = make(map[string]int)
	}
	parts := make([]string, len(segs))
	for i, seg := range segs {
		n, seen := a.counters[seg]
		if seen {
			n++
		}
		a.counters[seg] = n
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Reset clears all counters.
func (a *IDAllocator) Reset() {
	a.counters = make(map[string]int)
}

// RowUID is the uid of element idx under parentUID, or the bare index at top level.
func RowUID(parentUID string, idx int) string {
	if parentUID == "" {
		return strconv.Itoa(idx)
	}
	return parentUID + "." + strconv.Itoa(idx)
}
