// Package grouping partitions archives by the uploader that stored them and
// orders the resulting groups for evaluation.
package grouping

import (
	"fmt"
	"slices"
	"strings"

	"github.com/storacha/linkdex/pkg/store"
)

// GroupKey returns the ownership group of an archive key: everything up to
// and including the final "/". For raw/<root>/<uploader>/<file>.car this is
// raw/<root>/<uploader>/.
func GroupKey(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i+1]
}

// Group is a set of archives stored by one uploader.
type Group struct {
	Key     string
	Objects []store.Object
}

// Size is the total size in bytes of the group's archives.
func (g Group) Size() int64 {
	var n int64
	for _, o := range g.Objects {
		n += o.Size
	}
	return n
}

// Partition groups objects by [GroupKey]. Groups appear in the order their
// first member appears in objects, and members keep their relative order.
func Partition(objects []store.Object) []Group {
	var groups []Group
	pos := map[string]int{}
	for _, o := range objects {
		k := GroupKey(o.Key)
		i, ok := pos[k]
		if !ok {
			i = len(groups)
			pos[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Objects = append(groups[i].Objects, o)
	}
	return groups
}

// Comparator orders groups; a negative result puts a first.
type Comparator func(a, b Group) int

// ByCount puts groups with more archives first.
func ByCount(a, b Group) int {
	return len(b.Objects) - len(a.Objects)
}

// BySize puts groups with more total bytes first.
func BySize(a, b Group) int {
	sa, sb := a.Size(), b.Size()
	switch {
	case sa > sb:
		return -1
	case sa < sb:
		return 1
	}
	return 0
}

// Sort orders groups in place with cmp. Ties keep their existing order.
func Sort(groups []Group, cmp Comparator) {
	slices.SortStableFunc(groups, cmp)
}

// ParseOrder returns the comparator named by s, "count" or "size".
func ParseOrder(s string) (Comparator, error) {
	switch s {
	case "", "count":
		return ByCount, nil
	case "size":
		return BySize, nil
	}
	return nil, fmt.Errorf("unknown group order %q", s)
}
