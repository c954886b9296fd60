// Package grouping partitions a snapshot into ordered groups of resources that
// share a key.
package grouping

import (
	"fmt"

	"github.com/bakkerme/culler/internal/core"
)

// DefaultMinSize keeps only actual duplicates.
const DefaultMinSize = 2

// Group makes a single ordered pass over the snapshot. Groups are ordered by
// the first appearance of their key and members keep snapshot order. Resources
// whose key cannot be extracted are left out and reported as errors.
func Group(snapshot *core.Snapshot, extractor core.KeyExtractor) ([]core.Group, []core.ItemError) {
	if snapshot == nil || extractor == nil {
		return nil, nil
	}
	var (
		groups []core.Group
		errs   []core.ItemError
		index  = map[core.Key]int{}
	)
	for i := 0; i < snapshot.Len(); i++ {
		r := snapshot.At(i)
		key, err := extractKey(extractor, r)
		if err != nil {
			errs = append(errs, core.ItemError{ID: r.ID, Phase: core.PhaseKeyExtraction, Reason: err.Error()})
			continue
		}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, core.Group{Key: key})
		}
		groups[pos].Members = append(groups[pos].Members, r)
	}
	return groups, errs
}

// SelectGroups keeps groups with at least minSize members. Values below
// DefaultMinSize fall back to it.
func SelectGroups(groups []core.Group, minSize int) []core.Group {
	if minSize < DefaultMinSize {
		minSize = DefaultMinSize
	}
	out := make([]core.Group, 0, len(groups))
	for _, g := range groups {
		if g.Len() >= minSize {
			out = append(out, g)
		}
	}
	return out
}

func extractKey(extractor core.KeyExtractor, r core.Resource) (key core.Key, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("extractor %s panicked: %v", extractor.Name(), p)
		}
	}()
	return extractor.Key(r)
}
