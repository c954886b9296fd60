package core

import (
	"fmt"
	"time"
)

// Snapshot is an immutable, ordered capture of the resource collection. Its
// order defines "first occurrence" for grouping and survivor selection.
type Snapshot struct {
	scope      string
	capturedAt time.Time
	resources  []Resource
	index      map[string]int
}

// NewSnapshot copies resources into a new Snapshot. Resource ids must be
// non-empty and unique.
func NewSnapshot(scope string, capturedAt time.Time, resources []Resource) (*Snapshot, error) {
	s := &Snapshot{
		scope:      scope,
		capturedAt: capturedAt,
		resources:  make([]Resource, 0, len(resources)),
		index:      make(map[string]int, len(resources)),
	}
	for i, r := range resources {
		if r.ID == "" {
			return nil, fmt.Errorf("resource %d: id is required", i)
		}
		if _, dup := s.index[r.ID]; dup {
			return nil, fmt.Errorf("resource %d: duplicate id %q", i, r.ID)
		}
		s.index[r.ID] = len(s.resources)
		s.resources = append(s.resources, r.clone())
	}
	return s, nil
}

func (s *Snapshot) Scope() string         { return s.scope }
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.resources)
}

// At returns a copy of the i-th resource.
func (s *Snapshot) At(i int) Resource {
	return s.resources[i].clone()
}

// Get returns the resource with the given id.
func (s *Snapshot) Get(id string) (Resource, bool) {
	if s == nil {
		return Resource{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Resource{}, false
	}
	return s.resources[i].clone(), true
}

// Resources returns a copy of all resources in snapshot order.
func (s *Snapshot) Resources() []Resource {
	if s == nil {
		return nil
	}
	out := make([]Resource, len(s.resources))
	for i, r := range s.resources {
		out[i] = r.clone()
	}
	return out
}
