// Package snapshot captures the resource collection once per run and persists
// captures as JSON for offline inspection and replay.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/bakkerme/culler/internal/core"
)

// Filter narrows what a capture contains. Scope is handed to the enumerator;
// Match is a glob applied to each resource location.
type Filter struct {
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Match string `json:"match,omitempty" yaml:"match,omitempty"`
}

func (f Filter) matcher() (glob.Glob, error) {
	if f.Match == "" {
		return nil, nil
	}
	g, err := glob.Compile(f.Match)
	if err != nil {
		return nil, fmt.Errorf("failed to compile match pattern %q: %w", f.Match, err)
	}
	return g, nil
}

func matchLocations(resources []core.Resource, matcher glob.Glob) []core.Resource {
	if matcher == nil {
		return resources
	}
	kept := resources[:0:0]
	for _, r := range resources {
		if matcher.Match(r.Location) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Capture enumerates the collection and freezes it into a Snapshot. Any
// enumeration failure is reported as core.ErrSnapshotUnavailable and no
// partial snapshot is returned.
func Capture(ctx context.Context, enumerator core.Enumerator, filter Filter) (*core.Snapshot, error) {
	if enumerator == nil {
		return nil, fmt.Errorf("enumerator is required")
	}
	matcher, err := filter.matcher()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resources, err := enumerator.List(ctx, filter.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSnapshotUnavailable, err)
	}
	snap, err := core.NewSnapshot(filter.Scope, time.Now().UTC(), matchLocations(resources, matcher))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSnapshotUnavailable, err)
	}
	return snap, nil
}

// Narrow applies filter to a snapshot captured earlier, keeping the resources
// a fresh Capture with the same filter would have enumerated. A resource
// passes the scope test when the snapshot was captured under filter.Scope or
// the resource itself carries that scope. Capture order is preserved.
func Narrow(snap *core.Snapshot, filter Filter) (*core.Snapshot, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	if filter == (Filter{}) {
		return snap, nil
	}
	matcher, err := filter.matcher()
	if err != nil {
		return nil, err
	}

	resources := snap.Resources()
	scope := snap.Scope()
	if filter.Scope != "" && filter.Scope != scope {
		kept := resources[:0:0]
		for _, r := range resources {
			if r.Scope == filter.Scope {
				kept = append(kept, r)
			}
		}
		resources = kept
		scope = filter.Scope
	}
	return core.NewSnapshot(scope, snap.CapturedAt(), matchLocations(resources, matcher))
}
