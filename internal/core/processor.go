package core

import (
	"context"
	"time"
)

// Enumerator lists the live resources of an external collection. The scope is
// adapter specific and may be empty.
type Enumerator interface {
	List(ctx context.Context, scope string) ([]Resource, error)
}

// Remover deletes one resource from the external collection. Implementations
// return an error wrapping ErrNotFound when the resource is already gone.
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// KeyExtractor derives a grouping key from a resource. It must be pure and
// deterministic.
type KeyExtractor interface {
	Name() string
	Key(r Resource) (Key, error)
}

// SelectionPolicy picks the single survivor of a group.
type SelectionPolicy interface {
	Name() string
	SelectSurvivor(g Group) (Resource, error)
}

// Predicate selects resources for removal independently of grouping.
type Predicate interface {
	Name() string
	Match(r Resource) (bool, error)
}

// TriggerEvent represents a trigger firing
type TriggerEvent struct {
	Job       string
	Timestamp time.Time
}

// TriggerProcessor defines when a job runs
type TriggerProcessor interface {
	Name() string
	Validate() error
	// Start begins the trigger and returns a channel of trigger events.
	// The channel is closed once ctx is done or Stop is called.
	Start(ctx context.Context, job string) (<-chan TriggerEvent, error)
	Stop() error
}

// OutputProcessor delivers a finished run somewhere (email, webhook...).
type OutputProcessor interface {
	Name() string
	Validate() error
	Deliver(ctx context.Context, run *Run) error
}
