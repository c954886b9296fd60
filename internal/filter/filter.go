// Package filter selects resources for removal with a boolean predicate,
// independently of grouping.
package filter

import (
	"fmt"

	"github.com/bakkerme/culler/internal/core"
)

// Filter adds every resource matching predicate to the removal set. A resource
// whose predicate evaluation fails is excluded and reported; the pass continues.
func Filter(snapshot *core.Snapshot, predicate core.Predicate) (core.RemovalSet, []core.ItemError) {
	var (
		set  core.RemovalSet
		errs []core.ItemError
	)
	if snapshot == nil || predicate == nil {
		return set, nil
	}
	for i := 0; i < snapshot.Len(); i++ {
		r := snapshot.At(i)
		matched, err := evaluate(predicate, r)
		if err != nil {
			errs = append(errs, core.ItemError{ID: r.ID, Phase: core.PhasePredicate, Reason: err.Error()})
			continue
		}
		if matched {
			set.Add(r.ID)
		}
	}
	return set, errs
}

func evaluate(predicate core.Predicate, r core.Resource) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("predicate %s panicked: %v", predicate.Name(), p)
		}
	}()
	return predicate.Match(r)
}

type funcPredicate struct {
	name string
	fn   func(core.Resource) (bool, error)
}

func (p funcPredicate) Name() string { return p.name }

func (p funcPredicate) Match(r core.Resource) (bool, error) {
	return p.fn(r)
}

// Func adapts a plain function into a Predicate.
func Func(name string, fn func(core.Resource) (bool, error)) core.Predicate {
	return funcPredicate{name: name, fn: fn}
}
