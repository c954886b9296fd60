// Package selection holds the survivor selection policies and turns selected
// groups into a removal plan.
package selection

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bakkerme/culler/internal/core"
)

type policy struct {
	name string
	pick func(members []core.Resource) int
}

func (p policy) Name() string { return p.name }

func (p policy) SelectSurvivor(g core.Group) (core.Resource, error) {
	if g.Len() == 0 {
		return core.Resource{}, fmt.Errorf("policy %s, key %q: %w", p.name, g.Key.String(), core.ErrEmptyGroup)
	}
	return g.Members[p.pick(g.Members)], nil
}

// First keeps the earliest member in snapshot order. It is the default policy.
func First() core.SelectionPolicy {
	return policy{name: "first", pick: func([]core.Resource) int { return 0 }}
}

// MostRecent keeps the member with the latest LastUsedAt; ties go to the earliest member.
func MostRecent() core.SelectionPolicy {
	return policy{name: "most_recent", pick: func(members []core.Resource) int {
		best := 0
		for i := 1; i < len(members); i++ {
			if members[i].LastUsedAt.After(members[best].LastUsedAt) {
				best = i
			}
		}
		return best
	}}
}

// Priority keeps the member with the highest numeric value of attribute.
// Missing or non-numeric values rank lowest; ties go to the earliest member.
func Priority(attribute string) core.SelectionPolicy {
	return policy{name: "priority:" + attribute, pick: func(members []core.Resource) int {
		best, bestScore, bestOK := 0, 0.0, false
		for i, m := range members {
			score, ok := numericAttr(m, attribute)
			if !ok {
				continue
			}
			if !bestOK || score > bestScore {
				best, bestScore, bestOK = i, score, true
			}
		}
		return best
	}}
}

// Parse builds a policy from its config name: "first", "most_recent" or "priority:<attr>".
// An empty name selects First.
func Parse(spec string) (core.SelectionPolicy, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "first":
		return First(), nil
	case spec == "most_recent" || spec == "most-recent":
		return MostRecent(), nil
	case strings.HasPrefix(spec, "priority:"):
		attr := strings.TrimSpace(strings.TrimPrefix(spec, "priority:"))
		if attr == "" {
			return nil, fmt.Errorf("priority policy requires an attribute")
		}
		return Priority(attr), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", spec)
	}
}

func numericAttr(r core.Resource, name string) (float64, bool) {
	raw, ok := r.Attr(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
