package selection

import (
	"fmt"

	"github.com/bakkerme/culler/internal/core"
)

// Plan applies policy to every group. It returns one GroupPlan per group and the
// union of all ids marked for removal. Survivors never enter the removal set.
func Plan(groups []core.Group, policy core.SelectionPolicy) ([]core.GroupPlan, core.RemovalSet, error) {
	if policy == nil {
		policy = First()
	}
	plans := make([]core.GroupPlan, 0, len(groups))
	var set core.RemovalSet
	for _, g := range groups {
		survivor, err := policy.SelectSurvivor(g)
		if err != nil {
			return nil, core.RemovalSet{}, err
		}
		if !g.Has(survivor.ID) {
			return nil, core.RemovalSet{}, fmt.Errorf("policy %s chose %q outside group %q: %w", policy.Name(), survivor.ID, g.Key.String(), core.ErrInvariant)
		}
		plan := core.GroupPlan{Key: g.Key, Survivor: survivor}
		for _, m := range g.Members {
			if m.ID == survivor.ID {
				continue
			}
			plan.Remove = append(plan.Remove, m.ID)
			set.Add(m.ID)
		}
		plans = append(plans, plan)
	}
	return plans, set, nil
}

// Survivors returns the survivor ids of a plan.
func Survivors(plans []core.GroupPlan) []string {
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.Survivor.ID)
	}
	return ids
}
