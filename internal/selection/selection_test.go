package selection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakkerme/culler/internal/core"
)

func group(key core.Key, members ...core.Resource) core.Group {
	return core.Group{Key: key, Members: members}
}

func TestFirstScenarioA(t *testing.T) {
	plans, set, err := Plan([]core.Group{group("a", core.Resource{ID: "id1"}, core.Resource{ID: "id2"})}, First())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "id1", plans[0].Survivor.ID)
	assert.Equal(t, []string{"id2"}, set.IDs())
}

func TestMostRecentBreaksTiesByOrder(t *testing.T) {
	now := time.Now()
	g := group("k",
		core.Resource{ID: "old", LastUsedAt: now.Add(-time.Hour)},
		core.Resource{ID: "new1", LastUsedAt: now},
		core.Resource{ID: "new2", LastUsedAt: now},
	)
	survivor, err := MostRecent().SelectSurvivor(g)
	require.NoError(t, err)
	assert.Equal(t, "new1", survivor.ID)
}

func TestPriorityRanksMissingLowest(t *testing.T) {
	g := group("k",
		core.Resource{ID: "none"},
		core.Resource{ID: "bad", Attributes: map[string]string{"prio": "high"}},
		core.Resource{ID: "two", Attributes: map[string]string{"prio": "2"}},
		core.Resource{ID: "nine", Attributes: map[string]string{"prio": "9"}},
		core.Resource{ID: "nine-again", Attributes: map[string]string{"prio": "9"}},
	)
	survivor, err := Priority("prio").SelectSurvivor(g)
	require.NoError(t, err)
	assert.Equal(t, "nine", survivor.ID)

	survivor, err = Priority("prio").SelectSurvivor(group("k", core.Resource{ID: "x"}, core.Resource{ID: "y"}))
	require.NoError(t, err)
	assert.Equal(t, "x", survivor.ID)
}

func TestEmptyGroupIsGuarded(t *testing.T) {
	for _, p := range []core.SelectionPolicy{First(), MostRecent(), Priority("p")} {
		_, err := p.SelectSurvivor(core.Group{Key: "empty"})
		assert.True(t, errors.Is(err, core.ErrEmptyGroup), p.Name())
	}
	_, _, err := Plan([]core.Group{{Key: "empty"}}, First())
	assert.ErrorIs(t, err, core.ErrEmptyGroup)
}

type rogue struct{}

func (rogue) Name() string { return "rogue" }
func (rogue) SelectSurvivor(core.Group) (core.Resource, error) {
	return core.Resource{ID: "stranger"}, nil
}

func TestPlanRejectsSurvivorOutsideGroup(t *testing.T) {
	_, _, err := Plan([]core.Group{group("a", core.Resource{ID: "1"}, core.Resource{ID: "2"})}, rogue{})
	assert.ErrorIs(t, err, core.ErrInvariant)
}

func TestPlanRemovesMemberCountMinusOne(t *testing.T) {
	groups := []core.Group{
		group("a", core.Resource{ID: "1"}, core.Resource{ID: "2"}, core.Resource{ID: "3"}),
		group("b", core.Resource{ID: "4"}, core.Resource{ID: "5"}),
	}
	plans, set, err := Plan(groups, MostRecent())
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	for i, p := range plans {
		assert.Len(t, p.Remove, groups[i].Len()-1)
		assert.False(t, set.Has(p.Survivor.ID))
	}
	assert.Equal(t, []string{"1", "4"}, Survivors(plans))
}

func TestParse(t *testing.T) {
	for spec, want := range map[string]string{"": "first", "first": "first", "most_recent": "most_recent", "priority:rank": "priority:rank"} {
		p, err := Parse(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, p.Name())
	}
	_, err := Parse("priority:")
	assert.Error(t, err)
	_, err = Parse("random")
	assert.Error(t, err)
}
