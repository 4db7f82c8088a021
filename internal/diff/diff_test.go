package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

func unitKey(id int64) catalog.EntityKey {
	return catalog.EntityKey{Type: extract.EntityUnit, ID: id}
}

func state(key catalog.EntityKey, name string, attrs extract.Attrs) catalog.EntityState {
	return catalog.EntityState{Key: key, Name: name, Attrs: attrs}
}

func TestCompareIdenticalStatesYieldsNoChanges(t *testing.T) {
	attrs := extract.Attrs{
		"name":             "Intercessor Squad",
		"base_points_cost": float64(100),
		"keywords":         []any{"infantry", "imperium"},
	}
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", attrs),
	}
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", attrs),
	}

	changes, err := Compare(prior, candidate)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestCompareModifiedField(t *testing.T) {
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", extract.Attrs{
			"name":             "Intercessor Squad",
			"base_points_cost": float64(100),
		}),
	}
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", extract.Attrs{
			"name":             "Intercessor Squad",
			"base_points_cost": float64(90),
		}),
	}

	changes, err := Compare(prior, candidate)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, catalog.ChangeModified, change.ChangeType)
	assert.Equal(t, "base_points_cost", change.FieldChanged)
	require.NotNil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "100", *change.OldValue)
	assert.Equal(t, "90", *change.NewValue)
}

func TestCompareAddedEntityEmitsFullAttributeSet(t *testing.T) {
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(7): state(unitKey(7), "Desolation Squad", extract.Attrs{
			"name":             "Desolation Squad",
			"base_points_cost": float64(125),
			"battlefield_role": "Heavy Support",
		}),
	}

	changes, err := Compare(nil, candidate)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	for _, change := range changes {
		assert.Equal(t, catalog.ChangeAdded, change.ChangeType)
		assert.Nil(t, change.OldValue)
		assert.NotNil(t, change.NewValue)
		assert.Equal(t, int64(7), change.EntityID)
	}
}

func TestCompareRemovedEntity(t *testing.T) {
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(3): state(unitKey(3), "Assault Squad", extract.Attrs{
			"name": "Assault Squad",
		}),
	}

	changes, err := Compare(prior, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, catalog.ChangeRemoved, changes[0].ChangeType)
	require.NotNil(t, changes[0].OldValue)
	assert.Equal(t, `"Assault Squad"`, *changes[0].OldValue)
	assert.Nil(t, changes[0].NewValue)
}

func TestCompareNullToValueIsModified(t *testing.T) {
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Terminator Squad", extract.Attrs{
			"name":             "Terminator Squad",
			"base_points_cost": nil,
		}),
	}
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Terminator Squad", extract.Attrs{
			"name":             "Terminator Squad",
			"base_points_cost": float64(180),
		}),
	}

	changes, err := Compare(prior, candidate)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, catalog.ChangeModified, changes[0].ChangeType)
	require.NotNil(t, changes[0].OldValue)
	assert.Equal(t, "null", *changes[0].OldValue)
	assert.Equal(t, "180", *changes[0].NewValue)
}

func TestCompareIsTypeAware(t *testing.T) {
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Librarian", extract.Attrs{"unit_size": float64(1)}),
	}
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Librarian", extract.Attrs{"unit_size": "1"}),
	}

	changes, err := Compare(prior, candidate)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "1", *changes[0].OldValue)
	assert.Equal(t, `"1"`, *changes[0].NewValue)
}

func TestCompareNestedLeafGranularity(t *testing.T) {
	prior := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", extract.Attrs{
			"name": "Intercessor Squad",
			"wargear_options": map[string]any{
				"chainsword":   map[string]any{"points_cost": float64(0), "is_default": true},
				"power_weapon": map[string]any{"points_cost": float64(10), "is_default": false},
			},
		}),
	}
	candidate := map[catalog.EntityKey]catalog.EntityState{
		unitKey(1): state(unitKey(1), "Intercessor Squad", extract.Attrs{
			"name": "Intercessor Squad",
			"wargear_options": map[string]any{
				"chainsword":   map[string]any{"points_cost": float64(0), "is_default": true},
				"power_weapon": map[string]any{"points_cost": float64(5), "is_default": false},
			},
		}),
	}

	changes, err := Compare(prior, candidate)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "wargear_options.power_weapon.points_cost", changes[0].FieldChanged)
	assert.Equal(t, "10", *changes[0].OldValue)
	assert.Equal(t, "5", *changes[0].NewValue)
}

func TestApplyReconstructsCandidate(t *testing.T) {
	oldAttrs := extract.Attrs{
		"name":             "Intercessor Squad",
		"base_points_cost": float64(100),
		"battlefield_role": "Troops",
		"abilities": map[string]any{
			"oath_of_moment": "re-roll hits",
		},
	}
	newAttrs := extract.Attrs{
		"name":             "Intercessor Squad",
		"base_points_cost": float64(90),
		"unit_size":        float64(5),
		"abilities": map[string]any{
			"oath_of_moment": "re-roll hits and wounds",
		},
	}

	key := unitKey(1)
	changes, err := Compare(
		map[catalog.EntityKey]catalog.EntityState{key: state(key, "Intercessor Squad", oldAttrs)},
		map[catalog.EntityKey]catalog.EntityState{key: state(key, "Intercessor Squad", newAttrs)},
	)
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	patched, err := Apply(oldAttrs, changes)
	require.NoError(t, err)

	wantLeaves, err := Flatten(newAttrs)
	require.NoError(t, err)
	gotLeaves, err := Flatten(patched)
	require.NoError(t, err)
	assert.Equal(t, wantLeaves, gotLeaves)
}

func TestCompareDeterministicOrder(t *testing.T) {
	candidate := map[catalog.EntityKey]catalog.EntityState{
		{Type: extract.EntityUnit, ID: 2}:    state(catalog.EntityKey{Type: extract.EntityUnit, ID: 2}, "B", extract.Attrs{"name": "B"}),
		{Type: extract.EntityFaction, ID: 9}: state(catalog.EntityKey{Type: extract.EntityFaction, ID: 9}, "A", extract.Attrs{"name": "A"}),
		{Type: extract.EntityUnit, ID: 1}:    state(catalog.EntityKey{Type: extract.EntityUnit, ID: 1}, "C", extract.Attrs{"name": "C"}),
	}

	first, err := Compare(nil, candidate)
	require.NoError(t, err)
	second, err := Compare(nil, candidate)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, extract.EntityFaction, first[0].EntityType)
	assert.Equal(t, int64(1), first[1].EntityID)
	assert.Equal(t, int64(2), first[2].EntityID)
}
