package modifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/settlement"
)

func TestRuleValue(t *testing.T) {
	linear := Rule{Kind: FormulaLinear, Base: 5}
	assert.Equal(t, 5.0, linear.Value(1))
	assert.Equal(t, 15.0, linear.Value(3))
	// Levels below one clamp to one.
	assert.Equal(t, 5.0, linear.Value(0))

	exp := Rule{Kind: FormulaExponential, Base: 50, Growth: 1.25}
	assert.InDelta(t, 50.0, exp.Value(1), 1e-9)
	assert.InDelta(t, 62.5, exp.Value(2), 1e-9)
	assert.InDelta(t, 78.125, exp.Value(3), 1e-9)

	dim := Rule{Kind: FormulaDiminishing, Base: 10, Decay: 0.7}
	assert.InDelta(t, 10.0, dim.Value(1), 1e-9)
	assert.InDelta(t, 17.0, dim.Value(2), 1e-9)
	// Diminishing values approach Base/(1-Decay).
	assert.Less(t, dim.Value(50), 10.0/0.3+1e-6)
}

func TestRulesFor(t *testing.T) {
	house := RulesFor(settlement.SubtypeHouse)
	require.Len(t, house, 1)
	assert.Equal(t, settlement.ModPopulationCapacity, house[0].Modifier)

	townHall := RulesFor(settlement.SubtypeTownHall)
	assert.Len(t, townHall, 2)

	assert.Empty(t, RulesFor(settlement.SubtypeMine))
}

func TestAggregate(t *testing.T) {
	now := time.Now().UTC()
	structures := []*settlement.Structure{
		{ID: "h1", Subtype: settlement.SubtypeHouse, Level: 1, Health: 100},
		{ID: "h2", Subtype: settlement.SubtypeHouse, Level: 2, Health: 100},
		{ID: "th", Subtype: settlement.SubtypeTownHall, Level: 1, Health: 100},
		// Below the health threshold: contributes nothing.
		{ID: "sh", Subtype: settlement.SubtypeShelter, Level: 3, Health: 0.5},
	}

	mods := Aggregate("s1", structures, now)

	byType := make(map[settlement.ModifierType]*settlement.Modifier)
	for _, m := range mods {
		byType[m.Type] = m
	}

	pop := byType[settlement.ModPopulationCapacity]
	require.NotNil(t, pop)
	assert.Equal(t, 15.0, pop.TotalValue)
	assert.Equal(t, 2, pop.SourceCount)
	assert.Len(t, pop.Contributions, 2)
	assert.Equal(t, "s1", pop.SettlementID)

	storage := byType[settlement.ModStorageCapacity]
	require.NotNil(t, storage)
	assert.Equal(t, 50.0, storage.TotalValue)

	happiness := byType[settlement.ModHappinessBonus]
	require.NotNil(t, happiness)
	assert.Equal(t, 2.0, happiness.TotalValue)

	assert.Nil(t, byType[settlement.ModDisasterResistance], "damaged shelter must not contribute")

	// Output is sorted by type for deterministic persistence.
	for i := 1; i < len(mods); i++ {
		assert.Less(t, string(mods[i-1].Type), string(mods[i].Type))
	}
}

func TestValue(t *testing.T) {
	mods := []*settlement.Modifier{
		{Type: settlement.ModStorageCapacity, TotalValue: 250},
	}
	assert.Equal(t, 250.0, Value(mods, settlement.ModStorageCapacity))
	assert.Equal(t, 0.0, Value(mods, settlement.ModHappinessBonus))
	assert.Equal(t, 0.0, Value(nil, settlement.ModHappinessBonus))
}

func TestCheckPrerequisites(t *testing.T) {
	mine, ok := settlement.DefinitionFor(settlement.SubtypeMine)
	require.True(t, ok)

	t.Run("absent prerequisite", func(t *testing.T) {
		missing := CheckPrerequisites(mine, nil)
		require.Len(t, missing, 1)
		assert.Equal(t, settlement.SubtypeQuarry, missing[0].RequiredSubtype)
		assert.Equal(t, 2, missing[0].RequiredLevel)
		assert.Equal(t, 0, missing[0].CurrentLevel)
	})

	t.Run("underleveled prerequisite", func(t *testing.T) {
		structures := []*settlement.Structure{{Subtype: settlement.SubtypeQuarry, Level: 1, Health: 100}}
		missing := CheckPrerequisites(mine, structures)
		require.Len(t, missing, 1)
		assert.Equal(t, 1, missing[0].CurrentLevel)
	})

	t.Run("satisfied", func(t *testing.T) {
		structures := []*settlement.Structure{{Subtype: settlement.SubtypeQuarry, Level: 2, Health: 100}}
		assert.Empty(t, CheckPrerequisites(mine, structures))
	})
}

func TestTownHallLevel(t *testing.T) {
	assert.Equal(t, 0, TownHallLevel(nil))
	structures := []*settlement.Structure{
		{Subtype: settlement.SubtypeHouse, Level: 5},
		{Subtype: settlement.SubtypeTownHall, Level: 3},
	}
	assert.Equal(t, 3, TownHallLevel(structures))
}
