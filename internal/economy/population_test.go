package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

func TestCapacity(t *testing.T) {
	assert.Equal(t, 10, Capacity(settlement.TierOutpost, 0))
	assert.Equal(t, 15, Capacity(settlement.TierOutpost, 5))
	assert.Equal(t, 25, Capacity(settlement.TierVillage, 0))
	assert.Equal(t, 50, Capacity(settlement.TierTown, 0))
	assert.Equal(t, 100, Capacity(settlement.TierCity, 0))
	assert.Equal(t, 0, Capacity(settlement.TierOutpost, -50))
}

func TestNextHappiness(t *testing.T) {
	cases := []struct {
		name    string
		current int
		in      HappinessInputs
		want    int
	}{
		{"stable", 50, HappinessInputs{}, 50},
		{"food shortage", 50, HappinessInputs{FoodShort: true}, 47},
		{"both shortages and trauma", 50, HappinessInputs{FoodShort: true, WaterShort: true, TraumaActive: true}, 42},
		{"surplus", 50, HappinessInputs{Surplus: true}, 51},
		{"amenities pull toward ceiling", 75, HappinessInputs{AmenityBonus: 10}, 76},
		{"amenities stop at ceiling", 80, HappinessInputs{AmenityBonus: 10}, 80},
		{"floor", 2, HappinessInputs{FoodShort: true, WaterShort: true}, 0},
		{"cap", 100, HappinessInputs{Surplus: true}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextHappiness(tc.current, tc.in))
		})
	}
}

func TestGrowthPerHour(t *testing.T) {
	assert.Equal(t, 0.0, GrowthPerHour(70))
	assert.Equal(t, 1.0, GrowthPerHour(80))
	assert.Equal(t, 3.0, GrowthPerHour(100))
	assert.Equal(t, 0.0, GrowthPerHour(50))
	assert.Equal(t, 0.0, GrowthPerHour(40))
	assert.InDelta(t, -0.1, GrowthPerHour(39), 1e-9)
	assert.Equal(t, -2.0, GrowthPerHour(20))
	assert.Equal(t, -4.0, GrowthPerHour(0))
}

func TestGrowDecay(t *testing.T) {
	// Growth capped at capacity.
	next, delta := GrowDecay(10, 80, 12, 3)
	assert.Equal(t, 12, next)
	assert.Equal(t, 2, delta)

	// Partial hours floor to whole people.
	next, delta = GrowDecay(10, 80, 100, 2.5)
	assert.Equal(t, 12, next)
	assert.Equal(t, 2, delta)

	// Emigration never goes below zero.
	next, delta = GrowDecay(5, 20, 100, 3)
	assert.Equal(t, 0, next)
	assert.Equal(t, -5, delta)
}

func TestStarvationCasualties(t *testing.T) {
	assert.Equal(t, 0, StarvationCasualties(100, 50))
	assert.Equal(t, 0, StarvationCasualties(0, 0))

	// Total famine loses a quarter of the population.
	assert.Equal(t, 25, StarvationCasualties(0, 100))

	// Half the need covered loses proportionally fewer.
	assert.Equal(t, 13, StarvationCasualties(50, 100))

	// A deficit always costs at least one settler.
	assert.Equal(t, 1, StarvationCasualties(1, 2))
}

func TestShortageThreshold(t *testing.T) {
	assert.Equal(t, 10, ShortageThreshold(10))
	assert.Equal(t, 0, ShortageThreshold(0))
}

func TestConsumption(t *testing.T) {
	assert.Equal(t, 15.0, Consumption(10, 1.5, world.ResourceFood))
	assert.Equal(t, 10.0, Consumption(10, 1, world.ResourceWater))
	assert.Equal(t, 0.0, Consumption(10, 1, world.ResourceStone))
}
