// Population dynamics: capacity from housing, happiness from supply and
// trauma, growth and emigration from happiness, starvation from food deficit.
package economy

import (
	"math"

	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// Per-capita hourly consumption in resource units.
const (
	FoodPerCapitaHour  = 1.0
	WaterPerCapitaHour = 1.0
)

// Capacity is the population cap: tier baseline plus housing modifiers.
func Capacity(tier settlement.Tier, capacityModifier float64) int {
	c := tier.CapacityBaseline() + int(capacityModifier)
	if c < 0 {
		return 0
	}
	return c
}

// HappinessInputs are the per-tick morale drivers.
type HappinessInputs struct {
	FoodShort    bool    // Food below per-capita threshold
	WaterShort   bool    // Water below per-capita threshold
	Surplus      bool    // Both resources above 2× threshold
	AmenityBonus float64 // happiness_bonus modifier aggregate
	TraumaActive bool    // A disaster hit within the trauma window
}

// NextHappiness steps happiness toward its drivers, clamped to [0, 100].
func NextHappiness(current int, in HappinessInputs) int {
	h := current
	if in.FoodShort {
		h -= 3
	}
	if in.WaterShort {
		h -= 3
	}
	if in.Surplus {
		h += 1
	}
	if in.TraumaActive {
		h -= 2
	}
	// Amenities pull happiness up toward a ceiling scaled by the bonus.
	if bonus := int(in.AmenityBonus); bonus > 0 && h < 70+bonus {
		h++
	}
	if h < 0 {
		return 0
	}
	if h > 100 {
		return 100
	}
	return h
}

// GrowthPerHour returns the signed people/hour rate for a happiness value:
// ≥70 grows, 40–70 holds, <40 emigrates.
func GrowthPerHour(happiness int) float64 {
	switch {
	case happiness >= 70:
		return float64(happiness-70) / 10.0
	case happiness < 40:
		return -float64(40-happiness) / 10.0
	default:
		return 0
	}
}

// GrowDecay applies `hours` of growth at the given happiness, capped at
// capacity. Returns the new population and the whole-person delta.
func GrowDecay(current int, happiness int, capacity int, hours float64) (next, delta int) {
	raw := float64(current) + GrowthPerHour(happiness)*hours
	next = int(math.Floor(raw))
	if next > capacity {
		next = capacity
	}
	if next < 0 {
		next = 0
	}
	return next, next - current
}

// StarvationCasualties returns deaths for one hour of consumption when food
// cannot cover the population's need. Proportional to the deficit, capped at
// a quarter of the population.
func StarvationCasualties(foodAvailable, population int) int {
	if population <= 0 {
		return 0
	}
	need := float64(population) * FoodPerCapitaHour
	if float64(foodAvailable) >= need {
		return 0
	}
	deficit := need - float64(foodAvailable)
	casualties := int(math.Ceil(float64(population) * (deficit / need) * 0.25))
	if cap := population / 4; casualties > cap {
		casualties = cap
	}
	if casualties < 1 {
		casualties = 1
	}
	return casualties
}

// ShortageThreshold is the stock level under which a resource counts short:
// one hour of consumption for the whole population.
func ShortageThreshold(population int) int {
	return int(math.Ceil(float64(population) * FoodPerCapitaHour))
}

// Consumption returns the units of a resource consumed by `population` over
// `hours`. Food and water share the same per-capita rate.
func Consumption(population int, hours float64, r world.Resource) float64 {
	switch r {
	case world.ResourceFood:
		return float64(population) * FoodPerCapitaHour * hours
	case world.ResourceWater:
		return float64(population) * WaterPerCapitaHour * hours
	default:
		return 0
	}
}
