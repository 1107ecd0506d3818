// Package economy holds the pure per-tick calculators: resource production
// from extractors (tile quality, biome, level tier, health, disasters) and
// population dynamics (capacity, happiness, growth, starvation).
package economy

import (
	"math"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// baseRates are per-resource output constants per tick at quality 100,
// tier band 1, full health, no disasters.
var baseRates = map[world.Resource]float64{
	world.ResourceFood:  0.2,
	world.ResourceWater: 0.25,
	world.ResourceWood:  0.15,
	world.ResourceStone: 0.1,
	world.ResourceOre:   0.05,
}

// BaseRate returns the per-tick base rate for a resource.
func BaseRate(r world.Resource) float64 { return baseRates[r] }

// HealthEffectiveness maps structure health to a production multiplier.
// Step function; nil health is treated as 100.
func HealthEffectiveness(health *float64) float64 {
	if health == nil {
		return 1.0
	}
	h := *health
	switch {
	case h >= 95:
		return 1.0
	case h >= 80:
		return 0.95
	case h >= 60:
		return 0.85
	case h >= 40:
		return 0.70
	case h >= 20:
		return 0.50
	case h >= 1:
		return 0.10
	default:
		return 0.0
	}
}

// TierMultiplier maps structure level bands to output multipliers.
// Step function over bands, not linear in level.
func TierMultiplier(level int) float64 {
	switch {
	case level >= 10:
		return 40.0
	case level >= 7:
		return 20.0
	case level >= 4:
		return 10.0
	default:
		return 5.0
	}
}

// DisasterModifier multiplies (1 − severityImpact · (1 − resistance)) over
// every active disaster that affects r. Stacks multiplicatively with a floor
// of 0.1. Returns exactly 1.0 when nothing affects r.
func DisasterModifier(active []*disaster.Event, r world.Resource, resistance float64) float64 {
	if resistance < 0 {
		resistance = 0
	}
	if resistance > 1 {
		resistance = 1
	}

	mod := 1.0
	for _, d := range active {
		if !d.InImpact() && d.Status != disaster.StatusAftermath {
			continue
		}
		if !d.Type.Affects(r) {
			continue
		}
		mod *= 1 - d.SeverityLevel.Impact()*(1-resistance)
	}
	if mod < 0.1 {
		return 0.1
	}
	return mod
}

// Extractor is one production input: a built extractor joined with its tile.
type Extractor struct {
	Subtype      settlement.Subtype
	Extracts     world.Resource
	Level        int
	Health       *float64
	TileQuality  float64 // Tile quality for the extracted resource, 0..100
	BiomeEff     float64 // Biome modifier for the extracted resource
	TileBaseMod  float64 // Tile.BaseProductionModifier, (0, 1]
}

// Produce computes per-resource output for one settlement over `ticks` ticks.
// Only the highest-level extractor of each extractor subtype contributes;
// on a level tie the first listed wins.
func Produce(extractors []Extractor, active []*disaster.Event, resistance float64, ticks, worldMul float64) map[world.Resource]float64 {
	best := make(map[settlement.Subtype]Extractor)
	for _, e := range extractors {
		cur, ok := best[e.Subtype]
		if !ok || e.Level > cur.Level {
			best[e.Subtype] = e
		}
	}

	out := make(map[world.Resource]float64)
	for _, e := range best {
		r := e.Extracts
		amount := baseRates[r] *
			e.TileQuality / 100.0 *
			e.BiomeEff *
			TierMultiplier(e.Level) *
			HealthEffectiveness(e.Health) *
			DisasterModifier(active, r, resistance) *
			e.TileBaseMod *
			ticks *
			worldMul
		if amount > 0 {
			out[r] += amount
		}
	}
	return out
}

// ApplyToStorage adds produced amounts to storage subject to capacity,
// returning the integer credit applied and any overflow dropped as waste.
// Fractional remainders are returned for the caller to carry between ticks.
func ApplyToStorage(storage map[world.Resource]int, produced map[world.Resource]float64, capacity int) (credited, wasted map[world.Resource]int, remainder map[world.Resource]float64) {
	credited = make(map[world.Resource]int)
	wasted = make(map[world.Resource]int)
	remainder = make(map[world.Resource]float64)

	for r, amount := range produced {
		whole := int(math.Floor(amount))
		remainder[r] = amount - float64(whole)
		if whole <= 0 {
			continue
		}
		room := capacity - storage[r]
		if room < 0 {
			room = 0
		}
		credit := whole
		if credit > room {
			wasted[r] = credit - room
			credit = room
		}
		if credit > 0 {
			storage[r] += credit
			credited[r] = credit
		}
	}
	return credited, wasted, remainder
}
