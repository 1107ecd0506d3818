// Biome-weighted disaster selection: 60% from the biome's high-risk bucket,
// 30% moderate, 10% low. Draws come from the seeded entropy source so
// scheduling is reproducible in tests.
package disaster

import (
	"github.com/havenworlds/haven-server/internal/entropy"
	"github.com/havenworlds/haven-server/internal/world"
)

type riskBuckets struct {
	high     []Type
	moderate []Type
	low      []Type
}

var biomeRisk = map[world.BiomeID]riskBuckets{
	world.BiomeGrassland: {
		high:     []Type{TypeDrought, TypeTornado, TypeLocustSwarm},
		moderate: []Type{TypeFlood, TypeWildfire, TypeHeatwave},
		low:      []Type{TypeEarthquake},
	},
	world.BiomeForest: {
		high:     []Type{TypeWildfire, TypeInsectPlague, TypeBlight},
		moderate: []Type{TypeFlood, TypeTornado, TypeDrought},
		low:      []Type{TypeEarthquake, TypeHeatwave},
	},
	world.BiomeDesert: {
		high:     []Type{TypeDrought, TypeSandstorm, TypeHeatwave, TypeLocustSwarm},
		moderate: []Type{TypeWildfire},
		low:      []Type{TypeFlood, TypeBlizzard},
	},
	world.BiomeMountain: {
		high:     []Type{TypeEarthquake, TypeAvalanche, TypeLandslide, TypeVolcano},
		moderate: []Type{TypeBlizzard, TypeWildfire},
		low:      []Type{TypeFlood, TypeTornado, TypeDrought},
	},
	world.BiomeTundra: {
		high:     []Type{TypeBlizzard, TypeAvalanche},
		moderate: []Type{TypeEarthquake},
		low:      []Type{TypeWildfire, TypeDrought, TypeHeatwave},
	},
	world.BiomeSwamp: {
		high:     []Type{TypeFlood, TypeInsectPlague, TypeBlight},
		moderate: []Type{TypeWildfire, TypeTornado},
		low:      []Type{TypeDrought, TypeEarthquake},
	},
	world.BiomeCoastal: {
		high:     []Type{TypeHurricane, TypeFlood},
		moderate: []Type{TypeEarthquake, TypeTornado, TypeWildfire},
		low:      []Type{TypeDrought, TypeBlizzard},
	},
	world.BiomeOcean: {
		moderate: []Type{TypeHurricane},
	},
}

// PickType draws a disaster type for a biome using the 60/30/10 split.
// Falls back across buckets when a biome leaves one empty (ocean has only a
// moderate bucket).
func PickType(biome world.BiomeID, src *entropy.Source) Type {
	buckets, ok := biomeRisk[biome]
	if !ok {
		buckets = biomeRisk[world.BiomeGrassland]
	}

	roll := src.Float("disaster-bucket")
	order := [][]Type{buckets.high, buckets.moderate, buckets.low}
	switch {
	case roll < 0.6:
		// order as-is
	case roll < 0.9:
		order = [][]Type{buckets.moderate, buckets.high, buckets.low}
	default:
		order = [][]Type{buckets.low, buckets.moderate, buckets.high}
	}

	for _, bucket := range order {
		if len(bucket) > 0 {
			return bucket[src.IntN("disaster-type", len(bucket))]
		}
	}
	return TypeDrought
}

// RiskBiomes returns the biomes for which t sits in the high-risk bucket.
func RiskBiomes(t Type) []world.BiomeID {
	var out []world.BiomeID
	for biome, buckets := range biomeRisk {
		for _, h := range buckets.high {
			if h == t {
				out = append(out, biome)
				break
			}
		}
	}
	return out
}
