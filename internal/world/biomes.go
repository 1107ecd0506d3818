// Biome catalog. Classification walks the table in id order and picks the
// first climate-window match; GRASSLAND is the full-window fallback. COASTAL
// and OCEAN are assigned structurally (adjacency and tile type), not by
// climate window, so their windows are empty.
package world

// Climate values are normalized to [-1, 1] by the generator.
var biomes = []Biome{
	{
		ID: BiomeMountain, Name: "MOUNTAIN",
		PrecipMin: -1, PrecipMax: 1, TempMin: -1, TempMax: 1, ElevationMin: 0.6,
		Modifiers: map[Resource]float64{ResourceFood: 0.3, ResourceWater: 0.8, ResourceWood: 0.5, ResourceStone: 1.5, ResourceOre: 1.5},
		PlotMin:   3, PlotMax: 5,
	},
	{
		ID: BiomeTundra, Name: "TUNDRA",
		PrecipMin: -1, PrecipMax: 1, TempMin: -1, TempMax: -0.4, ElevationMin: -1,
		Modifiers: map[Resource]float64{ResourceFood: 0.4, ResourceWater: 0.9, ResourceWood: 0.4, ResourceStone: 1.0, ResourceOre: 1.1},
		PlotMin:   3, PlotMax: 5,
	},
	{
		ID: BiomeDesert, Name: "DESERT",
		PrecipMin: -1, PrecipMax: -0.35, TempMin: 0.1, TempMax: 1, ElevationMin: -1,
		Modifiers: map[Resource]float64{ResourceFood: 0.3, ResourceWater: 0.2, ResourceWood: 0.1, ResourceStone: 1.2, ResourceOre: 1.2},
		PlotMin:   3, PlotMax: 4,
	},
	{
		ID: BiomeSwamp, Name: "SWAMP",
		PrecipMin: 0.55, PrecipMax: 1, TempMin: 0.0, TempMax: 1, ElevationMin: -1,
		Modifiers: map[Resource]float64{ResourceFood: 0.9, ResourceWater: 1.4, ResourceWood: 1.1, ResourceStone: 0.5, ResourceOre: 0.4},
		PlotMin:   3, PlotMax: 5,
	},
	{
		ID: BiomeForest, Name: "FOREST",
		PrecipMin: 0.15, PrecipMax: 1, TempMin: -0.4, TempMax: 1, ElevationMin: -1,
		Modifiers: map[Resource]float64{ResourceFood: 1.0, ResourceWater: 1.1, ResourceWood: 1.5, ResourceStone: 0.8, ResourceOre: 0.7},
		PlotMin:   4, PlotMax: 6,
	},
	{
		ID: BiomeGrassland, Name: "GRASSLAND",
		PrecipMin: -1, PrecipMax: 1, TempMin: -1, TempMax: 1, ElevationMin: -1,
		Modifiers: map[Resource]float64{ResourceFood: 1.5, ResourceWater: 1.0, ResourceWood: 0.8, ResourceStone: 0.9, ResourceOre: 0.8},
		PlotMin:   4, PlotMax: 7,
	},
	{
		ID: BiomeCoastal, Name: "COASTAL",
		PrecipMin: 1, PrecipMax: -1, TempMin: 1, TempMax: -1, ElevationMin: 2,
		Modifiers: map[Resource]float64{ResourceFood: 1.2, ResourceWater: 1.3, ResourceWood: 0.9, ResourceStone: 0.8, ResourceOre: 0.6},
		PlotMin:   4, PlotMax: 6,
	},
	{
		ID: BiomeOcean, Name: "OCEAN",
		PrecipMin: 1, PrecipMax: -1, TempMin: 1, TempMax: -1, ElevationMin: 2,
		Modifiers: map[Resource]float64{},
		PlotMin:   0, PlotMax: 0,
	},
}

// BiomeByID returns the biome definition, or the GRASSLAND fallback.
func BiomeByID(id BiomeID) Biome {
	for _, b := range biomes {
		if b.ID == id {
			return b
		}
	}
	return biomes[5]
}

// Biomes returns the full catalog in id order.
func Biomes() []Biome {
	out := make([]Biome, len(biomes))
	copy(out, biomes)
	return out
}

// ClassifyBiome picks the first biome whose window contains the climate,
// walking the table in id order.
func ClassifyBiome(precip, temp, elev float64) BiomeID {
	for _, b := range biomes {
		if b.ID == BiomeCoastal || b.ID == BiomeOcean {
			continue
		}
		if b.Contains(precip, temp, elev) {
			return b.ID
		}
	}
	return BiomeGrassland
}
