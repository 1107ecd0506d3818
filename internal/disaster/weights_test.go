package disaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/entropy"
	"github.com/havenworlds/haven-server/internal/world"
)

func bucketUnion(biome world.BiomeID) map[Type]bool {
	b := biomeRisk[biome]
	set := make(map[Type]bool)
	for _, bucket := range [][]Type{b.high, b.moderate, b.low} {
		for _, typ := range bucket {
			set[typ] = true
		}
	}
	return set
}

func TestPickTypeStaysInBiomeBuckets(t *testing.T) {
	for biome := range biomeRisk {
		src := entropy.NewSource(7)
		allowed := bucketUnion(biome)
		for i := 0; i < 50; i++ {
			typ := PickType(biome, src)
			assert.True(t, allowed[typ], "biome %d drew %s outside its risk table", biome, typ)
		}
	}
}

func TestPickTypeDeterministic(t *testing.T) {
	a := entropy.NewSource(42)
	b := entropy.NewSource(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, PickType(world.BiomeGrassland, a), PickType(world.BiomeGrassland, b))
	}
}

func TestPickTypeOceanFallsBack(t *testing.T) {
	// Ocean only has a moderate bucket; every draw lands there.
	src := entropy.NewSource(3)
	for i := 0; i < 30; i++ {
		assert.Equal(t, TypeHurricane, PickType(world.BiomeOcean, src))
	}
}

func TestPickTypeUnknownBiomeUsesGrassland(t *testing.T) {
	src := entropy.NewSource(11)
	allowed := bucketUnion(world.BiomeGrassland)
	for i := 0; i < 30; i++ {
		assert.True(t, allowed[PickType(world.BiomeID(200), src)])
	}
}

func TestRiskBiomes(t *testing.T) {
	assert.ElementsMatch(t, []world.BiomeID{world.BiomeCoastal}, RiskBiomes(TypeHurricane))
	assert.ElementsMatch(t,
		[]world.BiomeID{world.BiomeGrassland, world.BiomeDesert},
		RiskBiomes(TypeDrought))
	assert.Contains(t, RiskBiomes(TypeFlood), world.BiomeSwamp)
	assert.Contains(t, RiskBiomes(TypeFlood), world.BiomeCoastal)
	assert.ElementsMatch(t, []world.BiomeID{world.BiomeDesert}, RiskBiomes(TypeHeatwave))
}
