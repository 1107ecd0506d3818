package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/havenworlds/haven-server/internal/world"
)

func TestBiomeEfficiency(t *testing.T) {
	assert.Equal(t, 1.5, biomeEfficiency(world.BiomeGrassland, world.ResourceFood))
	assert.Equal(t, 0.8, biomeEfficiency(world.BiomeGrassland, world.ResourceWood))
	// Ocean carries no modifiers; everything defaults to 1.
	assert.Equal(t, 1.0, biomeEfficiency(world.BiomeOcean, world.ResourceFood))
	// Unknown biomes fall back to grassland rates.
	assert.Equal(t, 0.8, biomeEfficiency(world.BiomeID(255), world.ResourceWood))
}
