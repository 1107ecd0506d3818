// Package world provides the world, region, tile, and biome model plus the
// procedural generator that fills them in.
package world

import "time"

// RegionSize is the tile grid edge of one region (RegionSize × RegionSize tiles).
const RegionSize = 10

// Resource names the five extractable resources.
type Resource string

const (
	ResourceFood  Resource = "food"
	ResourceWater Resource = "water"
	ResourceWood  Resource = "wood"
	ResourceStone Resource = "stone"
	ResourceOre   Resource = "ore"
)

// Resources lists all five in canonical order.
var Resources = []Resource{ResourceFood, ResourceWater, ResourceWood, ResourceStone, ResourceOre}

// WorldStatus tracks the generation lifecycle.
type WorldStatus string

const (
	StatusGenerating WorldStatus = "generating"
	StatusReady      WorldStatus = "ready"
	StatusFailed     WorldStatus = "failed"
)

// NoiseParams configures one fractal noise bundle.
type NoiseParams struct {
	Octaves     int     `json:"octaves"`
	Amplitude   float64 `json:"amplitude"`
	Frequency   float64 `json:"frequency"`
	Persistence float64 `json:"persistence"`
	Scale       float64 `json:"scale"`
}

// DefaultNoiseParams returns the stock bundle used when a world is created
// without explicit noise configuration.
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{Octaves: 4, Amplitude: 1.0, Frequency: 0.08, Persistence: 0.5, Scale: 1.0}
}

// TemplateType selects a world difficulty template.
type TemplateType string

const (
	TemplateRelaxed  TemplateType = "RELAXED"
	TemplateBalanced TemplateType = "BALANCED"
	TemplateHardcore TemplateType = "HARDCORE"
)

// TemplateConfig holds per-world tuning knobs.
type TemplateConfig struct {
	Difficulty           string  `json:"difficulty"`
	ResourceAbundance    float64 `json:"resourceAbundance"`
	ResourceDepletion    float64 `json:"resourceDepletion"`
	DisasterFrequency    float64 `json:"disasterFrequency"` // Mean disasters per world per day
	DisasterSeverity     float64 `json:"disasterSeverity"`  // Severity scaling 0..1
	ProductionMultiplier float64 `json:"productionMultiplier"`
}

// TemplateConfigFor returns the stock config for a template type.
func TemplateConfigFor(t TemplateType) TemplateConfig {
	switch t {
	case TemplateRelaxed:
		return TemplateConfig{Difficulty: "relaxed", ResourceAbundance: 1.25, ResourceDepletion: 0.5, DisasterFrequency: 0.5, DisasterSeverity: 0.5, ProductionMultiplier: 1.5}
	case TemplateHardcore:
		return TemplateConfig{Difficulty: "hardcore", ResourceAbundance: 0.8, ResourceDepletion: 1.5, DisasterFrequency: 2.0, DisasterSeverity: 1.0, ProductionMultiplier: 0.75}
	default:
		return TemplateConfig{Difficulty: "balanced", ResourceAbundance: 1.0, ResourceDepletion: 1.0, DisasterFrequency: 1.0, DisasterSeverity: 0.75, ProductionMultiplier: 1.0}
	}
}

// World is one generated map owned by a server.
type World struct {
	ID         string      `db:"id" json:"id"`
	ServerID   string      `db:"server_id" json:"serverId"`
	Name       string      `db:"name" json:"name"`
	Status     WorldStatus `db:"status" json:"status"`
	FailReason string      `db:"fail_reason" json:"failReason,omitempty"`
	Seed       int64       `db:"seed" json:"seed"`

	WidthRegions  int `db:"width_regions" json:"widthRegions"`
	HeightRegions int `db:"height_regions" json:"heightRegions"`

	Elevation     NoiseParams `json:"elevation"`
	Precipitation NoiseParams `json:"precipitation"`
	Temperature   NoiseParams `json:"temperature"`

	Template TemplateType   `db:"template" json:"template"`
	Config   TemplateConfig `json:"config"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Region is a RegionSize × RegionSize block of tiles with cached noise maps.
type Region struct {
	ID      string `db:"id" json:"id"`
	WorldID string `db:"world_id" json:"worldId"`
	X       int    `db:"x" json:"x"`
	Y       int    `db:"y" json:"y"`

	// Raw noise maps, kept for clients that render climate layers.
	ElevationMap     [][]float64 `json:"elevationMap"`
	PrecipitationMap [][]float64 `json:"precipitationMap"`
	TemperatureMap   [][]float64 `json:"temperatureMap"`
}

// TileType splits the map into claimable land and ocean.
type TileType string

const (
	TileLand  TileType = "LAND"
	TileOcean TileType = "OCEAN"
)

// Qualities holds the five per-resource quality scalars in [0, 100].
type Qualities struct {
	Food  float64 `db:"quality_food" json:"food"`
	Water float64 `db:"quality_water" json:"water"`
	Wood  float64 `db:"quality_wood" json:"wood"`
	Stone float64 `db:"quality_stone" json:"stone"`
	Ore   float64 `db:"quality_ore" json:"ore"`
}

// Get returns the quality for a resource.
func (q Qualities) Get(r Resource) float64 {
	switch r {
	case ResourceFood:
		return q.Food
	case ResourceWater:
		return q.Water
	case ResourceWood:
		return q.Wood
	case ResourceStone:
		return q.Stone
	case ResourceOre:
		return q.Ore
	}
	return 0
}

// Set assigns the quality for a resource.
func (q *Qualities) Set(r Resource, v float64) {
	switch r {
	case ResourceFood:
		q.Food = v
	case ResourceWater:
		q.Water = v
	case ResourceWood:
		q.Wood = v
	case ResourceStone:
		q.Stone = v
	case ResourceOre:
		q.Ore = v
	}
}

// Tile is a single claimable cell inside a region.
type Tile struct {
	ID       string   `db:"id" json:"id"`
	RegionID string   `db:"region_id" json:"regionId"`
	WorldID  string   `db:"world_id" json:"worldId"`
	X        int      `db:"x" json:"x"` // Region-local column
	Y        int      `db:"y" json:"y"` // Region-local row
	Type     TileType `db:"type" json:"type"`

	Elevation     float64 `db:"elevation" json:"elevation"`
	Temperature   float64 `db:"temperature" json:"temperature"`
	Precipitation float64 `db:"precipitation" json:"precipitation"`

	Qualities       Qualities `json:"qualities"`
	SpecialResource *string   `db:"special_resource" json:"specialResource,omitempty"`

	// PlotSlots is the extractor capacity of the tile.
	PlotSlots int `db:"plot_slots" json:"plotSlots"`

	// BaseProductionModifier in (0, 1] records persistent disaster depletion.
	BaseProductionModifier float64 `db:"base_production_modifier" json:"baseProductionModifier"`

	SettlementID *string `db:"settlement_id" json:"settlementId,omitempty"`
	Biome        BiomeID `db:"biome" json:"biome"`
}

// BiomeID identifies a biome. Classification tie-breaks by ascending id.
type BiomeID uint8

const (
	BiomeMountain  BiomeID = 1
	BiomeTundra    BiomeID = 2
	BiomeDesert    BiomeID = 3
	BiomeSwamp     BiomeID = 4
	BiomeForest    BiomeID = 5
	BiomeGrassland BiomeID = 6
	BiomeCoastal   BiomeID = 7
	BiomeOcean     BiomeID = 8
)

// Biome defines a climate window and its resource character.
type Biome struct {
	ID   BiomeID
	Name string

	PrecipMin, PrecipMax float64
	TempMin, TempMax     float64
	// ElevationMin gates biomes that are elevation-driven (mountains).
	ElevationMin float64

	// Modifiers scale resource quality per resource (1.0 = neutral).
	Modifiers map[Resource]float64

	PlotMin, PlotMax int
}

// Contains reports whether the biome's climate window covers the tile climate.
func (b Biome) Contains(precip, temp, elev float64) bool {
	return precip >= b.PrecipMin && precip <= b.PrecipMax &&
		temp >= b.TempMin && temp <= b.TempMax &&
		elev >= b.ElevationMin
}
