// Package settlement holds the settlement-side entities: settlements and
// their storage, population, structures, modifier aggregates, and the
// construction queue rows. Logic that mutates these lives in the engine;
// this package is the shared vocabulary.
package settlement

import (
	"time"

	"github.com/havenworlds/haven-server/internal/world"
)

// Tier is the settlement progression stage.
type Tier uint8

const (
	TierOutpost Tier = 1
	TierVillage Tier = 2
	TierTown    Tier = 3
	TierCity    Tier = 4
)

// Name returns the display name for a tier.
func (t Tier) Name() string {
	switch t {
	case TierOutpost:
		return "OUTPOST"
	case TierVillage:
		return "VILLAGE"
	case TierTown:
		return "TOWN"
	case TierCity:
		return "CITY"
	}
	return "OUTPOST"
}

// CapacityBaseline is the housing-free population cap per tier.
func (t Tier) CapacityBaseline() int {
	switch t {
	case TierVillage:
		return 25
	case TierTown:
		return 50
	case TierCity:
		return 100
	default:
		return 10
	}
}

// AreaBudget is the building-area budget per tier.
func (t Tier) AreaBudget() int {
	switch t {
	case TierVillage:
		return 25
	case TierTown:
		return 40
	case TierCity:
		return 60
	default:
		return 15
	}
}

// Settlement is a player holding bound to exactly one LAND tile.
type Settlement struct {
	ID         string    `db:"id" json:"id"`
	WorldID    string    `db:"world_id" json:"worldId"`
	ProfileID  string    `db:"profile_id" json:"profileId"`
	TileID     string    `db:"tile_id" json:"tileId"`
	Name       string    `db:"name" json:"name"`
	Tier       Tier      `db:"tier" json:"tier"`
	Resilience int       `db:"resilience" json:"resilience"` // 0..100, earned by surviving disasters
	Errored    bool      `db:"errored" json:"-"`             // Skipped for one tick after a panic
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Storage holds integer amounts of the five resources. Amounts never go
// negative; debits that would are rejected whole.
type Storage struct {
	SettlementID string                 `json:"settlementId"`
	Amounts      map[world.Resource]int `json:"amounts"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// StartingResources is the grant at settlement founding.
func StartingResources() map[world.Resource]int {
	return map[world.Resource]int{
		world.ResourceFood:  50,
		world.ResourceWater: 100,
		world.ResourceWood:  50,
		world.ResourceStone: 30,
		world.ResourceOre:   0,
	}
}

// BaseStorageCapacity is the per-resource cap before storehouse modifiers.
const BaseStorageCapacity = 1000

// Population tracks headcount and morale.
type Population struct {
	SettlementID string    `db:"settlement_id" json:"settlementId"`
	Current      int       `db:"current" json:"current"`
	Happiness    int       `db:"happiness" json:"happiness"` // 0..100
	LastGrowthAt time.Time `db:"last_growth_at" json:"lastGrowthAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Category splits structures into tile extractors and area buildings.
type Category string

const (
	CategoryExtractor Category = "EXTRACTOR"
	CategoryBuilding  Category = "BUILDING"
)

// Subtype identifies a structure definition.
type Subtype string

const (
	// Extractors.
	SubtypeFarm       Subtype = "FARM"
	SubtypeWell       Subtype = "WELL"
	SubtypeLumberCamp Subtype = "LUMBER_CAMP"
	SubtypeQuarry     Subtype = "QUARRY"
	SubtypeMine       Subtype = "MINE"

	// Buildings.
	SubtypeTownHall   Subtype = "TOWN_HALL"
	SubtypeHouse      Subtype = "HOUSE"
	SubtypeStorehouse Subtype = "STOREHOUSE"
	SubtypeWorkshop   Subtype = "WORKSHOP"
	SubtypeShelter    Subtype = "SHELTER"
	SubtypeWatchtower Subtype = "WATCHTOWER"
	SubtypeTavern     Subtype = "TAVERN"
)

// Requirement is a base build cost line.
type Requirement struct {
	Resource world.Resource `json:"resource"`
	Quantity int            `json:"quantity"`
}

// Prerequisite demands another structure at a minimum level.
type Prerequisite struct {
	RequiredSubtype Subtype `json:"requiredSubtype"`
	RequiredLevel   int     `json:"requiredLevel"`
}

// Definition is a structure blueprint.
type Definition struct {
	Subtype          Subtype  `json:"subtype"`
	Name             string   `json:"name"`
	Category         Category `json:"category"`
	Tier             int      `json:"tier"` // 1..5
	MaxLevel         int      `json:"maxLevel"`
	ConstructionSecs int      `json:"constructionTimeSeconds"`
	PopulationReq    int      `json:"populationRequired"`
	AreaCost         int      `json:"areaCost"` // BUILDING only
	Unique           bool     `json:"unique"`
	MinTownHallLevel int      `json:"minTownHallLevel"`

	// Extractors only: the resource they pull.
	Extracts world.Resource `json:"extracts,omitempty"`

	Requirements  []Requirement  `json:"requirements"`
	Prerequisites []Prerequisite `json:"prerequisites"`
}

// Structure is a built instance of a definition inside a settlement.
type Structure struct {
	ID                 string     `db:"id" json:"id"`
	SettlementID       string     `db:"settlement_id" json:"settlementId"`
	Subtype            Subtype    `db:"subtype" json:"subtype"`
	Level              int        `db:"level" json:"level"`
	Health             float64    `db:"health" json:"health"` // 0..100
	PopulationAssigned int        `db:"population_assigned" json:"populationAssigned"`
	TileID             *string    `db:"tile_id" json:"tileId,omitempty"`             // EXTRACTOR only
	SlotPosition       *int       `db:"slot_position" json:"slotPosition,omitempty"` // EXTRACTOR only
	DamagedAt          *time.Time `db:"damaged_at" json:"damagedAt,omitempty"`
	RepairedAt         *time.Time `db:"repaired_at" json:"repairedAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// ModifierType names an aggregated settlement dimension.
type ModifierType string

const (
	ModPopulationCapacity ModifierType = "population_capacity"
	ModHappinessBonus     ModifierType = "happiness_bonus"
	ModStorageCapacity    ModifierType = "storage_capacity"
	ModConstructionSpeed  ModifierType = "construction_speed"
	ModDisasterResistance ModifierType = "disaster_resistance"
	ModFoodProduction     ModifierType = "food_production_bonus"
	ModWaterProduction    ModifierType = "water_production_bonus"
)

// Contribution records one structure's share of an aggregate, so deltas are
// explainable to the client.
type Contribution struct {
	StructureID string  `json:"structureId"`
	Subtype     Subtype `json:"subtype"`
	Level       int     `json:"level"`
	Value       float64 `json:"value"`
}

// Modifier is the cached aggregate for one (settlement, type) pair.
type Modifier struct {
	SettlementID     string         `json:"settlementId"`
	Type             ModifierType   `json:"modifierType"`
	TotalValue       float64        `json:"totalValue"`
	SourceCount      int            `json:"sourceCount"`
	Contributions    []Contribution `json:"contributingStructures"`
	LastCalculatedAt time.Time      `json:"lastCalculatedAt"`
}

// QueueStatus is the construction entry lifecycle.
type QueueStatus string

const (
	QueueQueued     QueueStatus = "QUEUED"
	QueueInProgress QueueStatus = "IN_PROGRESS"
	QueueComplete   QueueStatus = "COMPLETE"
	QueueCancelled  QueueStatus = "CANCELLED"
)

// Queue limits per settlement.
const (
	MaxActiveConstructions = 3
	MaxQueuedConstructions = 10
)

// QueueEntry is one pending or running construction.
type QueueEntry struct {
	ID           string                 `db:"id" json:"id"`
	SettlementID string                 `db:"settlement_id" json:"settlementId"`
	Subtype      Subtype                `db:"subtype" json:"structureType"`
	TileID       *string                `db:"tile_id" json:"tileId,omitempty"`
	SlotPosition *int                   `db:"slot_position" json:"slotPosition,omitempty"`
	Cost         map[world.Resource]int `json:"resourcesCost"` // Debit snapshot
	Status       QueueStatus            `db:"status" json:"status"`
	Position     int                    `db:"position" json:"position"` // 0..9
	IsEmergency  bool                   `db:"is_emergency" json:"isEmergency"`
	StartedAt    *time.Time             `db:"started_at" json:"startedAt,omitempty"`
	CompletesAt  *time.Time             `db:"completes_at" json:"completesAt,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"createdAt"`
}

// Terminal reports whether the entry no longer occupies queue capacity.
func (e *QueueEntry) Terminal() bool {
	return e.Status == QueueComplete || e.Status == QueueCancelled
}
