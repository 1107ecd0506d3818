// Package disaster defines disaster events, their biome-weighted selection
// table, and the pure damage and casualty math. The engine drives the state
// machine against the store; everything here is side-effect free.
package disaster

import (
	"time"

	"github.com/havenworlds/haven-server/internal/world"
)

// Type enumerates the fifteen disaster kinds.
type Type string

const (
	TypeDrought      Type = "DROUGHT"
	TypeTornado      Type = "TORNADO"
	TypeLocustSwarm  Type = "LOCUST_SWARM"
	TypeFlood        Type = "FLOOD"
	TypeWildfire     Type = "WILDFIRE"
	TypeHeatwave     Type = "HEATWAVE"
	TypeEarthquake   Type = "EARTHQUAKE"
	TypeInsectPlague Type = "INSECT_PLAGUE"
	TypeBlight       Type = "BLIGHT"
	TypeSandstorm    Type = "SANDSTORM"
	TypeBlizzard     Type = "BLIZZARD"
	TypeAvalanche    Type = "AVALANCHE"
	TypeLandslide    Type = "LANDSLIDE"
	TypeVolcano      Type = "VOLCANO"
	TypeHurricane    Type = "HURRICANE"
)

// Types lists all disaster kinds.
var Types = []Type{
	TypeDrought, TypeTornado, TypeLocustSwarm, TypeFlood, TypeWildfire,
	TypeHeatwave, TypeEarthquake, TypeInsectPlague, TypeBlight, TypeSandstorm,
	TypeBlizzard, TypeAvalanche, TypeLandslide, TypeVolcano, TypeHurricane,
}

// SeverityLevel is the ordinal severity band.
type SeverityLevel string

const (
	SeverityMild         SeverityLevel = "MILD"
	SeverityModerate     SeverityLevel = "MODERATE"
	SeverityMajor        SeverityLevel = "MAJOR"
	SeverityCatastrophic SeverityLevel = "CATASTROPHIC"
)

// LevelFor maps a numeric severity in [0, 100] to its band.
func LevelFor(severity float64) SeverityLevel {
	switch {
	case severity >= 75:
		return SeverityCatastrophic
	case severity >= 50:
		return SeverityMajor
	case severity >= 25:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// Impact returns the production-impact fraction for a severity band.
func (l SeverityLevel) Impact() float64 {
	switch l {
	case SeverityCatastrophic:
		return 0.8
	case SeverityMajor:
		return 0.6
	case SeverityModerate:
		return 0.4
	default:
		return 0.2
	}
}

// Status is the disaster lifecycle. Transitions are monotonic:
// SCHEDULED → WARNING → IMPACT → AFTERMATH → RESOLVED.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusWarning   Status = "WARNING"
	StatusImpact    Status = "IMPACT"
	StatusAftermath Status = "AFTERMATH"
	StatusResolved  Status = "RESOLVED"
)

var statusOrder = map[Status]int{
	StatusScheduled: 0,
	StatusWarning:   1,
	StatusImpact:    2,
	StatusAftermath: 3,
	StatusResolved:  4,
}

// CanTransition reports whether moving from → to advances the lifecycle.
func CanTransition(from, to Status) bool {
	return statusOrder[to] == statusOrder[from]+1
}

// AftermathDuration is how long a disaster lingers before RESOLVED.
const AftermathDuration = 30 * 24 * time.Hour

// EmergencyRepairWindow is the discounted-repair period after impact ends.
const EmergencyRepairWindow = 48 * time.Hour

// ImminentWarningLead is how far before impact the imminent warning fires.
const ImminentWarningLead = 30 * time.Minute

// Event is one scheduled or active disaster in a world.
type Event struct {
	ID            string        `db:"id" json:"id"`
	WorldID       string        `db:"world_id" json:"worldId"`
	Type          Type          `db:"type" json:"type"`
	Severity      float64       `db:"severity" json:"severity"` // 0..100
	SeverityLevel SeverityLevel `db:"severity_level" json:"severityLevel"`

	// Optional targeting: a region and/or a biome list. Empty = whole world.
	RegionID       *string         `db:"region_id" json:"regionId,omitempty"`
	AffectedBiomes []world.BiomeID `json:"affectedBiomes,omitempty"`

	ScheduledAt    time.Time     `db:"scheduled_at" json:"scheduledAt"`
	WarningTime    time.Duration `json:"warningTime"`
	ImpactDuration time.Duration `json:"impactDuration"`

	Status          Status     `db:"status" json:"status"`
	WarningAt       *time.Time `db:"warning_at" json:"warningAt,omitempty"`
	ImpactStartedAt *time.Time `db:"impact_started_at" json:"impactStartedAt,omitempty"`
	ImpactEndedAt   *time.Time `db:"impact_ended_at" json:"impactEndedAt,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
	ImminentIssued  bool       `db:"imminent_issued" json:"imminentWarningIssued"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Active reports whether the disaster still influences the world.
func (e *Event) Active() bool {
	return e.Status != StatusResolved
}

// InImpact reports whether damage is currently being dealt.
func (e *Event) InImpact() bool {
	return e.Status == StatusImpact
}

// AffectsBiome reports whether the event targets the given biome.
func (e *Event) AffectsBiome(b world.BiomeID) bool {
	if len(e.AffectedBiomes) == 0 {
		return true
	}
	for _, a := range e.AffectedBiomes {
		if a == b {
			return true
		}
	}
	return false
}

// History is the per-settlement rollup written when a disaster enters
// AFTERMATH.
type History struct {
	ID                  string                 `db:"id" json:"id"`
	SettlementID        string                 `db:"settlement_id" json:"settlementId"`
	DisasterID          string                 `db:"disaster_id" json:"disasterId"`
	Casualties          int                    `db:"casualties" json:"casualties"`
	StructuresDamaged   int                    `db:"structures_damaged" json:"structuresDamaged"`
	StructuresDestroyed int                    `db:"structures_destroyed" json:"structuresDestroyed"`
	ResourcesLost       map[world.Resource]int `json:"resourcesLost"`
	ResilienceGained    int                    `db:"resilience_gained" json:"resilienceGained"`
	CreatedAt           time.Time              `db:"created_at" json:"createdAt"`
}

// affectedResources maps each disaster type to the resources whose
// production it suppresses.
var affectedResources = map[Type][]world.Resource{
	TypeDrought:      {world.ResourceWater, world.ResourceFood},
	TypeHeatwave:     {world.ResourceWater, world.ResourceFood},
	TypeFlood:        {world.ResourceFood, world.ResourceWood},
	TypeWildfire:     {world.ResourceWood, world.ResourceFood},
	TypeTornado:      {world.ResourceFood, world.ResourceWood},
	TypeLocustSwarm:  {world.ResourceFood},
	TypeInsectPlague: {world.ResourceFood, world.ResourceWood},
	TypeBlight:       {world.ResourceFood},
	TypeSandstorm:    {world.ResourceFood, world.ResourceWater},
	TypeBlizzard:     {world.ResourceFood, world.ResourceWood},
	TypeAvalanche:    {world.ResourceStone, world.ResourceOre},
	TypeLandslide:    {world.ResourceStone, world.ResourceOre, world.ResourceWood},
	TypeEarthquake:   {world.ResourceStone, world.ResourceOre},
	TypeVolcano:      {world.ResourceFood, world.ResourceWater, world.ResourceWood, world.ResourceStone, world.ResourceOre},
	TypeHurricane:    {world.ResourceFood, world.ResourceWood, world.ResourceWater},
}

// Affects reports whether a disaster type suppresses production of r.
func (t Type) Affects(r world.Resource) bool {
	for _, a := range affectedResources[t] {
		if a == r {
			return true
		}
	}
	return false
}
