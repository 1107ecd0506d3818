// Package events is the fan-out layer between the simulation and connected
// clients. Rooms are keyed "world:{worldId}" and "settlement:{id}"; every
// outbound message carries the emission timestamp and is delivered to a
// room's subscribers in emission order.
package events

import "time"

// Inbound message types (client → server).
const (
	InAuthenticate             = "authenticate"
	InJoinWorld                = "join-world"
	InLeaveWorld               = "leave-world"
	InRequestGameState         = "request-game-state"
	InBuildStructure           = "build-structure"
	InUpgradeStructure         = "upgrade-structure"
	InCollectResources         = "collect-resources"
	InRequestResourcesData     = "request-resources-data"
	InRequestConstructionState = "request-construction-state"
	InStartConstruction        = "start-construction"
	InCancelConstruction       = "cancel-construction"
)

// Outbound message types (server → client).
const (
	// Session.
	EvConnected     = "connected"
	EvAuthenticated = "authenticated"
	EvWorldJoined   = "world-joined"
	EvGameState     = "game-state"
	EvStateUpdate   = "state-update"
	EvError         = "error"

	// Economy.
	EvResourceTick           = "resource-tick"
	EvResourceUpdate         = "resource-update"
	EvResourcesData          = "resources-data"
	EvResourceProduction     = "resource-production"
	EvResourceConsumption    = "resource-consumption"
	EvResourceCapacityChange = "resource-capacity-change"
	EvResourceWaste          = "resource-waste"
	EvStorageWarning         = "storage-warning"
	EvResourceShortage       = "resource-shortage"

	// Population.
	EvPopulationState   = "population-state"
	EvPopulationGrowth  = "population-growth"
	EvPopulationWarning = "population-warning"
	EvSettlerArrived    = "settler-arrived"

	// Construction.
	EvConstructionQueued        = "construction-queued"
	EvConstructionStarted       = "construction-started"
	EvConstructionProgressBatch = "construction-progress-batch"
	EvConstructionComplete      = "construction-complete"
	EvConstructionCancelled     = "construction-cancelled"
	EvConstructionState         = "construction-state"

	// Structures.
	EvStructureBuilt      = "structure:built"
	EvStructureUpgraded   = "structure:upgraded"
	EvStructureDemolished = "structure:demolished"
	EvAreaUpdated         = "area:updated"

	// Disasters.
	EvDisasterWarning     = "disaster-warning"
	EvDisasterImminent    = "disaster-imminent"
	EvDisasterImpactStart = "disaster-impact-start"
	EvDisasterDamage      = "disaster-damage-update"
	EvDisasterImpactEnd   = "disaster-impact-end"
	EvStructureDamaged    = "structure-damaged"
	EvStructureDestroyed  = "structure-destroyed"
	EvCasualtiesReport    = "casualties-report"
	EvDisasterAftermath   = "disaster-aftermath"
	EvDisasterResolved    = "disaster-resolved"
)

// Message is the wire unit in both directions.
type Message struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// progressTypes are the high-frequency messages a saturated subscriber may
// lose. Lifecycle messages are never dropped; a subscriber that cannot
// absorb them is closed and recovers via the reconnect snapshot.
var progressTypes = map[string]bool{
	EvConstructionProgressBatch: true,
	EvResourceTick:              true,
	EvDisasterDamage:            true,
	EvStateUpdate:               true,
}

// Droppable reports whether a message is progress-class.
func (m Message) Droppable() bool {
	return progressTypes[m.Type]
}

// WorldRoom returns the room name for world-scope events.
func WorldRoom(worldID string) string { return "world:" + worldID }

// SettlementRoom returns the room name for settlement-scope events.
func SettlementRoom(settlementID string) string { return "settlement:" + settlementID }
