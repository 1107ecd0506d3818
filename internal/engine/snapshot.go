// Snapshot assembly for connect and reconnect. Event delivery is
// at-least-once with drops allowed on slow consumers, so a client that falls
// behind re-syncs from these reads instead of replaying missed events.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/economy"
	"github.com/havenworlds/haven-server/internal/modifier"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// GameState builds the full reconnect snapshot for a settlement: the
// settlement itself, its structures, queue, resources, population, and any
// disaster currently reaching its tile.
func (e *Engine) GameState(ctx context.Context, settlementID string) (map[string]any, error) {
	db := e.Store.Conn()

	st, err := persistence.SettlementByID(db, settlementID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound(apperr.CodeSettlementNotFound, "settlement not found")
	}

	structures, err := persistence.StructuresBySettlement(db, settlementID)
	if err != nil {
		return nil, err
	}
	tile, err := persistence.TileByID(db, st.TileID)
	if err != nil {
		return nil, err
	}

	resources, err := e.ResourcesData(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	construction, err := e.ConstructionState(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	population, err := e.populationState(settlementID, st)
	if err != nil {
		return nil, err
	}

	var local []*disaster.Event
	if tile != nil {
		active, err := persistence.ActiveDisastersByWorld(db, st.WorldID)
		if err != nil {
			return nil, err
		}
		local = affecting(active, tile)
	}

	history, err := persistence.HistoryBySettlement(db, settlementID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"settlement":      st,
		"tile":            tile,
		"structures":      structures,
		"resources":       resources,
		"population":      population,
		"construction":    construction,
		"activeDisasters": local,
		"disasterHistory": history,
		"tick":            e.CurrentTick(),
	}, nil
}

// ResourcesData returns current stock, capacity, and per-hour production and
// consumption rates.
func (e *Engine) ResourcesData(ctx context.Context, settlementID string) (map[string]any, error) {
	db := e.Store.Conn()

	st, err := persistence.SettlementByID(db, settlementID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound(apperr.CodeSettlementNotFound, "settlement not found")
	}
	storage, err := persistence.StorageBySettlement(db, settlementID)
	if err != nil || storage == nil {
		return nil, err
	}
	mods, err := persistence.ModifiersBySettlement(db, settlementID)
	if err != nil {
		return nil, err
	}
	pop, err := persistence.PopulationBySettlement(db, settlementID)
	if err != nil {
		return nil, err
	}

	production, err := e.productionPerHour(st, mods)
	if err != nil {
		return nil, err
	}
	consumption := make(map[world.Resource]float64)
	if pop != nil {
		for _, r := range []world.Resource{world.ResourceFood, world.ResourceWater} {
			consumption[r] = economy.Consumption(pop.Current, 1, r)
		}
	}

	capacity := settlement.BaseStorageCapacity + int(modifier.Value(mods, settlement.ModStorageCapacity))
	return map[string]any{
		"settlementId":       settlementID,
		"storage":            storage.Amounts,
		"capacity":           capacity,
		"productionPerHour":  production,
		"consumptionPerHour": consumption,
	}, nil
}

// productionPerHour estimates hourly output from the current extractor set
// and any disaster reaching the home tile.
func (e *Engine) productionPerHour(st *settlement.Settlement, mods []*settlement.Modifier) (map[world.Resource]float64, error) {
	db := e.Store.Conn()

	w, err := persistence.WorldByID(db, st.WorldID)
	if err != nil || w == nil {
		return nil, err
	}
	homeTile, err := persistence.TileByID(db, st.TileID)
	if err != nil || homeTile == nil {
		return nil, err
	}
	joins, err := persistence.ExtractorsBySettlement(db, st.ID)
	if err != nil {
		return nil, err
	}
	active, err := persistence.ActiveDisastersByWorld(db, st.WorldID)
	if err != nil {
		return nil, err
	}

	resistance := modifier.Value(mods, settlement.ModDisasterResistance) / 100.0
	extractors := make([]economy.Extractor, 0, len(joins))
	for _, j := range joins {
		def, ok := settlement.DefinitionFor(j.Structure.Subtype)
		if !ok || def.Category != settlement.CategoryExtractor {
			continue
		}
		health := j.Structure.Health
		extractors = append(extractors, economy.Extractor{
			Subtype:     j.Structure.Subtype,
			Extracts:    def.Extracts,
			Level:       j.Structure.Level,
			Health:      &health,
			TileQuality: j.Tile.Qualities.Get(def.Extracts),
			BiomeEff:    biomeEfficiency(j.Tile.Biome, def.Extracts),
			TileBaseMod: j.Tile.BaseProductionModifier,
		})
	}

	ticksPerHour := 3600.0 / e.tickSeconds()
	perHour := economy.Produce(extractors, affecting(active, homeTile), resistance, ticksPerHour, w.Config.ProductionMultiplier)
	if bonus := modifier.Value(mods, settlement.ModFoodProduction); bonus > 0 {
		perHour[world.ResourceFood] *= 1 + bonus/100
	}
	if bonus := modifier.Value(mods, settlement.ModWaterProduction); bonus > 0 {
		perHour[world.ResourceWater] *= 1 + bonus/100
	}
	return perHour, nil
}

// ConstructionState returns the active queue with per-entry progress.
func (e *Engine) ConstructionState(ctx context.Context, settlementID string) (map[string]any, error) {
	queue, err := persistence.ActiveQueueBySettlement(e.Store.Conn(), settlementID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entries := make([]map[string]any, 0, len(queue))
	for _, entry := range queue {
		item := map[string]any{"entry": entry}
		if entry.Status == settlement.QueueInProgress && entry.StartedAt != nil && entry.CompletesAt != nil {
			total := entry.CompletesAt.Sub(*entry.StartedAt).Seconds()
			elapsed := now.Sub(*entry.StartedAt).Seconds()
			if total > 0 {
				item["progress"] = math.Min(1, math.Max(0, elapsed/total))
				item["timeRemaining"] = math.Max(0, total-elapsed)
			}
		}
		entries = append(entries, item)
	}
	return map[string]any{
		"settlementId": settlementID,
		"queue":        entries,
		"activeLimit":  settlement.MaxActiveConstructions,
		"queueLimit":   settlement.MaxQueuedConstructions,
	}, nil
}

// populationState is the population slice of the snapshot.
func (e *Engine) populationState(settlementID string, st *settlement.Settlement) (map[string]any, error) {
	db := e.Store.Conn()
	pop, err := persistence.PopulationBySettlement(db, settlementID)
	if err != nil || pop == nil {
		return nil, err
	}
	mods, err := persistence.ModifiersBySettlement(db, settlementID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"settlementId": settlementID,
		"current":      pop.Current,
		"capacity":     economy.Capacity(st.Tier, modifier.Value(mods, settlement.ModPopulationCapacity)),
		"happiness":    pop.Happiness,
		"growthRate":   economy.GrowthPerHour(pop.Happiness),
	}, nil
}
