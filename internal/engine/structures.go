// Structure lifecycle service: settlement founding, instant upgrades,
// demolition, and repair, plus the modifier recompute that follows every
// structural change.
package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/economy"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/modifier"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// aftermathRepairDiscount halves repair costs inside the emergency window.
const aftermathRepairDiscount = 0.5

// startingPopulation is the founding headcount.
const startingPopulation = 10

// FoundSettlement claims a LAND tile for a profile and creates the
// settlement with its starting grant.
func (e *Engine) FoundSettlement(ctx context.Context, profileID, worldID, tileID, name string) (*settlement.Settlement, error) {
	var st *settlement.Settlement
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		w, err := persistence.WorldByID(tx, worldID)
		if err != nil {
			return err
		}
		if w == nil {
			return apperr.NotFound(apperr.CodeWorldNotFound, "world not found")
		}
		if w.Status != world.StatusReady {
			return apperr.Conflict(apperr.CodeWorldNotReady, "world is not ready").
				WithDetail("status", w.Status)
		}

		now := time.Now().UTC()
		st = &settlement.Settlement{
			ID:        uuid.NewString(),
			WorldID:   worldID,
			ProfileID: profileID,
			TileID:    tileID,
			Name:      name,
			Tier:      settlement.TierOutpost,
			CreatedAt: now,
			UpdatedAt: now,
		}

		claimed, err := persistence.ClaimTile(tx, tileID, st.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return apperr.Conflict(apperr.CodeSlotOccupied, "tile is not claimable")
		}

		return persistence.InsertSettlement(tx, st, settlement.StartingResources(), startingPopulation)
	})
	if err != nil {
		return nil, err
	}

	e.Hub.Publish(events.WorldRoom(worldID), events.EvStateUpdate, map[string]any{
		"kind":       "settlement-founded",
		"settlement": st,
	})
	return st, nil
}

// Upgrade raises a structure one level in a single transaction. The cost is
// the base requirement scaled by the target level.
func (e *Engine) Upgrade(ctx context.Context, settlementID, structureID string) (*settlement.Structure, error) {
	unlock := e.locks.Lock(settlementID)
	defer unlock()

	var st *settlement.Structure
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		st, err = persistence.StructureByID(tx, structureID)
		if err != nil {
			return err
		}
		if st == nil || st.SettlementID != settlementID {
			return apperr.NotFound(apperr.CodeStructureNotFound, "structure not found")
		}
		def, ok := settlement.DefinitionFor(st.Subtype)
		if !ok {
			return apperr.Fatal(apperr.CodeUpgradeFailed, "definition missing for structure")
		}
		if st.Level >= def.MaxLevel {
			return apperr.Validation(apperr.CodeUpgradeFailed, "structure already at max level").
				WithDetail("maxLevel", def.MaxLevel)
		}

		cost := make(map[world.Resource]int)
		for r, amount := range def.BaseCost() {
			cost[r] = amount * (st.Level + 1)
		}
		if err := debit(tx, settlementID, cost); err != nil {
			return err
		}

		st.Level++
		ok, err = persistence.UpdateStructure(tx, st)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Transient(apperr.CodeStoreUnavailable, "structure changed concurrently, retry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recomputeModifiers(ctx, settlementID)
	e.Hub.Publish(events.SettlementRoom(settlementID), events.EvStructureUpgraded, map[string]any{
		"settlementId": settlementID,
		"structure":    st,
	})
	return st, nil
}

// Demolish removes a structure, freeing its slot or area. No refund.
func (e *Engine) Demolish(ctx context.Context, settlementID, structureID string) error {
	unlock := e.locks.Lock(settlementID)
	defer unlock()

	var removed *settlement.Structure
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		removed, err = persistence.StructureByID(tx, structureID)
		if err != nil {
			return err
		}
		if removed == nil || removed.SettlementID != settlementID {
			return apperr.NotFound(apperr.CodeStructureNotFound, "structure not found")
		}
		return persistence.DeleteStructure(tx, structureID)
	})
	if err != nil {
		return err
	}

	e.recomputeModifiers(ctx, settlementID)
	room := events.SettlementRoom(settlementID)
	e.Hub.Publish(room, events.EvStructureDemolished, map[string]any{
		"settlementId": settlementID,
		"structureId":  structureID,
		"subtype":      removed.Subtype,
	})
	e.publishAreaUpdate(ctx, settlementID)
	return nil
}

// Repair restores a structure to full health. Cost is the base requirement
// scaled by missing health, halved inside a disaster's emergency repair
// window.
func (e *Engine) Repair(ctx context.Context, settlementID, structureID string) (*settlement.Structure, error) {
	unlock := e.locks.Lock(settlementID)
	defer unlock()

	var (
		st         *settlement.Structure
		discounted bool
	)
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		st, err = persistence.StructureByID(tx, structureID)
		if err != nil {
			return err
		}
		if st == nil || st.SettlementID != settlementID {
			return apperr.NotFound(apperr.CodeStructureNotFound, "structure not found")
		}
		if st.Health >= 100 {
			return nil
		}
		def, ok := settlement.DefinitionFor(st.Subtype)
		if !ok {
			return apperr.Fatal(apperr.CodeUpgradeFailed, "definition missing for structure")
		}

		sett, err := persistence.SettlementByID(tx, settlementID)
		if err != nil || sett == nil {
			return err
		}
		discounted, err = e.inRepairWindow(tx, sett)
		if err != nil {
			return err
		}

		missing := (100 - st.Health) / 100
		cost := make(map[world.Resource]int)
		for r, amount := range def.BaseCost() {
			c := float64(amount) * missing
			if discounted {
				c *= aftermathRepairDiscount
			}
			if whole := int(math.Ceil(c)); whole > 0 {
				cost[r] = whole
			}
		}
		if err := debit(tx, settlementID, cost); err != nil {
			return err
		}

		now := time.Now().UTC()
		st.Health = 100
		st.RepairedAt = &now
		return persistence.ForceUpdateStructure(tx, st)
	})
	if err != nil {
		return nil, err
	}

	e.recomputeModifiers(ctx, settlementID)
	e.Hub.Publish(events.SettlementRoom(settlementID), events.EvStateUpdate, map[string]any{
		"kind":       "structure-repaired",
		"structure":  st,
		"discounted": discounted,
	})
	return st, nil
}

// inRepairWindow reports whether a disaster affecting the settlement ended
// impact within the emergency repair window.
func (e *Engine) inRepairWindow(tx *sqlx.Tx, st *settlement.Settlement) (bool, error) {
	tile, err := persistence.TileByID(tx, st.TileID)
	if err != nil || tile == nil {
		return false, err
	}
	active, err := persistence.ActiveDisastersByWorld(tx, st.WorldID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	for _, d := range affecting(active, tile) {
		if d.Status == disaster.StatusAftermath && d.ImpactEndedAt != nil &&
			now.Sub(*d.ImpactEndedAt) < disaster.EmergencyRepairWindow {
			return true, nil
		}
	}
	return false, nil
}

// recomputeModifiers rebuilds the cached aggregates after a structural
// change. Failures are logged and never fail the originating write; the
// cache converges on the next successful recompute.
func (e *Engine) recomputeModifiers(ctx context.Context, settlementID string) {
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		structures, err := persistence.StructuresBySettlement(tx, settlementID)
		if err != nil {
			return err
		}
		mods := modifier.Aggregate(settlementID, structures, time.Now().UTC())
		return persistence.ReplaceModifiers(tx, settlementID, mods)
	})
	if err != nil {
		slog.Error("modifier recompute failed", "settlement", settlementID, "error", err)
		return
	}
	e.publishCapacity(ctx, settlementID)
}

// publishCapacity emits the capacity aggregates after a recompute, along with
// the population state the new capacity implies.
func (e *Engine) publishCapacity(ctx context.Context, settlementID string) {
	mods, err := persistence.ModifiersBySettlement(e.Store.Conn(), settlementID)
	if err != nil {
		return
	}
	st, err := persistence.SettlementByID(e.Store.Conn(), settlementID)
	if err != nil || st == nil {
		return
	}
	capacity := economy.Capacity(st.Tier, modifier.Value(mods, settlement.ModPopulationCapacity))
	room := events.SettlementRoom(settlementID)
	e.Hub.Publish(room, events.EvResourceCapacityChange, map[string]any{
		"settlementId":       settlementID,
		"storageCapacity":    settlement.BaseStorageCapacity + int(modifier.Value(mods, settlement.ModStorageCapacity)),
		"populationCapacity": capacity,
	})

	pop, err := persistence.PopulationBySettlement(e.Store.Conn(), settlementID)
	if err != nil || pop == nil {
		return
	}
	e.Hub.Publish(room, events.EvPopulationState, map[string]any{
		"settlementId": settlementID,
		"current":      pop.Current,
		"capacity":     capacity,
		"happiness":    pop.Happiness,
		"growthRate":   economy.GrowthPerHour(pop.Happiness),
	})
}

// publishAreaUpdate emits the settlement's current area usage.
func (e *Engine) publishAreaUpdate(ctx context.Context, settlementID string) {
	structures, err := persistence.StructuresBySettlement(e.Store.Conn(), settlementID)
	if err != nil {
		return
	}
	st, err := persistence.SettlementByID(e.Store.Conn(), settlementID)
	if err != nil || st == nil {
		return
	}
	used := 0
	for _, s := range structures {
		if def, ok := settlement.DefinitionFor(s.Subtype); ok {
			used += def.AreaCost
		}
	}
	e.Hub.Publish(events.SettlementRoom(settlementID), events.EvAreaUpdated, map[string]any{
		"settlementId": settlementID,
		"used":         used,
		"budget":       st.Tier.AreaBudget(),
	})
}
