// Construction queue service: enqueue with the full validation chain and
// cost debit, cancellation with partial refund, promotion of queued entries
// into the active set, and completion into built structures.
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
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/modifier"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

const (
	emergencyCostMultiplier = 2.5
	emergencySpeedup        = 2.0
	cancelRefundFraction    = 0.5
)

// BuildRequest is the start-construction input.
type BuildRequest struct {
	SettlementID string
	Subtype      settlement.Subtype
	TileID       *string
	SlotPosition *int
	Emergency    bool
}

// Enqueue validates a build request, debits its cost, and appends it to the
// settlement's construction queue. On success the entry may already be
// IN_PROGRESS if an active slot was free.
func (e *Engine) Enqueue(ctx context.Context, req BuildRequest) (*settlement.QueueEntry, error) {
	def, ok := settlement.DefinitionFor(req.Subtype)
	if !ok {
		return nil, apperr.Validation(apperr.CodeMissingFields, "unknown structure type").
			WithDetail("structureType", req.Subtype)
	}

	unlock := e.locks.Lock(req.SettlementID)
	defer unlock()

	var (
		entry   *settlement.QueueEntry
		started bool
	)
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		st, err := persistence.SettlementByID(tx, req.SettlementID)
		if err != nil {
			return err
		}
		if st == nil {
			return apperr.NotFound(apperr.CodeSettlementNotFound, "settlement not found")
		}

		structures, err := persistence.StructuresBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		queue, err := persistence.ActiveQueueBySettlement(tx, st.ID)
		if err != nil {
			return err
		}

		if err := validateBuild(tx, st, def, req, structures, queue); err != nil {
			return err
		}

		if req.Emergency {
			in, err := e.inAftermath(tx, st)
			if err != nil {
				return err
			}
			if !in {
				return apperr.Conflict(apperr.CodeDisasterInProgress,
					"emergency construction is only available during disaster aftermath")
			}
		}

		if len(queue) >= settlement.MaxQueuedConstructions {
			return apperr.Conflict(apperr.CodeQueueFull, "construction queue is full").
				WithDetail("limit", settlement.MaxQueuedConstructions)
		}

		cost := buildCost(def, req.Emergency)
		if err := debit(tx, st.ID, cost); err != nil {
			return err
		}

		now := time.Now().UTC()
		entry = &settlement.QueueEntry{
			ID:           uuid.NewString(),
			SettlementID: st.ID,
			Subtype:      def.Subtype,
			TileID:       req.TileID,
			SlotPosition: req.SlotPosition,
			Cost:         cost,
			Status:       settlement.QueueQueued,
			Position:     len(queue),
			IsEmergency:  req.Emergency,
			CreatedAt:    now,
		}
		if err := persistence.InsertQueueEntry(tx, entry); err != nil {
			return err
		}

		started, err = e.promote(tx, st.ID)
		if err != nil {
			return err
		}
		if started {
			// Reload so the caller sees the promoted state and timing.
			cur, err := persistence.QueueEntryByID(tx, entry.ID)
			if err != nil {
				return err
			}
			if cur != nil {
				entry = cur
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	room := events.SettlementRoom(req.SettlementID)
	e.Hub.Publish(room, events.EvConstructionQueued, map[string]any{
		"settlementId": req.SettlementID,
		"entry":        entry,
	})
	if started {
		e.Hub.Publish(room, events.EvConstructionStarted, map[string]any{
			"settlementId": req.SettlementID,
			"projectId":    entry.ID,
			"completesAt":  entry.CompletesAt,
		})
	}
	return entry, nil
}

// validateBuild runs the static checks: slot, area, uniqueness, town hall
// gate, and prerequisites. Resource sufficiency is checked at debit.
func validateBuild(tx *sqlx.Tx, st *settlement.Settlement, def settlement.Definition, req BuildRequest, structures []*settlement.Structure, queue []*settlement.QueueEntry) error {
	if def.Category == settlement.CategoryExtractor {
		if req.TileID == nil || req.SlotPosition == nil {
			return apperr.Validation(apperr.CodeMissingFields, "extractor requires tileId and slotPosition")
		}
		tile, err := persistence.TileByID(tx, *req.TileID)
		if err != nil {
			return err
		}
		if tile == nil {
			return apperr.NotFound(apperr.CodeTileNotFound, "tile not found")
		}
		if tile.SettlementID == nil || *tile.SettlementID != st.ID {
			return apperr.Auth(apperr.CodeNotSettlementOwner, "tile is not held by this settlement")
		}
		if *req.SlotPosition < 0 || *req.SlotPosition >= tile.PlotSlots {
			return apperr.Validation(apperr.CodeInvalidSlot, "slot position out of range").
				WithDetail("plotSlots", tile.PlotSlots)
		}
		for _, s := range structures {
			if s.TileID != nil && *s.TileID == *req.TileID &&
				s.SlotPosition != nil && *s.SlotPosition == *req.SlotPosition {
				return apperr.Validation(apperr.CodeSlotOccupied, "tile slot already occupied")
			}
		}
		for _, q := range queue {
			if q.TileID != nil && *q.TileID == *req.TileID &&
				q.SlotPosition != nil && *q.SlotPosition == *req.SlotPosition {
				return apperr.Validation(apperr.CodeSlotOccupied, "tile slot reserved by queued construction")
			}
		}
	} else {
		used := 0
		for _, s := range structures {
			if d, ok := settlement.DefinitionFor(s.Subtype); ok {
				used += d.AreaCost
			}
		}
		for _, q := range queue {
			if d, ok := settlement.DefinitionFor(q.Subtype); ok {
				used += d.AreaCost
			}
		}
		if used+def.AreaCost > st.Tier.AreaBudget() {
			return apperr.Validation(apperr.CodeAreaExceeded, "area budget exceeded").
				WithDetail("used", used).
				WithDetail("budget", st.Tier.AreaBudget()).
				WithDetail("required", def.AreaCost)
		}
	}

	if def.Unique {
		for _, s := range structures {
			if s.Subtype == def.Subtype {
				return apperr.Validation(apperr.CodeUniqueStructureExists, "structure is unique per settlement")
			}
		}
		for _, q := range queue {
			if q.Subtype == def.Subtype {
				return apperr.Validation(apperr.CodeUniqueStructureExists, "structure already queued")
			}
		}
	}

	if th := modifier.TownHallLevel(structures); th < def.MinTownHallLevel {
		return apperr.Validation(apperr.CodeMinTownHallLevel, "town hall level too low").
			WithDetail("required", def.MinTownHallLevel).
			WithDetail("current", th)
	}

	if missing := modifier.CheckPrerequisites(def, structures); len(missing) > 0 {
		return apperr.Validation(apperr.CodePrerequisitesNotMet, "prerequisites not met").
			WithDetail("missing", missing)
	}
	return nil
}

// buildCost scales the base cost for emergency construction, rounding up.
func buildCost(def settlement.Definition, emergency bool) map[world.Resource]int {
	cost := def.BaseCost()
	if !emergency {
		return cost
	}
	for r, amount := range cost {
		cost[r] = int(math.Ceil(float64(amount) * emergencyCostMultiplier))
	}
	return cost
}

// debit subtracts a cost from storage, failing whole with the shortage map
// when any resource is insufficient.
func debit(tx *sqlx.Tx, settlementID string, cost map[world.Resource]int) error {
	storage, err := persistence.StorageBySettlement(tx, settlementID)
	if err != nil {
		return err
	}
	if storage == nil {
		return apperr.NotFound(apperr.CodeSettlementNotFound, "settlement storage missing")
	}

	shortages := make(map[world.Resource]int)
	for r, amount := range cost {
		if storage.Amounts[r] < amount {
			shortages[r] = amount - storage.Amounts[r]
		}
	}
	if len(shortages) > 0 {
		return apperr.Validation(apperr.CodeInsufficientResources, "insufficient resources").
			WithDetail("shortages", shortages)
	}
	for r, amount := range cost {
		storage.Amounts[r] -= amount
	}
	return persistence.WriteStorage(tx, settlementID, storage.Amounts)
}

// refund credits back a fraction of a debit snapshot. Storage capacity is a
// hard ceiling even here: overflow is forfeited, the same as over-capacity
// production waste.
func refund(tx *sqlx.Tx, settlementID string, cost map[world.Resource]int, fraction float64, capacity int) (map[world.Resource]int, error) {
	storage, err := persistence.StorageBySettlement(tx, settlementID)
	if err != nil || storage == nil {
		return nil, err
	}
	refunded := make(map[world.Resource]int)
	for r, amount := range cost {
		back := int(math.Floor(float64(amount) * fraction))
		if room := capacity - storage.Amounts[r]; back > room {
			back = room
		}
		if back > 0 {
			storage.Amounts[r] += back
			refunded[r] = back
		}
	}
	return refunded, persistence.WriteStorage(tx, settlementID, storage.Amounts)
}

// Cancel aborts a queued or in-progress construction, refunding half its
// debit and compacting queue positions.
func (e *Engine) Cancel(ctx context.Context, settlementID, entryID string) (*settlement.QueueEntry, error) {
	unlock := e.locks.Lock(settlementID)
	defer unlock()

	var (
		entry    *settlement.QueueEntry
		refunded map[world.Resource]int
	)
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = persistence.QueueEntryByID(tx, entryID)
		if err != nil {
			return err
		}
		if entry == nil || entry.SettlementID != settlementID {
			return apperr.NotFound(apperr.CodeStructureNotFound, "construction entry not found")
		}
		if entry.Terminal() {
			return apperr.Conflict(apperr.CodeQueueFull, "construction already finished")
		}

		mods, err := persistence.ModifiersBySettlement(tx, settlementID)
		if err != nil {
			return err
		}
		capacity := settlement.BaseStorageCapacity + int(modifier.Value(mods, settlement.ModStorageCapacity))
		refunded, err = refund(tx, settlementID, entry.Cost, cancelRefundFraction, capacity)
		if err != nil {
			return err
		}

		entry.Status = settlement.QueueCancelled
		if err := persistence.UpdateQueueEntry(tx, entry); err != nil {
			return err
		}
		if err := compactPositions(tx, settlementID); err != nil {
			return err
		}
		_, err = e.promote(tx, settlementID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Hub.Publish(events.SettlementRoom(settlementID), events.EvConstructionCancelled, map[string]any{
		"settlementId": settlementID,
		"projectId":    entry.ID,
		"refunded":     refunded,
	})
	return entry, nil
}

// compactPositions renumbers non-terminal entries to a dense 0..n-1 run.
func compactPositions(tx *sqlx.Tx, settlementID string) error {
	queue, err := persistence.ActiveQueueBySettlement(tx, settlementID)
	if err != nil {
		return err
	}
	for i, q := range queue {
		if q.Position != i {
			q.Position = i
			if err := persistence.UpdateQueueEntry(tx, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// promote starts queued entries while active slots are free. Returns whether
// anything newly started.
func (e *Engine) promote(tx *sqlx.Tx, settlementID string) (bool, error) {
	queue, err := persistence.ActiveQueueBySettlement(tx, settlementID)
	if err != nil {
		return false, err
	}
	mods, err := persistence.ModifiersBySettlement(tx, settlementID)
	if err != nil {
		return false, err
	}
	speedBonus := modifier.Value(mods, settlement.ModConstructionSpeed)

	inProgress := 0
	for _, q := range queue {
		if q.Status == settlement.QueueInProgress {
			inProgress++
		}
	}

	started := false
	now := time.Now().UTC()
	for _, q := range queue {
		if inProgress >= settlement.MaxActiveConstructions {
			break
		}
		if q.Status != settlement.QueueQueued {
			continue
		}
		def, ok := settlement.DefinitionFor(q.Subtype)
		if !ok {
			continue
		}
		secs := constructionSeconds(def, speedBonus, q.IsEmergency)
		completes := now.Add(time.Duration(secs * float64(time.Second)))
		q.Status = settlement.QueueInProgress
		q.StartedAt = &now
		q.CompletesAt = &completes
		if err := persistence.UpdateQueueEntry(tx, q); err != nil {
			return started, err
		}
		inProgress++
		started = true
	}
	return started, nil
}

// constructionSeconds applies workshop speed and the emergency speedup to a
// definition's base build time.
func constructionSeconds(def settlement.Definition, speedBonus float64, emergency bool) float64 {
	secs := float64(def.ConstructionSecs)
	if speedBonus > 0 {
		secs /= 1 + speedBonus/100
	}
	if emergency {
		secs /= emergencySpeedup
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// inAftermath reports whether any disaster affecting the settlement's tile
// is currently in AFTERMATH.
func (e *Engine) inAftermath(tx *sqlx.Tx, st *settlement.Settlement) (bool, error) {
	tile, err := persistence.TileByID(tx, st.TileID)
	if err != nil || tile == nil {
		return false, err
	}
	active, err := persistence.ActiveDisastersByWorld(tx, st.WorldID)
	if err != nil {
		return false, err
	}
	for _, d := range affecting(active, tile) {
		if d.Status == disaster.StatusAftermath {
			return true, nil
		}
	}
	return false, nil
}

// completeDue promotes every construction whose completion time has passed
// into a built structure, settlement by settlement.
func (e *Engine) completeDue(ctx context.Context) {
	due, err := persistence.DueConstructions(e.Store.Conn(), time.Now().UTC())
	if err != nil {
		slog.Error("load due constructions", "error", err)
		return
	}
	for _, entry := range due {
		if err := e.completeOne(ctx, entry); err != nil {
			slog.Error("complete construction", "entry", entry.ID, "error", err)
		}
	}
}

func (e *Engine) completeOne(ctx context.Context, entry *settlement.QueueEntry) error {
	unlock := e.locks.Lock(entry.SettlementID)
	defer unlock()

	var built *settlement.Structure
	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := persistence.QueueEntryByID(tx, entry.ID)
		if err != nil || cur == nil || cur.Status != settlement.QueueInProgress {
			return err
		}

		now := time.Now().UTC()
		built = &settlement.Structure{
			ID:           uuid.NewString(),
			SettlementID: cur.SettlementID,
			Subtype:      cur.Subtype,
			Level:        1,
			Health:       100,
			TileID:       cur.TileID,
			SlotPosition: cur.SlotPosition,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := persistence.InsertStructure(tx, built); err != nil {
			return err
		}

		cur.Status = settlement.QueueComplete
		if err := persistence.UpdateQueueEntry(tx, cur); err != nil {
			return err
		}
		if err := compactPositions(tx, cur.SettlementID); err != nil {
			return err
		}
		_, err = e.promote(tx, cur.SettlementID)
		return err
	})
	if err != nil || built == nil {
		return err
	}

	e.recomputeModifiers(ctx, entry.SettlementID)

	room := events.SettlementRoom(entry.SettlementID)
	e.Hub.Publish(room, events.EvConstructionComplete, map[string]any{
		"settlementId": entry.SettlementID,
		"projectId":    entry.ID,
		"structure":    built,
	})
	e.Hub.Publish(room, events.EvStructureBuilt, map[string]any{
		"settlementId": entry.SettlementID,
		"structure":    built,
	})
	return nil
}

// publishProgress emits the coalesced construction progress batch for a
// world, at most once per configured batch interval.
func (e *Engine) publishProgress(w *world.World) {
	now := time.Now()
	if e.batchAt != nil {
		if last, ok := e.batchAt[w.ID]; ok && now.Sub(last) < e.Cfg.BatchInterval {
			return
		}
	} else {
		e.batchAt = make(map[string]time.Time)
	}
	e.batchAt[w.ID] = now

	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("progress batch: load settlements", "world", w.ID, "error", err)
		return
	}

	var constructions []map[string]any
	for _, st := range settlements {
		queue, err := persistence.ActiveQueueBySettlement(e.Store.Conn(), st.ID)
		if err != nil {
			continue
		}
		for _, q := range queue {
			if q.Status != settlement.QueueInProgress || q.StartedAt == nil || q.CompletesAt == nil {
				continue
			}
			total := q.CompletesAt.Sub(*q.StartedAt)
			elapsed := now.UTC().Sub(*q.StartedAt)
			progress := 0.0
			if total > 0 {
				progress = math.Min(1, math.Max(0, elapsed.Seconds()/total.Seconds()))
			}
			remaining := q.CompletesAt.Sub(now.UTC())
			if remaining < 0 {
				remaining = 0
			}
			constructions = append(constructions, map[string]any{
				"settlementId":  st.ID,
				"projectId":     q.ID,
				"progress":      progress,
				"timeRemaining": remaining.Seconds(),
			})
		}
	}
	if len(constructions) == 0 {
		return
	}
	e.Hub.Publish(events.WorldRoom(w.ID), events.EvConstructionProgressBatch, map[string]any{
		"worldId":       w.ID,
		"constructions": constructions,
	})
}
