// Disaster engine: probabilistic scheduling, the monotonic state machine,
// per-tick impact damage and casualties, history rollups, and resilience.
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

// Natural scheduling bounds.
const (
	minWarning = 1 * time.Hour
	maxWarning = 4 * time.Hour
	minImpact  = 30 * time.Minute
	maxImpact  = 2 * time.Hour

	// Share of stored resources lost when impact ends, scaled by severity.
	storageLossFactor = 0.1

	// Permanent tile depletion applied at impact end, scaled by severity.
	tileDepletionFactor = 0.2
)

// impactToll accumulates one settlement's losses across a disaster's impact
// ticks, flushed to DisasterHistory at AFTERMATH entry.
type impactToll struct {
	casualtyFrac  float64
	casualties    int
	damaged       map[string]bool
	destroyed     int
	resourcesLost map[world.Resource]int
}

func (e *Engine) tollFor(disasterID, settlementID string) *impactToll {
	e.tollMu.Lock()
	defer e.tollMu.Unlock()
	key := disasterID + "|" + settlementID
	t, ok := e.tolls[key]
	if !ok {
		t = &impactToll{damaged: make(map[string]bool), resourcesLost: make(map[world.Resource]int)}
		e.tolls[key] = t
	}
	return t
}

func (e *Engine) dropTolls(disasterID string) {
	e.tollMu.Lock()
	defer e.tollMu.Unlock()
	for key := range e.tolls {
		if len(key) > len(disasterID) && key[:len(disasterID)] == disasterID {
			delete(e.tolls, key)
		}
	}
}

// advanceDisasters schedules new disasters and advances every active one,
// returning the set still active for production suppression this tick.
func (e *Engine) advanceDisasters(ctx context.Context, w *world.World, interval time.Duration) []*disaster.Event {
	active, err := persistence.ActiveDisastersByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("load active disasters", "world", w.ID, "error", err)
		return nil
	}

	if d := e.maybeSchedule(ctx, w, active, interval); d != nil {
		active = append(active, d)
	}

	now := time.Now().UTC()
	out := active[:0]
	for _, d := range active {
		if err := e.advanceOne(ctx, w, d, now, interval); err != nil {
			slog.Error("advance disaster", "disaster", d.ID, "error", err)
		}
		if d.Active() {
			out = append(out, d)
		}
	}
	return out
}

// maybeSchedule rolls the per-sub-tick disaster chance for a world. At most
// one disaster is in its pre-aftermath phases at a time.
func (e *Engine) maybeSchedule(ctx context.Context, w *world.World, active []*disaster.Event, interval time.Duration) *disaster.Event {
	for _, d := range active {
		if d.Status != disaster.StatusAftermath {
			return nil
		}
	}

	src := e.worldSource(w)
	rollsPerDay := 24 * 3600 / interval.Seconds()
	if src.Float("disaster-roll") >= w.Config.DisasterFrequency/rollsPerDay {
		return nil
	}

	// Aim at an inhabited biome when there is one.
	biome := world.BiomeGrassland
	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err == nil && len(settlements) > 0 {
		pick := settlements[src.IntN("disaster-target", len(settlements))]
		if tile, err := persistence.TileByID(e.Store.Conn(), pick.TileID); err == nil && tile != nil {
			biome = tile.Biome
		}
	}

	typ := disaster.PickType(biome, src)
	severity := clampSeverity((10 + src.Float("disaster-severity")*90) * w.Config.DisasterSeverity)
	warning := minWarning + time.Duration(src.Float("disaster-warning")*float64(maxWarning-minWarning))
	impact := minImpact + time.Duration(src.Float("disaster-impact")*float64(maxImpact-minImpact))

	now := time.Now().UTC()
	d := &disaster.Event{
		ID:             uuid.NewString(),
		WorldID:        w.ID,
		Type:           typ,
		Severity:       severity,
		SeverityLevel:  disaster.LevelFor(severity),
		AffectedBiomes: disaster.RiskBiomes(typ),
		ScheduledAt:    now,
		WarningTime:    warning,
		ImpactDuration: impact,
		Status:         disaster.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := persistence.InsertDisaster(e.Store.Conn(), d); err != nil {
		slog.Error("schedule disaster", "world", w.ID, "error", err)
		return nil
	}
	slog.Info("disaster scheduled", "world", w.ID, "type", typ, "severity", severity)
	return d
}

func clampSeverity(s float64) float64 {
	if s < 1 {
		return 1
	}
	if s > 100 {
		return 100
	}
	return s
}

// advanceOne moves a disaster along its lifecycle and applies impact damage
// while it is in IMPACT.
func (e *Engine) advanceOne(ctx context.Context, w *world.World, d *disaster.Event, now time.Time, interval time.Duration) error {
	room := events.WorldRoom(w.ID)

	switch d.Status {
	case disaster.StatusScheduled:
		if now.Before(d.ScheduledAt) {
			return nil
		}
		d.Status = disaster.StatusWarning
		d.WarningAt = &now
		if err := persistence.UpdateDisaster(e.Store.Conn(), d); err != nil {
			return err
		}
		e.Hub.Publish(room, events.EvDisasterWarning, map[string]any{
			"disaster":          d,
			"estimatedImpactAt": now.Add(d.WarningTime),
		})

	case disaster.StatusWarning:
		impactAt := d.WarningAt.Add(d.WarningTime)
		if !d.ImminentIssued && now.After(impactAt.Add(-disaster.ImminentWarningLead)) {
			d.ImminentIssued = true
			if err := persistence.UpdateDisaster(e.Store.Conn(), d); err != nil {
				return err
			}
			e.Hub.Publish(room, events.EvDisasterImminent, map[string]any{
				"disaster": d,
				"impactAt": impactAt,
			})
		}
		if now.After(impactAt) {
			d.Status = disaster.StatusImpact
			d.ImpactStartedAt = &now
			if err := persistence.UpdateDisaster(e.Store.Conn(), d); err != nil {
				return err
			}
			e.Hub.Publish(room, events.EvDisasterImpactStart, map[string]any{"disaster": d})
		}

	case disaster.StatusImpact:
		e.impactTick(ctx, w, d, interval)

		end := d.ImpactStartedAt.Add(d.ImpactDuration)
		elapsed := now.Sub(*d.ImpactStartedAt)
		progress := math.Min(1, elapsed.Seconds()/d.ImpactDuration.Seconds())
		e.Hub.Publish(room, events.EvDisasterDamage, map[string]any{
			"disasterId": d.ID,
			"progress":   progress,
		})

		if now.After(end) {
			d.Status = disaster.StatusAftermath
			d.ImpactEndedAt = &now
			if err := persistence.UpdateDisaster(e.Store.Conn(), d); err != nil {
				return err
			}
			e.endImpact(ctx, w, d)
		}

	case disaster.StatusAftermath:
		if now.After(d.ImpactEndedAt.Add(disaster.AftermathDuration)) {
			d.Status = disaster.StatusResolved
			d.ResolvedAt = &now
			if err := persistence.UpdateDisaster(e.Store.Conn(), d); err != nil {
				return err
			}
			e.grantResilience(ctx, w, d)
			e.Hub.Publish(room, events.EvDisasterResolved, map[string]any{"disasterId": d.ID})
		}
	}
	return nil
}

// impactTick applies one economic tick of damage and casualties to every
// affected settlement. Settlements are locked together in id order.
func (e *Engine) impactTick(ctx context.Context, w *world.World, d *disaster.Event, interval time.Duration) {
	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("impact tick: load settlements", "world", w.ID, "error", err)
		return
	}

	ids := make([]string, len(settlements))
	for i, st := range settlements {
		ids[i] = st.ID
	}
	unlock := e.locks.LockAll(ids)
	defer unlock()

	tickFraction := interval.Seconds() / d.ImpactDuration.Seconds()
	for _, st := range settlements {
		if err := e.impactSettlement(ctx, d, st, tickFraction); err != nil {
			slog.Error("impact tick failed", "settlement", st.ID, "disaster", d.ID, "error", err)
		}
	}
}

func (e *Engine) impactSettlement(ctx context.Context, d *disaster.Event, st *settlement.Settlement, tickFraction float64) error {
	var (
		damaged     []*settlement.Structure
		destroyed   []*settlement.Structure
		deaths      int
		bandCrossed bool
	)

	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		tile, err := persistence.TileByID(tx, st.TileID)
		if err != nil || tile == nil {
			return err
		}
		if len(affecting([]*disaster.Event{d}, tile)) == 0 {
			return nil
		}

		structures, err := persistence.StructuresBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		mods, err := persistence.ModifiersBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		resistance := modifier.Value(mods, settlement.ModDisasterResistance) / 100.0
		toll := e.tollFor(d.ID, st.ID)

		loss := disaster.StructureDamage(d.Severity, tickFraction, resistance)
		now := time.Now().UTC()
		for _, s := range structures {
			if s.Health <= 0 {
				continue
			}
			before := economy.HealthEffectiveness(&s.Health)
			s.Health -= loss
			s.DamagedAt = &now
			toll.damaged[s.ID] = true
			if s.Health <= 0 {
				s.Health = 0
				toll.destroyed++
				if err := persistence.DeleteStructure(tx, s.ID); err != nil {
					return err
				}
				destroyed = append(destroyed, s)
				continue
			}
			// Survivors that drop into a lower effectiveness band change
			// their modifier contribution; flag for recompute.
			if economy.HealthEffectiveness(&s.Health) != before {
				bandCrossed = true
			}
			if err := persistence.ForceUpdateStructure(tx, s); err != nil {
				return err
			}
			damaged = append(damaged, s)
		}

		pop, err := persistence.PopulationBySettlement(tx, st.ID)
		if err != nil || pop == nil {
			return err
		}
		frac := disaster.CasualtyFraction(d.SeverityLevel, tickFraction, resistance, pop.Happiness, st.Resilience)
		toll.casualtyFrac += frac * float64(pop.Current)
		if toll.casualtyFrac >= 1 {
			deaths = int(toll.casualtyFrac)
			toll.casualtyFrac -= float64(deaths)
			toll.casualties += deaths
			pop.Current -= deaths
			if pop.Current < 0 {
				pop.Current = 0
			}
			if err := persistence.WritePopulation(tx, pop); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	room := events.SettlementRoom(st.ID)
	for _, s := range damaged {
		e.Hub.Publish(room, events.EvStructureDamaged, map[string]any{
			"settlementId": st.ID,
			"structureId":  s.ID,
			"subtype":      s.Subtype,
			"health":       s.Health,
		})
	}
	for _, s := range destroyed {
		e.Hub.Publish(room, events.EvStructureDestroyed, map[string]any{
			"settlementId": st.ID,
			"structureId":  s.ID,
			"subtype":      s.Subtype,
		})
	}
	if deaths > 0 {
		e.Hub.Publish(room, events.EvCasualtiesReport, map[string]any{
			"settlementId": st.ID,
			"casualties":   deaths,
			"disasterId":   d.ID,
		})
	}
	if len(destroyed) > 0 || bandCrossed {
		e.recomputeModifiers(ctx, st.ID)
	}
	return nil
}

// endImpact applies the end-of-impact storage loss and tile depletion,
// writes the per-settlement history rows, and announces the aftermath.
func (e *Engine) endImpact(ctx context.Context, w *world.World, d *disaster.Event) {
	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("end impact: load settlements", "world", w.ID, "error", err)
		return
	}

	impact := d.SeverityLevel.Impact()
	for _, st := range settlements {
		toll := e.tollFor(d.ID, st.ID)

		err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
			tile, err := persistence.TileByID(tx, st.TileID)
			if err != nil || tile == nil {
				return err
			}
			if len(affecting([]*disaster.Event{d}, tile)) == 0 {
				return nil
			}

			storage, err := persistence.StorageBySettlement(tx, st.ID)
			if err != nil || storage == nil {
				return err
			}
			for _, r := range world.Resources {
				if !d.Type.Affects(r) {
					continue
				}
				lost := int(math.Floor(float64(storage.Amounts[r]) * impact * storageLossFactor))
				if lost > 0 {
					storage.Amounts[r] -= lost
					toll.resourcesLost[r] += lost
				}
			}
			if err := persistence.WriteStorage(tx, st.ID, storage.Amounts); err != nil {
				return err
			}

			// Persistent depletion on the settlement's claimed tiles.
			tiles, err := persistence.TilesBySettlement(tx, st.ID)
			if err != nil {
				return err
			}
			for _, t := range tiles {
				mod := t.BaseProductionModifier * (1 - d.Severity/100*tileDepletionFactor)
				if err := persistence.SetTileBaseModifier(tx, t.ID, mod); err != nil {
					return err
				}
			}

			h := &disaster.History{
				ID:                  uuid.NewString(),
				SettlementID:        st.ID,
				DisasterID:          d.ID,
				Casualties:          toll.casualties,
				StructuresDamaged:   len(toll.damaged),
				StructuresDestroyed: toll.destroyed,
				ResourcesLost:       toll.resourcesLost,
				ResilienceGained:    disaster.ResilienceGain(d.SeverityLevel),
				CreatedAt:           time.Now().UTC(),
			}
			return persistence.InsertHistory(tx, h)
		})
		if err != nil {
			slog.Error("end impact: settlement rollup", "settlement", st.ID, "error", err)
			continue
		}

		e.Hub.Publish(events.SettlementRoom(st.ID), events.EvDisasterImpactEnd, map[string]any{
			"disasterId":          d.ID,
			"casualties":          toll.casualties,
			"structuresDamaged":   len(toll.damaged),
			"structuresDestroyed": toll.destroyed,
			"resourcesLost":       toll.resourcesLost,
		})
	}

	e.Hub.Publish(events.WorldRoom(w.ID), events.EvDisasterAftermath, map[string]any{
		"disasterId":              d.ID,
		"emergencyRepairDiscount": aftermathRepairDiscount,
		"repairWindowHours":       disaster.EmergencyRepairWindow.Hours(),
	})
}

// grantResilience credits the history rollups to settlement resilience when
// a disaster resolves.
func (e *Engine) grantResilience(ctx context.Context, w *world.World, d *disaster.Event) {
	defer e.dropTolls(d.ID)

	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("grant resilience: load settlements", "world", w.ID, "error", err)
		return
	}
	for _, st := range settlements {
		err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
			hit, err := persistence.HistoryExists(tx, st.ID, d.ID)
			if err != nil || !hit {
				return err
			}
			st.Resilience += disaster.ResilienceGain(d.SeverityLevel)
			if st.Resilience > 100 {
				st.Resilience = 100
			}
			return persistence.UpdateSettlement(tx, st)
		})
		if err != nil {
			slog.Error("grant resilience", "settlement", st.ID, "error", err)
		}
	}
}

// TriggerDisaster is the admin test surface: schedule a disaster with a
// short warning so it begins almost immediately.
func (e *Engine) TriggerDisaster(ctx context.Context, worldID string, typ disaster.Type, severity float64, duration time.Duration) (*disaster.Event, error) {
	valid := false
	for _, t := range disaster.Types {
		if t == typ {
			valid = true
			break
		}
	}
	if !valid {
		return nil, apperr.Validation(apperr.CodeMissingFields, "unknown disaster type").
			WithDetail("type", typ)
	}
	if duration <= 0 {
		duration = minImpact
	}
	severity = clampSeverity(severity)

	w, err := persistence.WorldByID(e.Store.Conn(), worldID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperr.NotFound(apperr.CodeWorldNotFound, "world not found")
	}

	now := time.Now().UTC()
	d := &disaster.Event{
		ID:             uuid.NewString(),
		WorldID:        worldID,
		Type:           typ,
		Severity:       severity,
		SeverityLevel:  disaster.LevelFor(severity),
		AffectedBiomes: disaster.RiskBiomes(typ),
		ScheduledAt:    now,
		WarningTime:    disaster.ImminentWarningLead,
		ImpactDuration: duration,
		Status:         disaster.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := persistence.InsertDisaster(e.Store.Conn(), d); err != nil {
		return nil, err
	}
	slog.Info("disaster triggered", "world", worldID, "type", typ, "severity", severity)
	return d, nil
}

// ClearDisasters force-resolves every active disaster in a world.
func (e *Engine) ClearDisasters(ctx context.Context, worldID string) (int, error) {
	n, err := persistence.ResolveWorldDisasters(e.Store.Conn(), worldID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.Hub.Publish(events.WorldRoom(worldID), events.EvStateUpdate, map[string]any{
			"kind":    "disasters-cleared",
			"cleared": n,
		})
	}
	return n, nil
}
