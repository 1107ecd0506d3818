package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// Run drives the simulation until ctx is cancelled. Blocks. The economy
// advances at TickHz; the disaster lifecycle runs on its own faster clock so
// impact damage lands in small time slices.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) * e.tickSeconds())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	disasterInterval := e.disasterInterval()
	disasterTicker := time.NewTicker(disasterInterval)
	defer disasterTicker.Stop()

	slog.Info("tick loop started", "interval", interval, "disasterInterval", disasterInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("tick loop stopped", "tick", e.tick)
			return
		case <-disasterTicker.C:
			e.stepDisasters(ctx, disasterInterval)
		case <-ticker.C:
			e.step(ctx, interval)
		}
	}
}

// step advances every ready world by one economic tick.
func (e *Engine) step(ctx context.Context, interval time.Duration) {
	e.tick++

	worlds, err := persistence.ListWorlds(e.Store.Conn())
	if err != nil {
		slog.Error("tick: list worlds", "error", err)
		return
	}

	for _, w := range worlds {
		if w.Status != world.StatusReady {
			continue
		}
		active, err := persistence.ActiveDisastersByWorld(e.Store.Conn(), w.ID)
		if err != nil {
			slog.Error("tick: load active disasters", "world", w.ID, "error", err)
			active = nil
		}
		e.tickSettlements(ctx, w, active, interval)
		e.publishProgress(w)
	}

	e.completeDue(ctx)
}

// stepDisasters advances every ready world's disaster lifecycle by one
// sub-tick: scheduling rolls, phase transitions, and impact damage.
func (e *Engine) stepDisasters(ctx context.Context, interval time.Duration) {
	worlds, err := persistence.ListWorlds(e.Store.Conn())
	if err != nil {
		slog.Error("disaster tick: list worlds", "error", err)
		return
	}
	for _, w := range worlds {
		if w.Status != world.StatusReady {
			continue
		}
		e.advanceDisasters(ctx, w, interval)
	}
}

// tickSettlements runs production and population for every settlement in a
// world, within a soft deadline of one tick interval. Settlements that do
// not fit are deferred to the next tick.
func (e *Engine) tickSettlements(ctx context.Context, w *world.World, active []*disaster.Event, interval time.Duration) {
	settlements, err := persistence.SettlementsByWorld(e.Store.Conn(), w.ID)
	if err != nil {
		slog.Error("tick: load settlements", "world", w.ID, "error", err)
		return
	}

	deadline := time.Now().Add(interval)
	for i, st := range settlements {
		if time.Now().After(deadline) {
			slog.Warn("tick deadline exceeded, deferring settlements",
				"world", w.ID, "deferred", len(settlements)-i)
			return
		}
		if st.Errored {
			// One-tick cooloff after a panic.
			st.Errored = false
			if err := persistence.UpdateSettlement(e.Store.Conn(), st); err != nil {
				slog.Error("tick: clear errored flag", "settlement", st.ID, "error", err)
			}
			continue
		}
		e.tickSettlement(ctx, w, st, active)
	}
}

// tickSettlement runs one settlement's tick under its lock. Panics are
// contained: the settlement is marked errored and skipped next tick.
func (e *Engine) tickSettlement(ctx context.Context, w *world.World, st *settlement.Settlement, active []*disaster.Event) {
	unlock := e.locks.Lock(st.ID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("settlement tick panicked", "settlement", st.ID, "panic", r)
			st.Errored = true
			if err := persistence.UpdateSettlement(e.Store.Conn(), st); err != nil {
				slog.Error("tick: mark errored", "settlement", st.ID, "error", err)
			}
		}
	}()

	if err := e.produceTick(ctx, w, st, active); err != nil {
		slog.Error("production tick failed", "settlement", st.ID, "error", err)
	}
	if err := e.populationTick(ctx, st, active); err != nil {
		slog.Error("population tick failed", "settlement", st.ID, "error", err)
	}
}
