// World lifecycle: creation kicks off asynchronous generation; the world
// stays in status generating until its regions and tiles are committed.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/world"
)

// WorldRequest describes a world to create. Zero Seed means derive one from
// the clock; zero dimensions fall back to the defaults.
type WorldRequest struct {
	ServerID      string
	Name          string
	Template      world.TemplateType
	WidthRegions  int
	HeightRegions int
	Seed          int64
}

const (
	defaultWidthRegions  = 5
	defaultHeightRegions = 5
	maxRegionsPerAxis    = 20
)

// CreateWorld inserts the world in status generating and starts generation in
// the background. The returned world reflects the pre-generation state.
func (e *Engine) CreateWorld(ctx context.Context, req WorldRequest) (*world.World, error) {
	if req.Name == "" || req.ServerID == "" {
		return nil, apperr.Validation(apperr.CodeMissingFields, "serverId and name are required")
	}
	if req.WidthRegions == 0 {
		req.WidthRegions = defaultWidthRegions
	}
	if req.HeightRegions == 0 {
		req.HeightRegions = defaultHeightRegions
	}
	if req.WidthRegions < 1 || req.WidthRegions > maxRegionsPerAxis ||
		req.HeightRegions < 1 || req.HeightRegions > maxRegionsPerAxis {
		return nil, apperr.Validation(apperr.CodeMissingFields, "world dimensions out of range").
			WithDetail("maxRegionsPerAxis", maxRegionsPerAxis)
	}
	switch req.Template {
	case world.TemplateRelaxed, world.TemplateBalanced, world.TemplateHardcore:
	case "":
		req.Template = world.TemplateBalanced
	default:
		return nil, apperr.Validation(apperr.CodeMissingFields, "unknown template").
			WithDetail("template", req.Template)
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}

	now := time.Now().UTC()
	w := &world.World{
		ID:            uuid.NewString(),
		ServerID:      req.ServerID,
		Name:          req.Name,
		Status:        world.StatusGenerating,
		Seed:          req.Seed,
		WidthRegions:  req.WidthRegions,
		HeightRegions: req.HeightRegions,
		Elevation:     world.DefaultNoiseParams(),
		Precipitation: world.DefaultNoiseParams(),
		Temperature:   world.DefaultNoiseParams(),
		Template:      req.Template,
		Config:        world.TemplateConfigFor(req.Template),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := persistence.InsertWorld(e.Store.Conn(), w); err != nil {
		return nil, err
	}

	go e.generateWorld(w)
	return w, nil
}

// generateWorld runs the generator and commits the result, flipping status to
// ready or failed. Runs detached from the request context.
func (e *Engine) generateWorld(w *world.World) {
	start := time.Now()
	gen, err := world.Generate(w)
	if err != nil {
		e.failWorld(w, err)
		return
	}

	err = e.Store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		if err := persistence.InsertRegions(tx, gen.Regions); err != nil {
			return err
		}
		if err := persistence.InsertTiles(tx, gen.Tiles); err != nil {
			return err
		}
		return persistence.SetWorldStatus(tx, w.ID, world.StatusReady, "")
	})
	if err != nil {
		e.failWorld(w, err)
		return
	}

	slog.Info("world generated",
		"world", w.ID,
		"regions", len(gen.Regions),
		"tiles", len(gen.Tiles),
		"took", time.Since(start))
	e.Hub.Publish(events.WorldRoom(w.ID), events.EvStateUpdate, map[string]any{
		"kind":    "world-ready",
		"worldId": w.ID,
	})
}

func (e *Engine) failWorld(w *world.World, cause error) {
	slog.Error("world generation failed", "world", w.ID, "error", cause)
	if err := persistence.SetWorldStatus(e.Store.Conn(), w.ID, world.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark world failed", "world", w.ID, "error", err)
	}
}

// DeleteWorld removes a world and everything that cascades from it.
func (e *Engine) DeleteWorld(ctx context.Context, worldID string) error {
	w, err := persistence.WorldByID(e.Store.Conn(), worldID)
	if err != nil {
		return err
	}
	if w == nil {
		return apperr.NotFound(apperr.CodeWorldNotFound, "world not found")
	}
	return persistence.DeleteWorld(e.Store.Conn(), worldID)
}
