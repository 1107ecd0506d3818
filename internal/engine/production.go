// Per-tick resource production: extractors joined with their tiles feed the
// pure calculator, fractional output carries between ticks, and integer
// credit lands in storage subject to capacity.
package engine

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/economy"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/modifier"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// storageWarningFraction is the fill level that triggers a storage warning.
const storageWarningFraction = 0.9

// affecting filters a world's active disasters down to those that reach the
// given tile (biome list and region targeting).
func affecting(active []*disaster.Event, tile *world.Tile) []*disaster.Event {
	var out []*disaster.Event
	for _, d := range active {
		if d.RegionID != nil && *d.RegionID != tile.RegionID {
			continue
		}
		if !d.AffectsBiome(tile.Biome) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func biomeEfficiency(b world.BiomeID, r world.Resource) float64 {
	biome := world.BiomeByID(b)
	if eff, ok := biome.Modifiers[r]; ok {
		return eff
	}
	return 1.0
}

func (e *Engine) produceTick(ctx context.Context, w *world.World, st *settlement.Settlement, active []*disaster.Event) error {
	var (
		produced map[world.Resource]float64
		credited map[world.Resource]int
		wasted   map[world.Resource]int
		stock    map[world.Resource]int
		capacity int
	)

	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		homeTile, err := persistence.TileByID(tx, st.TileID)
		if err != nil {
			return err
		}
		if homeTile == nil {
			return nil
		}

		joins, err := persistence.ExtractorsBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		mods, err := persistence.ModifiersBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		storage, err := persistence.StorageBySettlement(tx, st.ID)
		if err != nil {
			return err
		}
		if storage == nil {
			return nil
		}

		local := affecting(active, homeTile)
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

		produced = economy.Produce(extractors, local, resistance, 1, w.Config.ProductionMultiplier)

		// Flat percentage bonuses from farms and wells.
		if bonus := modifier.Value(mods, settlement.ModFoodProduction); bonus > 0 {
			produced[world.ResourceFood] *= 1 + bonus/100
		}
		if bonus := modifier.Value(mods, settlement.ModWaterProduction); bonus > 0 {
			produced[world.ResourceWater] *= 1 + bonus/100
		}

		// Merge last tick's fractional remainder before integer credit.
		c := e.carryFor(st.ID)
		for r, frac := range c.prod {
			produced[r] += frac
		}

		capacity = settlement.BaseStorageCapacity + int(modifier.Value(mods, settlement.ModStorageCapacity))
		var remainder map[world.Resource]float64
		credited, wasted, remainder = economy.ApplyToStorage(storage.Amounts, produced, capacity)
		c.prod = remainder

		stock = storage.Amounts
		if len(credited) == 0 {
			return nil
		}
		return persistence.WriteStorage(tx, st.ID, storage.Amounts)
	})
	if err != nil {
		return err
	}

	room := events.SettlementRoom(st.ID)
	if len(produced) > 0 {
		e.Hub.Publish(room, events.EvResourceTick, map[string]any{
			"settlementId": st.ID,
			"produced":     credited,
			"storage":      stock,
		})
	}
	if len(wasted) > 0 {
		e.Hub.Publish(room, events.EvResourceWaste, map[string]any{
			"settlementId": st.ID,
			"wasted":       wasted,
			"capacity":     capacity,
		})
	}
	for r, amount := range stock {
		if capacity > 0 && float64(amount) >= storageWarningFraction*float64(capacity) {
			e.Hub.Publish(room, events.EvStorageWarning, map[string]any{
				"settlementId": st.ID,
				"resource":     r,
				"amount":       amount,
				"capacity":     capacity,
			})
		}
	}
	return nil
}
