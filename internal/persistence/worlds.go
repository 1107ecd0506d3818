// World, region, and tile records. Noise bundles, template config, and the
// region climate maps live in JSON columns decoded at this boundary;
// everything downstream sees typed structs.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/world"
)

type worldRow struct {
	ID            string            `db:"id"`
	ServerID      string            `db:"server_id"`
	Name          string            `db:"name"`
	Status        world.WorldStatus `db:"status"`
	FailReason    string            `db:"fail_reason"`
	Seed          int64             `db:"seed"`
	WidthRegions  int               `db:"width_regions"`
	HeightRegions int               `db:"height_regions"`
	NoiseJSON     string            `db:"noise_json"`
	Template      string            `db:"template"`
	ConfigJSON    string            `db:"config_json"`
	CreatedAt     time.Time         `db:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"`
}

type noiseBundle struct {
	Elevation     world.NoiseParams `json:"elevation"`
	Precipitation world.NoiseParams `json:"precipitation"`
	Temperature   world.NoiseParams `json:"temperature"`
}

func (r worldRow) decode() (*world.World, error) {
	w := &world.World{
		ID:            r.ID,
		ServerID:      r.ServerID,
		Name:          r.Name,
		Status:        r.Status,
		FailReason:    r.FailReason,
		Seed:          r.Seed,
		WidthRegions:  r.WidthRegions,
		HeightRegions: r.HeightRegions,
		Template:      world.TemplateType(r.Template),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	var nb noiseBundle
	if err := json.Unmarshal([]byte(r.NoiseJSON), &nb); err != nil {
		return nil, fmt.Errorf("decode world %s noise: %w", r.ID, err)
	}
	w.Elevation, w.Precipitation, w.Temperature = nb.Elevation, nb.Precipitation, nb.Temperature
	if err := json.Unmarshal([]byte(r.ConfigJSON), &w.Config); err != nil {
		return nil, fmt.Errorf("decode world %s config: %w", r.ID, err)
	}
	return w, nil
}

// InsertWorld persists a new world (status generating).
func InsertWorld(q sqlx.Ext, w *world.World) error {
	noise, err := json.Marshal(noiseBundle{w.Elevation, w.Precipitation, w.Temperature})
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return err
	}
	_, err = q.Exec(`INSERT INTO worlds
		(id, server_id, name, status, fail_reason, seed, width_regions, height_regions, noise_json, template, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ServerID, w.Name, w.Status, w.Seed, w.WidthRegions, w.HeightRegions,
		string(noise), w.Template, string(cfg), w.CreatedAt, w.UpdatedAt)
	return err
}

// WorldByID fetches a world, or nil when absent.
func WorldByID(q sqlx.Queryer, id string) (*world.World, error) {
	var row worldRow
	err := sqlx.Get(q, &row, `SELECT * FROM worlds WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode()
}

// ListWorlds returns all worlds, newest first.
func ListWorlds(q sqlx.Queryer) ([]*world.World, error) {
	var rows []worldRow
	if err := sqlx.Select(q, &rows, `SELECT * FROM worlds ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	out := make([]*world.World, 0, len(rows))
	for _, r := range rows {
		w, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// SetWorldStatus flips the generation lifecycle status.
func SetWorldStatus(q sqlx.Ext, id string, status world.WorldStatus, failReason string) error {
	_, err := q.Exec(`UPDATE worlds SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		status, failReason, time.Now().UTC(), id)
	return err
}

// DeleteWorld removes a world; regions, tiles, settlements, and disasters
// cascade.
func DeleteWorld(q sqlx.Ext, id string) error {
	_, err := q.Exec(`DELETE FROM worlds WHERE id = ?`, id)
	return err
}

// InsertRegions batch-inserts generated regions.
func InsertRegions(q sqlx.Ext, regions []*world.Region) error {
	for _, r := range regions {
		elev, err := json.Marshal(r.ElevationMap)
		if err != nil {
			return err
		}
		rain, err := json.Marshal(r.PrecipitationMap)
		if err != nil {
			return err
		}
		temp, err := json.Marshal(r.TemperatureMap)
		if err != nil {
			return err
		}
		if _, err := q.Exec(`INSERT INTO regions (id, world_id, x, y, elevation_json, precipitation_json, temperature_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.WorldID, r.X, r.Y, string(elev), string(rain), string(temp)); err != nil {
			return fmt.Errorf("insert region (%d,%d): %w", r.X, r.Y, err)
		}
	}
	return nil
}

// InsertTiles batch-inserts generated tiles.
func InsertTiles(q sqlx.Ext, tiles []*world.Tile) error {
	for _, t := range tiles {
		if _, err := q.Exec(`INSERT INTO tiles
			(id, region_id, world_id, x, y, type, elevation, temperature, precipitation,
			 quality_food, quality_water, quality_wood, quality_stone, quality_ore,
			 special_resource, plot_slots, base_production_modifier, settlement_id, biome)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
			t.ID, t.RegionID, t.WorldID, t.X, t.Y, t.Type, t.Elevation, t.Temperature, t.Precipitation,
			t.Qualities.Food, t.Qualities.Water, t.Qualities.Wood, t.Qualities.Stone, t.Qualities.Ore,
			t.SpecialResource, t.PlotSlots, t.BaseProductionModifier, t.Biome); err != nil {
			return fmt.Errorf("insert tile (%d,%d): %w", t.X, t.Y, err)
		}
	}
	return nil
}

type tileRow struct {
	ID                     string         `db:"id"`
	RegionID               string         `db:"region_id"`
	WorldID                string         `db:"world_id"`
	X                      int            `db:"x"`
	Y                      int            `db:"y"`
	Type                   world.TileType `db:"type"`
	Elevation              float64        `db:"elevation"`
	Temperature            float64        `db:"temperature"`
	Precipitation          float64        `db:"precipitation"`
	QualityFood            float64        `db:"quality_food"`
	QualityWater           float64        `db:"quality_water"`
	QualityWood            float64        `db:"quality_wood"`
	QualityStone           float64        `db:"quality_stone"`
	QualityOre             float64        `db:"quality_ore"`
	SpecialResource        *string        `db:"special_resource"`
	PlotSlots              int            `db:"plot_slots"`
	BaseProductionModifier float64        `db:"base_production_modifier"`
	SettlementID           *string        `db:"settlement_id"`
	Biome                  world.BiomeID  `db:"biome"`
}

func (r tileRow) decode() *world.Tile {
	return &world.Tile{
		ID: r.ID, RegionID: r.RegionID, WorldID: r.WorldID, X: r.X, Y: r.Y, Type: r.Type,
		Elevation: r.Elevation, Temperature: r.Temperature, Precipitation: r.Precipitation,
		Qualities: world.Qualities{
			Food: r.QualityFood, Water: r.QualityWater, Wood: r.QualityWood,
			Stone: r.QualityStone, Ore: r.QualityOre,
		},
		SpecialResource: r.SpecialResource, PlotSlots: r.PlotSlots,
		BaseProductionModifier: r.BaseProductionModifier,
		SettlementID:           r.SettlementID, Biome: r.Biome,
	}
}

// TileByID fetches a tile, or nil when absent.
func TileByID(q sqlx.Queryer, id string) (*world.Tile, error) {
	var row tileRow
	err := sqlx.Get(q, &row, `SELECT * FROM tiles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode(), nil
}

// TilesByRegion returns all tiles of a region ordered (y, x).
func TilesByRegion(q sqlx.Queryer, regionID string) ([]*world.Tile, error) {
	var rows []tileRow
	if err := sqlx.Select(q, &rows, `SELECT * FROM tiles WHERE region_id = ? ORDER BY y, x`, regionID); err != nil {
		return nil, err
	}
	out := make([]*world.Tile, len(rows))
	for i, r := range rows {
		out[i] = r.decode()
	}
	return out, nil
}

// RegionsByWorld returns region headers (without climate maps) for a world.
func RegionsByWorld(q sqlx.Queryer, worldID string) ([]*world.Region, error) {
	var rows []struct {
		ID      string `db:"id"`
		WorldID string `db:"world_id"`
		X       int    `db:"x"`
		Y       int    `db:"y"`
	}
	if err := sqlx.Select(q, &rows, `SELECT id, world_id, x, y FROM regions WHERE world_id = ? ORDER BY y, x`, worldID); err != nil {
		return nil, err
	}
	out := make([]*world.Region, len(rows))
	for i, r := range rows {
		out[i] = &world.Region{ID: r.ID, WorldID: r.WorldID, X: r.X, Y: r.Y}
	}
	return out, nil
}

// ClaimTile links a tile to a settlement. Fails when already claimed or not
// LAND; callers translate the zero-row case.
func ClaimTile(q sqlx.Ext, tileID, settlementID string) (bool, error) {
	res, err := q.Exec(`UPDATE tiles SET settlement_id = ? WHERE id = ? AND settlement_id IS NULL AND type = 'LAND'`,
		settlementID, tileID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseTile clears a tile's settlement link.
func ReleaseTile(q sqlx.Ext, tileID string) error {
	_, err := q.Exec(`UPDATE tiles SET settlement_id = NULL WHERE id = ?`, tileID)
	return err
}

// SetTileBaseModifier records persistent disaster depletion on a tile.
func SetTileBaseModifier(q sqlx.Ext, tileID string, mod float64) error {
	if mod < 0.1 {
		mod = 0.1
	}
	if mod > 1.0 {
		mod = 1.0
	}
	_, err := q.Exec(`UPDATE tiles SET base_production_modifier = ? WHERE id = ?`, mod, tileID)
	return err
}

// TilesBySettlement returns the tiles a settlement owns (its claimed tile).
func TilesBySettlement(q sqlx.Queryer, settlementID string) ([]*world.Tile, error) {
	var rows []tileRow
	if err := sqlx.Select(q, &rows, `SELECT * FROM tiles WHERE settlement_id = ?`, settlementID); err != nil {
		return nil, err
	}
	out := make([]*world.Tile, len(rows))
	for i, r := range rows {
		out[i] = r.decode()
	}
	return out, nil
}
