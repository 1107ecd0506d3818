// Settlement, storage, and population records. Storage amounts are plain
// integer columns with CHECK(>= 0) so a negative debit can never commit.
package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// InsertSettlement persists a settlement with its storage and population.
func InsertSettlement(q sqlx.Ext, st *settlement.Settlement, storage map[world.Resource]int, population int) error {
	_, err := q.Exec(`INSERT INTO settlements (id, world_id, profile_id, tile_id, name, tier, resilience, errored, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		st.ID, st.WorldID, st.ProfileID, st.TileID, st.Name, st.Tier, st.Resilience, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = q.Exec(`INSERT INTO settlement_storage (settlement_id, food, water, wood, stone, ore, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID,
		storage[world.ResourceFood], storage[world.ResourceWater], storage[world.ResourceWood],
		storage[world.ResourceStone], storage[world.ResourceOre], now)
	if err != nil {
		return err
	}

	_, err = q.Exec(`INSERT INTO settlement_population (settlement_id, current, happiness, last_growth_at, updated_at)
		VALUES (?, ?, 50, ?, ?)`, st.ID, population, now, now)
	return err
}

// SettlementByID fetches a settlement, or nil when absent.
func SettlementByID(q sqlx.Queryer, id string) (*settlement.Settlement, error) {
	var st settlement.Settlement
	err := sqlx.Get(q, &st, `SELECT * FROM settlements WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &st, err
}

// SettlementsByWorld returns all settlements in a world, id-ordered so
// multi-settlement lock acquisition is deterministic.
func SettlementsByWorld(q sqlx.Queryer, worldID string) ([]*settlement.Settlement, error) {
	var out []*settlement.Settlement
	err := sqlx.Select(q, &out, `SELECT * FROM settlements WHERE world_id = ? ORDER BY id`, worldID)
	return out, err
}

// SettlementsByProfile returns a player's settlements.
func SettlementsByProfile(q sqlx.Queryer, profileID string) ([]*settlement.Settlement, error) {
	var out []*settlement.Settlement
	err := sqlx.Select(q, &out, `SELECT * FROM settlements WHERE profile_id = ? ORDER BY id`, profileID)
	return out, err
}

// UpdateSettlement persists tier, resilience, and error-skip state.
func UpdateSettlement(q sqlx.Ext, st *settlement.Settlement) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`UPDATE settlements SET name = ?, tier = ?, resilience = ?, errored = ?, updated_at = ? WHERE id = ?`,
		st.Name, st.Tier, st.Resilience, st.Errored, st.UpdatedAt, st.ID)
	return err
}

// DeleteSettlement removes a settlement; storage, population, structures,
// modifiers, and queue entries cascade. The tile link is released first.
func DeleteSettlement(q sqlx.Ext, id string) error {
	if _, err := q.Exec(`UPDATE tiles SET settlement_id = NULL WHERE settlement_id = ?`, id); err != nil {
		return err
	}
	_, err := q.Exec(`DELETE FROM settlements WHERE id = ?`, id)
	return err
}

type storageRow struct {
	SettlementID string    `db:"settlement_id"`
	Food         int       `db:"food"`
	Water        int       `db:"water"`
	Wood         int       `db:"wood"`
	Stone        int       `db:"stone"`
	Ore          int       `db:"ore"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r storageRow) decode() *settlement.Storage {
	return &settlement.Storage{
		SettlementID: r.SettlementID,
		Amounts: map[world.Resource]int{
			world.ResourceFood:  r.Food,
			world.ResourceWater: r.Water,
			world.ResourceWood:  r.Wood,
			world.ResourceStone: r.Stone,
			world.ResourceOre:   r.Ore,
		},
		UpdatedAt: r.UpdatedAt,
	}
}

// StorageBySettlement fetches the storage row.
func StorageBySettlement(q sqlx.Queryer, settlementID string) (*settlement.Storage, error) {
	var row storageRow
	err := sqlx.Get(q, &row, `SELECT * FROM settlement_storage WHERE settlement_id = ?`, settlementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode(), nil
}

// WriteStorage replaces the five amounts. The CHECK constraints reject any
// negative value, failing the surrounding transaction whole.
func WriteStorage(q sqlx.Ext, settlementID string, amounts map[world.Resource]int) error {
	_, err := q.Exec(`UPDATE settlement_storage SET food = ?, water = ?, wood = ?, stone = ?, ore = ?, updated_at = ?
		WHERE settlement_id = ?`,
		amounts[world.ResourceFood], amounts[world.ResourceWater], amounts[world.ResourceWood],
		amounts[world.ResourceStone], amounts[world.ResourceOre], time.Now().UTC(), settlementID)
	return err
}

// PopulationBySettlement fetches the population row.
func PopulationBySettlement(q sqlx.Queryer, settlementID string) (*settlement.Population, error) {
	var p settlement.Population
	err := sqlx.Get(q, &p, `SELECT * FROM settlement_population WHERE settlement_id = ?`, settlementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

// WritePopulation persists population state.
func WritePopulation(q sqlx.Ext, p *settlement.Population) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`UPDATE settlement_population SET current = ?, happiness = ?, last_growth_at = ?, updated_at = ?
		WHERE settlement_id = ?`,
		p.Current, p.Happiness, p.LastGrowthAt, p.UpdatedAt, p.SettlementID)
	return err
}
