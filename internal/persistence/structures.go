// Structure instances, modifier aggregates, and the seeded definition table.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// seedDefinitions upserts the in-code structure catalog so the definition
// tables always reflect the running build.
func (s *Store) seedDefinitions() error {
	for _, d := range settlement.Catalog() {
		reqs, err := json.Marshal(d.Requirements)
		if err != nil {
			return err
		}
		prereqs, err := json.Marshal(d.Prerequisites)
		if err != nil {
			return err
		}
		_, err = s.conn.Exec(`INSERT OR REPLACE INTO structure_defs
			(subtype, name, category, tier, max_level, construction_secs, population_required,
			 area_cost, is_unique, min_town_hall_level, extracts, requirements_json, prerequisites_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Subtype, d.Name, d.Category, d.Tier, d.MaxLevel, d.ConstructionSecs, d.PopulationReq,
			d.AreaCost, d.Unique, d.MinTownHallLevel, string(d.Extracts), string(reqs), string(prereqs))
		if err != nil {
			return fmt.Errorf("seed %s: %w", d.Subtype, err)
		}
	}
	return nil
}

// LoadDefinitions reads the definition table back into typed structs.
func LoadDefinitions(q sqlx.Queryer) ([]settlement.Definition, error) {
	var rows []struct {
		Subtype          settlement.Subtype  `db:"subtype"`
		Name             string              `db:"name"`
		Category         settlement.Category `db:"category"`
		Tier             int                 `db:"tier"`
		MaxLevel         int                 `db:"max_level"`
		ConstructionSecs int                 `db:"construction_secs"`
		PopulationReq    int                 `db:"population_required"`
		AreaCost         int                 `db:"area_cost"`
		IsUnique         bool                `db:"is_unique"`
		MinTownHall      int                 `db:"min_town_hall_level"`
		Extracts         string              `db:"extracts"`
		RequirementsJSON string              `db:"requirements_json"`
		PrereqsJSON      string              `db:"prerequisites_json"`
	}
	if err := sqlx.Select(q, &rows, `SELECT * FROM structure_defs ORDER BY tier, subtype`); err != nil {
		return nil, err
	}

	out := make([]settlement.Definition, 0, len(rows))
	for _, r := range rows {
		d := settlement.Definition{
			Subtype: r.Subtype, Name: r.Name, Category: r.Category, Tier: r.Tier,
			MaxLevel: r.MaxLevel, ConstructionSecs: r.ConstructionSecs,
			PopulationReq: r.PopulationReq, AreaCost: r.AreaCost, Unique: r.IsUnique,
			MinTownHallLevel: r.MinTownHall, Extracts: world.Resource(r.Extracts),
		}
		if err := json.Unmarshal([]byte(r.RequirementsJSON), &d.Requirements); err != nil {
			return nil, fmt.Errorf("decode requirements %s: %w", r.Subtype, err)
		}
		if err := json.Unmarshal([]byte(r.PrereqsJSON), &d.Prerequisites); err != nil {
			return nil, fmt.Errorf("decode prerequisites %s: %w", r.Subtype, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// InsertStructure persists a built structure. The partial unique index on
// (tile_id, slot_position) enforces one extractor per slot; a violation is
// translated to SLOT_OCCUPIED.
func InsertStructure(q sqlx.Ext, st *settlement.Structure) error {
	_, err := q.Exec(`INSERT INTO settlement_structures
		(id, settlement_id, subtype, level, health, population_assigned, tile_id, slot_position, damaged_at, repaired_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.SettlementID, st.Subtype, st.Level, st.Health, st.PopulationAssigned,
		st.TileID, st.SlotPosition, st.DamagedAt, st.RepairedAt, st.CreatedAt, st.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return apperr.Validation(apperr.CodeSlotOccupied, "tile slot already occupied").Wrap(err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// StructureByID fetches a structure, or nil when absent.
func StructureByID(q sqlx.Queryer, id string) (*settlement.Structure, error) {
	var st settlement.Structure
	err := sqlx.Get(q, &st, `SELECT * FROM settlement_structures WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &st, err
}

// StructuresBySettlement returns all structures of a settlement, id-ordered.
func StructuresBySettlement(q sqlx.Queryer, settlementID string) ([]*settlement.Structure, error) {
	var out []*settlement.Structure
	err := sqlx.Select(q, &out, `SELECT * FROM settlement_structures WHERE settlement_id = ? ORDER BY id`, settlementID)
	return out, err
}

// UpdateStructure persists level/health/assignment changes with an
// optimistic updated_at guard. Returns false when the row changed underneath.
func UpdateStructure(q sqlx.Ext, st *settlement.Structure) (bool, error) {
	prev := st.UpdatedAt
	st.UpdatedAt = time.Now().UTC()
	res, err := q.Exec(`UPDATE settlement_structures
		SET level = ?, health = ?, population_assigned = ?, damaged_at = ?, repaired_at = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		st.Level, st.Health, st.PopulationAssigned, st.DamagedAt, st.RepairedAt, st.UpdatedAt, st.ID, prev)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ForceUpdateStructure persists without the optimistic guard; used by the
// tick loop, which already holds the settlement lock.
func ForceUpdateStructure(q sqlx.Ext, st *settlement.Structure) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`UPDATE settlement_structures
		SET level = ?, health = ?, population_assigned = ?, damaged_at = ?, repaired_at = ?, updated_at = ?
		WHERE id = ?`,
		st.Level, st.Health, st.PopulationAssigned, st.DamagedAt, st.RepairedAt, st.UpdatedAt, st.ID)
	return err
}

// DeleteStructure removes a structure row.
func DeleteStructure(q sqlx.Ext, id string) error {
	_, err := q.Exec(`DELETE FROM settlement_structures WHERE id = ?`, id)
	return err
}

// ExtractorJoin is an extractor joined with its tile, the production input.
type ExtractorJoin struct {
	Structure settlement.Structure
	Tile      world.Tile
}

// ExtractorsBySettlement returns extractors joined with their tiles.
func ExtractorsBySettlement(q sqlx.Queryer, settlementID string) ([]ExtractorJoin, error) {
	structures, err := StructuresBySettlement(q, settlementID)
	if err != nil {
		return nil, err
	}

	var out []ExtractorJoin
	for _, st := range structures {
		if st.TileID == nil {
			continue
		}
		tile, err := TileByID(q, *st.TileID)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			continue
		}
		out = append(out, ExtractorJoin{Structure: *st, Tile: *tile})
	}
	return out, nil
}

// ReplaceModifiers swaps a settlement's modifier aggregates for the given
// recomputed set in one statement batch.
func ReplaceModifiers(q sqlx.Ext, settlementID string, mods []*settlement.Modifier) error {
	if _, err := q.Exec(`DELETE FROM settlement_modifiers WHERE settlement_id = ?`, settlementID); err != nil {
		return err
	}
	for _, m := range mods {
		contrib, err := json.Marshal(m.Contributions)
		if err != nil {
			return err
		}
		if _, err := q.Exec(`INSERT INTO settlement_modifiers
			(settlement_id, modifier_type, total_value, source_count, contributions_json, last_calculated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.SettlementID, m.Type, m.TotalValue, m.SourceCount, string(contrib), m.LastCalculatedAt); err != nil {
			return err
		}
	}
	return nil
}

// ModifiersBySettlement reads the cached aggregates.
func ModifiersBySettlement(q sqlx.Queryer, settlementID string) ([]*settlement.Modifier, error) {
	var rows []struct {
		SettlementID     string                  `db:"settlement_id"`
		ModifierType     settlement.ModifierType `db:"modifier_type"`
		TotalValue       float64                 `db:"total_value"`
		SourceCount      int                     `db:"source_count"`
		ContributionsRaw string                  `db:"contributions_json"`
		LastCalculatedAt time.Time               `db:"last_calculated_at"`
	}
	if err := sqlx.Select(q, &rows, `SELECT * FROM settlement_modifiers WHERE settlement_id = ? ORDER BY modifier_type`, settlementID); err != nil {
		return nil, err
	}

	out := make([]*settlement.Modifier, 0, len(rows))
	for _, r := range rows {
		m := &settlement.Modifier{
			SettlementID:     r.SettlementID,
			Type:             r.ModifierType,
			TotalValue:       r.TotalValue,
			SourceCount:      r.SourceCount,
			LastCalculatedAt: r.LastCalculatedAt,
		}
		if err := json.Unmarshal([]byte(r.ContributionsRaw), &m.Contributions); err != nil {
			return nil, fmt.Errorf("decode contributions: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
