// Disaster event and history records.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/world"
)

type disasterRow struct {
	ID              string                 `db:"id"`
	WorldID         string                 `db:"world_id"`
	Type            disaster.Type          `db:"type"`
	Severity        float64                `db:"severity"`
	SeverityLevel   disaster.SeverityLevel `db:"severity_level"`
	RegionID        *string                `db:"region_id"`
	BiomesJSON      string                 `db:"biomes_json"`
	ScheduledAt     time.Time              `db:"scheduled_at"`
	WarningSecs     int64                  `db:"warning_secs"`
	ImpactSecs      int64                  `db:"impact_secs"`
	Status          disaster.Status        `db:"status"`
	WarningAt       *time.Time             `db:"warning_at"`
	ImpactStartedAt *time.Time             `db:"impact_started_at"`
	ImpactEndedAt   *time.Time             `db:"impact_ended_at"`
	ResolvedAt      *time.Time             `db:"resolved_at"`
	ImminentIssued  bool                   `db:"imminent_issued"`
	CreatedAt       time.Time              `db:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at"`
}

func (r disasterRow) decode() (*disaster.Event, error) {
	e := &disaster.Event{
		ID: r.ID, WorldID: r.WorldID, Type: r.Type,
		Severity: r.Severity, SeverityLevel: r.SeverityLevel, RegionID: r.RegionID,
		ScheduledAt:    r.ScheduledAt,
		WarningTime:    time.Duration(r.WarningSecs) * time.Second,
		ImpactDuration: time.Duration(r.ImpactSecs) * time.Second,
		Status:         r.Status,
		WarningAt:      r.WarningAt, ImpactStartedAt: r.ImpactStartedAt,
		ImpactEndedAt: r.ImpactEndedAt, ResolvedAt: r.ResolvedAt,
		ImminentIssued: r.ImminentIssued,
		CreatedAt:      r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.BiomesJSON), &e.AffectedBiomes); err != nil {
		return nil, fmt.Errorf("decode disaster biomes: %w", err)
	}
	return e, nil
}

// InsertDisaster persists a newly scheduled disaster.
func InsertDisaster(q sqlx.Ext, e *disaster.Event) error {
	biomes, err := json.Marshal(e.AffectedBiomes)
	if err != nil {
		return err
	}
	if e.AffectedBiomes == nil {
		biomes = []byte("[]")
	}
	_, err = q.Exec(`INSERT INTO disaster_events
		(id, world_id, type, severity, severity_level, region_id, biomes_json, scheduled_at,
		 warning_secs, impact_secs, status, warning_at, impact_started_at, impact_ended_at,
		 resolved_at, imminent_issued, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorldID, e.Type, e.Severity, e.SeverityLevel, e.RegionID, string(biomes),
		e.ScheduledAt, int64(e.WarningTime.Seconds()), int64(e.ImpactDuration.Seconds()),
		e.Status, e.WarningAt, e.ImpactStartedAt, e.ImpactEndedAt, e.ResolvedAt,
		e.ImminentIssued, e.CreatedAt, e.UpdatedAt)
	return err
}

// UpdateDisaster persists state machine advances.
func UpdateDisaster(q sqlx.Ext, e *disaster.Event) error {
	e.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`UPDATE disaster_events
		SET status = ?, warning_at = ?, impact_started_at = ?, impact_ended_at = ?, resolved_at = ?, imminent_issued = ?, updated_at = ?
		WHERE id = ?`,
		e.Status, e.WarningAt, e.ImpactStartedAt, e.ImpactEndedAt, e.ResolvedAt, e.ImminentIssued, e.UpdatedAt, e.ID)
	return err
}

// DisasterByID fetches one disaster, or nil when absent.
func DisasterByID(q sqlx.Queryer, id string) (*disaster.Event, error) {
	var row disasterRow
	err := sqlx.Get(q, &row, `SELECT * FROM disaster_events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode()
}

// ActiveDisastersByWorld returns unresolved disasters, oldest schedule first.
func ActiveDisastersByWorld(q sqlx.Queryer, worldID string) ([]*disaster.Event, error) {
	var rows []disasterRow
	err := sqlx.Select(q, &rows,
		`SELECT * FROM disaster_events WHERE world_id = ? AND status != 'RESOLVED' ORDER BY scheduled_at`, worldID)
	if err != nil {
		return nil, err
	}
	out := make([]*disaster.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ResolveWorldDisasters force-resolves every active disaster in a world.
// Admin clear surface; normal resolution goes through the state machine.
func ResolveWorldDisasters(q sqlx.Ext, worldID string) (int, error) {
	now := time.Now().UTC()
	res, err := q.Exec(`UPDATE disaster_events SET status = 'RESOLVED', resolved_at = ?, updated_at = ? WHERE world_id = ? AND status != 'RESOLVED'`,
		now, now, worldID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InsertHistory persists the per-settlement rollup. Idempotent per
// (settlement, disaster) via the unique constraint.
func InsertHistory(q sqlx.Ext, h *disaster.History) error {
	lost, err := json.Marshal(h.ResourcesLost)
	if err != nil {
		return err
	}
	if h.ResourcesLost == nil {
		lost = []byte("{}")
	}
	_, err = q.Exec(`INSERT OR IGNORE INTO disaster_history
		(id, settlement_id, disaster_id, casualties, structures_damaged, structures_destroyed, resources_lost_json, resilience_gained, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.SettlementID, h.DisasterID, h.Casualties, h.StructuresDamaged, h.StructuresDestroyed,
		string(lost), h.ResilienceGained, h.CreatedAt)
	return err
}

// HistoryBySettlement returns a settlement's disaster history, newest first.
func HistoryBySettlement(q sqlx.Queryer, settlementID string) ([]*disaster.History, error) {
	var rows []struct {
		ID                  string    `db:"id"`
		SettlementID        string    `db:"settlement_id"`
		DisasterID          string    `db:"disaster_id"`
		Casualties          int       `db:"casualties"`
		StructuresDamaged   int       `db:"structures_damaged"`
		StructuresDestroyed int       `db:"structures_destroyed"`
		ResourcesLostJSON   string    `db:"resources_lost_json"`
		ResilienceGained    int       `db:"resilience_gained"`
		CreatedAt           time.Time `db:"created_at"`
	}
	if err := sqlx.Select(q, &rows,
		`SELECT * FROM disaster_history WHERE settlement_id = ? ORDER BY created_at DESC`, settlementID); err != nil {
		return nil, err
	}

	out := make([]*disaster.History, 0, len(rows))
	for _, r := range rows {
		h := &disaster.History{
			ID: r.ID, SettlementID: r.SettlementID, DisasterID: r.DisasterID,
			Casualties: r.Casualties, StructuresDamaged: r.StructuresDamaged,
			StructuresDestroyed: r.StructuresDestroyed, ResilienceGained: r.ResilienceGained,
			CreatedAt: r.CreatedAt,
		}
		h.ResourcesLost = make(map[world.Resource]int)
		if err := json.Unmarshal([]byte(r.ResourcesLostJSON), &h.ResourcesLost); err != nil {
			return nil, fmt.Errorf("decode resources lost: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// HistoryExists reports whether a rollup exists for (settlement, disaster).
func HistoryExists(q sqlx.Queryer, settlementID, disasterID string) (bool, error) {
	var n int
	err := sqlx.Get(q, &n, `SELECT COUNT(*) FROM disaster_history WHERE settlement_id = ? AND disaster_id = ?`,
		settlementID, disasterID)
	return n > 0, err
}
