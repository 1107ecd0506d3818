// Construction queue records. Positions within a settlement are kept a
// compact permutation of [0..n-1] over the non-terminal entries.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/settlement"
)

type queueRow struct {
	ID           string                 `db:"id"`
	SettlementID string                 `db:"settlement_id"`
	Subtype      settlement.Subtype     `db:"subtype"`
	TileID       *string                `db:"tile_id"`
	SlotPosition *int                   `db:"slot_position"`
	CostJSON     string                 `db:"cost_json"`
	Status       settlement.QueueStatus `db:"status"`
	Position     int                    `db:"position"`
	IsEmergency  bool                   `db:"is_emergency"`
	StartedAt    *time.Time             `db:"started_at"`
	CompletesAt  *time.Time             `db:"completes_at"`
	CreatedAt    time.Time              `db:"created_at"`
}

func (r queueRow) decode() (*settlement.QueueEntry, error) {
	e := &settlement.QueueEntry{
		ID: r.ID, SettlementID: r.SettlementID, Subtype: r.Subtype,
		TileID: r.TileID, SlotPosition: r.SlotPosition,
		Status: r.Status, Position: r.Position, IsEmergency: r.IsEmergency,
		StartedAt: r.StartedAt, CompletesAt: r.CompletesAt, CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.CostJSON), &e.Cost); err != nil {
		return nil, fmt.Errorf("decode queue cost: %w", err)
	}
	return e, nil
}

// InsertQueueEntry persists a new construction entry.
func InsertQueueEntry(q sqlx.Ext, e *settlement.QueueEntry) error {
	cost, err := json.Marshal(e.Cost)
	if err != nil {
		return err
	}
	_, err = q.Exec(`INSERT INTO construction_queue
		(id, settlement_id, subtype, tile_id, slot_position, cost_json, status, position, is_emergency, started_at, completes_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SettlementID, e.Subtype, e.TileID, e.SlotPosition, string(cost),
		e.Status, e.Position, e.IsEmergency, e.StartedAt, e.CompletesAt, e.CreatedAt)
	return err
}

// QueueEntryByID fetches one entry, or nil when absent.
func QueueEntryByID(q sqlx.Queryer, id string) (*settlement.QueueEntry, error) {
	var row queueRow
	err := sqlx.Get(q, &row, `SELECT * FROM construction_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode()
}

// ActiveQueueBySettlement returns non-terminal entries in position order.
func ActiveQueueBySettlement(q sqlx.Queryer, settlementID string) ([]*settlement.QueueEntry, error) {
	var rows []queueRow
	err := sqlx.Select(q, &rows,
		`SELECT * FROM construction_queue WHERE settlement_id = ? AND status IN ('QUEUED', 'IN_PROGRESS') ORDER BY position`,
		settlementID)
	if err != nil {
		return nil, err
	}
	out := make([]*settlement.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DueConstructions returns IN_PROGRESS entries whose completion time has
// passed, across all settlements.
func DueConstructions(q sqlx.Queryer, now time.Time) ([]*settlement.QueueEntry, error) {
	var rows []queueRow
	err := sqlx.Select(q, &rows,
		`SELECT * FROM construction_queue WHERE status = 'IN_PROGRESS' AND completes_at <= ? ORDER BY completes_at`, now)
	if err != nil {
		return nil, err
	}
	out := make([]*settlement.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateQueueEntry persists status, position, and timing changes.
func UpdateQueueEntry(q sqlx.Ext, e *settlement.QueueEntry) error {
	_, err := q.Exec(`UPDATE construction_queue SET status = ?, position = ?, started_at = ?, completes_at = ? WHERE id = ?`,
		e.Status, e.Position, e.StartedAt, e.CompletesAt, e.ID)
	return err
}

// InProgressCount returns the number of IN_PROGRESS entries.
func InProgressCount(q sqlx.Queryer, settlementID string) (int, error) {
	var n int
	err := sqlx.Get(q, &n,
		`SELECT COUNT(*) FROM construction_queue WHERE settlement_id = ? AND status = 'IN_PROGRESS'`, settlementID)
	return n, err
}
