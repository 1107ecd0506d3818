package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

func requireCode(t *testing.T, err error, code string) *apperr.Error {
	t.Helper()
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "want %s, got %v", code, err)
	require.Equal(t, code, ae.Code)
	return ae
}

func TestEnqueueStartsImmediately(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)

	entry, err := f.eng.Enqueue(context.Background(), BuildRequest{
		SettlementID: st.ID,
		Subtype:      settlement.SubtypeTownHall,
	})
	require.NoError(t, err)

	// An empty active set promotes the entry straight to IN_PROGRESS.
	assert.Equal(t, settlement.QueueInProgress, entry.Status)
	require.NotNil(t, entry.CompletesAt)
	assert.Equal(t, 0, entry.Position)
	assert.Equal(t, 30, entry.Cost[world.ResourceWood])
	assert.Equal(t, 20, entry.Cost[world.ResourceStone])

	// The debit comes out of the starting grant.
	storage, err := persistence.StorageBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 50-30, storage.Amounts[world.ResourceWood])
	assert.Equal(t, 30-20, storage.Amounts[world.ResourceStone])
}

func TestEnqueueUnknownSubtype(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)

	_, err := f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: "CASTLE"})
	requireCode(t, err, apperr.CodeMissingFields)
}

func TestEnqueueSettlementNotFound(t *testing.T) {
	f := newGameFixture(t)
	_, err := f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: "ghost", Subtype: settlement.SubtypeHouse})
	requireCode(t, err, apperr.CodeSettlementNotFound)
}

func TestEnqueueUniqueConflict(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)

	_, err := f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeTownHall})
	require.NoError(t, err)

	// Queued counts against uniqueness before anything is built.
	_, err = f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeTownHall})
	requireCode(t, err, apperr.CodeUniqueStructureExists)
}

func TestEnqueueInsufficientResources(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)

	require.NoError(t, persistence.WriteStorage(f.eng.Store.Conn(), st.ID, map[world.Resource]int{
		world.ResourceWood: 10,
	}))

	_, err := f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	ae := requireCode(t, err, apperr.CodeInsufficientResources)

	shortages, ok := ae.Details["shortages"].(map[world.Resource]int)
	require.True(t, ok)
	assert.Equal(t, 30, shortages[world.ResourceWood]) // needs 40, has 10
	assert.Equal(t, 10, shortages[world.ResourceStone])
}

func TestEnqueueExtractorValidation(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	t.Run("missing tile and slot", func(t *testing.T) {
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm})
		requireCode(t, err, apperr.CodeMissingFields)
	})

	slot := 0
	t.Run("tile not found", func(t *testing.T) {
		bad := "missing-tile"
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm, TileID: &bad, SlotPosition: &slot})
		requireCode(t, err, apperr.CodeTileNotFound)
	})

	t.Run("tile not owned", func(t *testing.T) {
		other := f.addTile(t, 1, 0)
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm, TileID: &other.ID, SlotPosition: &slot})
		requireCode(t, err, apperr.CodeNotSettlementOwner)
	})

	t.Run("slot out of range", func(t *testing.T) {
		out := f.tile.PlotSlots
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm, TileID: &f.tile.ID, SlotPosition: &out})
		requireCode(t, err, apperr.CodeInvalidSlot)
	})

	t.Run("slot reserved by queue", func(t *testing.T) {
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm, TileID: &f.tile.ID, SlotPosition: &slot})
		require.NoError(t, err)
		_, err = f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeWell, TileID: &f.tile.ID, SlotPosition: &slot})
		requireCode(t, err, apperr.CodeSlotOccupied)
	})

	t.Run("slot occupied by built structure", func(t *testing.T) {
		taken := 5
		f.place(t, st.ID, settlement.SubtypeWell, 1, &f.tile.ID, &taken)
		_, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeFarm, TileID: &f.tile.ID, SlotPosition: &taken})
		requireCode(t, err, apperr.CodeSlotOccupied)
	})
}

func TestEnqueueMinTownHallLevel(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)

	slot := 0
	_, err := f.eng.Enqueue(context.Background(), BuildRequest{
		SettlementID: st.ID, Subtype: settlement.SubtypeQuarry,
		TileID: &f.tile.ID, SlotPosition: &slot,
	})
	ae := requireCode(t, err, apperr.CodeMinTownHallLevel)
	assert.Equal(t, 2, ae.Details["required"])
	assert.Equal(t, 0, ae.Details["current"])
}

func TestEnqueuePrerequisitesNotMet(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	f.place(t, st.ID, settlement.SubtypeTownHall, 3, nil, nil)

	slot := 0
	_, err := f.eng.Enqueue(context.Background(), BuildRequest{
		SettlementID: st.ID, Subtype: settlement.SubtypeMine,
		TileID: &f.tile.ID, SlotPosition: &slot,
	})
	requireCode(t, err, apperr.CodePrerequisitesNotMet)
}

func TestEnqueueAreaBudget(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)

	// Outpost budget is 15: town hall 4 + storehouse 3 + three houses at 2.
	f.place(t, st.ID, settlement.SubtypeTownHall, 1, nil, nil)
	f.place(t, st.ID, settlement.SubtypeStorehouse, 1, nil, nil)
	for i := 0; i < 3; i++ {
		f.place(t, st.ID, settlement.SubtypeHouse, 1, nil, nil)
	}

	// One more house fits (13 + 2 = 15) ...
	_, err := f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	require.NoError(t, err)

	// ... but nothing after that, queued area counts too.
	_, err = f.eng.Enqueue(context.Background(), BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	ae := requireCode(t, err, apperr.CodeAreaExceeded)
	assert.Equal(t, 15, ae.Details["used"])
	assert.Equal(t, 15, ae.Details["budget"])
}

func TestEnqueueEmergencyOutsideAftermath(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)

	_, err := f.eng.Enqueue(context.Background(), BuildRequest{
		SettlementID: st.ID, Subtype: settlement.SubtypeHouse, Emergency: true,
	})
	requireCode(t, err, apperr.CodeDisasterInProgress)
}

func TestEnqueueQueueFull(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	for i := 0; i < settlement.MaxQueuedConstructions; i++ {
		slot := i
		_, err := f.eng.Enqueue(ctx, BuildRequest{
			SettlementID: st.ID, Subtype: settlement.SubtypeFarm,
			TileID: &f.tile.ID, SlotPosition: &slot,
		})
		require.NoError(t, err, "farm %d", i)
		f.stock(t, st.ID)
	}

	slot := settlement.MaxQueuedConstructions
	_, err := f.eng.Enqueue(ctx, BuildRequest{
		SettlementID: st.ID, Subtype: settlement.SubtypeFarm,
		TileID: &f.tile.ID, SlotPosition: &slot,
	})
	requireCode(t, err, apperr.CodeQueueFull)

	// Only the first three run concurrently.
	n, err := persistence.InProgressCount(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.MaxActiveConstructions, n)
}

func TestCancelRefundsAndCompacts(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	var entries []*settlement.QueueEntry
	for i := 0; i < 5; i++ {
		slot := i
		e, err := f.eng.Enqueue(ctx, BuildRequest{
			SettlementID: st.ID, Subtype: settlement.SubtypeFarm,
			TileID: &f.tile.ID, SlotPosition: &slot,
		})
		require.NoError(t, err)
		entries = append(entries, e)
	}

	before, err := persistence.StorageBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)

	// Cancel a queued entry (position 3).
	cancelled, err := f.eng.Cancel(ctx, st.ID, entries[3].ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.QueueCancelled, cancelled.Status)

	// Half the farm cost comes back: floor(25*0.5)=12 wood, floor(5*0.5)=2 stone.
	after, err := persistence.StorageBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Amounts[world.ResourceWood]+12, after.Amounts[world.ResourceWood])
	assert.Equal(t, before.Amounts[world.ResourceStone]+2, after.Amounts[world.ResourceStone])

	// Positions are dense again.
	queue, err := persistence.ActiveQueueBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	require.Len(t, queue, 4)
	for i, q := range queue {
		assert.Equal(t, i, q.Position)
	}

	// Cancelling a finished entry is a conflict.
	_, err = f.eng.Cancel(ctx, st.ID, entries[3].ID)
	requireCode(t, err, apperr.CodeQueueFull)

	// Entries are scoped to their settlement.
	_, err = f.eng.Cancel(ctx, "other", entries[0].ID)
	requireCode(t, err, apperr.CodeStructureNotFound)
}

func TestBuildCostEmergency(t *testing.T) {
	def, ok := settlement.DefinitionFor(settlement.SubtypeTownHall)
	require.True(t, ok)

	base := buildCost(def, false)
	assert.Equal(t, 30, base[world.ResourceWood])
	assert.Equal(t, 20, base[world.ResourceStone])

	emergency := buildCost(def, true)
	assert.Equal(t, 75, emergency[world.ResourceWood])
	assert.Equal(t, 50, emergency[world.ResourceStone])
}

func TestConstructionSeconds(t *testing.T) {
	def := settlement.Definition{ConstructionSecs: 60}

	assert.InDelta(t, 60.0, constructionSeconds(def, 0, false), 1e-9)
	assert.InDelta(t, 60.0/1.1, constructionSeconds(def, 10, false), 1e-9)
	assert.InDelta(t, 30.0, constructionSeconds(def, 0, true), 1e-9)
	assert.InDelta(t, 60.0/1.1/2, constructionSeconds(def, 10, true), 1e-9)

	// Never below one second.
	tiny := settlement.Definition{ConstructionSecs: 1}
	assert.Equal(t, 1.0, constructionSeconds(tiny, 500, true))
}

func TestCompleteDueBuildsStructure(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	entry, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	require.NoError(t, err)
	require.Equal(t, settlement.QueueInProgress, entry.Status)

	// Pull the completion time into the past.
	past := time.Now().UTC().Add(-time.Minute)
	_, err = f.eng.Store.Conn().Exec(`UPDATE construction_queue SET completes_at = ? WHERE id = ?`, past, entry.ID)
	require.NoError(t, err)

	f.eng.completeDue(ctx)

	done, err := persistence.QueueEntryByID(f.eng.Store.Conn(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.QueueComplete, done.Status)

	structures, err := persistence.StructuresBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	require.Len(t, structures, 1)
	assert.Equal(t, settlement.SubtypeHouse, structures[0].Subtype)
	assert.Equal(t, 1, structures[0].Level)
	assert.Equal(t, 100.0, structures[0].Health)

	// The completed house shows up in the modifier cache.
	mods, err := persistence.ModifiersBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	found := false
	for _, m := range mods {
		if m.Type == settlement.ModPopulationCapacity {
			found = true
			assert.Equal(t, 5.0, m.TotalValue)
		}
	}
	assert.True(t, found)
}

func TestCancelRefundClampedToCapacity(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	entry, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	require.NoError(t, err)

	// Fill wood to the storage ceiling; the wood share of the refund has no
	// room and is forfeited, while the stone share still lands.
	require.NoError(t, persistence.WriteStorage(f.eng.Store.Conn(), st.ID, map[world.Resource]int{
		world.ResourceWood:  settlement.BaseStorageCapacity,
		world.ResourceStone: 0,
	}))

	cancelled, err := f.eng.Cancel(ctx, st.ID, entry.ID)
	require.NoError(t, err)
	require.Equal(t, settlement.QueueCancelled, cancelled.Status)

	storage, err := persistence.StorageBySettlement(f.eng.Store.Conn(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.BaseStorageCapacity, storage.Amounts[world.ResourceWood])
	assert.Equal(t, 5, storage.Amounts[world.ResourceStone])
}

func TestCompleteDuePublishesPopulationState(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	entry, err := f.eng.Enqueue(ctx, BuildRequest{SettlementID: st.ID, Subtype: settlement.SubtypeHouse})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	_, err = f.eng.Store.Conn().Exec(`UPDATE construction_queue SET completes_at = ? WHERE id = ?`, past, entry.ID)
	require.NoError(t, err)

	sub := f.eng.Hub.NewSubscriber("watcher")
	f.eng.Hub.Join(sub, events.SettlementRoom(st.ID))

	f.eng.completeDue(ctx)

	// A house raises population capacity, so the commit must carry a fresh
	// population state alongside the capacity change.
	var state map[string]any
drain:
	for {
		select {
		case msg := <-sub.Out:
			if msg.Type == events.EvPopulationState {
				state = msg.Payload
				break drain
			}
		default:
			break drain
		}
	}
	require.NotNil(t, state, "population-state not emitted on build commit")
	assert.Equal(t, 15, state["capacity"])
	assert.Equal(t, 10, state["current"])
}

func TestCompleteDuePromotesNext(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	var entries []*settlement.QueueEntry
	for i := 0; i < 4; i++ {
		slot := i
		e, err := f.eng.Enqueue(ctx, BuildRequest{
			SettlementID: st.ID, Subtype: settlement.SubtypeFarm,
			TileID: &f.tile.ID, SlotPosition: &slot,
		})
		require.NoError(t, err)
		entries = append(entries, e)
	}
	require.Equal(t, settlement.QueueQueued, entries[3].Status)

	past := time.Now().UTC().Add(-time.Minute)
	_, err := f.eng.Store.Conn().Exec(`UPDATE construction_queue SET completes_at = ? WHERE id = ?`, past, entries[0].ID)
	require.NoError(t, err)

	f.eng.completeDue(ctx)

	// The fourth entry takes the freed active slot.
	fourth, err := persistence.QueueEntryByID(f.eng.Store.Conn(), entries[3].ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.QueueInProgress, fourth.Status)
	require.NotNil(t, fourth.CompletesAt)
}

func TestEnqueueManySettlementsIsolated(t *testing.T) {
	f := newGameFixture(t)
	st := f.found(t)
	f.stock(t, st.ID)
	ctx := context.Background()

	// A second settlement's queue does not count against the first.
	tile2 := f.addTile(t, 2, 0)
	_, prof2, err := persistence.CreateAccount(f.eng.Store.Conn(), "p2@example.com", "hash", "p2")
	require.NoError(t, err)
	st2, err := f.eng.FoundSettlement(ctx, prof2.ID, f.world.ID, tile2.ID, "rival")
	require.NoError(t, err)
	f.stock(t, st2.ID)

	for i := 0; i < 3; i++ {
		slot := i
		for _, target := range []struct {
			id   string
			tile string
		}{{st.ID, f.tile.ID}, {st2.ID, tile2.ID}} {
			tileID := target.tile
			_, err := f.eng.Enqueue(ctx, BuildRequest{
				SettlementID: target.id, Subtype: settlement.SubtypeFarm,
				TileID: &tileID, SlotPosition: &slot,
			})
			require.NoError(t, err, fmt.Sprintf("settlement %s slot %d", target.id, i))
		}
	}

	for _, id := range []string{st.ID, st2.ID} {
		n, err := persistence.InProgressCount(f.eng.Store.Conn(), id)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
}
