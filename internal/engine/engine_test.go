package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/config"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

func testConfig() config.Config {
	return config.Config{
		TickHz:         1,
		DisasterTickHz: 6,
		BatchInterval:  time.Second,
		MetadataTTL:    5 * time.Minute,
		Env:            "test",
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, events.NewHub(), testConfig())
}

// gameFixture is a ready world with one claimable tile and one profile.
type gameFixture struct {
	eng     *Engine
	world   *world.World
	tile    *world.Tile
	profile *account.Profile
}

func newGameFixture(t *testing.T) *gameFixture {
	t.Helper()
	eng := newTestEngine(t)
	db := eng.Store.Conn()

	srv, err := persistence.CreateServer(db, "test", "localhost", 9001)
	require.NoError(t, err)

	now := time.Now().UTC()
	w := &world.World{
		ID:            uuid.NewString(),
		ServerID:      srv.ID,
		Name:          "proving-grounds",
		Status:        world.StatusReady,
		Seed:          7,
		WidthRegions:  1,
		HeightRegions: 1,
		Elevation:     world.DefaultNoiseParams(),
		Precipitation: world.DefaultNoiseParams(),
		Temperature:   world.DefaultNoiseParams(),
		Template:      world.TemplateBalanced,
		Config:        world.TemplateConfigFor(world.TemplateBalanced),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, persistence.InsertWorld(db, w))

	region := &world.Region{ID: uuid.NewString(), WorldID: w.ID}
	require.NoError(t, persistence.InsertRegions(db, []*world.Region{region}))

	_, prof, err := persistence.CreateAccount(db, "player@example.com", "hash", "player")
	require.NoError(t, err)

	f := &gameFixture{eng: eng, world: w, profile: prof}
	f.tile = f.addTile(t, 0, 0)
	return f
}

// addTile inserts an unclaimed LAND tile with generous plot slots.
func (f *gameFixture) addTile(t *testing.T, x, y int) *world.Tile {
	t.Helper()
	db := f.eng.Store.Conn()
	regions, err := persistence.RegionsByWorld(db, f.world.ID)
	require.NoError(t, err)
	require.NotEmpty(t, regions)

	tile := &world.Tile{
		ID:                     uuid.NewString(),
		RegionID:               regions[0].ID,
		WorldID:                f.world.ID,
		X:                      x,
		Y:                      y,
		Type:                   world.TileLand,
		Biome:                  world.BiomeGrassland,
		Qualities:              world.Qualities{Food: 100, Water: 90, Wood: 80, Stone: 70, Ore: 60},
		PlotSlots:              16,
		BaseProductionModifier: 1.0,
	}
	require.NoError(t, persistence.InsertTiles(db, []*world.Tile{tile}))
	return tile
}

// found creates a settlement on the fixture tile.
func (f *gameFixture) found(t *testing.T) *settlement.Settlement {
	t.Helper()
	st, err := f.eng.FoundSettlement(context.Background(), f.profile.ID, f.world.ID, f.tile.ID, "haven")
	require.NoError(t, err)
	return st
}

// stock tops up the settlement's storage so costs never block a test.
func (f *gameFixture) stock(t *testing.T, settlementID string) {
	t.Helper()
	require.NoError(t, persistence.WriteStorage(f.eng.Store.Conn(), settlementID, map[world.Resource]int{
		world.ResourceFood:  900,
		world.ResourceWater: 900,
		world.ResourceWood:  900,
		world.ResourceStone: 900,
		world.ResourceOre:   900,
	}))
}

// place inserts a built structure directly, bypassing the queue.
func (f *gameFixture) place(t *testing.T, settlementID string, subtype settlement.Subtype, level int, tileID *string, slot *int) *settlement.Structure {
	t.Helper()
	now := time.Now().UTC()
	st := &settlement.Structure{
		ID:           uuid.NewString(),
		SettlementID: settlementID,
		Subtype:      subtype,
		Level:        level,
		Health:       100,
		TileID:       tileID,
		SlotPosition: slot,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, persistence.InsertStructure(f.eng.Store.Conn(), st))
	return st
}
