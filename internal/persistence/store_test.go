package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedServer(t *testing.T, s *Store) *account.Server {
	t.Helper()
	srv, err := CreateServer(s.Conn(), "alpha", "localhost", 9001)
	require.NoError(t, err)
	return srv
}

func seedWorld(t *testing.T, s *Store, serverID string) *world.World {
	t.Helper()
	now := time.Now().UTC()
	w := &world.World{
		ID:            uuid.NewString(),
		ServerID:      serverID,
		Name:          "testlands",
		Status:        world.StatusReady,
		Seed:          42,
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
	require.NoError(t, InsertWorld(s.Conn(), w))
	return w
}

func seedTile(t *testing.T, s *Store, w *world.World, typ world.TileType) *world.Tile {
	t.Helper()
	region := &world.Region{
		ID:      uuid.NewString(),
		WorldID: w.ID,
		X:       0,
		Y:       0,
	}
	require.NoError(t, InsertRegions(s.Conn(), []*world.Region{region}))

	tile := &world.Tile{
		ID:                     uuid.NewString(),
		RegionID:               region.ID,
		WorldID:                w.ID,
		X:                      0,
		Y:                      0,
		Type:                   typ,
		Qualities:              world.Qualities{Food: 80, Water: 70, Wood: 60, Stone: 50, Ore: 40},
		PlotSlots:              5,
		BaseProductionModifier: 1.0,
		Biome:                  world.BiomeGrassland,
	}
	if typ == world.TileOcean {
		tile.Biome = world.BiomeOcean
		tile.PlotSlots = 0
	}
	require.NoError(t, InsertTiles(s.Conn(), []*world.Tile{tile}))
	return tile
}

func seedProfile(t *testing.T, s *Store, email string) (*account.Account, *account.Profile) {
	t.Helper()
	acc, prof, err := CreateAccount(s.Conn(), email, "hash", "user-"+email)
	require.NoError(t, err)
	return acc, prof
}

func seedSettlement(t *testing.T, s *Store, w *world.World, tile *world.Tile, profileID string) *settlement.Settlement {
	t.Helper()
	now := time.Now().UTC()
	st := &settlement.Settlement{
		ID:        uuid.NewString(),
		WorldID:   w.ID,
		ProfileID: profileID,
		TileID:    tile.ID,
		Name:      "haven",
		Tier:      settlement.TierOutpost,
		CreatedAt: now,
		UpdatedAt: now,
	}
	claimed, err := ClaimTile(s.Conn(), tile.ID, st.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, InsertSettlement(s.Conn(), st, settlement.StartingResources(), 10))
	return st
}
