package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/world"
)

func TestWorldRoundTrip(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)

	got, err := WorldByID(s.Conn(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, w.Name, got.Name)
	assert.Equal(t, w.Seed, got.Seed)
	assert.Equal(t, w.Template, got.Template)
	// Noise bundles and template config survive the JSON columns.
	assert.Equal(t, w.Elevation, got.Elevation)
	assert.Equal(t, w.Precipitation, got.Precipitation)
	assert.Equal(t, w.Temperature, got.Temperature)
	assert.Equal(t, w.Config, got.Config)
}

func TestWorldByIDAbsent(t *testing.T) {
	s := newTestStore(t)
	got, err := WorldByID(s.Conn(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetWorldStatus(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)

	require.NoError(t, SetWorldStatus(s.Conn(), w.ID, world.StatusFailed, "noise exploded"))

	got, err := WorldByID(s.Conn(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, world.StatusFailed, got.Status)
	assert.Equal(t, "noise exploded", got.FailReason)
}

func TestListWorldsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)

	older := seedWorld(t, s, srv.ID)
	// Force a strictly later created_at on the second world.
	newer := seedWorld(t, s, srv.ID)
	_, err := s.Conn().Exec(`UPDATE worlds SET created_at = ? WHERE id = ?`,
		older.CreatedAt.Add(time.Hour), newer.ID)
	require.NoError(t, err)

	list, err := ListWorlds(s.Conn())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestClaimTile(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)
	tile := seedTile(t, s, w, world.TileLand)

	ok, err := ClaimTile(s.Conn(), tile.ID, "settlement-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim on the same tile loses.
	ok, err = ClaimTile(s.Conn(), tile.ID, "settlement-b")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := TileByID(s.Conn(), tile.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SettlementID)
	assert.Equal(t, "settlement-a", *got.SettlementID)

	require.NoError(t, ReleaseTile(s.Conn(), tile.ID))
	got, err = TileByID(s.Conn(), tile.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SettlementID)
}

func TestClaimTileRejectsOcean(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)
	tile := seedTile(t, s, w, world.TileOcean)

	ok, err := ClaimTile(s.Conn(), tile.ID, "settlement-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetTileBaseModifierClamps(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)
	tile := seedTile(t, s, w, world.TileLand)

	for _, tc := range []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{0.0, 0.1},
		{-3, 0.1},
		{1.7, 1.0},
	} {
		require.NoError(t, SetTileBaseModifier(s.Conn(), tile.ID, tc.in))
		got, err := TileByID(s.Conn(), tile.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.BaseProductionModifier, "input %v", tc.in)
	}
}

func TestTileRoundTripAndRegionOrder(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)

	region := &world.Region{ID: "r1", WorldID: w.ID, X: 0, Y: 0}
	require.NoError(t, InsertRegions(s.Conn(), []*world.Region{region}))

	mk := func(id string, x, y int) *world.Tile {
		return &world.Tile{
			ID: id, RegionID: region.ID, WorldID: w.ID, X: x, Y: y,
			Type: world.TileLand, Biome: world.BiomeForest,
			Qualities:              world.Qualities{Food: 10, Wood: 90},
			PlotSlots:              4,
			BaseProductionModifier: 1.0,
		}
	}
	// Inserted out of order; reads come back (y, x) ordered.
	require.NoError(t, InsertTiles(s.Conn(), []*world.Tile{mk("t11", 1, 1), mk("t00", 0, 0), mk("t10", 1, 0)}))

	tiles, err := TilesByRegion(s.Conn(), region.ID)
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	assert.Equal(t, "t00", tiles[0].ID)
	assert.Equal(t, "t10", tiles[1].ID)
	assert.Equal(t, "t11", tiles[2].ID)

	assert.Equal(t, 90.0, tiles[2].Qualities.Wood)
	assert.Equal(t, world.BiomeForest, tiles[2].Biome)

	regions, err := RegionsByWorld(s.Conn(), w.ID)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, region.ID, regions[0].ID)
}

func TestDeleteWorldCascades(t *testing.T) {
	s := newTestStore(t)
	srv := seedServer(t, s)
	w := seedWorld(t, s, srv.ID)
	tile := seedTile(t, s, w, world.TileLand)
	_, prof := seedProfile(t, s, "cascade@example.com")
	st := seedSettlement(t, s, w, tile, prof.ID)

	require.NoError(t, DeleteWorld(s.Conn(), w.ID))

	got, err := WorldByID(s.Conn(), w.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	gotTile, err := TileByID(s.Conn(), tile.ID)
	require.NoError(t, err)
	assert.Nil(t, gotTile)

	gotSt, err := SettlementByID(s.Conn(), st.ID)
	require.NoError(t, err)
	assert.Nil(t, gotSt)
}
