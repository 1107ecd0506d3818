package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/world"
)

func disasterFixture(t *testing.T) (*Store, *world.World) {
	t.Helper()
	s := newTestStore(t)
	srv := seedServer(t, s)
	return s, seedWorld(t, s, srv.ID)
}

func newEvent(worldID string, status disaster.Status, scheduledAt time.Time) *disaster.Event {
	now := time.Now().UTC()
	return &disaster.Event{
		ID:             uuid.NewString(),
		WorldID:        worldID,
		Type:           disaster.TypeEarthquake,
		Severity:       62,
		SeverityLevel:  disaster.LevelFor(62),
		AffectedBiomes: []world.BiomeID{world.BiomeMountain, world.BiomeGrassland},
		ScheduledAt:    scheduledAt,
		WarningTime:    30 * time.Minute,
		ImpactDuration: 10 * time.Minute,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestDisasterRoundTrip(t *testing.T) {
	s, w := disasterFixture(t)

	e := newEvent(w.ID, disaster.StatusScheduled, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, InsertDisaster(s.Conn(), e))

	got, err := DisasterByID(s.Conn(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, disaster.TypeEarthquake, got.Type)
	assert.Equal(t, 62.0, got.Severity)
	assert.Equal(t, disaster.SeverityMajor, got.SeverityLevel)
	// Durations survive the integer-seconds columns.
	assert.Equal(t, 30*time.Minute, got.WarningTime)
	assert.Equal(t, 10*time.Minute, got.ImpactDuration)
	assert.Equal(t, []world.BiomeID{world.BiomeMountain, world.BiomeGrassland}, got.AffectedBiomes)
	assert.False(t, got.ImminentIssued)

	absent, err := DisasterByID(s.Conn(), "nope")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestInsertDisasterNilBiomes(t *testing.T) {
	s, w := disasterFixture(t)

	e := newEvent(w.ID, disaster.StatusScheduled, time.Now().UTC())
	e.AffectedBiomes = nil
	require.NoError(t, InsertDisaster(s.Conn(), e))

	got, err := DisasterByID(s.Conn(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AffectedBiomes)
}

func TestUpdateDisasterAdvancesState(t *testing.T) {
	s, w := disasterFixture(t)

	e := newEvent(w.ID, disaster.StatusScheduled, time.Now().UTC())
	require.NoError(t, InsertDisaster(s.Conn(), e))

	warned := time.Now().UTC().Truncate(time.Second)
	e.Status = disaster.StatusWarning
	e.WarningAt = &warned
	e.ImminentIssued = true
	require.NoError(t, UpdateDisaster(s.Conn(), e))

	got, err := DisasterByID(s.Conn(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, disaster.StatusWarning, got.Status)
	require.NotNil(t, got.WarningAt)
	assert.True(t, got.WarningAt.Equal(warned))
	assert.True(t, got.ImminentIssued)
}

func TestActiveDisastersByWorld(t *testing.T) {
	s, w := disasterFixture(t)
	now := time.Now().UTC()

	later := newEvent(w.ID, disaster.StatusScheduled, now.Add(2*time.Hour))
	earlier := newEvent(w.ID, disaster.StatusImpact, now.Add(time.Hour))
	resolved := newEvent(w.ID, disaster.StatusResolved, now)

	for _, e := range []*disaster.Event{later, earlier, resolved} {
		require.NoError(t, InsertDisaster(s.Conn(), e))
	}

	active, err := ActiveDisastersByWorld(s.Conn(), w.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// Oldest schedule first; resolved excluded.
	assert.Equal(t, earlier.ID, active[0].ID)
	assert.Equal(t, later.ID, active[1].ID)
}

func TestResolveWorldDisasters(t *testing.T) {
	s, w := disasterFixture(t)
	now := time.Now().UTC()

	require.NoError(t, InsertDisaster(s.Conn(), newEvent(w.ID, disaster.StatusWarning, now)))
	require.NoError(t, InsertDisaster(s.Conn(), newEvent(w.ID, disaster.StatusImpact, now)))
	require.NoError(t, InsertDisaster(s.Conn(), newEvent(w.ID, disaster.StatusResolved, now)))

	n, err := ResolveWorldDisasters(s.Conn(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := ActiveDisastersByWorld(s.Conn(), w.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDisasterHistoryIdempotent(t *testing.T) {
	s, w := disasterFixture(t)
	tile := seedTile(t, s, w, world.TileLand)
	_, prof := seedProfile(t, s, "survivor@example.com")
	st := seedSettlement(t, s, w, tile, prof.ID)

	e := newEvent(w.ID, disaster.StatusAftermath, time.Now().UTC())
	require.NoError(t, InsertDisaster(s.Conn(), e))

	h := &disaster.History{
		ID:                  uuid.NewString(),
		SettlementID:        st.ID,
		DisasterID:          e.ID,
		Casualties:          3,
		StructuresDamaged:   2,
		StructuresDestroyed: 1,
		ResourcesLost:       map[world.Resource]int{world.ResourceFood: 12},
		ResilienceGained:    10,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, InsertHistory(s.Conn(), h))

	// A replayed rollup for the same (settlement, disaster) is a no-op.
	dup := *h
	dup.ID = uuid.NewString()
	dup.Casualties = 99
	require.NoError(t, InsertHistory(s.Conn(), &dup))

	exists, err := HistoryExists(s.Conn(), st.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	history, err := HistoryBySettlement(s.Conn(), st.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Casualties)
	assert.Equal(t, 10, history[0].ResilienceGained)
	assert.Equal(t, 12, history[0].ResourcesLost[world.ResourceFood])
}

func TestHistoryExistsFalseWhenAbsent(t *testing.T) {
	s, w := disasterFixture(t)
	_ = w
	exists, err := HistoryExists(s.Conn(), "s", "d")
	require.NoError(t, err)
	assert.False(t, exists)
}
