package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// settlementFixture drives the full HTTP flow: an admin provisions a server
// and world, then a member founds a settlement on a generated tile.
type settlementFixture struct {
	adminToken   string
	memberToken  string
	worldID      string
	settlementID string
}

func newSettlementFixture(t *testing.T, a *testAPI) settlementFixture {
	t.Helper()
	admin := a.admin(t, "root@example.com", "root")
	member := a.register(t, "player@example.com", "player")

	status, srv := a.do(t, http.MethodPost, "/servers", admin, map[string]any{
		"name": "alpha", "hostname": "localhost", "port": 9001,
	})
	require.Equal(t, http.StatusCreated, status)

	status, created := a.do(t, http.MethodPost, "/worlds", admin, map[string]any{
		"serverId": srv["id"], "name": "genesis", "widthRegions": 1, "heightRegions": 1, "seed": 42,
	})
	require.Equal(t, http.StatusAccepted, status)
	worldID, _ := created["id"].(string)
	require.NotEmpty(t, worldID)

	require.Eventually(t, func() bool {
		status, got := a.do(t, http.MethodGet, "/worlds/"+worldID, member, nil)
		return status == http.StatusOK && got["status"] == string(world.StatusReady)
	}, 10*time.Second, 50*time.Millisecond)

	status, st := a.do(t, http.MethodPost, "/worlds/"+worldID+"/settlements", member, map[string]any{
		"tileId": landTileID(t, a, worldID),
		"name":   "first-light",
	})
	require.Equal(t, http.StatusCreated, status)
	settlementID, _ := st["id"].(string)
	require.NotEmpty(t, settlementID)

	return settlementFixture{
		adminToken:   admin,
		memberToken:  member,
		worldID:      worldID,
		settlementID: settlementID,
	}
}

func TestStructureMetadataCaching(t *testing.T) {
	a := newTestAPI(t)

	status, first := a.do(t, http.MethodGet, "/structures/metadata", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, first["cached"])
	structures, _ := first["structures"].([]any)
	assert.NotEmpty(t, structures)

	status, second := a.do(t, http.MethodGet, "/structures/metadata", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, second["cached"])
}

func TestCreateStructureOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	f := newSettlementFixture(t, a)

	status, entry := a.do(t, http.MethodPost, "/structures/create", f.memberToken, map[string]any{
		"settlementId":  f.settlementID,
		"structureType": string(settlement.SubtypeTownHall),
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(settlement.QueueInProgress), entry["status"])
	assert.Equal(t, f.settlementID, entry["settlementId"])
	assert.NotEmpty(t, entry["completesAt"])

	status, _ = a.do(t, http.MethodGet, "/structures/by-settlement/"+f.settlementID, f.memberToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCreateStructureValidation(t *testing.T) {
	a := newTestAPI(t)
	f := newSettlementFixture(t, a)

	status, body := a.do(t, http.MethodPost, "/structures/create", f.memberToken, map[string]any{
		"settlementId": f.settlementID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeMissingFields, body["code"])

	status, body = a.do(t, http.MethodPost, "/structures/create", f.memberToken, map[string]any{
		"settlementId":  "ghost",
		"structureType": string(settlement.SubtypeTownHall),
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeSettlementNotFound, body["code"])
}

func TestStructureOwnership(t *testing.T) {
	a := newTestAPI(t)
	f := newSettlementFixture(t, a)
	intruder := a.register(t, "intruder@example.com", "intruder")

	status, body := a.do(t, http.MethodPost, "/structures/create", intruder, map[string]any{
		"settlementId":  f.settlementID,
		"structureType": string(settlement.SubtypeTownHall),
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.CodeNotSettlementOwner, body["code"])

	status, body = a.do(t, http.MethodGet, "/structures/by-settlement/"+f.settlementID, intruder, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.CodeNotSettlementOwner, body["code"])

	// Administrators bypass the ownership check.
	status, _ = a.do(t, http.MethodGet, "/structures/by-settlement/"+f.settlementID, f.adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUpgradeAndRepairOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	f := newSettlementFixture(t, a)

	now := time.Now().UTC()
	house := &settlement.Structure{
		ID:           uuid.NewString(),
		SettlementID: f.settlementID,
		Subtype:      settlement.SubtypeHouse,
		Level:        1,
		Health:       40,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, persistence.InsertStructure(a.srv.Store.Conn(), house))
	require.NoError(t, persistence.WriteStorage(a.srv.Store.Conn(), f.settlementID, map[world.Resource]int{
		world.ResourceFood:  900,
		world.ResourceWater: 900,
		world.ResourceWood:  900,
		world.ResourceStone: 900,
		world.ResourceOre:   900,
	}))

	status, repaired := a.do(t, http.MethodPost, "/structures/"+house.ID+"/repair", f.memberToken, map[string]any{
		"settlementId": f.settlementID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(100), repaired["health"])

	status, upgraded := a.do(t, http.MethodPost, "/structures/"+house.ID+"/upgrade", f.memberToken, map[string]any{
		"settlementId": f.settlementID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), upgraded["level"])
}

func TestDemolishOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	f := newSettlementFixture(t, a)

	now := time.Now().UTC()
	house := &settlement.Structure{
		ID:           uuid.NewString(),
		SettlementID: f.settlementID,
		Subtype:      settlement.SubtypeHouse,
		Level:        1,
		Health:       100,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, persistence.InsertStructure(a.srv.Store.Conn(), house))

	// The settlementId query parameter is mandatory.
	status, body := a.do(t, http.MethodDelete, "/structures/"+house.ID, f.memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeMissingFields, body["code"])

	status, body = a.do(t, http.MethodDelete, "/structures/"+house.ID+"?settlementId="+f.settlementID, f.memberToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["demolished"])

	gone, err := persistence.StructureByID(a.srv.Store.Conn(), house.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	status, body = a.do(t, http.MethodDelete, "/structures/"+house.ID+"?settlementId="+f.settlementID, f.memberToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeStructureNotFound, body["code"])
}
