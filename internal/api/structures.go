// Structure proxy routes: the cached metadata catalog and the build, upgrade,
// repair, and demolish commands, each guarded by settlement ownership.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
)

// metadataCache holds the rendered structure catalog. Definitions change only
// at deploy time, so TTL expiry is the sole invalidation in practice.
type metadataCache struct {
	mu      sync.Mutex
	payload []settlement.Definition
	builtAt time.Time
}

func (s *Server) handleStructureMetadata(w http.ResponseWriter, r *http.Request) {
	s.meta.mu.Lock()
	cached := s.meta.payload != nil && time.Since(s.meta.builtAt) < s.Cfg.MetadataTTL
	if !cached {
		s.meta.payload = settlement.Catalog()
		s.meta.builtAt = time.Now().UTC()
	}
	payload, builtAt := s.meta.payload, s.meta.builtAt
	s.meta.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"structures": payload,
		"cached":     cached,
		"cacheAge":   time.Since(builtAt).Seconds(),
		"timestamp":  time.Now().UTC(),
	})
}

// ownedSettlement loads a settlement and enforces that the session's profile
// owns it. Administrators bypass the ownership check.
func (s *Server) ownedSettlement(sess *session, settlementID string) (*settlement.Settlement, error) {
	st, err := persistence.SettlementByID(s.Store.Conn(), settlementID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound(apperr.CodeSettlementNotFound, "settlement not found")
	}
	if st.ProfileID != sess.ProfileID && sess.Role != account.RoleAdministrator {
		return nil, apperr.Auth(apperr.CodeNotSettlementOwner, "settlement belongs to another profile")
	}
	return st, nil
}

func (s *Server) handleCreateStructure(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		SettlementID string  `json:"settlementId"`
		Subtype      string  `json:"structureType"`
		TileID       *string `json:"tileId"`
		SlotPosition *int    `json:"slotPosition"`
		Emergency    bool    `json:"emergency"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SettlementID == "" || req.Subtype == "" {
		writeError(w, apperr.Validation(apperr.CodeMissingFields, "settlementId and structureType are required"))
		return
	}
	if _, err := s.ownedSettlement(sess, req.SettlementID); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.Eng.Enqueue(r.Context(), engine.BuildRequest{
		SettlementID: req.SettlementID,
		Subtype:      settlement.Subtype(req.Subtype),
		TileID:       req.TileID,
		SlotPosition: req.SlotPosition,
		Emergency:    req.Emergency,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpgradeStructure(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		SettlementID string `json:"settlementId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ownedSettlement(sess, req.SettlementID); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.Eng.Upgrade(r.Context(), req.SettlementID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRepairStructure(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		SettlementID string `json:"settlementId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ownedSettlement(sess, req.SettlementID); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.Eng.Repair(r.Context(), req.SettlementID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDemolishStructure(w http.ResponseWriter, r *http.Request, sess *session) {
	settlementID := r.URL.Query().Get("settlementId")
	if settlementID == "" {
		writeError(w, apperr.Validation(apperr.CodeMissingFields, "settlementId query parameter is required"))
		return
	}
	if _, err := s.ownedSettlement(sess, settlementID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Eng.Demolish(r.Context(), settlementID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"demolished": true})
}

func (s *Server) handleStructuresBySettlement(w http.ResponseWriter, r *http.Request, sess *session) {
	settlementID := mux.Vars(r)["id"]
	if _, err := s.ownedSettlement(sess, settlementID); err != nil {
		writeError(w, err)
		return
	}
	structures, err := persistence.StructuresBySettlement(s.Store.Conn(), settlementID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, structures)
}
