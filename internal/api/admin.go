// Admin control plane: dashboard counts, server CRUD, world lifecycle, and
// the disaster test surface.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/world"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess *session) {
	counts, err := persistence.DashboardCounts(s.Store.Conn())
	if err != nil {
		writeError(w, err)
		return
	}
	worlds, err := persistence.ListWorlds(s.Store.Conn())
	if err != nil {
		writeError(w, err)
		return
	}
	if len(worlds) > 10 {
		worlds = worlds[:10]
	}
	servers, err := persistence.ListServers(s.Store.Conn())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts":       counts,
		"recentWorlds": worlds,
		"servers":      servers,
		"tick":         s.Eng.CurrentTick(),
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request, sess *session) {
	servers, err := persistence.ListServers(s.Store.Conn())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		Name     string `json:"name"`
		Hostname string `json:"hostname"`
		Port     int    `json:"port"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.Hostname == "" || req.Port == 0 {
		writeError(w, apperr.Validation(apperr.CodeMissingFields, "name, hostname, and port are required"))
		return
	}
	srv, err := persistence.CreateServer(s.Store.Conn(), req.Name, req.Hostname, req.Port)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request, sess *session) {
	srv, err := persistence.ServerByID(s.Store.Conn(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if srv == nil {
		writeError(w, apperr.NotFound("SERVER_NOT_FOUND", "server not found"))
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handlePatchServer(w http.ResponseWriter, r *http.Request, sess *session) {
	srv, err := persistence.ServerByID(s.Store.Conn(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if srv == nil {
		writeError(w, apperr.NotFound("SERVER_NOT_FOUND", "server not found"))
		return
	}

	var req struct {
		Name     *string               `json:"name"`
		Hostname *string               `json:"hostname"`
		Port     *int                  `json:"port"`
		Status   *account.ServerStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != nil {
		srv.Name = *req.Name
	}
	if req.Hostname != nil {
		srv.Hostname = *req.Hostname
	}
	if req.Port != nil {
		srv.Port = *req.Port
	}
	if req.Status != nil {
		srv.Status = *req.Status
	}
	if err := persistence.UpdateServer(s.Store.Conn(), srv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request, sess *session) {
	if err := persistence.DeleteServer(s.Store.Conn(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleListWorlds(w http.ResponseWriter, r *http.Request, sess *session) {
	worlds, err := persistence.ListWorlds(s.Store.Conn())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worlds)
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		ServerID      string             `json:"serverId"`
		Name          string             `json:"name"`
		Template      world.TemplateType `json:"template"`
		WidthRegions  int                `json:"widthRegions"`
		HeightRegions int                `json:"heightRegions"`
		Seed          int64              `json:"seed"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Eng.CreateWorld(r.Context(), engine.WorldRequest{
		ServerID:      req.ServerID,
		Name:          req.Name,
		Template:      req.Template,
		WidthRegions:  req.WidthRegions,
		HeightRegions: req.HeightRegions,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleGetWorld(w http.ResponseWriter, r *http.Request, sess *session) {
	found, err := persistence.WorldByID(s.Store.Conn(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		writeError(w, apperr.NotFound(apperr.CodeWorldNotFound, "world not found"))
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleDeleteWorld(w http.ResponseWriter, r *http.Request, sess *session) {
	if err := s.Eng.DeleteWorld(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleFoundSettlement(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		TileID string `json:"tileId"`
		Name   string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TileID == "" || req.Name == "" {
		writeError(w, apperr.Validation(apperr.CodeMissingFields, "tileId and name are required"))
		return
	}
	st, err := s.Eng.FoundSettlement(r.Context(), sess.ProfileID, mux.Vars(r)["id"], req.TileID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleTriggerDisaster(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		WorldID  string        `json:"worldId"`
		Type     disaster.Type `json:"type"`
		Severity float64       `json:"severity"`
		Duration int           `json:"durationSeconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.Eng.TriggerDisaster(r.Context(), req.WorldID, req.Type, req.Severity,
		time.Duration(req.Duration)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleClearDisasters(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		WorldID string `json:"worldId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := s.Eng.ClearDisasters(r.Context(), req.WorldID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// handleElevateAdmin is registered only when APP_ENV=test.
func (s *Server) handleElevateAdmin(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	if err := persistence.SetRole(s.Store.Conn(), email, account.RoleAdministrator); err != nil {
		writeError(w, err)
		return
	}
	slog.Warn("account elevated to administrator", "email", email)
	writeJSON(w, http.StatusOK, map[string]any{"elevated": email})
}
