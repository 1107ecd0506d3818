// Package api is the HTTP surface: auth endpoints, the admin control plane,
// the structure proxy routes, and the websocket upgrade for the event channel.
// Game state never changes here; every mutation goes through the engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/config"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
)

// requestTimeout bounds every admin request. World generation runs detached
// and is not subject to it.
const requestTimeout = 30 * time.Second

// Server wires the engine, store, and hub behind the HTTP routes.
type Server struct {
	Eng   *engine.Engine
	Store *persistence.Store
	Hub   *events.Hub
	Cfg   config.Config

	meta metadataCache
}

// NewServer builds a Server over its dependencies.
func NewServer(eng *engine.Engine, store *persistence.Store, hub *events.Hub, cfg config.Config) *Server {
	return &Server{Eng: eng, Store: store, Hub: hub, Cfg: cfg}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.requireSession(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/admin/dashboard", s.requireAdmin(s.handleDashboard)).Methods(http.MethodGet)
	r.HandleFunc("/admin/disasters/trigger", s.requireAdmin(s.handleTriggerDisaster)).Methods(http.MethodPost)
	r.HandleFunc("/admin/disasters/clear", s.requireAdmin(s.handleClearDisasters)).Methods(http.MethodPost)

	r.HandleFunc("/servers", s.requireAdmin(s.handleListServers)).Methods(http.MethodGet)
	r.HandleFunc("/servers", s.requireAdmin(s.handleCreateServer)).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}", s.requireAdmin(s.handleGetServer)).Methods(http.MethodGet)
	r.HandleFunc("/servers/{id}", s.requireAdmin(s.handlePatchServer)).Methods(http.MethodPatch)
	r.HandleFunc("/servers/{id}", s.requireAdmin(s.handleDeleteServer)).Methods(http.MethodDelete)

	r.HandleFunc("/worlds", s.requireSession(s.handleListWorlds)).Methods(http.MethodGet)
	r.HandleFunc("/worlds", s.requireAdmin(s.handleCreateWorld)).Methods(http.MethodPost)
	r.HandleFunc("/worlds/{id}", s.requireSession(s.handleGetWorld)).Methods(http.MethodGet)
	r.HandleFunc("/worlds/{id}", s.requireAdmin(s.handleDeleteWorld)).Methods(http.MethodDelete)
	r.HandleFunc("/worlds/{id}/settlements", s.requireSession(s.handleFoundSettlement)).Methods(http.MethodPost)

	r.HandleFunc("/structures/metadata", s.handleStructureMetadata).Methods(http.MethodGet)
	r.HandleFunc("/structures/create", s.requireSession(s.handleCreateStructure)).Methods(http.MethodPost)
	r.HandleFunc("/structures/by-settlement/{id}", s.requireSession(s.handleStructuresBySettlement)).Methods(http.MethodGet)
	r.HandleFunc("/structures/{id}/upgrade", s.requireSession(s.handleUpgradeStructure)).Methods(http.MethodPost)
	r.HandleFunc("/structures/{id}/repair", s.requireSession(s.handleRepairStructure)).Methods(http.MethodPost)
	r.HandleFunc("/structures/{id}", s.requireSession(s.handleDemolishStructure)).Methods(http.MethodDelete)

	r.HandleFunc("/ws", s.handleWebsocket)

	if s.Cfg.TestRoutesEnabled() {
		r.HandleFunc("/test/elevate-admin/{email}", s.handleElevateAdmin).Methods(http.MethodPut)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.withTimeout(r))
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("http server starting", "addr", srv.Addr, "env", s.Cfg.Env)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) allowedOrigins() []string {
	// Localhost dev servers are always allowed.
	origins := []string{
		"http://localhost:5173",
		"http://localhost:4173",
		"http://localhost:3000",
	}
	return append(origins, s.Cfg.CORSOrigins...)
}

// withTimeout applies the admin request deadline to everything but the
// websocket upgrade.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tick": s.Eng.CurrentTick()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

// writeError renders the error envelope {error, code, message, ...details}.
func writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindFatal {
		slog.Error("request failed", "code", ae.Code, "error", err)
	}
	body := map[string]any{
		"error":   true,
		"code":    ae.Code,
		"message": ae.Message,
	}
	for k, v := range ae.Details {
		body[k] = v
	}
	writeJSON(w, apperr.HTTPStatus(err), body)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation(apperr.CodeMissingFields, "invalid request body").Wrap(err)
	}
	return nil
}
