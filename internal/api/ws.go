// Websocket endpoint: upgrades the connection and dispatches typed inbound
// commands to the engine. Origin checking mirrors the CORS allow-list.
// Unauthenticated sockets may only authenticate.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
)

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	allowed := make(map[string]bool)
	for _, o := range s.allowedOrigins() {
		allowed[o] = true
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := events.NewClient(s.Hub, conn, uuid.NewString())
	client.Run(r.Context(), s.dispatch)
}

// dispatch routes one inbound frame. Command errors go back to the sender as
// an error envelope with the apperr code and details.
func (s *Server) dispatch(ctx context.Context, c *events.Client, msg events.Message) error {
	err := s.command(ctx, c, msg)
	if err != nil {
		ae := apperr.From(err)
		payload := map[string]any{
			"code":    ae.Code,
			"message": ae.Message,
			"command": msg.Type,
		}
		for k, v := range ae.Details {
			payload[k] = v
		}
		s.Hub.Send(c.Sub, events.EvError, payload)
	}
	return err
}

func (s *Server) command(ctx context.Context, c *events.Client, msg events.Message) error {
	if msg.Type == events.InAuthenticate {
		return s.wsAuthenticate(c, msg)
	}
	if c.ProfileID == "" {
		return apperr.Auth(apperr.CodeUnauthenticated, "authenticate first")
	}

	switch msg.Type {
	case events.InJoinWorld:
		return s.wsJoinWorld(ctx, c, msg)

	case events.InLeaveWorld:
		c.LeaveWorld()
		return nil

	case events.InRequestGameState:
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		snapshot, err := s.Eng.GameState(ctx, settlementID)
		if err != nil {
			return err
		}
		s.Hub.Send(c.Sub, events.EvGameState, snapshot)
		return nil

	case events.InRequestResourcesData:
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		data, err := s.Eng.ResourcesData(ctx, settlementID)
		if err != nil {
			return err
		}
		s.Hub.Send(c.Sub, events.EvResourcesData, data)
		return nil

	case events.InCollectResources:
		// Production is continuous; collect returns the authoritative stock.
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		data, err := s.Eng.ResourcesData(ctx, settlementID)
		if err != nil {
			return err
		}
		s.Hub.Send(c.Sub, events.EvResourceUpdate, data)
		return nil

	case events.InRequestConstructionState:
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		state, err := s.Eng.ConstructionState(ctx, settlementID)
		if err != nil {
			return err
		}
		s.Hub.Send(c.Sub, events.EvConstructionState, state)
		return nil

	case events.InBuildStructure, events.InStartConstruction:
		return s.wsBuild(ctx, c, msg)

	case events.InUpgradeStructure:
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		structureID, _ := msg.Payload["structureId"].(string)
		if structureID == "" {
			return apperr.Validation(apperr.CodeMissingFields, "structureId is required")
		}
		_, err = s.Eng.Upgrade(ctx, settlementID, structureID)
		return err

	case events.InCancelConstruction:
		settlementID, err := s.wsOwnedSettlement(c, msg)
		if err != nil {
			return err
		}
		projectID, _ := msg.Payload["projectId"].(string)
		if projectID == "" {
			return apperr.Validation(apperr.CodeMissingFields, "projectId is required")
		}
		_, err = s.Eng.Cancel(ctx, settlementID, projectID)
		return err

	default:
		return apperr.Validation(apperr.CodeMissingFields, "unknown message type").
			WithDetail("type", msg.Type)
	}
}

func (s *Server) wsAuthenticate(c *events.Client, msg events.Message) error {
	token, _ := msg.Payload["token"].(string)
	sess, err := s.parseToken(token)
	if err != nil {
		return err
	}
	c.AccountID = sess.AccountID
	c.ProfileID = sess.ProfileID
	s.Hub.Send(c.Sub, events.EvAuthenticated, map[string]any{
		"accountId": sess.AccountID,
		"profileId": sess.ProfileID,
	})
	return nil
}

// wsJoinWorld subscribes the client to the world room plus the room of its
// settlement there, then delivers the reconnect snapshot.
func (s *Server) wsJoinWorld(ctx context.Context, c *events.Client, msg events.Message) error {
	worldID, _ := msg.Payload["worldId"].(string)
	if worldID == "" {
		return apperr.Validation(apperr.CodeMissingFields, "worldId is required")
	}
	w, err := persistence.WorldByID(s.Store.Conn(), worldID)
	if err != nil {
		return err
	}
	if w == nil {
		return apperr.NotFound(apperr.CodeWorldNotFound, "world not found")
	}

	c.JoinWorld(worldID)

	var mine *settlement.Settlement
	settlements, err := persistence.SettlementsByWorld(s.Store.Conn(), worldID)
	if err != nil {
		return err
	}
	for _, st := range settlements {
		if st.ProfileID == c.ProfileID {
			mine = st
			c.JoinSettlement(st.ID)
			break
		}
	}

	payload := map[string]any{"worldId": worldID, "status": w.Status}
	if mine != nil {
		payload["settlementId"] = mine.ID
	}
	s.Hub.Send(c.Sub, events.EvWorldJoined, payload)

	if mine != nil {
		snapshot, err := s.Eng.GameState(ctx, mine.ID)
		if err != nil {
			return err
		}
		s.Hub.Send(c.Sub, events.EvGameState, snapshot)
	}
	return nil
}

func (s *Server) wsBuild(ctx context.Context, c *events.Client, msg events.Message) error {
	settlementID, err := s.wsOwnedSettlement(c, msg)
	if err != nil {
		return err
	}
	subtype, _ := msg.Payload["structureType"].(string)
	if subtype == "" {
		return apperr.Validation(apperr.CodeMissingFields, "structureType is required")
	}

	req := engine.BuildRequest{
		SettlementID: settlementID,
		Subtype:      settlement.Subtype(subtype),
	}
	if tileID, ok := msg.Payload["tileId"].(string); ok && tileID != "" {
		req.TileID = &tileID
	}
	if slot, ok := msg.Payload["slotPosition"].(float64); ok {
		pos := int(slot)
		req.SlotPosition = &pos
	}
	if emergency, ok := msg.Payload["emergency"].(bool); ok {
		req.Emergency = emergency
	}

	_, err = s.Eng.Enqueue(ctx, req)
	return err
}

// wsOwnedSettlement reads settlementId from the payload and enforces
// ownership by the socket's profile.
func (s *Server) wsOwnedSettlement(c *events.Client, msg events.Message) (string, error) {
	settlementID, _ := msg.Payload["settlementId"].(string)
	if settlementID == "" {
		return "", apperr.Validation(apperr.CodeMissingFields, "settlementId is required")
	}
	st, err := persistence.SettlementByID(s.Store.Conn(), settlementID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", apperr.NotFound(apperr.CodeSettlementNotFound, "settlement not found")
	}
	if st.ProfileID != c.ProfileID {
		return "", apperr.Auth(apperr.CodeNotSettlementOwner, "settlement belongs to another profile")
	}
	return settlementID, nil
}
