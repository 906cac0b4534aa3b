package hub

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soulseer/backend/internal/middleware"
	"github.com/soulseer/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is token-authenticated; origin checks belong to the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request to the real-time channel: one
// persistent connection per client process, multiplexed by message type.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HUB] Upgrade failed: %v", err)
		return
	}

	c := newConnection(uuid.New().String(), userID, h, ws)
	h.Register(c)
}

// dispatch routes one raw client frame. The type discriminator is decoded
// here, once; unknown types are ignored, not fatal.
func (h *Hub) dispatch(c *Connection, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed message"})
		return
	}

	switch head.Type {
	case TypeJoinSession:
		h.handleJoinSession(c, data)
	case TypeJoinBroadcast:
		h.handleJoinBroadcast(c, data)
	case TypeLeaveSession, TypeLeaveBroadcast:
		h.handleLeave(c, data)
	case TypeChatMessage:
		h.handleChat(c, data)
	case TypeSignalOffer, TypeSignalAnswer, TypeSignalICE:
		h.relaySignal(c, head.Type, data)
	case TypeSendGift:
		h.handleGift(c, data)
	case TypeHeartbeat:
		h.handleHeartbeat(c, data)
	default:
		log.Printf("[HUB] Ignoring unknown message type %q from %s", head.Type, c.ID)
	}
}

// handleJoinSession admits a session participant into its room. A
// reconnecting participant presenting the same room id resumes; no
// re-authorization happens here.
func (h *Hub) handleJoinSession(c *Connection, data []byte) {
	var msg joinMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed join message"})
		return
	}
	if !IsSessionRoom(msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "not a session room"})
		return
	}

	session, ok := h.sessions.IsParticipant(msg.RoomID, c.UserID)
	if !ok {
		c.sendEvent(models.EventError, errorPayload{Message: "not a participant of this session"})
		return
	}

	h.JoinRoom(c, msg.RoomID)
	log.Printf("[HUB] %s joined session room %s", c.UserID, msg.RoomID)

	// Replay buffered chat so a rejoining peer has context.
	if history := h.historySnapshot(msg.RoomID); len(history) > 0 {
		c.sendEvent(models.EventChatHistory, history)
	}

	h.Broadcast(msg.RoomID, models.EventPeerJoined, models.PeerEvent{
		RoomID: msg.RoomID,
		UserID: c.UserID,
	}, c.ID)

	// Billing starts once both peers are present.
	if session.Status == models.SessionInitialized {
		users := h.roomUsers(msg.RoomID)
		_, clientHere := users[session.ClientID]
		_, readerHere := users[session.ReaderID]
		if clientHere && readerHere {
			if _, err := h.sessions.Activate(session.SessionID); err != nil {
				log.Printf("[HUB] Activation failed for session %s: %v", session.SessionID, err)
			}
		}
	}
}

func (h *Hub) handleJoinBroadcast(c *Connection, data []byte) {
	var msg joinMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed join message"})
		return
	}
	if msg.RoomID == "" || IsSessionRoom(msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "invalid broadcast room"})
		return
	}

	size := h.JoinRoom(c, msg.RoomID)
	log.Printf("[HUB] %s joined broadcast room %s (%d viewers)", c.UserID, msg.RoomID, size)

	if history := h.historySnapshot(msg.RoomID); len(history) > 0 {
		c.sendEvent(models.EventChatHistory, history)
	}

	h.Broadcast(msg.RoomID, models.EventViewerCountUpdate, models.ViewerCountEvent{
		RoomID: msg.RoomID,
		Count:  size,
	}, "")
}

func (h *Hub) handleLeave(c *Connection, data []byte) {
	var msg joinMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed leave message"})
		return
	}
	if !h.isMember(c, msg.RoomID) {
		return
	}

	size := h.LeaveRoom(c, msg.RoomID)
	h.notifyDeparture(c, msg.RoomID, size)
}

// handleHeartbeat marks the session alive at the websocket level. Billing
// ticks are driven by the HTTP heartbeat and the server-side timer.
func (h *Hub) handleHeartbeat(c *Connection, data []byte) {
	var msg heartbeatMessage
	if err := decodeInto(data, &msg); err != nil {
		return
	}
	if msg.SessionID == "" || h.liveness == nil {
		return
	}
	h.liveness.MarkAlive(msg.SessionID)
}
