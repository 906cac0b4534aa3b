package hub

import (
	"log"
	"strings"
	"sync"

	"github.com/soulseer/backend/internal/models"
)

// SessionDirectory is what the hub needs from the session state machine:
// membership checks for session rooms and activation when both peers are
// present. The hub never ends sessions.
type SessionDirectory interface {
	IsParticipant(roomID, userID string) (*models.Session, bool)
	Activate(sessionID string) (*models.Session, error)
}

// GiftSender settles a gift; the hub only fans out the resulting events.
type GiftSender interface {
	SendGift(senderID, recipientID, giftID, roomID string) (*models.GiftTransaction, error)
	Lookup(giftID string) (models.Gift, bool)
}

// LivenessMarker receives websocket-level heartbeats.
type LivenessMarker interface {
	MarkAlive(sessionID string)
}

// BalanceReader lets the hub push balance updates after gift spends.
type BalanceReader interface {
	ClientBalanceOf(clientID string) (*models.ClientBalance, error)
}

// Hub is the owned registry of live connections: connections keyed by id,
// rooms as sets of connections, and a per-user index for mailbox delivery.
// Rooms are created lazily on first join and discarded on last leave.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	rooms     map[string]map[string]*Connection
	userConns map[string]map[string]*Connection
	connRooms map[string]map[string]struct{}
	history   map[string][]models.ChatMessageEvent

	sessions SessionDirectory
	gifts    GiftSender
	liveness LivenessMarker
	balances BalanceReader

	historyCap int
}

func NewHub(sessions SessionDirectory, gifts GiftSender, liveness LivenessMarker, balances BalanceReader) *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		rooms:      make(map[string]map[string]*Connection),
		userConns:  make(map[string]map[string]*Connection),
		connRooms:  make(map[string]map[string]struct{}),
		history:    make(map[string][]models.ChatMessageEvent),
		sessions:   sessions,
		gifts:      gifts,
		liveness:   liveness,
		balances:   balances,
		historyCap: 50,
	}
}

// SetLiveness wires the heartbeat driver; the hub forwards websocket-level
// heartbeats to it.
func (h *Hub) SetLiveness(l LivenessMarker) { h.liveness = l }

// IsSessionRoom reports whether a room id names a metered session room.
func IsSessionRoom(roomID string) bool {
	return strings.HasPrefix(roomID, "session:")
}

// Register adds a connection to the registry and starts its pumps.
func (h *Hub) Register(c *Connection) {
	h.track(c)
	go c.writePump()
	go c.readPump()
	log.Printf("[HUB] Connection %s registered for user %s", c.ID, c.UserID)
}

// track inserts a connection into the registry without starting pumps.
func (h *Hub) track(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID] = c
	h.connRooms[c.ID] = make(map[string]struct{})
	if c.UserID != "" {
		if h.userConns[c.UserID] == nil {
			h.userConns[c.UserID] = make(map[string]*Connection)
		}
		h.userConns[c.UserID][c.ID] = c
	}
}

// Unregister removes a connection and performs the same room cleanup and
// presence notification as an explicit leave. Session termination is the
// state machine's decision, never the hub's: a disconnected peer may
// reconnect into the same room and billing continues.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	if _, exists := h.conns[c.ID]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)

	roomIDs := make([]string, 0, len(h.connRooms[c.ID]))
	for roomID := range h.connRooms[c.ID] {
		roomIDs = append(roomIDs, roomID)
	}
	delete(h.connRooms, c.ID)

	for _, roomID := range roomIDs {
		h.removeFromRoomLocked(c, roomID)
	}

	if c.UserID != "" {
		delete(h.userConns[c.UserID], c.ID)
		if len(h.userConns[c.UserID]) == 0 {
			delete(h.userConns, c.UserID)
		}
	}

	sizes := make(map[string]int, len(roomIDs))
	for _, roomID := range roomIDs {
		sizes[roomID] = len(h.rooms[roomID])
	}
	h.mu.Unlock()

	c.close()

	for _, roomID := range roomIDs {
		h.notifyDeparture(c, roomID, sizes[roomID])
	}
	log.Printf("[HUB] Connection %s unregistered", c.ID)
}

func (h *Hub) removeFromRoomLocked(c *Connection, roomID string) {
	members, exists := h.rooms[roomID]
	if !exists {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
		delete(h.history, roomID)
	}
}

func (h *Hub) notifyDeparture(c *Connection, roomID string, size int) {
	if IsSessionRoom(roomID) {
		h.BroadcastToRoom(roomID, models.EventPeerLeft, models.PeerEvent{
			RoomID: roomID,
			UserID: c.UserID,
		})
		return
	}
	h.BroadcastToRoom(roomID, models.EventViewerCountUpdate, models.ViewerCountEvent{
		RoomID: roomID,
		Count:  size,
	})
}

// JoinRoom adds a connection to a room, creating it lazily. Returns the
// room size after the join; the read is synchronous with the membership
// change so presence events never report stale counts.
func (h *Hub) JoinRoom(c *Connection, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Connection)
	}
	h.rooms[roomID][c.ID] = c
	h.connRooms[c.ID][roomID] = struct{}{}
	return len(h.rooms[roomID])
}

// LeaveRoom removes a connection from a room, discarding the room when it
// empties. Returns the room size after the leave.
func (h *Hub) LeaveRoom(c *Connection, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connRooms[c.ID], roomID)
	h.removeFromRoomLocked(c, roomID)
	return len(h.rooms[roomID])
}

// RoomSize reports the current number of connections in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// roomUsers returns the distinct user ids present in a room.
func (h *Hub) roomUsers(roomID string) map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make(map[string]struct{})
	for _, c := range h.rooms[roomID] {
		if c.UserID != "" {
			users[c.UserID] = struct{}{}
		}
	}
	return users
}

// isMember reports whether the connection currently belongs to the room.
func (h *Hub) isMember(c *Connection, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connRooms[c.ID][roomID]
	return ok
}

// Broadcast fans an event out to every room member except excludeConnID.
// Fan-out never blocks: a member whose outbound buffer is full is closed.
func (h *Hub) Broadcast(roomID, eventType string, payload any, excludeConnID string) {
	frame, err := Marshal(eventType, payload)
	if err != nil {
		log.Printf("[HUB] Failed to marshal %s event: %v", eventType, err)
		return
	}

	h.mu.RLock()
	members := make([]*Connection, 0, len(h.rooms[roomID]))
	for id, c := range h.rooms[roomID] {
		if id == excludeConnID {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.enqueue(frame) {
			h.dropSlow(c)
		}
	}
}

// BroadcastToRoom implements services.Notifier.
func (h *Hub) BroadcastToRoom(roomID, eventType string, payload any) {
	h.Broadcast(roomID, eventType, payload, "")
}

// SendToUser delivers an event to every connection of a user, independent
// of room membership (mailbox delivery).
func (h *Hub) SendToUser(userID, eventType string, payload any) {
	frame, err := Marshal(eventType, payload)
	if err != nil {
		log.Printf("[HUB] Failed to marshal %s event: %v", eventType, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.userConns[userID]))
	for _, c := range h.userConns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.dropSlow(c)
		}
	}
}

// connsForUserInRoom returns the target user's connections inside one room.
func (h *Hub) connsForUserInRoom(roomID, userID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*Connection
	for _, c := range h.rooms[roomID] {
		if c.UserID == userID {
			targets = append(targets, c)
		}
	}
	return targets
}

// dropSlow closes a connection whose outbound buffer overflowed.
func (h *Hub) dropSlow(c *Connection) {
	log.Printf("[HUB] Dropping slow connection %s (user %s)", c.ID, c.UserID)
	h.Unregister(c)
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
