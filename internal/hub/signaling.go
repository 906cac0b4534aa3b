package hub

import (
	"log"

	"github.com/soulseer/backend/internal/models"
)

// relaySignal forwards a call-setup message (offer/answer/candidate) to the
// target participant's connections within the same session room. The
// payload is opaque and forwarded verbatim. Both ends of the forward must
// be members of the room: a sender outside the room cannot inject
// signaling, and a target outside it cannot receive any.
func (h *Hub) relaySignal(c *Connection, kind string, data []byte) {
	var msg signalMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed signal message"})
		return
	}
	if !IsSessionRoom(msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "signaling is scoped to session rooms"})
		return
	}
	if !h.isMember(c, msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "not a member of this room"})
		return
	}

	targets := h.connsForUserInRoom(msg.RoomID, msg.Target)
	if len(targets) == 0 {
		c.sendEvent(models.EventError, errorPayload{Message: "target not present in room"})
		return
	}

	msg.Sender = c.UserID
	frame, err := Marshal(kind, msg)
	if err != nil {
		log.Printf("[SIGNAL] Failed to marshal %s: %v", kind, err)
		return
	}

	for _, target := range targets {
		if !target.enqueue(frame) {
			h.dropSlow(target)
		}
	}
}
