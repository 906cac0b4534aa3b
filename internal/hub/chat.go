package hub

import (
	"time"

	"github.com/soulseer/backend/internal/models"
)

// appendHistory records a chat event in the room's bounded replay buffer,
// evicting the oldest entry at the cap.
func (h *Hub) appendHistory(roomID string, event models.ChatMessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.history[roomID], event)
	if len(buf) > h.historyCap {
		buf = buf[len(buf)-h.historyCap:]
	}
	h.history[roomID] = buf
}

// historySnapshot copies the room's replay buffer.
func (h *Hub) historySnapshot(roomID string) []models.ChatMessageEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.history[roomID]
	out := make([]models.ChatMessageEvent, len(buf))
	copy(out, buf)
	return out
}

// handleChat validates membership, records the message, and fans it out to
// the room.
func (h *Hub) handleChat(c *Connection, data []byte) {
	var msg chatMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed chat message"})
		return
	}
	if msg.Body == "" || len(msg.Body) > 2000 {
		c.sendEvent(models.EventError, errorPayload{Message: "chat message must be 1-2000 characters"})
		return
	}
	if !h.isMember(c, msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "not a member of this room"})
		return
	}

	event := models.ChatMessageEvent{
		RoomID:   msg.RoomID,
		SenderID: c.UserID,
		Body:     msg.Body,
		SentAt:   time.Now(),
	}
	h.appendHistory(msg.RoomID, event)
	h.Broadcast(msg.RoomID, models.EventChatMessage, event, "")
}

// handleGift settles a gift and fans out the chat-equivalent event plus the
// distinct animation trigger.
func (h *Hub) handleGift(c *Connection, data []byte) {
	var msg giftMessage
	if err := decodeInto(data, &msg); err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: "malformed gift message"})
		return
	}
	if !h.isMember(c, msg.RoomID) {
		c.sendEvent(models.EventError, errorPayload{Message: "not a member of this room"})
		return
	}

	record, err := h.gifts.SendGift(c.UserID, msg.RecipientID, msg.GiftID, msg.RoomID)
	if err != nil {
		c.sendEvent(models.EventError, errorPayload{Message: err.Error()})
		return
	}

	gift, _ := h.gifts.Lookup(record.GiftID)
	event := models.GiftEvent{
		RoomID:      record.RoomID,
		GiftID:      record.GiftID,
		GiftName:    gift.Name,
		SenderID:    record.SenderID,
		RecipientID: record.RecipientID,
		Value:       record.Value,
	}
	h.Broadcast(msg.RoomID, models.EventGiftSent, event, "")
	h.Broadcast(msg.RoomID, models.EventGiftAnimation, event, "")

	if h.balances != nil {
		if bal, err := h.balances.ClientBalanceOf(c.UserID); err == nil {
			h.SendToUser(c.UserID, models.EventBalanceUpdated, models.BalanceUpdatedEvent{
				Available: bal.Available,
				Locked:    bal.Locked,
			})
		}
	}
}
