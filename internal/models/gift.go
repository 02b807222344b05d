package models

import "fmt"

// GiftEvent is a monetized visual event derived from a gift message.
type GiftEvent struct {
	ID         string `json:"id"`
	GiftID     string `json:"gift_id"`
	SenderName string `json:"sender_name"`
	GiftValue  int    `json:"gift_value"`
	Quantity   int    `json:"quantity"`
}

// GiftFromMessage extracts the gift payload carried by a gift message.
func GiftFromMessage(msg Message) (GiftEvent, error) {
	if msg.ContentType != ContentGift {
		return GiftEvent{}, fmt.Errorf("message %s is not a gift", msg.ID)
	}
	giftID, _ := msg.MediaMetadata["gift_id"].(string)
	if giftID == "" {
		return GiftEvent{}, fmt.Errorf("message %s: missing gift_id", msg.ID)
	}
	sender, _ := msg.MediaMetadata["sender_name"].(string)
	quantity := metadataInt(msg.MediaMetadata, "quantity")
	if quantity <= 0 {
		quantity = 1
	}
	return GiftEvent{
		ID:         msg.ID,
		GiftID:     giftID,
		SenderName: sender,
		GiftValue:  metadataInt(msg.MediaMetadata, "gift_value"),
		Quantity:   quantity,
	}, nil
}

// JSON numbers decode as float64; database rows may carry ints.
func metadataInt(m Metadata, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
