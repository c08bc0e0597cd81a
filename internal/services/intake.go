package services

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// MessageCreatedEvent is the raw "message created" event posted by the
// database trigger.
type MessageCreatedEvent struct {
	EventID  string       `json:"eventId"`
	Document string       `json:"document"`
	Params   EventParams  `json:"params"`
	Data     EventMessage `json:"data"`
}

// EventParams are the path wildcards captured by the trigger.
type EventParams struct {
	ChatRoomID string `json:"chatRoomId"`
	MessageID  string `json:"messageId"`
}

// EventMessage is the created message document.
type EventMessage struct {
	SenderName string     `json:"senderName"`
	Content    string     `json:"content"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// derivedPrefix marks event IDs computed locally because the trigger sent none.
const derivedPrefix = "derived-"

// nowUTC is swapped in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// OnMessageCreated validates a raw event and converts it into a
// DispatchRequest. Missing room, sender or content yields ErrMalformedEvent.
func OnMessageCreated(ev MessageCreatedEvent) (domain.DispatchRequest, error) {
	roomID := strings.TrimSpace(ev.Params.ChatRoomID)
	if roomID == "" {
		roomID = roomFromDocument(ev.Document)
	}
	if roomID == "" {
		return domain.DispatchRequest{}, fmt.Errorf("%w: missing chatRoomId", ErrMalformedEvent)
	}

	sender := strings.TrimSpace(ev.Data.SenderName)
	if sender == "" {
		return domain.DispatchRequest{}, fmt.Errorf("%w: missing senderName", ErrMalformedEvent)
	}
	if strings.TrimSpace(ev.Data.Content) == "" {
		return domain.DispatchRequest{}, fmt.Errorf("%w: missing content", ErrMalformedEvent)
	}

	eventID := strings.TrimSpace(ev.EventID)
	if eventID == "" {
		doc := strings.TrimSpace(ev.Document)
		if doc == "" {
			doc = "chatRooms/" + roomID
		}
		eventID = DeriveEventID(doc, ev.Data.Content)
	}

	createdAt := nowUTC()
	if ev.Data.CreatedAt != nil && !ev.Data.CreatedAt.IsZero() {
		createdAt = ev.Data.CreatedAt.UTC()
	}

	return domain.DispatchRequest{
		EventID:    eventID,
		RoomID:     roomID,
		SenderName: sender,
		Content:    ev.Data.Content,
		CreatedAt:  createdAt,
	}, nil
}

// DeriveEventID returns a stable event ID for a trigger that carries none, so
// a redelivered event maps onto the same ledger rows.
func DeriveEventID(document, content string) string {
	sum := blake3.Sum256([]byte(document + "\x00" + content))
	return derivedPrefix + hex.EncodeToString(sum[:])
}

// roomFromDocument extracts {id} from ".../chatRooms/{id}/messages/...".
// Full resource names ("projects/p/databases/(default)/documents/chatRooms/…")
// are accepted.
func roomFromDocument(doc string) string {
	parts := strings.Split(strings.Trim(doc, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "chatRooms" {
			return strings.TrimSpace(parts[i+1])
		}
	}
	return ""
}
