package services

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOnMessageCreated_Valid(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.FixedZone("x", 7200))
	req, err := OnMessageCreated(MessageCreatedEvent{
		EventID:  "e1",
		Document: "chatRooms/r1/messages/m1",
		Params:   EventParams{ChatRoomID: "r1", MessageID: "m1"},
		Data:     EventMessage{SenderName: " Alice ", Content: "hi", CreatedAt: &at},
	})
	if err != nil {
		t.Fatalf("OnMessageCreated: %v", err)
	}
	if req.EventID != "e1" || req.RoomID != "r1" || req.SenderName != "Alice" || req.Content != "hi" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !req.CreatedAt.Equal(at) || req.CreatedAt.Location() != time.UTC {
		t.Fatalf("CreatedAt = %v; want %v in UTC", req.CreatedAt, at)
	}
}

func TestOnMessageCreated_RoomFromDocument(t *testing.T) {
	cases := map[string]string{
		"chatRooms/r7/messages/m1": "r7",
		"projects/p/databases/(default)/documents/chatRooms/r8/messages/m2": "r8",
		"/chatRooms/r9/messages/m3/": "r9",
	}
	for doc, want := range cases {
		req, err := OnMessageCreated(MessageCreatedEvent{
			EventID:  "e",
			Document: doc,
			Data:     EventMessage{SenderName: "a", Content: "b"},
		})
		if err != nil {
			t.Fatalf("%s: %v", doc, err)
		}
		if req.RoomID != want {
			t.Fatalf("%s: room = %q; want %q", doc, req.RoomID, want)
		}
	}
}

func TestOnMessageCreated_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		ev    MessageCreatedEvent
		field string
	}{
		{"no room", MessageCreatedEvent{Document: "rooms/x", Data: EventMessage{SenderName: "a", Content: "b"}}, "chatRoomId"},
		{"no sender", MessageCreatedEvent{Params: EventParams{ChatRoomID: "r1"}, Data: EventMessage{SenderName: "  ", Content: "b"}}, "senderName"},
		{"no content", MessageCreatedEvent{Params: EventParams{ChatRoomID: "r1"}, Data: EventMessage{SenderName: "a", Content: "\n"}}, "content"},
	}
	for _, tc := range cases {
		_, err := OnMessageCreated(tc.ev)
		if !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: err = %v; want ErrMalformedEvent", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Fatalf("%s: error %q should name %s", tc.name, err, tc.field)
		}
	}
}

func TestOnMessageCreated_DerivesEventIDAndTime(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old := nowUTC
	nowUTC = func() time.Time { return fixed }
	t.Cleanup(func() { nowUTC = old })

	ev := MessageCreatedEvent{
		Document: "chatRooms/r1/messages/m1",
		Data:     EventMessage{SenderName: "a", Content: "hello"},
	}
	first, err := OnMessageCreated(ev)
	if err != nil {
		t.Fatalf("OnMessageCreated: %v", err)
	}
	again, _ := OnMessageCreated(ev)
	if first.EventID != again.EventID {
		t.Fatalf("derived id not stable: %s vs %s", first.EventID, again.EventID)
	}
	if !strings.HasPrefix(first.EventID, "derived-") || len(first.EventID) != len("derived-")+64 {
		t.Fatalf("unexpected derived id %q", first.EventID)
	}
	if !first.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v; want %v", first.CreatedAt, fixed)
	}

	ev.Data.Content = "hello!"
	other, _ := OnMessageCreated(ev)
	if other.EventID == first.EventID {
		t.Fatalf("different content must derive a different id")
	}
}

func TestDeriveEventID_DocumentFallback(t *testing.T) {
	req, err := OnMessageCreated(MessageCreatedEvent{
		Params: EventParams{ChatRoomID: "r1"},
		Data:   EventMessage{SenderName: "a", Content: "x"},
	})
	if err != nil {
		t.Fatalf("OnMessageCreated: %v", err)
	}
	if want := DeriveEventID("chatRooms/r1", "x"); req.EventID != want {
		t.Fatalf("event id = %s; want %s", req.EventID, want)
	}
}
