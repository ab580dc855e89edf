package stream

import (
	"encoding/json"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(NewEvent(TypeSheetUploaded, map[string]int64{"sheet_id": 3}))

	for _, ch := range []chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Type != TypeSheetUploaded {
				t.Fatalf("unexpected type %q", evt.Type)
			}
			var payload map[string]int64
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if payload["sheet_id"] != 3 {
				t.Fatalf("unexpected payload %v", payload)
			}
		default:
			t.Fatal("subscriber missed event")
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)
	defer h.Unsubscribe(ch)

	h.Publish(NewEvent(TypeChatAnalyzed, nil))
	h.Publish(NewEvent(TypeChatAnalyzed, nil))

	if got := len(ch); got != 1 {
		t.Fatalf("expected buffer of 1 retained, got %d", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(0)
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel should be closed")
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.SubscriberCount())
	}
}

func TestNewEventNilData(t *testing.T) {
	evt := NewEvent(TypeRoleChanged, nil)
	if evt.Data != nil {
		t.Fatalf("expected nil data, got %s", evt.Data)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
}
