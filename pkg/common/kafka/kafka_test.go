package kafka

import (
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

func TestEventRoundTripThroughMessage(t *testing.T) {
	event := models.Event{
		ID:        "evt-1",
		Type:      "run.completed",
		Source:    "DOF",
		Data:      map[string]interface{}{"outcome": "success"},
		Timestamp: time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC),
	}
	message, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if string(message.Key) != "DOF" {
		t.Fatalf("expected key DOF, got %q", message.Key)
	}

	decoded, err := decodeEvent(message)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if decoded.Type != event.Type || decoded.Source != event.Source || decoded.Data["outcome"] != "success" {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestDecodeEventFallsBackToHeaders(t *testing.T) {
	message := kafka.Message{
		Value: []byte(`{"data":{"since":"2025-01-01"}}`),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte("historical")},
			{Key: headerSource, Value: []byte("tenderctl")},
		},
	}
	event, err := decodeEvent(message)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if event.Type != "historical" || event.Source != "tenderctl" {
		t.Fatalf("headers not applied: %+v", event)
	}
}

func TestDecodeEventRejectsUntyped(t *testing.T) {
	if _, err := decodeEvent(kafka.Message{Value: []byte(`{"data":{}}`)}); err == nil {
		t.Fatal("expected error for event without type")
	}
	if _, err := decodeEvent(kafka.Message{Value: []byte(`not json`)}); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}
