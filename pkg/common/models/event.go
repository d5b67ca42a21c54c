package models

import "time"

// Event is the envelope for messages on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run.completed, incremental, historical, batch
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
