package amqp

import (
	"encoding/json"
	"time"

	"sheetsync/internal/core"
)

// SnapshotChangedEvent announces that an acknowledged write replaced the
// spreadsheet content. Receivers drop whatever snapshot they hold.
type SnapshotChangedEvent struct {
	Origin    string      `json:"origin"`
	RequestID string      `json:"requestId,omitempty"`
	Counts    core.Counts `json:"counts,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewSnapshotChangedEvent stamps an event with the current time.
func NewSnapshotChangedEvent(origin, requestID string, counts core.Counts) *SnapshotChangedEvent {
	return &SnapshotChangedEvent{
		Origin:    origin,
		RequestID: requestID,
		Counts:    counts,
		Timestamp: time.Now().UTC(),
	}
}

func (m *SnapshotChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SnapshotChangedEventFromJSON(data []byte) (*SnapshotChangedEvent, error) {
	var msg SnapshotChangedEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
