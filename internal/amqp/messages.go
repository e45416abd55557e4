package amqp

import (
	"encoding/json"
	"time"
)

// KPISyncMessage announces that a stored KPI year needs copying to the sheet.
// It carries only identity and version; the worker reads the record itself.
type KPISyncMessage struct {
	ID           int64     `json:"id"`
	Version      int64     `json:"version"`
	ConnectionID int64     `json:"connection_id"`
	Year         int       `json:"year"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewKPISyncMessage creates a sync message stamped with the current time.
func NewKPISyncMessage(id, version, connectionID int64, year int) *KPISyncMessage {
	return &KPISyncMessage{
		ID:           id,
		Version:      version,
		ConnectionID: connectionID,
		Year:         year,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *KPISyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// KPISyncMessageFromJSON decodes a message body.
func KPISyncMessageFromJSON(data []byte) (*KPISyncMessage, error) {
	var msg KPISyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
