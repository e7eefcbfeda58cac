package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"expensemanager/internal/core"
)

// SyncMessage tells the worker that a sync queue item is ready. It carries
// only the queue id; the worker loads the task from the queue itself.
type SyncMessage struct {
	QueueID   int64              `json:"queue_id"`
	Operation core.SyncOperation `json:"operation"`
	UserID    string             `json:"user_id"`
	Timestamp time.Time          `json:"timestamp"`
}

func NewSyncMessage(queueID int64, op core.SyncOperation, userID string) *SyncMessage {
	return &SyncMessage{
		QueueID:   queueID,
		Operation: op,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncMessageFromJSON decodes and sanity-checks a message body.
func SyncMessageFromJSON(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.QueueID <= 0 {
		return nil, errors.New("missing queue id")
	}
	if !msg.Operation.IsValid() {
		return nil, errors.New("unknown operation " + string(msg.Operation))
	}
	return &msg, nil
}
