package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	JobExtractReceipt = "receipt.extract"
	JobExportLedger   = "ledger.export"
)

// JobMessage is a lightweight pointer to work stored in the database. The
// worker loads the full record by ID; Version guards ledger exports against
// edits made after the job was queued.
type JobMessage struct {
	Type      string    `json:"type"`
	ID        int64     `json:"id"`
	Version   int64     `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExtractReceiptMessage(receiptID int64) *JobMessage {
	return &JobMessage{Type: JobExtractReceipt, ID: receiptID, Timestamp: time.Now()}
}

func NewExportLedgerMessage(entryID, version int64) *JobMessage {
	return &JobMessage{Type: JobExportLedger, ID: entryID, Version: version, Timestamp: time.Now()}
}

func (m *JobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// JobMessageFromJSON decodes and validates a job message.
func JobMessageFromJSON(data []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case JobExtractReceipt, JobExportLedger:
	default:
		return nil, fmt.Errorf("unknown job type %q", msg.Type)
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("invalid job id %d", msg.ID)
	}
	return &msg, nil
}
