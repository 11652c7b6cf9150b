package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledger/internal/period"
)

// Routing keys on the ledger exchange.
const (
	RoutingKeyPeriodSynced = "period.synced"
)

// CarryoverSyncMessage asks a worker to reconcile bucket payments for one
// account and period. It carries identifiers only; the worker reads the
// current totals from storage, so redelivery is harmless.
type CarryoverSyncMessage struct {
	AccountID   string        `json:"accountId"`
	Period      period.Period `json:"period"`
	Reason      string        `json:"reason,omitempty"`
	RequestedAt time.Time     `json:"requestedAt"`
}

func NewCarryoverSyncMessage(accountID string, p period.Period, reason string) *CarryoverSyncMessage {
	return &CarryoverSyncMessage{
		AccountID:   accountID,
		Period:      p,
		Reason:      reason,
		RequestedAt: time.Now(),
	}
}

// Validate rejects messages a worker cannot act on.
func (m *CarryoverSyncMessage) Validate() error {
	if m.AccountID == "" {
		return fmt.Errorf("missing account id")
	}
	return m.Period.Validate()
}

// ToJSON converts the message to JSON bytes
func (m *CarryoverSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CarryoverSyncMessageFromJSON(data []byte) (*CarryoverSyncMessage, error) {
	var msg CarryoverSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PeriodSyncedMessage announces the outcome of a carry-over sync.
type PeriodSyncedMessage struct {
	AccountID string        `json:"accountId"`
	Period    period.Period `json:"period"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	SyncedAt  time.Time     `json:"syncedAt"`
}

func (m *PeriodSyncedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PeriodSyncedMessageFromJSON(data []byte) (*PeriodSyncedMessage, error) {
	var msg PeriodSyncedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
