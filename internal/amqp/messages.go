package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finboard/internal/core"
)

// RoutingTransactionCreated is the event type carried in the message Type
// header.
const RoutingTransactionCreated = "transaction.created"

// TransactionCreated announces a transaction accepted by the finance API.
// It carries the submitted payload since the API response is not read.
type TransactionCreated struct {
	ID          string      `json:"id"`
	Amount      core.Amount `json:"amount"`
	Category    string      `json:"category"`
	Type        core.TxType `json:"type"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
	PublishedAt time.Time   `json:"published_at"`
}

// NewTransactionCreated stamps a payload with a fresh message id.
func NewTransactionCreated(p core.Payload, now time.Time) *TransactionCreated {
	return &TransactionCreated{
		ID:          uuid.NewString(),
		Amount:      p.Amount,
		Category:    p.Category,
		Type:        p.Type,
		Description: p.Description,
		Date:        p.Date,
		PublishedAt: now.UTC(),
	}
}

func (m *TransactionCreated) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionCreatedFromJSON decodes and checks a message body.
func TransactionCreatedFromJSON(data []byte) (*TransactionCreated, error) {
	var msg TransactionCreated
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidType, msg.Type)
	}
	return &msg, nil
}
