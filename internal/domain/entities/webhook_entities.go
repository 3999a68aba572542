package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookLogStatus is the outcome of one delivery attempt
type WebhookLogStatus string

const (
	WebhookLogStatusPending WebhookLogStatus = "pending"
	WebhookLogStatusSuccess WebhookLogStatus = "success"
	WebhookLogStatusFailed  WebhookLogStatus = "failed"
)

// WebhookLog is one append-only delivery attempt for a transaction
type WebhookLog struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	TransactionID  uuid.UUID        `json:"transaction_id" db:"transaction_id"`
	AddressID      uuid.UUID        `json:"address_id" db:"address_id"`
	OwnerID        uuid.UUID        `json:"owner_id" db:"owner_id"`
	WebhookURL     string           `json:"webhook_url" db:"webhook_url"`
	Status         WebhookLogStatus `json:"status" db:"status"`
	StatusCode     *int             `json:"status_code,omitempty" db:"status_code"`
	ErrorMessage   *string          `json:"error_message,omitempty" db:"error_message"`
	RequestPayload string           `json:"request_payload" db:"request_payload"`
	ResponseBody   *string          `json:"response_body,omitempty" db:"response_body"`
	AttemptNumber  int              `json:"attempt_number" db:"attempt_number"`
	SentAt         time.Time        `json:"sent_at" db:"sent_at"`
}

// WebhookLogResult is the final state written to a pending log row
type WebhookLogResult struct {
	Status       WebhookLogStatus
	StatusCode   *int
	ErrorMessage *string
	ResponseBody *string
}

// WebhookPayload is the JSON body posted to the user's endpoint
type WebhookPayload struct {
	TransactionID string          `json:"transactionId"`
	Token         Token           `json:"token"`
	Network       Network         `json:"network"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        string          `json:"amount"`
	Timestamp     int64           `json:"timestamp"`
	BlockNumber   *string         `json:"blockNumber,omitempty"`
	Fee           *string         `json:"fee,omitempty"`
	Status        *string         `json:"status,omitempty"`
	Type          TransactionType `json:"type"`
	ReceivedAt    int64           `json:"receivedAt"`
}

// NewWebhookPayload builds the delivery body for a stored transaction
func NewWebhookPayload(tx *Transaction) WebhookPayload {
	return WebhookPayload{
		TransactionID: tx.TransactionID,
		Token:         tx.Token,
		Network:       tx.Network,
		From:          tx.From,
		To:            tx.To,
		Amount:        tx.Amount,
		Timestamp:     tx.Timestamp,
		BlockNumber:   tx.BlockNumber,
		Fee:           tx.Fee,
		Status:        tx.Status,
		Type:          tx.Type,
		ReceivedAt:    tx.CreatedAt.UnixMilli(),
	}
}

// Marshal encodes the payload exactly as it is sent and logged
func (p WebhookPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
