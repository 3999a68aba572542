package entities

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the direction of a transfer relative to the monitored address
type TransactionType string

const (
	TransactionTypeReceived TransactionType = "received"
	TransactionTypeSent     TransactionType = "sent"

	// TransactionStatusConfirmed is recorded for every ingested transfer; both adapters only return confirmed, non-failed transfers
	TransactionStatusConfirmed = "confirmed"
)

// Transfer is a chain-reported value movement normalized at the gateway boundary
type Transfer struct {
	ID          string
	From        string
	To          string
	AmountRaw   string
	TimestampMs int64
	BlockNumber *string
	Fee         *string
}

// Transaction is a persisted transfer for one monitored address
type Transaction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AddressID     uuid.UUID       `json:"address_id" db:"address_id"`
	OwnerID       uuid.UUID       `json:"owner_id" db:"owner_id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	Token         Token           `json:"token" db:"token"`
	Network       Network         `json:"network" db:"network"`
	From          string          `json:"from" db:"from_address"`
	To            string          `json:"to" db:"to_address"`
	Amount        string          `json:"amount" db:"amount"`
	Timestamp     int64           `json:"timestamp" db:"timestamp_ms"`
	BlockNumber   *string         `json:"block_number,omitempty" db:"block_number"`
	Fee           *string         `json:"fee,omitempty" db:"fee"`
	Status        *string         `json:"status,omitempty" db:"status"`
	Type          TransactionType `json:"type" db:"type"`
	WebhookSent   bool            `json:"webhook_sent" db:"webhook_sent"`
	WebhookQueued bool            `json:"-" db:"webhook_queued"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewTransactionFromTransfer builds the row stored for a transfer seen on address
func NewTransactionFromTransfer(address *Address, transfer Transfer, now time.Time) *Transaction {
	txType := TransactionTypeSent
	if address.IsRecipient(transfer.To) {
		txType = TransactionTypeReceived
	}
	status := TransactionStatusConfirmed
	return &Transaction{
		ID:            uuid.New(),
		AddressID:     address.ID,
		OwnerID:       address.OwnerID,
		TransactionID: transfer.ID,
		Token:         address.Token,
		Network:       address.Network,
		From:          transfer.From,
		To:            transfer.To,
		Amount:        transfer.AmountRaw,
		Timestamp:     transfer.TimestampMs,
		BlockNumber:   transfer.BlockNumber,
		Fee:           transfer.Fee,
		Status:        &status,
		Type:          txType,
		WebhookSent:   false,
		WebhookQueued: address.Webhook() != nil,
		CreatedAt:     now,
	}
}
