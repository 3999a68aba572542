package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token is a monitored asset symbol
type Token string

// Network is the chain a token lives on
type Network string

const (
	TokenUSDT Token = "USDT"
	TokenETH  Token = "ETH"

	NetworkTron     Network = "TRON"
	NetworkEthereum Network = "Ethereum"

	// DefaultWebhookHeader carries the verification code when an address does not name its own header
	DefaultWebhookHeader = "X-Webhook-Verification"
)

// SupportedCombinations lists the token/network pairs that have a chain adapter
var SupportedCombinations = map[Token][]Network{
	TokenUSDT: {NetworkTron},
	TokenETH:  {NetworkEthereum},
}

// IsSupportedCombination reports whether token on network can be monitored
func IsSupportedCombination(token Token, network Network) bool {
	for _, n := range SupportedCombinations[token] {
		if n == network {
			return true
		}
	}
	return false
}

// Address is a user-registered blockchain address
type Address struct {
	ID                      uuid.UUID `json:"id" db:"id"`
	OwnerID                 uuid.UUID `json:"owner_id" db:"owner_id"`
	Token                   Token     `json:"token" db:"token"`
	Network                 Network   `json:"network" db:"network"`
	Address                 string    `json:"address" db:"address"`
	Label                   *string   `json:"label,omitempty" db:"label"`
	WebhookURL              *string   `json:"-" db:"webhook_url"`
	WebhookVerificationCode *string   `json:"-" db:"webhook_verification_code"`
	WebhookHeaderName       *string   `json:"-" db:"webhook_header_name"`
	IsListening             bool      `json:"is_listening" db:"is_listening"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// WebhookConfig is the delivery target configured on an address
type WebhookConfig struct {
	URL              string `json:"url" validate:"required,url"`
	VerificationCode string `json:"verification_code" validate:"required,max=512"`
	HeaderName       string `json:"header_name,omitempty" validate:"omitempty,max=128"`
}

// Webhook returns the configured webhook or nil when none is set
func (a *Address) Webhook() *WebhookConfig {
	if a.WebhookURL == nil || *a.WebhookURL == "" {
		return nil
	}
	cfg := &WebhookConfig{URL: *a.WebhookURL, HeaderName: DefaultWebhookHeader}
	if a.WebhookVerificationCode != nil {
		cfg.VerificationCode = *a.WebhookVerificationCode
	}
	if a.WebhookHeaderName != nil && strings.TrimSpace(*a.WebhookHeaderName) != "" {
		cfg.HeaderName = *a.WebhookHeaderName
	}
	return cfg
}

// SetWebhook replaces the webhook configuration; nil clears it
func (a *Address) SetWebhook(cfg *WebhookConfig) {
	if cfg == nil {
		a.WebhookURL = nil
		a.WebhookVerificationCode = nil
		a.WebhookHeaderName = nil
		return
	}
	url, code := cfg.URL, cfg.VerificationCode
	a.WebhookURL = &url
	a.WebhookVerificationCode = &code
	if cfg.HeaderName != "" {
		header := cfg.HeaderName
		a.WebhookHeaderName = &header
	} else {
		a.WebhookHeaderName = nil
	}
}

// CreatedAtMillis is the initial polling checkpoint for an address with no stored transactions
func (a *Address) CreatedAtMillis() int64 {
	return a.CreatedAt.UnixMilli()
}

// IsRecipient reports whether to refers to this address, ignoring case
func (a *Address) IsRecipient(to string) bool {
	return strings.EqualFold(strings.TrimSpace(to), strings.TrimSpace(a.Address))
}

// AddressResponse is the API view of an address
type AddressResponse struct {
	ID          uuid.UUID      `json:"id"`
	Token       Token          `json:"token"`
	Network     Network        `json:"network"`
	Address     string         `json:"address"`
	Label       *string        `json:"label,omitempty"`
	Webhook     *WebhookConfig `json:"webhook,omitempty"`
	IsListening bool           `json:"is_listening"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ToResponse converts the address into its API view
func (a *Address) ToResponse() AddressResponse {
	return AddressResponse{
		ID:          a.ID,
		Token:       a.Token,
		Network:     a.Network,
		Address:     a.Address,
		Label:       a.Label,
		Webhook:     a.Webhook(),
		IsListening: a.IsListening,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// CreateAddressRequest registers a new address
type CreateAddressRequest struct {
	Token   Token          `json:"token" binding:"required"`
	Network Network        `json:"network" binding:"required"`
	Address string         `json:"address" binding:"required,max=128"`
	Label   *string        `json:"label,omitempty" binding:"omitempty,max=100"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// UpdateAddressRequest edits label and webhook. ClearWebhook removes the webhook.
type UpdateAddressRequest struct {
	Label        *string        `json:"label,omitempty" binding:"omitempty,max=100"`
	Webhook      *WebhookConfig `json:"webhook,omitempty"`
	ClearWebhook bool           `json:"clear_webhook,omitempty"`
}

// SetListeningRequest toggles monitoring for an address
type SetListeningRequest struct {
	Listening *bool `json:"listening" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
