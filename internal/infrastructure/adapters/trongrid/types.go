package trongrid

import "fmt"

const (
	DefaultBaseURL = "https://api.trongrid.io"
	// USDTContractAddress is the TRC20 USDT contract on Tron mainnet
	USDTContractAddress = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

	apiKeyHeader = "TRON-PRO-API-KEY"
)

// TRC20Response is the body of /v1/accounts/{address}/transactions/trc20
type TRC20Response struct {
	Data    []TRC20Transfer `json:"data"`
	Success bool            `json:"success"`
	Meta    Meta            `json:"meta"`
}

// TRC20Transfer is one token transfer as reported by TronGrid
type TRC20Transfer struct {
	TransactionID  string    `json:"transaction_id"`
	TokenInfo      TokenInfo `json:"token_info"`
	BlockTimestamp int64     `json:"block_timestamp"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Type           string    `json:"type"`
	Value          string    `json:"value"`
}

// TokenInfo describes the TRC20 contract of a transfer
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

// Meta carries paging information
type Meta struct {
	At          int64  `json:"at"`
	PageSize    int    `json:"page_size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ErrorResponse is returned by TronGrid for rejected requests
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"error"`
	Status     string `json:"statusText,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("TronGrid API error [%d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("TronGrid API error [%d]: %s", e.StatusCode, e.Status)
}

// IsRateLimited reports a 429 from the free tier
func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}
