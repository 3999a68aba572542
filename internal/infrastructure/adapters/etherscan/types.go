package etherscan

import "encoding/json"

const (
	DefaultBaseURL = "https://api.etherscan.io/api"

	statusOK            = "1"
	noTransactionsFound = "No transactions found"
	defaultEndBlock     = "99999999"
	successfulExecution = "0"
)

// Envelope is the common Etherscan response wrapper. Result is a string on
// errors and on getblocknobytime, and an array on txlist.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// NormalTransaction is one entry of account/txlist
type NormalTransaction struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	Confirmations   string `json:"confirmations"`
}

// APIError is an Etherscan response whose status is not "1"
type APIError struct {
	Message string
	Result  string
}

func (e *APIError) Error() string {
	if e.Result != "" {
		return "Etherscan API error: " + e.Message + " (" + e.Result + ")"
	}
	return "Etherscan API error: " + e.Message
}
