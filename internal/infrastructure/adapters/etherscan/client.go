package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	domainerrors "github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/domain/services/gateway"
	"github.com/cryptotracker/tracker_service/pkg/retry"
)

const (
	providerName      = "Etherscan"
	defaultTimeout    = 10 * time.Second
	defaultPageSize   = 10
	defaultRatePerSec = 5
	maxResponseBytes  = 4 << 20
	apiKeySettingName = "ETHERSCAN_API_KEY"
)

// Config represents Etherscan client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             *retry.Policy
}

// Client lists incoming ETH transfers on Ethereum mainnet
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	retrier        *retry.Retrier
	logger         *zap.Logger
}

var _ gateway.Adapter = (*Client)(nil)

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: status %d", e.status)
}

// NewClient creates a new Etherscan client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRatePerSec
	}
	policy := retry.DefaultPolicy()
	if config.Retry != nil {
		policy = *config.Retry
	}
	policy.RetryableFunc = func(err error) bool {
		var se *serverError
		return errors.As(err, &se)
	}

	cbSettings := gobreaker.Settings{
		Name:        "EtherscanAPI",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Etherscan circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		retrier:        retry.NewRetrier(policy, logger),
		logger:         logger,
	}
}

// Name identifies the provider in logs
func (c *Client) Name() string {
	return providerName
}

// FetchTransfers returns successful incoming ETH transfers to address, newest
// first, from the first block at or after minTimestampMs.
func (c *Client) FetchTransfers(ctx context.Context, address string, minTimestampMs int64) ([]entities.Transfer, error) {
	if c.config.APIKey == "" {
		return nil, domainerrors.ConfigurationError(apiKeySettingName)
	}

	startBlock := "0"
	if minTimestampMs > 0 {
		startBlock = c.startBlock(ctx, minTimestampMs)
	}

	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", "txlist")
	query.Set("address", address)
	query.Set("startblock", startBlock)
	query.Set("endblock", defaultEndBlock)
	query.Set("page", "1")
	query.Set("offset", strconv.Itoa(c.config.PageSize))
	query.Set("sort", "desc")

	envelope, err := c.call(ctx, query)
	if err != nil {
		return nil, domainerrors.TransientFetchError(providerName, err)
	}
	if envelope.Status != statusOK {
		if envelope.Message == noTransactionsFound {
			return []entities.Transfer{}, nil
		}
		return nil, domainerrors.TransientFetchError(providerName, envelopeError(envelope))
	}

	var txs []NormalTransaction
	if err := json.Unmarshal(envelope.Result, &txs); err != nil {
		return nil, domainerrors.TransientFetchError(providerName, fmt.Errorf("unmarshal txlist: %w", err))
	}

	transfers := make([]entities.Transfer, 0, len(txs))
	for _, tx := range txs {
		if !strings.EqualFold(tx.To, address) || tx.IsError != successfulExecution {
			continue
		}
		transfer, err := toTransfer(tx)
		if err != nil {
			c.logger.Warn("Skipping malformed Etherscan transaction",
				zap.String("hash", tx.Hash),
				zap.Error(err))
			continue
		}
		transfers = append(transfers, transfer)
	}

	c.logger.Debug("Fetched Etherscan transfers",
		zap.String("address", address),
		zap.String("start_block", startBlock),
		zap.Int("count", len(transfers)))

	return transfers, nil
}

// startBlock maps a millisecond timestamp to the first block at or after it.
// Any failure falls back to block 0; deduplication absorbs the overlap.
func (c *Client) startBlock(ctx context.Context, minTimestampMs int64) string {
	query := url.Values{}
	query.Set("module", "block")
	query.Set("action", "getblocknobytime")
	query.Set("timestamp", strconv.FormatInt(minTimestampMs/1000, 10))
	query.Set("closest", "after")

	envelope, err := c.call(ctx, query)
	if err != nil {
		c.logger.Warn("Block lookup failed, scanning from genesis", zap.Error(err))
		return "0"
	}
	if envelope.Status != statusOK {
		return "0"
	}

	var block string
	if err := json.Unmarshal(envelope.Result, &block); err != nil || block == "" {
		return "0"
	}
	return block
}

func toTransfer(tx NormalTransaction) (entities.Transfer, error) {
	if tx.Hash == "" {
		return entities.Transfer{}, errors.New("missing hash")
	}
	amount, err := decimal.NewFromString(tx.Value)
	if err != nil {
		return entities.Transfer{}, fmt.Errorf("invalid value %q: %w", tx.Value, err)
	}
	seconds, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
	if err != nil {
		return entities.Transfer{}, fmt.Errorf("invalid timeStamp %q: %w", tx.TimeStamp, err)
	}

	transfer := entities.Transfer{
		ID:          tx.Hash,
		From:        tx.From,
		To:          tx.To,
		AmountRaw:   amount.String(),
		TimestampMs: seconds * 1000,
	}
	if tx.BlockNumber != "" {
		block := tx.BlockNumber
		transfer.BlockNumber = &block
	}
	if fee, ok := transactionFee(tx.GasUsed, tx.GasPrice); ok {
		transfer.Fee = &fee
	}
	return transfer, nil
}

// transactionFee is gasUsed * gasPrice in wei
func transactionFee(gasUsed, gasPrice string) (string, bool) {
	used, err := decimal.NewFromString(gasUsed)
	if err != nil {
		return "", false
	}
	price, err := decimal.NewFromString(gasPrice)
	if err != nil {
		return "", false
	}
	return used.Mul(price).String(), true
}

func envelopeError(envelope *Envelope) error {
	apiErr := &APIError{Message: envelope.Message}
	var result string
	if json.Unmarshal(envelope.Result, &result) == nil {
		apiErr.Result = result
	}
	return apiErr
}

func (c *Client) call(ctx context.Context, query url.Values) (*Envelope, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	query.Set("apikey", c.config.APIKey)
	fullURL := c.config.BaseURL + "?" + query.Encode()

	var envelope Envelope
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.retrier.Do(ctx, func() error {
			return c.doRequestInternal(ctx, fullURL, &envelope)
		})
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (c *Client) doRequestInternal(ctx context.Context, fullURL string, envelope *Envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return &serverError{status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if err := json.Unmarshal(body, envelope); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
