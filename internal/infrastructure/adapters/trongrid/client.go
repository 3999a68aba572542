package trongrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
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
	providerName      = "TronGrid"
	defaultTimeout    = 10 * time.Second
	defaultPageSize   = 10
	defaultRatePerSec = 10
	maxResponseBytes  = 4 << 20
	apiKeySettingName = "TRONGRID_API_KEY"
)

// Config represents TronGrid client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	ContractAddress   string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             *retry.Policy
}

// Client lists incoming USDT transfers on Tron
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	retrier        *retry.Retrier
	logger         *zap.Logger
}

var _ gateway.Adapter = (*Client)(nil)

// serverError marks a 5xx response, the only failure retried within a fetch
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: status %d", e.status)
}

// NewClient creates a new TronGrid client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.ContractAddress == "" {
		config.ContractAddress = USDTContractAddress
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
		Name:        "TronGridAPI",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("TronGrid circuit breaker state changed",
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

// FetchTransfers returns confirmed incoming USDT transfers to address at or after minTimestampMs
func (c *Client) FetchTransfers(ctx context.Context, address string, minTimestampMs int64) ([]entities.Transfer, error) {
	if c.config.APIKey == "" {
		return nil, domainerrors.ConfigurationError(apiKeySettingName)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.config.PageSize))
	query.Set("contract_address", c.config.ContractAddress)
	query.Set("only_confirmed", "true")
	query.Set("only_to", "true")
	query.Set("min_timestamp", strconv.FormatInt(minTimestampMs, 10))

	endpoint := fmt.Sprintf("/v1/accounts/%s/transactions/trc20?%s", url.PathEscape(address), query.Encode())

	var resp TRC20Response
	if err := c.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, domainerrors.TransientFetchError(providerName, err)
	}
	if !resp.Success {
		return nil, domainerrors.TransientFetchError(providerName, errors.New("response reported success=false"))
	}

	transfers := make([]entities.Transfer, 0, len(resp.Data))
	for _, item := range resp.Data {
		transfer, err := toTransfer(item)
		if err != nil {
			c.logger.Warn("Skipping malformed TronGrid transfer",
				zap.String("transaction_id", item.TransactionID),
				zap.Error(err))
			continue
		}
		transfers = append(transfers, transfer)
	}

	c.logger.Debug("Fetched TronGrid transfers",
		zap.String("address", address),
		zap.Int64("min_timestamp", minTimestampMs),
		zap.Int("count", len(transfers)))

	return transfers, nil
}

func toTransfer(item TRC20Transfer) (entities.Transfer, error) {
	if item.TransactionID == "" {
		return entities.Transfer{}, errors.New("missing transaction_id")
	}
	amount, err := decimal.NewFromString(item.Value)
	if err != nil {
		return entities.Transfer{}, fmt.Errorf("invalid value %q: %w", item.Value, err)
	}
	return entities.Transfer{
		ID:          item.TransactionID,
		From:        item.From,
		To:          item.To,
		AmountRaw:   amount.String(),
		TimestampMs: item.BlockTimestamp,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.retrier.Do(ctx, func() error {
			return c.doRequestInternal(ctx, endpoint, response)
		})
	})
	return err
}

func (c *Client) doRequestInternal(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.config.APIKey)

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
		errResp := ErrorResponse{}
		_ = json.Unmarshal(body, &errResp)
		errResp.StatusCode = resp.StatusCode
		errResp.Status = http.StatusText(resp.StatusCode)
		return &errResp
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
