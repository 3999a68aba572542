package webhook_dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	domainerrors "github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
)

type fakeStore struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*entities.Transaction
	addresses    map[uuid.UUID]*entities.Address
	logs         []*entities.WebhookLog
	enqueued     []queue.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions: make(map[uuid.UUID]*entities.Transaction),
		addresses:    make(map[uuid.UUID]*entities.Address),
	}
}

type txRepo struct{ *fakeStore }
type addressRepo struct{ *fakeStore }
type logRepo struct{ *fakeStore }

func (r txRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (r txRepo) SetWebhookSent(ctx context.Context, id uuid.UUID, sent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return domainerrors.NotFoundError("TRANSACTION")
	}
	tx.WebhookSent = sent
	return nil
}

func (r txRepo) ListUndelivered(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempted := make(map[uuid.UUID]bool)
	for _, l := range r.logs {
		attempted[l.TransactionID] = true
	}
	var candidates []*entities.Transaction
	for _, tx := range r.transactions {
		address, ok := r.addresses[tx.AddressID]
		if !tx.WebhookQueued || tx.WebhookSent || !tx.CreatedAt.Before(before) || attempted[tx.ID] {
			continue
		}
		if !ok || address.Webhook() == nil {
			continue
		}
		candidates = append(candidates, tx)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	var ids []uuid.UUID
	for _, tx := range candidates {
		if len(ids) == limit {
			break
		}
		ids = append(ids, tx.ID)
	}
	return ids, nil
}

func (r addressRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addresses[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r logRepo) CountByTransaction(ctx context.Context, transactionID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.logs {
		if l.TransactionID == transactionID {
			n++
		}
	}
	return n, nil
}

func (r logRepo) Create(ctx context.Context, log *entities.WebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.logs = append(r.logs, &cp)
	return nil
}

func (r logRepo) Complete(ctx context.Context, id uuid.UUID, result entities.WebhookLogResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.ID == id {
			l.Status = result.Status
			l.StatusCode = result.StatusCode
			l.ErrorMessage = result.ErrorMessage
			l.ResponseBody = result.ResponseBody
			return nil
		}
	}
	return domainerrors.NotFoundError("WEBHOOK_LOG")
}

func (r logRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*entities.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.WebhookLog
	for _, l := range r.logs {
		if l.TransactionID == transactionID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber > out[j].AttemptNumber })
	return out, nil
}

func (f *fakeStore) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fixture struct {
	store      *fakeStore
	dispatcher *Dispatcher
	tx         *entities.Transaction
	address    *entities.Address
}

func newFixture(t *testing.T, url, headerName string) *fixture {
	t.Helper()
	store := newFakeStore()

	address := &entities.Address{ID: uuid.New(), OwnerID: uuid.New(), Token: entities.TokenUSDT, Network: entities.NetworkTron, Address: "TAddr"}
	if url != "" {
		address.SetWebhook(&entities.WebhookConfig{URL: url, VerificationCode: "verify-me", HeaderName: headerName})
	}
	block := "123"
	status := entities.TransactionStatusConfirmed
	tx := &entities.Transaction{
		ID:            uuid.New(),
		AddressID:     address.ID,
		OwnerID:       address.OwnerID,
		TransactionID: "chain-tx-1",
		Token:         entities.TokenUSDT,
		Network:       entities.NetworkTron,
		From:          "TFrom",
		To:            "TAddr",
		Amount:        "1000000",
		Timestamp:     1700000000000,
		BlockNumber:   &block,
		Status:        &status,
		Type:          entities.TransactionTypeReceived,
		CreatedAt:     time.UnixMilli(1700000005000).UTC(),
	}
	store.addresses[address.ID] = address
	store.transactions[tx.ID] = tx

	dispatcher := NewDispatcher(Config{Timeout: 2 * time.Second}, txRepo{store}, addressRepo{store}, logRepo{store}, store, zap.NewNop())
	return &fixture{store: store, dispatcher: dispatcher, tx: tx, address: address}
}

func (f *fixture) logs(t *testing.T) []*entities.WebhookLog {
	t.Helper()
	logs, err := logRepo{f.store}.ListByTransaction(context.Background(), f.tx.ID)
	require.NoError(t, err)
	return logs
}

func TestSendSuccess(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "CryptoTracker/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "verify-me", r.Header.Get("X-Webhook-Verification"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newFixture(t, server.URL, "")
	require.NoError(t, f.dispatcher.Send(context.Background(), f.tx.ID))

	assert.Equal(t, "chain-tx-1", received["transactionId"])
	assert.Equal(t, "USDT", received["token"])
	assert.Equal(t, "TRON", received["network"])
	assert.Equal(t, "1000000", received["amount"])
	assert.Equal(t, "received", received["type"])
	assert.Equal(t, "123", received["blockNumber"])
	assert.Equal(t, float64(1700000005000), received["receivedAt"])
	assert.NotContains(t, received, "fee")

	assert.True(t, f.store.transactions[f.tx.ID].WebhookSent)
	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.WebhookLogStatusSuccess, logs[0].Status)
	assert.Equal(t, 1, logs[0].AttemptNumber)
	require.NotNil(t, logs[0].StatusCode)
	assert.Equal(t, 200, *logs[0].StatusCode)
	require.NotNil(t, logs[0].ResponseBody)
	assert.Equal(t, "ok", *logs[0].ResponseBody)
	assert.Contains(t, logs[0].RequestPayload, `"transactionId":"chain-tx-1"`)
}

func TestSendUsesCustomHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "verify-me", r.Header.Get("X-Custom-Token"))
		assert.Empty(t, r.Header.Get("X-Webhook-Verification"))
	}))
	defer server.Close()

	f := newFixture(t, server.URL, "X-Custom-Token")
	require.NoError(t, f.dispatcher.Send(context.Background(), f.tx.ID))
}

// A failing endpoint is logged, left undelivered and never retried on its
// own; each manual resend adds one attempt with the next number.
func TestSendFailureAndResendAttemptNumbers(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusInternalServerError
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		w.WriteHeader(status)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	ctx := context.Background()
	f := newFixture(t, server.URL, "")

	err := f.dispatcher.Send(ctx, f.tx.ID)
	require.Error(t, err)
	assert.True(t, domainerrors.IsWebhookDelivery(err))
	assert.False(t, f.store.transactions[f.tx.ID].WebhookSent)
	assert.Empty(t, f.store.enqueued, "failed deliveries are not retried automatically")

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.WebhookLogStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "HTTP 500: Internal Server Error", *logs[0].ErrorMessage)
	require.NotNil(t, logs[0].ResponseBody)
	assert.Equal(t, "upstream down", *logs[0].ResponseBody)

	require.NoError(t, f.dispatcher.Resend(ctx, f.address.OwnerID, f.tx.ID))
	assert.Equal(t, []queue.Job{queue.NewWebhookJob(f.tx.ID)}, f.store.enqueued)
	assert.Error(t, f.dispatcher.Send(ctx, f.tx.ID))

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()
	require.NoError(t, f.dispatcher.Resend(ctx, f.address.OwnerID, f.tx.ID))
	require.NoError(t, f.dispatcher.Send(ctx, f.tx.ID))

	logs = f.logs(t)
	require.Len(t, logs, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{logs[0].AttemptNumber, logs[1].AttemptNumber, logs[2].AttemptNumber})
	assert.Equal(t, entities.WebhookLogStatusSuccess, logs[0].Status)
	assert.True(t, f.store.transactions[f.tx.ID].WebhookSent)
	assert.Equal(t, 3, calls)
}

func TestSendTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	f := newFixture(t, url, "")
	err := f.dispatcher.Send(context.Background(), f.tx.ID)
	require.True(t, domainerrors.IsWebhookDelivery(err))

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.WebhookLogStatusFailed, logs[0].Status)
	assert.Nil(t, logs[0].StatusCode)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.NotEmpty(t, *logs[0].ErrorMessage)
}

func TestSendCapsResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer server.Close()

	f := newFixture(t, server.URL, "")
	f.dispatcher.config.MaxResponseBody = 16
	require.NoError(t, f.dispatcher.Send(context.Background(), f.tx.ID))

	logs := f.logs(t)
	require.NotNil(t, logs[0].ResponseBody)
	assert.Len(t, *logs[0].ResponseBody, 16)
}

func TestSendSkips(t *testing.T) {
	ctx := context.Background()

	t.Run("already sent", func(t *testing.T) {
		f := newFixture(t, "http://127.0.0.1:1", "")
		f.store.transactions[f.tx.ID].WebhookSent = true
		require.NoError(t, f.dispatcher.Send(ctx, f.tx.ID))
		assert.Empty(t, f.logs(t))
	})

	t.Run("no webhook configured", func(t *testing.T) {
		f := newFixture(t, "", "")
		require.NoError(t, f.dispatcher.Send(ctx, f.tx.ID))
		assert.Empty(t, f.logs(t))
	})

	t.Run("missing transaction", func(t *testing.T) {
		f := newFixture(t, "http://127.0.0.1:1", "")
		require.NoError(t, f.dispatcher.Send(ctx, uuid.New()))
		assert.Empty(t, f.store.logs)
	})
}

func TestResendAndLogsOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "http://127.0.0.1:1", "")

	err := f.dispatcher.Resend(ctx, uuid.New(), f.tx.ID)
	assert.True(t, domainerrors.IsForbidden(err))

	err = f.dispatcher.Resend(ctx, f.address.OwnerID, uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))

	_, err = f.dispatcher.Logs(ctx, uuid.New(), f.tx.ID)
	assert.True(t, domainerrors.IsForbidden(err))

	logs, err := f.dispatcher.Logs(ctx, f.address.OwnerID, f.tx.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Empty(t, f.store.enqueued)
}

func TestRecoverUndelivered(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000100000).UTC()

	addTx := func(f *fixture, chainID string, createdAt time.Time) *entities.Transaction {
		cp := *f.tx
		cp.ID = uuid.New()
		cp.TransactionID = chainID
		cp.CreatedAt = createdAt
		cp.WebhookQueued = false
		f.store.transactions[cp.ID] = &cp
		return &cp
	}

	t.Run("queues deliveries that were never attempted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		f := newFixture(t, server.URL, "")
		f.dispatcher.now = func() time.Time { return now }
		f.tx.WebhookQueued = true

		attempted := addTx(f, "chain-tx-2", f.tx.CreatedAt)
		attempted.WebhookQueued = true
		f.store.logs = append(f.store.logs, &entities.WebhookLog{ID: uuid.New(), TransactionID: attempted.ID, AttemptNumber: 1, Status: entities.WebhookLogStatusFailed})

		delivered := addTx(f, "chain-tx-3", f.tx.CreatedAt)
		delivered.WebhookQueued = true
		delivered.WebhookSent = true

		recent := addTx(f, "chain-tx-4", now.Add(-10*time.Second))
		recent.WebhookQueued = true

		addTx(f, "chain-tx-5", f.tx.CreatedAt)

		queued, err := f.dispatcher.RecoverUndelivered(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, queued)
		assert.Equal(t, []queue.Job{queue.NewWebhookJob(f.tx.ID)}, f.store.enqueued)

		require.NoError(t, f.dispatcher.Send(ctx, f.tx.ID))
		f.store.enqueued = nil

		queued, err = f.dispatcher.RecoverUndelivered(ctx)
		require.NoError(t, err)
		assert.Zero(t, queued)
		assert.Empty(t, f.store.enqueued)
	})

	t.Run("address without webhook", func(t *testing.T) {
		f := newFixture(t, "", "")
		f.dispatcher.now = func() time.Time { return now }
		f.tx.WebhookQueued = true

		queued, err := f.dispatcher.RecoverUndelivered(ctx)
		require.NoError(t, err)
		assert.Zero(t, queued)
		assert.Empty(t, f.store.enqueued)
	})
}
