// Package gateway routes a monitored address to the chain API that can list
// its transfers.
package gateway

import (
	"context"
	"sync"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/errors"
)

// Adapter lists confirmed transfers for one token/network pair.
// minTimestampMs is inclusive; adapters return transfers in provider order.
type Adapter interface {
	Name() string
	FetchTransfers(ctx context.Context, address string, minTimestampMs int64) ([]entities.Transfer, error)
}

type combination struct {
	token   entities.Token
	network entities.Network
}

// Registry maps token/network pairs to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[combination]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[combination]Adapter)}
}

// Register binds adapter to token on network, replacing any previous binding
func (r *Registry) Register(token entities.Token, network entities.Network, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[combination{token: token, network: network}] = adapter
}

// Resolve returns the adapter for token on network
func (r *Registry) Resolve(token entities.Token, network entities.Network) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[combination{token: token, network: network}]
	if !ok {
		return nil, errors.UnsupportedCombinationError(string(token), string(network))
	}
	return adapter, nil
}
