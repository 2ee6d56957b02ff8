// Package network tracks which Solana cluster the wallet is on and owns the
// RPC connection for it. Every change of network drops the connection before
// a new one is bound, so nothing keyed off the binding can read across a
// network switch.
package network

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/solana"
)

// ErrNotReady is returned when no supported network is bound.
var ErrNotReady = errors.New("network not ready")

// FallbackNetwork is used for supported networks missing from the endpoint map.
const FallbackNetwork = "solana-testnet"

// DefaultEndpoints maps wallet network names to public RPC endpoints.
var DefaultEndpoints = map[string]string{
	"solana-testnet":  "https://api.testnet.solana.com",
	"solana-devnet":   "https://api.devnet.solana.com",
	"solana-mainnet":  "https://api.mainnet-beta.solana.com",
	"solana-localnet": "http://localhost:8899",
	"Solana Local":    "http://localhost:8899",
}

// Genesis hash prefixes of the Solana clusters wallets report as chain ids.
var supportedGenesisPrefixes = []string{
	"4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z", // testnet
	"EtWTRABZaYq6iMfeYKouRu166VU2xqa1", // devnet
	"5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", // mainnet-beta
	"8E9rvCKLFQia2Y35HXjjpWzj8weVo44K",
}

// IsSupported reports whether a wallet network is a Solana cluster.
func IsSupported(name, chainID string) bool {
	nameMatches := strings.Contains(strings.ToLower(name), "solana")
	if chainID == "" {
		return nameMatches
	}
	if strings.Contains(chainID, "solana:") {
		return true
	}
	for _, prefix := range supportedGenesisPrefixes {
		if strings.HasPrefix(chainID, prefix) {
			return true
		}
	}
	return nameMatches
}

// State is a snapshot of the binding.
type State struct {
	Network    string `json:"network,omitempty"`
	ChainID    string `json:"chain_id,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Supported  bool   `json:"supported"`
	Ready      bool   `json:"ready"`
	Error      string `json:"error,omitempty"`
	Generation uint64 `json:"generation"`
}

// Dialer opens an RPC client for a bound network.
type Dialer func(network, endpoint string) (*solana.Client, error)

// NewRPCDialer returns a Dialer that connects over JSON-RPC with the given
// per-second rate limit.
func NewRPCDialer(rps float64, m *metrics.Metrics, logger *slog.Logger) Dialer {
	return func(network, endpoint string) (*solana.Client, error) {
		if endpoint == "" {
			return nil, fmt.Errorf("no rpc endpoint for %s", network)
		}
		rpcClient := solana.NewRPCClient(endpoint)
		return solana.NewClient(rpcClient, network, m, logger).WithRateLimit(rps), nil
	}
}

// Binding is the process-wide network binding. Sync is its only writer.
type Binding struct {
	syncMu sync.Mutex // serializes Sync so observers see changes in order

	mu        sync.RWMutex
	state     State
	conn      *solana.Client
	observed  [2]string // last (name, chainID) passed to Sync
	observers map[int]func(State)
	nextID    int

	dial        Dialer
	endpoints   map[string]string
	rpcOverride string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewBinding creates an unbound Binding. A non-empty rpcOverride is used as
// the endpoint for every supported network.
func NewBinding(dial Dialer, rpcOverride string, m *metrics.Metrics, logger *slog.Logger) *Binding {
	endpoints := make(map[string]string, len(DefaultEndpoints))
	for k, v := range DefaultEndpoints {
		endpoints[k] = v
	}
	return &Binding{
		observers:   make(map[int]func(State)),
		dial:        dial,
		endpoints:   endpoints,
		rpcOverride: rpcOverride,
		metrics:     m,
		logger:      logger,
	}
}

// EndpointFor resolves the RPC endpoint for a network name.
func (b *Binding) EndpointFor(name string) string {
	if b.rpcOverride != "" {
		return b.rpcOverride
	}
	if ep, ok := b.endpoints[name]; ok {
		return ep
	}
	return b.endpoints[FallbackNetwork]
}

// Sync reports the wallet's current network. Re-syncing the bound network
// is a no-op. Any other input first clears the binding (observers see the
// unbound state) and then binds when the network is supported. An
// unsupported network leaves the binding unbound with an error.
// Observers must not call Sync.
func (b *Binding) Sync(name, chainID string) State {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()

	supported := IsSupported(name, chainID)

	b.mu.RLock()
	unchanged := b.observed == [2]string{name, chainID} && (b.state.Ready || !supported || name == "")
	current := b.state
	b.mu.RUnlock()
	if unchanged {
		return current
	}

	b.metrics.RecordNetworkChange(name, supported)
	b.logger.Info("wallet network changed",
		"network", name,
		"chain_id", chainID,
		"supported", supported,
	)

	// Clear before rebinding.
	b.mu.Lock()
	b.observed = [2]string{name, chainID}
	b.conn = nil
	b.state = State{
		ChainID:    chainID,
		Supported:  supported,
		Generation: b.state.Generation + 1,
	}
	if !supported && name != "" {
		b.state.Error = fmt.Sprintf("Unsupported network: %s", name)
	}
	cleared := b.state
	b.mu.Unlock()
	b.notify(cleared)

	if !supported || name == "" {
		if cleared.Error != "" {
			b.logger.Warn("unsupported network", "network", name, "chain_id", chainID)
		}
		return cleared
	}

	endpoint := b.EndpointFor(name)
	conn, err := b.dial(name, endpoint)

	b.mu.Lock()
	if err != nil {
		b.state.Error = fmt.Sprintf("Failed to connect to %s: %v", name, err)
		b.logger.Error("failed to bind network", "network", name, "endpoint", endpoint, "error", err)
	} else {
		b.conn = conn
		b.state.Network = name
		b.state.Endpoint = endpoint
		b.state.Ready = true
	}
	bound := b.state
	b.mu.Unlock()
	b.notify(bound)

	return bound
}

// Reset drops the binding as if the wallet disconnected.
func (b *Binding) Reset() State {
	return b.Sync("", "")
}

// State returns the current binding.
func (b *Binding) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Generation increments on every network change.
func (b *Binding) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Generation
}

// Conn returns the bound RPC client, or ErrNotReady.
func (b *Binding) Conn() (*solana.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.state.Ready || b.conn == nil {
		return nil, ErrNotReady
	}
	return b.conn, nil
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn is called synchronously in registration order.
func (b *Binding) Subscribe(fn func(State)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

func (b *Binding) notify(s State) {
	b.mu.RLock()
	fns := make([]func(State), 0, len(b.observers))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}
