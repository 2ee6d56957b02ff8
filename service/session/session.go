// Package session wires the vault components for one wallet: the network
// binding, selection, address deriver, query loader and transaction
// orchestrator.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/nftvault/service/config"
	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/network"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/selection"
	"github.com/brojonat/nftvault/service/txn"
)

// Options carry the session's injected dependencies. Zero values fall back
// to the JSON-RPC dialer and no publishing.
type Options struct {
	Dialer    network.Dialer
	Publisher txn.StatePublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Session owns the components serving one wallet.
type Session struct {
	Config       *config.Config
	Wallet       txn.Wallet
	Binding      *network.Binding
	Selection    *selection.Store
	Deriver      *pda.Deriver
	Loader       *query.Loader
	Orchestrator *txn.Orchestrator

	logger      *slog.Logger
	unsubscribe func()

	mu      sync.Mutex
	lastGen uint64
}

// New builds a session for wallet. The binding starts unbound; call Connect
// or Binding.Sync to bind a network.
func New(cfg *config.Config, wallet txn.Wallet, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deriver, err := cfg.Deriver()
	if err != nil {
		return nil, fmt.Errorf("seed configuration: %w", err)
	}

	dial := opts.Dialer
	if dial == nil {
		dial = network.NewRPCDialer(cfg.RPCRateLimit, opts.Metrics, logger)
	}
	binding := network.NewBinding(dial, cfg.SolanaRPCURL, opts.Metrics, logger)
	sel := selection.NewStore()

	loader := query.NewLoader(binding, deriver, wallet.PublicKey(), query.Options{
		TTL:         cfg.QueryCacheTTL,
		Concurrency: cfg.BalanceConcurrency,
	}, opts.Metrics, logger)

	orch := txn.NewOrchestrator(binding, deriver, wallet, sel, loader, txn.Options{
		SuccessResetDelay:   cfg.SuccessResetDelay,
		FailureResetDelay:   cfg.FailureResetDelay,
		RefreshDelay:        cfg.RefreshDelay,
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
	}, opts.Metrics, logger)
	if opts.Publisher != nil {
		orch.WithPublisher(opts.Publisher)
	}

	s := &Session{
		Config:       cfg,
		Wallet:       wallet,
		Binding:      binding,
		Selection:    sel,
		Deriver:      deriver,
		Loader:       loader,
		Orchestrator: orch,
		logger:       logger,
	}
	s.unsubscribe = binding.Subscribe(s.onNetworkChange)
	return s, nil
}

// Connect binds the configured network.
func (s *Session) Connect() network.State {
	return s.Binding.Sync(s.Config.Network, "")
}

// onNetworkChange drops every replica and the selection once per network
// generation.
func (s *Session) onNetworkChange(state network.State) {
	s.mu.Lock()
	if state.Generation == s.lastGen {
		s.mu.Unlock()
		return
	}
	s.lastGen = state.Generation
	s.mu.Unlock()

	s.Loader.Invalidate("network_change")
	s.Selection.ClearAll()
	s.logger.Info("network changed",
		"network", state.Network,
		"generation", state.Generation,
		"ready", state.Ready,
	)
}

// Close stops background work and detaches from the binding.
func (s *Session) Close() {
	s.unsubscribe()
	s.Orchestrator.Close()
}
