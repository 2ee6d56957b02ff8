package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/nftvault/client"
	"github.com/brojonat/nftvault/service/config"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/session"
	"github.com/brojonat/nftvault/service/solana"
	"github.com/brojonat/nftvault/service/txn"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// backend is what the commands drive: a vault server over HTTP or a local
// session. *client.Client implements it directly.
type backend interface {
	Accounts(ctx context.Context, nft, assetMint string) (*pda.AccountSet, error)
	Vault(ctx context.Context, refresh bool) (*query.VaultSnapshot, error)
	Position(ctx context.Context, nft string) (*query.Position, error)
	Balances(ctx context.Context, mints ...string) ([]query.TokenBalance, error)
	Collection(ctx context.Context) (*solana.Collection, error)
	TxState(ctx context.Context) (*txn.State, error)
	FeePreview(ctx context.Context, amount uint64, tier string) (*txn.FormattedFeePreview, error)
	Deposit(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error)
	Withdraw(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error)
	Lock(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error)
	InitializeCollection(ctx context.Context, name, symbol, baseURI string) (*client.OperationResult, error)
	MintNFT(ctx context.Context) (*client.MintResult, error)
	MintNFTs(ctx context.Context, count int) (*client.MintBatchResult, error)
	MintTokens(ctx context.Context, amount uint64, mint string) (*client.OperationResult, error)
}

// openBackend returns the server client when --server-url is set, otherwise
// a local session bound to the configured network. The returned func
// releases it.
func openBackend(c *cli.Context) (backend, func(), error) {
	logger := newLogger(c.String("log-level"))

	if serverURL := c.String("server-url"); serverURL != "" {
		return client.NewClient(serverURL, nil, logger), func() {}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if n := c.String("network"); n != "" {
		cfg.Network = n
	}
	keypair := cfg.KeypairPath
	if k := c.String("keypair"); k != "" {
		keypair = k
	}
	wallet, err := txn.LoadKeypairWallet(keypair)
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.New(cfg, wallet, session.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	if state := sess.Connect(); !state.Ready {
		sess.Close()
		return nil, nil, fmt.Errorf("network %s not ready: %s", cfg.Network, state.Error)
	}
	return &localBackend{sess: sess}, sess.Close, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// localBackend runs commands against an in-process session.
type localBackend struct {
	sess *session.Session
}

func (b *localBackend) Accounts(ctx context.Context, nft, assetMint string) (*pda.AccountSet, error) {
	nftKey, err := parseKey("nft", nft)
	if err != nil {
		return nil, err
	}
	asset := b.sess.Deriver.AssetMint()
	if assetMint != "" {
		if asset, err = parseKey("asset mint", assetMint); err != nil {
			return nil, err
		}
	}
	return b.sess.Deriver.AccountsForAsset(b.sess.Wallet.PublicKey(), nftKey, asset)
}

func (b *localBackend) Vault(ctx context.Context, refresh bool) (*query.VaultSnapshot, error) {
	if refresh {
		b.sess.Loader.Invalidate("cli_refresh")
	}
	return b.sess.Loader.LoadVaultSnapshot(ctx)
}

func (b *localBackend) Position(ctx context.Context, nft string) (*query.Position, error) {
	nftKey, err := parseKey("nft", nft)
	if err != nil {
		return nil, err
	}
	return b.sess.Loader.LoadUserPosition(ctx, nftKey)
}

func (b *localBackend) Balances(ctx context.Context, mints ...string) ([]query.TokenBalance, error) {
	keys := b.sess.Config.TokenMints
	if len(mints) > 0 {
		keys = make([]solanago.PublicKey, 0, len(mints))
		for _, m := range mints {
			pk, err := parseKey("mint", m)
			if err != nil {
				return nil, err
			}
			keys = append(keys, pk)
		}
	}
	return b.sess.Loader.LoadUserTokenBalances(ctx, keys)
}

func (b *localBackend) Collection(ctx context.Context) (*solana.Collection, error) {
	return b.sess.Loader.LoadCollection(ctx)
}

func (b *localBackend) TxState(ctx context.Context) (*txn.State, error) {
	st := b.sess.Orchestrator.State()
	return &st, nil
}

func (b *localBackend) FeePreview(ctx context.Context, amount uint64, tier string) (*txn.FormattedFeePreview, error) {
	t, err := txn.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	var decimals uint8
	if snap, err := b.sess.Loader.LoadVaultSnapshot(ctx); err == nil {
		decimals = snap.Decimals
	}
	f := t.PreviewFee(amount).Format(decimals)
	return &f, nil
}

func (b *localBackend) Deposit(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error) {
	asset, nft, err := b.selectFor(req)
	if err != nil {
		return nil, err
	}
	sig, err := b.sess.Orchestrator.Deposit(ctx, req.Amount, asset, nft)
	return b.result(sig, err)
}

func (b *localBackend) Withdraw(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error) {
	asset, nft, err := b.selectFor(req)
	if err != nil {
		return nil, err
	}
	sig, err := b.sess.Orchestrator.Withdraw(ctx, req.Amount, asset, nft)
	return b.result(sig, err)
}

func (b *localBackend) Lock(ctx context.Context, req client.OperationRequest) (*client.OperationResult, error) {
	tier, err := txn.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	asset, nft, err := b.selectFor(req)
	if err != nil {
		return nil, err
	}
	sig, err := b.sess.Orchestrator.Lock(ctx, req.Amount, asset, nft, tier)
	return b.result(sig, err)
}

func (b *localBackend) InitializeCollection(ctx context.Context, name, symbol, baseURI string) (*client.OperationResult, error) {
	sig, err := b.sess.Orchestrator.InitializeCollection(ctx, name, symbol, baseURI)
	return b.result(sig, err)
}

func (b *localBackend) MintNFT(ctx context.Context) (*client.MintResult, error) {
	res, err := b.sess.Orchestrator.MintNFT(ctx)
	if err != nil {
		return nil, err
	}
	return &client.MintResult{
		Signature:    res.Signature.String(),
		Mint:         res.Mint.String(),
		TokenAccount: res.TokenAccount.String(),
		State:        b.sess.Orchestrator.State(),
	}, nil
}

func (b *localBackend) MintNFTs(ctx context.Context, count int) (*client.MintBatchResult, error) {
	minted, err := b.sess.Orchestrator.MintNFTs(ctx, count)
	if err != nil && len(minted) == 0 {
		return nil, err
	}
	out := &client.MintBatchResult{Requested: count}
	for _, m := range minted {
		out.Minted = append(out.Minted, client.MintResult{
			Signature:    m.Signature.String(),
			Mint:         m.Mint.String(),
			TokenAccount: m.TokenAccount.String(),
		})
	}
	if err != nil {
		out.Error = err.Error()
	}
	out.State = b.sess.Orchestrator.State()
	return out, nil
}

func (b *localBackend) MintTokens(ctx context.Context, amount uint64, mint string) (*client.OperationResult, error) {
	mintKey := b.sess.Deriver.AssetMint()
	if mint != "" {
		var err error
		if mintKey, err = parseKey("mint", mint); err != nil {
			return nil, err
		}
	}
	sig, err := b.sess.Orchestrator.MintTokens(ctx, amount, mintKey)
	return b.result(sig, err)
}

// selectFor selects the request's token and identity NFT, as a user would
// before submitting.
func (b *localBackend) selectFor(req client.OperationRequest) (solanago.PublicKey, solanago.PublicKey, error) {
	asset := b.sess.Deriver.AssetMint()
	if req.AssetMint != "" {
		var err error
		if asset, err = parseKey("asset mint", req.AssetMint); err != nil {
			return asset, solanago.PublicKey{}, err
		}
	}
	nft, err := parseKey("nft", req.NFT)
	if err != nil {
		return asset, nft, err
	}
	b.sess.Selection.SetTokenSelection(nil, asset)
	b.sess.Selection.SetIdentitySelection(nft)
	return asset, nft, nil
}

func (b *localBackend) result(sig solanago.Signature, err error) (*client.OperationResult, error) {
	if err != nil {
		return nil, err
	}
	return &client.OperationResult{Signature: sig.String(), State: b.sess.Orchestrator.State()}, nil
}

func parseKey(field, value string) (solanago.PublicKey, error) {
	if value == "" {
		return solanago.PublicKey{}, fmt.Errorf("%s is required", field)
	}
	pk, err := solanago.PublicKeyFromBase58(value)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return pk, nil
}
