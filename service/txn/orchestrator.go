// Package txn runs the vault's mutating operations through a single
// serialized lifecycle: Idle, Building, Signing, Confirming, then Success or
// Failed, and back to Idle after a display delay.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Connector supplies the RPC client bound to the current network.
type Connector interface {
	Conn() (*solana.Client, error)
}

// Selection reports whether the user picked both a token and an identity NFT.
type Selection interface {
	HasCompleteSelection() bool
}

// Refresher reloads read replicas after a confirmed transaction.
type Refresher interface {
	Refresh(ctx context.Context, nfts ...solanago.PublicKey) error
}

// StatePublisher receives every state update.
type StatePublisher interface {
	PublishState(ctx context.Context, wallet string, state State) error
}

// Options control lifecycle timing and provisioning defaults.
type Options struct {
	SuccessResetDelay   time.Duration
	FailureResetDelay   time.Duration
	RefreshDelay        time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// WormholeProgramID is recorded in a newly initialized collection.
	WormholeProgramID solanago.PublicKey
}

// DefaultOptions returns the production lifecycle timing.
func DefaultOptions() Options {
	return Options{
		SuccessResetDelay:   3 * time.Second,
		FailureResetDelay:   5 * time.Second,
		RefreshDelay:        time.Second,
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: 500 * time.Millisecond,
	}
}

// MintResult is a confirmed identity NFT mint.
type MintResult struct {
	Signature    solanago.Signature `json:"signature"`
	Mint         solanago.PublicKey `json:"mint"`
	TokenAccount solanago.PublicKey `json:"token_account"`
}

// Orchestrator serializes the wallet's mutating operations.
type Orchestrator struct {
	conn      Connector
	deriver   *pda.Deriver
	wallet    Wallet
	selection Selection
	refresher Refresher
	publisher StatePublisher
	opts      Options

	metrics *metrics.Metrics
	logger  *slog.Logger

	dispatchMu sync.Mutex // serializes state changes so observers see them in order

	mu        sync.Mutex
	state     State
	run       uint64
	observers map[int]func(prev, next State)
	nextID    int

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewOrchestrator creates an orchestrator in the Idle state. refresher and
// m may be nil.
func NewOrchestrator(
	conn Connector,
	deriver *pda.Deriver,
	wallet Wallet,
	selection Selection,
	refresher Refresher,
	opts Options,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		conn:      conn,
		deriver:   deriver,
		wallet:    wallet,
		selection: selection,
		refresher: refresher,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		state:     State{Status: StatusIdle, UpdatedAt: time.Now()},
		observers: make(map[int]func(prev, next State)),
		done:      make(chan struct{}),
	}
}

// WithPublisher forwards every state update to p.
func (o *Orchestrator) WithPublisher(p StatePublisher) *Orchestrator {
	o.publisher = p
	return o
}

// Wallet returns the signing wallet.
func (o *Orchestrator) Wallet() Wallet {
	return o.wallet
}

// State returns the current transaction state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn for every state update, including message-only
// updates within one status. Observers run synchronously in registration
// order and must not call back into the orchestrator's operations.
func (o *Orchestrator) Subscribe(fn func(prev, next State)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

// Close stops pending refreshes and resets and waits for them to exit.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.done) })
	o.wg.Wait()
}

// Deposit deposits amount of assetMint into the vault position held by nft.
func (o *Orchestrator) Deposit(ctx context.Context, amount uint64, assetMint, nft solanago.PublicKey) (solanago.Signature, error) {
	conn, err := o.validate(amount, assetMint)
	if err != nil {
		return solanago.Signature{}, err
	}
	return o.execute(ctx, OpDeposit, conn, []solanago.PublicKey{nft}, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		set, err := o.prepare(ctx, conn, assetMint, nft)
		if err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewDepositInstruction(o.deriver.Programs().Vault, set, amount)
		return []solanago.Instruction{ix}, nil, err
	})
}

// Withdraw redeems shares from the position held by nft. It fails before
// signing if the position holds fewer shares.
func (o *Orchestrator) Withdraw(ctx context.Context, shares uint64, assetMint, nft solanago.PublicKey) (solanago.Signature, error) {
	conn, err := o.validate(shares, assetMint)
	if err != nil {
		return solanago.Signature{}, err
	}
	return o.execute(ctx, OpWithdraw, conn, []solanago.PublicKey{nft}, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		set, err := o.prepare(ctx, conn, assetMint, nft)
		if err != nil {
			return nil, nil, err
		}
		if err := checkShares(ctx, conn, set, shares); err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewWithdrawInstruction(o.deriver.Programs().Vault, set, shares)
		return []solanago.Instruction{ix}, nil, err
	})
}

// Lock deposits amount into the position held by nft under a lock tier.
// The instruction carries the pre-fee amount; see Tier.PreviewFee for the
// advisory fee.
func (o *Orchestrator) Lock(ctx context.Context, amount uint64, assetMint, nft solanago.PublicKey, tier Tier) (solanago.Signature, error) {
	if !tier.Valid() {
		return solanago.Signature{}, newError(KindInvalidAmount, "Invalid lock tier", fmt.Sprintf("Unknown lock tier %d", uint8(tier)), nil)
	}
	conn, err := o.validate(amount, assetMint)
	if err != nil {
		return solanago.Signature{}, err
	}
	return o.execute(ctx, OpLock, conn, []solanago.PublicKey{nft}, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		set, err := o.prepare(ctx, conn, assetMint, nft)
		if err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewLockInstruction(o.deriver.Programs().Vault, set, amount, uint8(tier))
		return []solanago.Instruction{ix}, nil, err
	})
}

// InitializeCollection creates the identity collection with the wallet as
// its authority.
func (o *Orchestrator) InitializeCollection(ctx context.Context, name, symbol, baseURI string) (solanago.Signature, error) {
	conn, err := o.connected()
	if err != nil {
		return solanago.Signature{}, err
	}
	return o.execute(ctx, OpInitializeCollection, conn, nil, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		collection, _, err := o.deriver.CollectionAddress()
		if err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewInitializeCollectionInstruction(o.deriver.Programs().NFT, solana.InitializeCollectionParams{
			Collection:        collection,
			Authority:         o.wallet.PublicKey(),
			Name:              name,
			Symbol:            symbol,
			BaseURI:           baseURI,
			WormholeProgramID: o.opts.WormholeProgramID,
		})
		return []solanago.Instruction{ix}, nil, err
	})
}

// MintNFT mints a new identity NFT to the wallet. A fresh mint keypair
// co-signs the transaction.
func (o *Orchestrator) MintNFT(ctx context.Context) (*MintResult, error) {
	conn, err := o.connected()
	if err != nil {
		return nil, err
	}

	mintKey, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate mint keypair: %w", err)
	}
	user := o.wallet.PublicKey()
	result := &MintResult{Mint: mintKey.PublicKey()}

	sig, err := o.execute(ctx, OpMintNFT, conn, nil, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		collection, _, err := o.deriver.CollectionAddress()
		if err != nil {
			return nil, nil, err
		}
		userState, _, err := o.deriver.UserStateAddress(user)
		if err != nil {
			return nil, nil, err
		}
		if result.TokenAccount, err = pda.AssociatedTokenAddress(result.Mint, user, false); err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewMintNFTInstruction(o.deriver.Programs().NFT, solana.MintNFTAccounts{
			Collection:   collection,
			UserState:    userState,
			Mint:         result.Mint,
			TokenAccount: result.TokenAccount,
			User:         user,
		})
		return []solanago.Instruction{ix}, []solanago.PrivateKey{mintKey}, err
	})
	if err != nil {
		return nil, err
	}
	result.Signature = sig
	return result, nil
}

// MintNFTs mints up to n identity NFTs one after another, waiting for each
// run to reset before starting the next. It stops at the first failure and
// returns the mints that confirmed along with the error.
func (o *Orchestrator) MintNFTs(ctx context.Context, n int) ([]*MintResult, error) {
	if n < 1 {
		return nil, newError(KindInvalidAmount, "Invalid count", "Count must be at least one", nil)
	}
	minted := make([]*MintResult, 0, n)
	for i := 0; i < n; i++ {
		if err := o.awaitIdle(ctx); err != nil {
			return minted, err
		}
		res, err := o.MintNFT(ctx)
		if err != nil {
			o.logger.WarnContext(ctx, "batch mint stopped", "minted", len(minted), "requested", n, "error", err)
			return minted, err
		}
		minted = append(minted, res)
	}
	return minted, nil
}

// awaitIdle blocks until no operation is in flight.
func (o *Orchestrator) awaitIdle(ctx context.Context) error {
	idle := make(chan struct{}, 1)
	unsubscribe := o.Subscribe(func(prev, next State) {
		if next.Status == StatusIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if o.State().Status == StatusIdle {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrBusy
	}
}

// MintTokens mints amount of a test-token mint to the wallet's associated
// token account.
func (o *Orchestrator) MintTokens(ctx context.Context, amount uint64, mint solanago.PublicKey) (solanago.Signature, error) {
	conn, err := o.connected()
	if err != nil {
		return solanago.Signature{}, err
	}
	if amount == 0 {
		return solanago.Signature{}, newError(KindInvalidAmount, "Invalid amount", "Amount must be greater than zero", nil)
	}
	return o.execute(ctx, OpMintTokens, conn, nil, func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error) {
		user := o.wallet.PublicKey()
		recipient, err := pda.AssociatedTokenAddress(mint, user, false)
		if err != nil {
			return nil, nil, err
		}
		authority, _, err := o.deriver.MintAuthorityAddress()
		if err != nil {
			return nil, nil, err
		}
		ix, err := solana.NewMintTokensInstruction(o.deriver.Programs().Token, solana.MintTokensAccounts{
			Caller:        user,
			Mint:          mint,
			Recipient:     recipient,
			MintAuthority: authority,
		}, amount)
		return []solanago.Instruction{ix}, nil, err
	})
}

// validate runs the form checks shared by the vault operations. Failures
// leave the state untouched. Only the configured vault's asset is accepted:
// the share mint and the refreshed replicas both belong to that vault.
func (o *Orchestrator) validate(amount uint64, assetMint solanago.PublicKey) (*solana.Client, error) {
	if amount == 0 {
		return nil, newError(KindInvalidAmount, "Invalid amount", "Amount must be greater than zero", nil)
	}
	if o.selection != nil && !o.selection.HasCompleteSelection() {
		return nil, newError(KindSelectionIncomplete, "Selection incomplete", "Select a token and an identity NFT first", nil)
	}
	if !assetMint.Equals(o.deriver.AssetMint()) {
		return nil, newError(KindUnsupportedAsset, "Unsupported asset",
			fmt.Sprintf("No vault is configured for asset %s; use %s", assetMint, o.deriver.AssetMint()), nil)
	}
	return o.connected()
}

func (o *Orchestrator) connected() (*solana.Client, error) {
	conn, err := o.conn.Conn()
	if err != nil {
		return nil, newError(KindUnknown, notConnectedSummary, notConnectedMessage, err)
	}
	return conn, nil
}

// prepare derives the account set and proves the wallet holds nft.
func (o *Orchestrator) prepare(ctx context.Context, conn *solana.Client, assetMint, nft solanago.PublicKey) (*pda.AccountSet, error) {
	set, err := o.deriver.AccountsForAsset(o.wallet.PublicKey(), nft, assetMint)
	if err != nil {
		return nil, err
	}

	nftAccount, err := conn.GetTokenAccount(ctx, set.UserNFTToken)
	switch {
	case errors.Is(err, solana.ErrAccountNotFound):
		return nil, failed(KindNFTOwnershipUnproven, fmt.Errorf("cannot prove NFT ownership: no token account %s for NFT %s", set.UserNFTToken, nft))
	case err != nil:
		return nil, err
	case !nftAccount.Owner.Equals(set.User) || !nftAccount.Mint.Equals(nft) || nftAccount.Amount < 1:
		return nil, failed(KindNFTOwnershipUnproven, fmt.Errorf("cannot prove NFT ownership: %s does not hold NFT %s", set.User, nft))
	}

	// First deposits create these, so their absence is expected.
	if _, err := conn.GetAccount(ctx, set.UserShareToken); errors.Is(err, solana.ErrAccountNotFound) {
		o.logger.WarnContext(ctx, "share token account does not exist yet", "account", set.UserShareToken.String(), "nft", nft.String())
	}
	if _, err := conn.GetAccount(ctx, set.UserInfo.Key); errors.Is(err, solana.ErrAccountNotFound) {
		o.logger.WarnContext(ctx, "user info account does not exist yet", "account", set.UserInfo.Key.String(), "nft", nft.String())
	}
	return set, nil
}

func checkShares(ctx context.Context, conn *solana.Client, set *pda.AccountSet, requested uint64) error {
	var available uint64
	bal, err := conn.GetTokenBalance(ctx, set.UserShareToken)
	switch {
	case errors.Is(err, solana.ErrAccountNotFound):
	case err != nil:
		return fmt.Errorf("read share balance: %w", err)
	default:
		available = bal.Amount
	}
	if requested > available {
		return failed(KindInsufficientShares, fmt.Errorf("Insufficient shares. Available: %d, Requested: %d", available, requested))
	}
	return nil
}

type buildFunc func(ctx context.Context) ([]solanago.Instruction, []solanago.PrivateKey, error)

// execute drives one operation through the lifecycle. It returns ErrBusy
// without touching the state when an operation is already in flight. On a
// confirmation failure the broadcast signature is returned with the error.
func (o *Orchestrator) execute(ctx context.Context, op Operation, conn *solana.Client, refresh []solanago.PublicKey, build buildFunc) (sig solanago.Signature, err error) {
	msgs := messages[op]
	run, ok := o.begin(op, msgs.building)
	if !ok {
		return solanago.Signature{}, ErrBusy
	}

	start := time.Now()
	status, kind := "success", ""
	defer metrics.Timer(start, func(d float64) {
		o.metrics.RecordVaultTransaction(string(op), status, kind, d)
	})()

	logger := o.logger.With("operation", op, "wallet", o.wallet.PublicKey().String())
	logger.InfoContext(ctx, "transaction started")

	fail := func(sig solanago.Signature, cause error, confirmed bool) error {
		e := Classify(cause)
		status, kind = "failed", string(e.Kind)

		next := State{Status: StatusFailed, Operation: op, Kind: e.Kind, Error: e.Summary, Message: e.Message}
		if confirmed {
			next.Signature = sig.String()
			next.Error = confirmFailedPrefix + cause.Error()
			next.Message = confirmFailedMessage
		}
		o.transition(run, next)
		logger.ErrorContext(ctx, "transaction failed", "kind", e.Kind, "signature", next.Signature, "error", cause)
		o.scheduleReset(run, o.opts.FailureResetDelay)
		return e
	}

	ixs, cosigners, err := build(ctx)
	if err != nil {
		return solanago.Signature{}, fail(solanago.Signature{}, err, false)
	}

	blockhash, err := conn.LatestBlockhash(ctx)
	if err != nil {
		return solanago.Signature{}, fail(solanago.Signature{}, err, false)
	}
	tx, err := solanago.NewTransaction(ixs, blockhash, solanago.TransactionPayer(o.wallet.PublicKey()))
	if err != nil {
		return solanago.Signature{}, fail(solanago.Signature{}, fmt.Errorf("build transaction: %w", err), false)
	}
	if len(cosigners) > 0 {
		if err := PartialSign(tx, cosigners...); err != nil {
			return solanago.Signature{}, fail(solanago.Signature{}, err, false)
		}
	}

	o.transition(run, State{Status: StatusSigning, Operation: op, Message: msgs.signing})
	if err := o.wallet.SignTransaction(ctx, tx); err != nil {
		return solanago.Signature{}, fail(solanago.Signature{}, err, false)
	}

	// Once broadcast, only ConfirmTimeout bounds the outcome.
	ctx = context.WithoutCancel(ctx)
	sig, err = conn.SendTransaction(ctx, tx)
	if err != nil {
		return solanago.Signature{}, fail(solanago.Signature{}, err, false)
	}

	o.transition(run, State{Status: StatusConfirming, Operation: op, Signature: sig.String(), Message: msgs.confirming})
	if err := conn.WaitForConfirmation(ctx, sig, o.opts.ConfirmTimeout, o.opts.ConfirmPollInterval); err != nil {
		return sig, fail(sig, err, true)
	}

	o.transition(run, State{Status: StatusSuccess, Operation: op, Signature: sig.String(), Message: msgs.success})
	logger.InfoContext(ctx, "transaction confirmed", "signature", sig.String(), "duration", time.Since(start))
	o.scheduleRefresh(run, op, sig, refresh)
	return sig, nil
}

// begin is the entry guard: it moves Idle to Building atomically.
func (o *Orchestrator) begin(op Operation, message string) (uint64, bool) {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	o.mu.Lock()
	if o.state.Status != StatusIdle {
		o.mu.Unlock()
		return 0, false
	}
	o.run++
	run := o.run
	prev, next, observers := o.swapLocked(State{Status: StatusBuilding, Operation: op, Message: message})
	o.mu.Unlock()

	o.notify(prev, next, observers)
	return run, true
}

// transition replaces the state if run is still the current run.
func (o *Orchestrator) transition(run uint64, next State) bool {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	o.mu.Lock()
	if run != o.run {
		o.mu.Unlock()
		return false
	}
	prev, next, observers := o.swapLocked(next)
	o.mu.Unlock()

	o.notify(prev, next, observers)
	return true
}

func (o *Orchestrator) swapLocked(next State) (State, State, []func(prev, next State)) {
	next.UpdatedAt = time.Now()
	prev := o.state
	o.state = next

	observers := make([]func(prev, next State), 0, len(o.observers))
	for id := 0; id < o.nextID; id++ {
		if fn, ok := o.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	return prev, next, observers
}

func (o *Orchestrator) notify(prev, next State, observers []func(prev, next State)) {
	if prev.Status != next.Status {
		o.metrics.RecordTransactionState(string(prev.Status), string(next.Status))
	}
	for _, fn := range observers {
		fn(prev, next)
	}
	o.publish(next)
}

func (o *Orchestrator) publish(s State) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.publisher.PublishState(ctx, o.wallet.PublicKey().String(), s); err != nil {
		o.logger.Warn("failed to publish transaction state", "status", s.Status, "error", err)
	}
}

// after runs fn once delay has elapsed unless the orchestrator is closed.
func (o *Orchestrator) after(delay time.Duration, fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			fn()
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) scheduleReset(run uint64, delay time.Duration) {
	o.after(delay, func() {
		o.transition(run, State{Status: StatusIdle})
	})
}

// scheduleRefresh reloads the replicas once the confirmation has landed,
// then keeps Success on display before resetting.
func (o *Orchestrator) scheduleRefresh(run uint64, op Operation, sig solanago.Signature, nfts []solanago.PublicKey) {
	o.after(o.opts.RefreshDelay, func() {
		if o.refresher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), o.opts.ConfirmTimeout)
			if err := o.refresher.Refresh(ctx, nfts...); err != nil {
				o.logger.Warn("post-transaction refresh failed", "operation", op, "signature", sig.String(), "error", err)
			}
			cancel()
		}
		o.transition(run, State{Status: StatusSuccess, Operation: op, Signature: sig.String(), Message: refreshedMessage})
		o.scheduleReset(run, o.opts.SuccessResetDelay)
	})
}
