package txn

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/nftvault/service/network"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/selection"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testVaultProgram = solanago.MustPublicKeyFromBase58("6szSVnHy2GrCi6y7aQxJfQG9WpVkTgdB6kDXixepvdoW")
	testNFTProgram   = solanago.MustPublicKeyFromBase58("5XdsDEXPiHndfBkrvJKjsFZy3Zf95bUZLRZQvJ4W6Bpa")
	testTokenProgram = solanago.MustPublicKeyFromBase58("BSCgQLPHjjvoH6qbG59dyxUTfcK6jAqFDdPk6MNN7sEz")
)

type fakeConn struct {
	client *solana.Client
	err    error
}

func (f *fakeConn) Conn() (*solana.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func (f *fakeConn) Generation() uint64 { return 1 }

// testWallet counts signature requests. A non-nil gate holds every request
// until it is closed.
type testWallet struct {
	*KeypairWallet

	mu     sync.Mutex
	calls  int
	reject bool
	gate   chan struct{}
}

func (w *testWallet) SignTransaction(ctx context.Context, tx *solanago.Transaction) error {
	w.mu.Lock()
	w.calls++
	gate, reject := w.gate, w.reject
	w.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if reject {
		return errors.New("WalletSignTransactionError: User rejected the request.")
	}
	return w.KeypairWallet.SignTransaction(ctx, tx)
}

func (w *testWallet) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []State
}

func (p *recordingPublisher) PublishState(ctx context.Context, wallet string, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	return nil
}

type harness struct {
	mock      *solana.MockRPCClient
	conn      *fakeConn
	deriver   *pda.Deriver
	wallet    *testWallet
	selection *selection.Store
	orch      *Orchestrator
	nft       solanago.PublicKey
	set       *pda.AccountSet
}

func testOptions() Options {
	return Options{
		SuccessResetDelay:   20 * time.Millisecond,
		FailureResetDelay:   20 * time.Millisecond,
		RefreshDelay:        time.Millisecond,
		ConfirmTimeout:      time.Second,
		ConfirmPollInterval: time.Millisecond,
	}
}

func newHarness(t *testing.T, refresher Refresher) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seeds, err := pda.VersionedSeeds("v3", "mint_auth_v2")
	require.NoError(t, err)
	deriver := pda.NewDeriver(
		pda.Programs{Vault: testVaultProgram, NFT: testNFTProgram, Token: testTokenProgram},
		seeds,
		solanago.NewWallet().PublicKey(),
		solanago.NewWallet().PublicKey(),
		solanago.NewWallet().PublicKey(),
	)

	mock := solana.NewMockRPCClient()
	conn := &fakeConn{client: solana.NewClient(mock, "test", nil, logger)}
	wallet := &testWallet{KeypairWallet: NewKeypairWallet(solanago.NewWallet().PrivateKey)}

	nft := solanago.NewWallet().PublicKey()
	set, err := deriver.AccountsForUser(wallet.PublicKey(), nft)
	require.NoError(t, err)
	require.NoError(t, mock.SetTokenAccount(set.UserNFTToken, nft, wallet.PublicKey(), 1, 0))

	sel := selection.NewStore()
	sel.SetTokenSelection(nil, deriver.AssetMint())
	sel.SetIdentitySelection(nft)

	orch := NewOrchestrator(conn, deriver, wallet, sel, refresher, testOptions(), nil, logger)
	t.Cleanup(orch.Close)

	return &harness{
		mock:      mock,
		conn:      conn,
		deriver:   deriver,
		wallet:    wallet,
		selection: sel,
		orch:      orch,
		nft:       nft,
		set:       set,
	}
}

// statusLog records status changes in order.
func statusLog(o *Orchestrator) func() []Status {
	var mu sync.Mutex
	var log []Status
	o.Subscribe(func(prev, next State) {
		if prev.Status == next.Status {
			return
		}
		mu.Lock()
		log = append(log, next.Status)
		mu.Unlock()
	})
	return func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), log...)
	}
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.State().Status == StatusIdle }, 2*time.Second, time.Millisecond)
}

func TestDeposit_StateMachineLinearity(t *testing.T) {
	h := newHarness(t, nil)
	statuses := statusLog(h.orch)

	sig, err := h.orch.Deposit(context.Background(), 1_000_000, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())

	waitIdle(t, h.orch)
	assert.Equal(t, []Status{StatusBuilding, StatusSigning, StatusConfirming, StatusSuccess, StatusIdle}, statuses())
	assert.Equal(t, 1, h.wallet.Calls())
	require.Len(t, h.mock.Sent(), 1)
}

func TestDeposit_SuccessStateKeepsSignature(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var successes []State
	h.orch.Subscribe(func(prev, next State) {
		if next.Status == StatusSuccess {
			mu.Lock()
			successes = append(successes, next)
			mu.Unlock()
		}
	})

	sig, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	waitIdle(t, h.orch)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, successes, 2)
	assert.Equal(t, "Deposit successful! Transaction confirmed on network.", successes[0].Message)
	assert.Equal(t, "Balances updated successfully!", successes[1].Message)
	for _, s := range successes {
		assert.Equal(t, sig.String(), s.Signature)
		assert.Equal(t, OpDeposit, s.Operation)
	}
	assert.Empty(t, h.orch.State().Signature)
}

func TestDeposit_BusyRejectsSecondCall(t *testing.T) {
	h := newHarness(t, nil)
	h.wallet.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Deposit(context.Background(), 100, h.deriver.AssetMint(), h.nft)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.orch.State().Status == StatusSigning }, time.Second, time.Millisecond)

	_, err := h.orch.Deposit(context.Background(), 100, h.deriver.AssetMint(), h.nft)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, StatusSigning, h.orch.State().Status)

	close(h.wallet.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.wallet.Calls())
	assert.Len(t, h.mock.Sent(), 1)
}

func TestDeposit_LocalValidation(t *testing.T) {
	h := newHarness(t, nil)
	var notified int
	h.orch.Subscribe(func(prev, next State) { notified++ })

	_, err := h.orch.Deposit(context.Background(), 0, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidAmount, e.Kind)
	assert.True(t, e.Local())

	h.selection.ClearAll()
	_, err = h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindSelectionIncomplete, e.Kind)

	assert.Zero(t, notified)
	assert.Equal(t, StatusIdle, h.orch.State().Status)
	assert.Zero(t, h.wallet.Calls())
}

func TestVaultOperations_RejectUnconfiguredAsset(t *testing.T) {
	h := newHarness(t, nil)
	var notified int
	h.orch.Subscribe(func(prev, next State) { notified++ })
	other := solanago.NewWallet().PublicKey()

	_, err := h.orch.Deposit(context.Background(), 10, other, h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupportedAsset, e.Kind)
	assert.True(t, e.Local())

	_, err = h.orch.Withdraw(context.Background(), 10, other, h.nft)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupportedAsset, e.Kind)

	_, err = h.orch.Lock(context.Background(), 10, other, h.nft, TierShort)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupportedAsset, e.Kind)

	assert.Zero(t, notified)
	assert.Zero(t, h.wallet.Calls())
	assert.Empty(t, h.mock.Sent())
}

func TestDeposit_NotConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.err = network.ErrNotReady

	_, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	require.ErrorIs(t, err, network.ErrNotReady)
	assert.Equal(t, StatusIdle, h.orch.State().Status)
}

func TestDeposit_NFTOwnershipUnproven(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.DeleteAccount(h.set.UserNFTToken)

	sig, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindNFTOwnershipUnproven, e.Kind)
	assert.True(t, sig.IsZero())

	state := h.orch.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Empty(t, state.Signature)
	assert.Contains(t, state.Error, "cannot prove NFT ownership")
	assert.Zero(t, h.wallet.Calls())

	waitIdle(t, h.orch)
}

func TestDeposit_NFTHeldByAnotherWallet(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mock.SetTokenAccount(h.set.UserNFTToken, h.nft, solanago.NewWallet().PublicKey(), 1, 0))

	_, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindNFTOwnershipUnproven, e.Kind)
}

func TestWithdraw_InsufficientShares(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mock.SetTokenAccount(h.set.UserShareToken, h.deriver.ShareMint(), h.set.UserSharePosition.Key, 1000, 6))

	_, err := h.orch.Withdraw(context.Background(), 1500, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInsufficientShares, e.Kind)

	state := h.orch.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Error, "Available: 1000")
	assert.Contains(t, state.Error, "Requested: 1500")
	assert.Zero(t, h.wallet.Calls())
	assert.Empty(t, h.mock.Sent())
}

func TestWithdraw_WithinBalance(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mock.SetTokenAccount(h.set.UserShareToken, h.deriver.ShareMint(), h.set.UserSharePosition.Key, 1000, 6))

	_, err := h.orch.Withdraw(context.Background(), 1000, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)

	sent := h.mock.Sent()
	require.Len(t, sent, 1)
	data := []byte(sent[0].Message.Instructions[0].Data)
	assert.Equal(t, uint64(1000), binary.LittleEndian.Uint64(data[8:16]))
}

func TestDeposit_UserRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.wallet.reject = true

	_, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUserRejected, e.Kind)

	state := h.orch.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "Transaction cancelled", state.Error)
	assert.Equal(t, "Transaction was cancelled by user", state.Message)
	assert.Empty(t, state.Signature)
	assert.Empty(t, h.mock.Sent())
}

func TestDeposit_ConfirmationFailureKeepsSignature(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.SetStatuses(&rpc.SignatureStatusesResult{
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		Err: map[string]interface{}{
			"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": float64(6004)}},
		},
	})

	sig, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindMathOverflow, e.Kind)
	assert.False(t, sig.IsZero())

	state := h.orch.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, sig.String(), state.Signature)
	assert.Contains(t, state.Error, "Confirmation failed: ")
	assert.Equal(t, "Transaction was sent but network confirmation failed. Check the transaction status manually.", state.Message)

	waitIdle(t, h.orch)
	assert.Empty(t, h.orch.State().Signature)
}

func TestDeposit_ConfirmationTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.opts.ConfirmTimeout = 20 * time.Millisecond
	h.mock.SetStatuses(nil)

	sig, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindConfirmationTimeout, e.Kind)
	assert.Equal(t, sig.String(), h.orch.State().Signature)
	assert.Len(t, h.mock.Sent(), 1, "confirmation is never retried by resending")
}

func TestDeposit_SendFailureHasNoSignature(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.SetSendError(errors.New("Transaction simulation failed: Attempt to debit an account but found no record of a prior credit. insufficient funds"))

	sig, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInsufficientFunds, e.Kind)
	assert.True(t, sig.IsZero())
	assert.Empty(t, h.orch.State().Signature)
	assert.Equal(t, "Insufficient funds to complete the transaction", h.orch.State().Message)
}

func TestLock_CarriesPreFeeAmountAndTier(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Lock(context.Background(), 1_000_000, h.deriver.AssetMint(), h.nft, TierLong)
	require.NoError(t, err)

	sent := h.mock.Sent()
	require.Len(t, sent, 1)
	data := []byte(sent[0].Message.Instructions[0].Data)
	require.Len(t, data, 17)
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, byte(TierLong), data[16])

	_, err = h.orch.Lock(context.Background(), 1, h.deriver.AssetMint(), h.nft, Tier(9))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.True(t, e.Local())
}

func TestMintNFT_MintKeyCoSigns(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.MintNFT(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Mint.IsZero())

	wantATA, err := pda.AssociatedTokenAddress(res.Mint, h.wallet.PublicKey(), false)
	require.NoError(t, err)
	assert.Equal(t, wantATA, res.TokenAccount)

	sent := h.mock.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Equal(t, uint8(2), tx.Message.Header.NumRequiredSignatures)
	require.Len(t, tx.Signatures, 2)
	for _, s := range tx.Signatures {
		assert.False(t, s.IsZero())
	}
	assert.True(t, tx.Message.AccountKeys[0].Equals(h.wallet.PublicKey()))
	assert.Equal(t, tx.Signatures[0], res.Signature)
}

func TestMintTokens(t *testing.T) {
	h := newHarness(t, nil)
	mint := solanago.NewWallet().PublicKey()

	_, err := h.orch.MintTokens(context.Background(), 0, mint)
	require.Error(t, err)

	_, err = h.orch.MintTokens(context.Background(), 1_000_000_000, mint)
	require.NoError(t, err)
	sent := h.mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testTokenProgram, sent[0].Message.AccountKeys[sent[0].Message.Instructions[0].ProgramIDIndex])
}

func TestInitializeCollection_RejectsLongName(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.InitializeCollection(context.Background(), "a name that is far longer than thirty-two bytes", "VID", "https://example.com/")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, h.orch.State().Status)
	assert.Empty(t, h.mock.Sent())
}

func TestPublisherReceivesEveryUpdate(t *testing.T) {
	h := newHarness(t, nil)
	pub := &recordingPublisher{}
	h.orch.WithPublisher(pub)

	_, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	waitIdle(t, h.orch)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.states)
	assert.Equal(t, StatusBuilding, pub.states[0].Status)
	assert.Equal(t, StatusIdle, pub.states[len(pub.states)-1].Status)
}

// TestDepositEndToEnd seeds an empty vault, deposits through a wallet that
// signs instantly against a chain that confirms on the first poll, and
// checks the refreshed position at a 1:1 share price.
func TestDepositEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var loader *query.Loader
	h := newHarness(t, refresherFunc(func(ctx context.Context, nfts ...solanago.PublicKey) error {
		return loader.Refresh(ctx, nfts...)
	}))
	loader = query.NewLoader(h.conn, h.deriver, h.wallet.PublicKey(), query.Options{Concurrency: 2}, nil, logger)

	vault := &solana.Vault{
		Owner:     h.deriver.VaultOwner(),
		AssetMint: h.deriver.AssetMint(),
		ShareMint: h.deriver.ShareMint(),
		Bump:      h.set.Vault.Bump,
	}
	require.NoError(t, h.mock.SetVault(h.set.Vault.Key, testVaultProgram, vault))
	require.NoError(t, h.mock.SetTokenAccount(h.set.VaultTokenAccount, h.deriver.AssetMint(), h.set.Vault.Key, 0, 6))

	// Apply the deposit the way the vault program would at a 1:1 price.
	h.mock.OnSend(func(tx *solanago.Transaction) {
		data := []byte(tx.Message.Instructions[0].Data)
		amount := binary.LittleEndian.Uint64(data[8:16])
		vault.TotalShares += amount
		_ = h.mock.SetVault(h.set.Vault.Key, testVaultProgram, vault)
		_ = h.mock.SetTokenAccount(h.set.VaultTokenAccount, h.deriver.AssetMint(), h.set.Vault.Key, amount, 6)
		_ = h.mock.SetUserInfo(h.set.UserInfo.Key, testVaultProgram, &solana.UserInfo{
			Vault:   h.set.Vault.Key,
			NFTMint: h.nft,
			Owner:   h.wallet.PublicKey(),
			Shares:  amount,
		})
	})

	_, err := loader.LoadUserPosition(context.Background(), h.nft)
	require.ErrorIs(t, err, query.ErrPositionNotFound)

	sig, err := h.orch.Deposit(context.Background(), 1_000_000, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, StatusSuccess, h.orch.State().Status)
	assert.Equal(t, sig.String(), h.orch.State().Signature)

	require.Eventually(t, func() bool {
		pos := loader.Position(h.nft)
		return pos != nil && pos.ShareAmount == 1_000_000
	}, 2*time.Second, time.Millisecond)
	pos := loader.Position(h.nft)
	assert.Equal(t, uint64(1_000_000), pos.DepositAmount)
	assert.Equal(t, uint64(1_000_000), loader.VaultSnapshot().TotalShares)

	waitIdle(t, h.orch)
}

type refresherFunc func(ctx context.Context, nfts ...solanago.PublicKey) error

func (f refresherFunc) Refresh(ctx context.Context, nfts ...solanago.PublicKey) error {
	return f(ctx, nfts...)
}

func TestDeposit_CallerCancelDuringConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	pending := make([]*rpc.SignatureStatusesResult, 200)
	h.mock.SetStatuses(append(pending, &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed})...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	confirming := make(chan struct{}, 1)
	h.orch.Subscribe(func(prev, next State) {
		if next.Status == StatusConfirming && prev.Status != StatusConfirming {
			confirming <- struct{}{}
		}
	})
	go func() {
		<-confirming
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	sig, err := h.orch.Deposit(ctx, 10, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	require.Error(t, ctx.Err())

	state := h.orch.State()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, sig.String(), state.Signature)
	waitIdle(t, h.orch)
}

func TestPublisher_ResetPrecedesNextRun(t *testing.T) {
	h := newHarness(t, nil)
	pub := &recordingPublisher{}
	h.orch.WithPublisher(pub)

	second := make(chan error, 1)
	var once sync.Once
	h.orch.Subscribe(func(prev, next State) {
		if next.Status != StatusIdle {
			return
		}
		once.Do(func() {
			go func() {
				_, err := h.orch.Deposit(context.Background(), 20, h.deriver.AssetMint(), h.nft)
				second <- err
			}()
			time.Sleep(50 * time.Millisecond)
		})
	})

	_, err := h.orch.Deposit(context.Background(), 10, h.deriver.AssetMint(), h.nft)
	require.NoError(t, err)
	require.NoError(t, <-second)
	waitIdle(t, h.orch)

	run := []Status{StatusBuilding, StatusSigning, StatusConfirming, StatusSuccess, StatusSuccess, StatusIdle}
	want := append(append([]Status(nil), run...), run...)
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.states) == len(want)
	}, 2*time.Second, time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	got := make([]Status, 0, len(pub.states))
	for _, s := range pub.states {
		got = append(got, s.Status)
	}
	assert.Equal(t, want, got)
}

func TestMintNFTs_MintsInSequence(t *testing.T) {
	h := newHarness(t, nil)

	minted, err := h.orch.MintNFTs(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, minted, 3)
	assert.Len(t, h.mock.Sent(), 3)

	seen := map[solanago.PublicKey]bool{}
	for _, m := range minted {
		assert.False(t, m.Signature.IsZero())
		seen[m.Mint] = true
	}
	assert.Len(t, seen, 3)
	waitIdle(t, h.orch)
}

func TestMintNFTs_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, nil)
	var sends int
	h.mock.OnSend(func(tx *solanago.Transaction) {
		sends++
		if sends == 2 {
			h.mock.SetSendError(errors.New("node is behind"))
		}
	})

	minted, err := h.orch.MintNFTs(context.Background(), 4)
	require.Error(t, err)
	require.Len(t, minted, 2)
	assert.Len(t, h.mock.Sent(), 2)
	assert.Equal(t, 3, h.wallet.Calls())
	waitIdle(t, h.orch)
}

func TestMintNFTs_InvalidCount(t *testing.T) {
	h := newHarness(t, nil)

	minted, err := h.orch.MintNFTs(context.Background(), 0)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidAmount, e.Kind)
	assert.Empty(t, minted)
	assert.Zero(t, h.wallet.Calls())
}
