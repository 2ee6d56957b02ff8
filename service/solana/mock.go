package solana

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient is an in-memory RPCClient for tests.
// Signature statuses default to confirmed unless SetStatuses is used.
type MockRPCClient struct {
	mu sync.Mutex

	accounts  map[solana.PublicKey]*rpc.Account
	balances  map[solana.PublicKey]*rpc.UiTokenAmount
	blockhash solana.Hash

	sendErr      error
	onSend       func(tx *solana.Transaction)
	sent         []*solana.Transaction
	statuses     []*rpc.SignatureStatusesResult
	statusErr    error
	accountErr   error
	rateLimitFor int

	calls map[string]int
}

// NewMockRPCClient creates an empty mock chain.
func NewMockRPCClient() *MockRPCClient {
	return &MockRPCClient{
		accounts:  make(map[solana.PublicKey]*rpc.Account),
		balances:  make(map[solana.PublicKey]*rpc.UiTokenAmount),
		blockhash: solana.Hash{1},
		calls:     make(map[string]int),
	}
}

// SetAccount stores raw account data.
func (m *MockRPCClient) SetAccount(address, owner solana.PublicKey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[address] = &rpc.Account{
		Owner:    owner,
		Lamports: 1_000_000,
		Data:     rpc.DataBytesOrJSONFromBytes(data),
	}
}

// DeleteAccount removes an account and its token balance.
func (m *MockRPCClient) DeleteAccount(address solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, address)
	delete(m.balances, address)
}

// SetTokenAccount stores an initialized SPL token account and its balance.
func (m *MockRPCClient) SetTokenAccount(address, mint, owner solana.PublicKey, amount uint64, decimals uint8) error {
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(&token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.Initialized,
	}); err != nil {
		return err
	}
	data := buf.Bytes()
	if len(data) < tokenAccountSize {
		data = append(data, make([]byte, tokenAccountSize-len(data))...)
	}
	m.SetAccount(address, solana.TokenProgramID, data)
	m.SetTokenBalance(address, amount, decimals)
	return nil
}

// SetTokenBalance sets the balance reported for a token account.
func (m *MockRPCClient) SetTokenBalance(address solana.PublicKey, amount uint64, decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[address] = &rpc.UiTokenAmount{
		Amount:   strconv.FormatUint(amount, 10),
		Decimals: decimals,
	}
}

// TokenBalance returns the stored balance for a token account.
func (m *MockRPCClient) TokenBalance(address solana.PublicKey) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[address]
	if !ok {
		return 0, false
	}
	v, _ := strconv.ParseUint(b.Amount, 10, 64)
	return v, true
}

// SetSendError makes every SendTransaction fail with err.
func (m *MockRPCClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// OnSend registers a hook run for every accepted transaction, before the
// send returns. Tests use it to apply the transaction's effect.
func (m *MockRPCClient) OnSend(fn func(tx *solana.Transaction)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

// SetStatuses queues signature statuses; the last one repeats. A nil entry
// means the signature is not yet known to the node.
func (m *MockRPCClient) SetStatuses(statuses ...*rpc.SignatureStatusesResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = statuses
}

// SetStatusError makes every status read fail with err.
func (m *MockRPCClient) SetStatusError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// SetAccountError makes every account read fail with err.
func (m *MockRPCClient) SetAccountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = err
}

// SetRateLimited makes the next n account reads fail with a 429.
func (m *MockRPCClient) SetRateLimited(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitFor = n
}

// Sent returns the transactions accepted so far.
func (m *MockRPCClient) Sent() []*solana.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*solana.Transaction(nil), m.sent...)
}

// Calls returns how many times an RPC method was invoked.
func (m *MockRPCClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetAccountInfo"]++
	if m.rateLimitFor > 0 {
		m.rateLimitFor--
		return nil, errors.New("HTTP 429 Too Many Requests")
	}
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	acc, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func (m *MockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetTokenAccountBalance"]++
	bal, ok := m.balances[account]
	if !ok {
		return nil, errors.New("Invalid param: could not find account")
	}
	out := *bal
	return &rpc.GetTokenAccountBalanceResult{Value: &out}, nil
}

func (m *MockRPCClient) GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetLatestBlockhash"]++
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash, LastValidBlockHeight: 100},
	}, nil
}

func (m *MockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.mu.Lock()
	m.calls["SendTransaction"]++
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return solana.Signature{}, err
	}
	m.sent = append(m.sent, tx)
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(tx)
	}
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{9}, nil
}

func (m *MockRPCClient) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetSignatureStatuses"]++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if len(m.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{
			{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		}}, nil
	}
	status := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

// SetVault stores an encoded vault account owned by programID.
func (m *MockRPCClient) SetVault(address, programID solana.PublicKey, v *Vault) error {
	w := newAccountWriter(VaultDiscriminator)
	w.key(v.Owner).key(v.AssetMint).key(v.ShareMint).key(v.NFTCollectionAddress)
	w.u64(v.TotalBorrowed).u64(v.BorrowIndex).u64(v.BorrowRate).i64(v.LastUpdateTime)
	w.u64(v.ReserveFactor).u64(v.TotalReserves).u64(v.TotalShares).u8(v.Bump)
	return w.store(m, address, programID)
}

// SetUserInfo stores an encoded user info account owned by programID.
// Lock fields are written only when HasLock is set.
func (m *MockRPCClient) SetUserInfo(address, programID solana.PublicKey, u *UserInfo) error {
	w := newAccountWriter(UserInfoDiscriminator)
	w.key(u.Vault).key(u.NFTMint).key(u.Owner).u64(u.Shares).i64(u.LastUpdate)
	if u.HasLock {
		w.u8(u.LockTier).i64(u.LockedUntil)
	}
	return w.store(m, address, programID)
}

// SetCollection stores an encoded collection account owned by programID.
func (m *MockRPCClient) SetCollection(address, programID solana.PublicKey, c *Collection) error {
	w := newAccountWriter(CollectionDiscriminator)
	w.key(c.Authority).str(c.Name).str(c.Symbol).str(c.BaseURI)
	w.u64(c.TotalSupply).key(c.WormholeProgramID).u8(c.Bump)
	w.u32(uint32(len(c.UniqueIDToTokenID)))
	for _, e := range c.UniqueIDToTokenID {
		w.id(e.UniqueID).u64(e.TokenID)
	}
	w.u32(uint32(len(c.TokenIDToUniqueID)))
	for _, e := range c.TokenIDToUniqueID {
		w.u64(e.TokenID).id(e.UniqueID)
	}
	w.u32(uint32(len(c.MintToUniqueID)))
	for _, e := range c.MintToUniqueID {
		w.key(e.Mint).id(e.UniqueID)
	}
	w.u32(uint32(len(c.CrossChainUniqueIDs)))
	for _, id := range c.CrossChainUniqueIDs {
		w.id(id)
	}
	return w.store(m, address, programID)
}

// SetUserState stores an encoded user state account owned by programID.
func (m *MockRPCClient) SetUserState(address, programID solana.PublicKey, s *UserState) error {
	w := newAccountWriter(UserStateDiscriminator)
	w.u64(s.Nonce)
	return w.store(m, address, programID)
}

// accountWriter writes borsh fields in order, keeping the first error.
type accountWriter struct {
	buf *bytes.Buffer
	enc *bin.Encoder
	err error
}

func newAccountWriter(disc [8]byte) *accountWriter {
	buf := new(bytes.Buffer)
	w := &accountWriter{buf: buf, enc: bin.NewBorshEncoder(buf)}
	return w.raw(disc[:])
}

func (w *accountWriter) do(fn func() error) *accountWriter {
	if w.err == nil {
		w.err = fn()
	}
	return w
}

func (w *accountWriter) raw(b []byte) *accountWriter {
	return w.do(func() error { return w.enc.WriteBytes(b, false) })
}

func (w *accountWriter) key(pk solana.PublicKey) *accountWriter {
	return w.raw(pk[:])
}

func (w *accountWriter) id(id [32]byte) *accountWriter {
	return w.raw(id[:])
}

func (w *accountWriter) u64(v uint64) *accountWriter {
	return w.do(func() error { return w.enc.WriteUint64(v, bin.LE) })
}

func (w *accountWriter) i64(v int64) *accountWriter {
	return w.do(func() error { return w.enc.WriteInt64(v, bin.LE) })
}

func (w *accountWriter) u32(v uint32) *accountWriter {
	return w.do(func() error { return w.enc.WriteUint32(v, bin.LE) })
}

func (w *accountWriter) u8(v uint8) *accountWriter {
	return w.do(func() error { return w.enc.WriteUint8(v) })
}

func (w *accountWriter) str(s string) *accountWriter {
	return w.do(func() error { return writeString(w.enc, s) })
}

func (w *accountWriter) bytes() []byte {
	return w.buf.Bytes()
}

func (w *accountWriter) store(m *MockRPCClient, address, owner solana.PublicKey) error {
	if w.err != nil {
		return w.err
	}
	m.SetAccount(address, owner, w.buf.Bytes())
	return nil
}
