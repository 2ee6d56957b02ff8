package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

var (
	// ErrAccountNotFound is returned when an account does not exist on chain.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConfirmationTimeout is returned when a signature is not confirmed
	// before the confirmation deadline.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Account is a raw on-chain account.
type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// TokenBalance is a token account balance in base units.
type TokenBalance struct {
	Amount   uint64
	Decimals uint8
}

// Client wraps the RPC client with the reads and writes the vault needs.
// Reads are retried on rate limiting; sends never are.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	limiter      *rate.Limiter
	retryBackoff time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		retryBackoff: 2 * time.Second,
	}
}

// WithRateLimit bounds the client to rps requests per second.
// A non-positive rps disables limiting.
func (c *Client) WithRateLimit(rps float64) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// Endpoint returns the endpoint label the client reports metrics under.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// call waits for the rate limiter, runs fn once and records the call.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", method, err)
		}
	}

	start := time.Now()
	err := fn()
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
	return err
}

// callWithRetry is call with exponential backoff on 429 responses.
func (c *Client) callWithRetry(ctx context.Context, method string, fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := range maxAttempts {
		err = c.call(ctx, method, fn)
		if err == nil || !isRateLimited(err) {
			return err
		}

		backoff := c.retryBackoff << uint(attempt) // 2s, 4s, 8s
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		c.metrics.RecordRateLimitHit(c.endpoint)
		c.metrics.RecordRPCRetry(method, "rate_limit")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}

func isMissingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "invalid param: could not find")
}

// GetAccount reads an account. A missing account yields ErrAccountNotFound.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	var result *rpc.GetAccountInfoResult
	err := c.callWithRetry(ctx, "GetAccountInfo", func() error {
		var err error
		result, err = c.rpc.GetAccountInfo(ctx, address)
		return err
	})
	if err != nil {
		if isMissingAccount(err) {
			return nil, fmt.Errorf("account %s: %w", address, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("account %s: %w", address, ErrAccountNotFound)
	}

	acc := &Account{
		Address:  address,
		Owner:    result.Value.Owner,
		Lamports: result.Value.Lamports,
	}
	if result.Value.Data != nil {
		acc.Data = result.Value.Data.GetBinary()
	}
	return acc, nil
}

// GetTokenAccount reads and decodes an SPL token account.
func (c *Client) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*token.Account, error) {
	acc, err := c.GetAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	if !acc.Owner.Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("account %s is owned by %s, not the token program", address, acc.Owner)
	}
	return DecodeTokenAccount(acc.Data)
}

// GetTokenBalance reads a token account balance.
// A missing token account yields ErrAccountNotFound.
func (c *Client) GetTokenBalance(ctx context.Context, address solana.PublicKey) (*TokenBalance, error) {
	var result *rpc.GetTokenAccountBalanceResult
	err := c.callWithRetry(ctx, "GetTokenAccountBalance", func() error {
		var err error
		result, err = c.rpc.GetTokenAccountBalance(ctx, address)
		return err
	})
	if err != nil {
		if isMissingAccount(err) {
			return nil, fmt.Errorf("token account %s: %w", address, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("get token balance %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("token account %s: %w", address, ErrAccountNotFound)
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token account %s: invalid amount %q: %w", address, result.Value.Amount, err)
	}
	return &TokenBalance{Amount: amount, Decimals: result.Value.Decimals}, nil
}

// LatestBlockhash fetches a finalized blockhash for a new transaction.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var result *rpc.GetLatestBlockhashResult
	err := c.callWithRetry(ctx, "GetLatestBlockhash", func() error {
		var err error
		result, err = c.rpc.GetLatestBlockhash(ctx)
		return err
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if result == nil || result.Value == nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: empty response")
	}
	return result.Value.Blockhash, nil
}

// SendTransaction broadcasts a signed transaction exactly once.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.call(ctx, "SendTransaction", func() error {
		var err error
		sig, err = c.rpc.SendTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.DebugContext(ctx, "transaction sent", "signature", sig.String())
	return sig, nil
}

// WaitForConfirmation polls the signature status until it reaches confirmed
// or finalized, the transaction fails, or timeout elapses. A failed
// transaction yields a *TransactionError; an elapsed timeout yields
// ErrConfirmationTimeout. Status read errors are logged and polled again.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout, pollInterval time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var result *rpc.GetSignatureStatusesResult
		err := c.call(waitCtx, "GetSignatureStatuses", func() error {
			var err error
			result, err = c.rpc.GetSignatureStatuses(waitCtx, sig)
			return err
		})
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "failed to read signature status",
				"signature", sig.String(),
				"error", err,
			)
		case result != nil && len(result.Value) > 0 && result.Value[0] != nil:
			status := result.Value[0]
			if status.Err != nil {
				return &TransactionError{Signature: sig, Err: status.Err}
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signature %s not confirmed after %s: %w", sig, timeout, ErrConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

const tokenAccountSize = 165

// DecodeTokenAccount decodes SPL token account data.
func DecodeTokenAccount(data []byte) (*token.Account, error) {
	if len(data) < tokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	var acc token.Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	return &acc, nil
}
