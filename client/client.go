package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/nftvault/service/network"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/selection"
	"github.com/brojonat/nftvault/service/solana"
	"github.com/brojonat/nftvault/service/txn"
)

// Client is the HTTP client for the vault service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new vault service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a non-success response from the server. Kind and State are
// set for failed operations.
type APIError struct {
	StatusCode int        `json:"-"`
	Message    string     `json:"error"`
	Kind       txn.Kind   `json:"kind,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	State      *txn.State `json:"state,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Selection is the server's selection plus its completeness.
type Selection struct {
	selection.Selection
	Complete bool `json:"complete"`
}

// SelectionRequest updates the selection. Empty fields are left unchanged.
type SelectionRequest struct {
	TokenAccount string `json:"token_account,omitempty"`
	TokenMint    string `json:"token_mint,omitempty"`
	IdentityNFT  string `json:"identity_nft,omitempty"`
}

// OperationRequest is a deposit, withdraw or lock. AssetMint and NFT
// default to the server's selection.
type OperationRequest struct {
	Amount    uint64 `json:"amount"`
	AssetMint string `json:"asset_mint,omitempty"`
	NFT       string `json:"nft,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

// OperationResult is a confirmed operation.
type OperationResult struct {
	Signature string    `json:"signature"`
	State     txn.State `json:"state"`
}

// MintResult is a confirmed identity NFT mint.
type MintResult struct {
	Signature    string    `json:"signature"`
	Mint         string    `json:"mint"`
	TokenAccount string    `json:"token_account"`
	State        txn.State `json:"state"`
}

// MintBatchResult is a batch of identity NFT mints. Error is set when the
// batch stopped early.
type MintBatchResult struct {
	Minted    []MintResult `json:"minted"`
	Requested int          `json:"requested"`
	Error     string       `json:"error,omitempty"`
	State     txn.State    `json:"state"`
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// Network returns the server's network binding.
func (c *Client) Network(ctx context.Context) (*network.State, error) {
	var out network.State
	if err := c.do(ctx, http.MethodGet, "/api/v1/network", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncNetwork reports the wallet's network to the server.
func (c *Client) SyncNetwork(ctx context.Context, name, chainID string) (*network.State, error) {
	var out network.State
	body := map[string]string{"name": name, "chain_id": chainID}
	if err := c.do(ctx, http.MethodPut, "/api/v1/network", body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("network synced", "network", name, "ready", out.Ready)
	return &out, nil
}

// Selection returns the current selection.
func (c *Client) Selection(ctx context.Context) (*Selection, error) {
	var out Selection
	if err := c.do(ctx, http.MethodGet, "/api/v1/selection", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetSelection updates the selection.
func (c *Client) SetSelection(ctx context.Context, req SelectionRequest) (*Selection, error) {
	var out Selection
	if err := c.do(ctx, http.MethodPut, "/api/v1/selection", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearSelection clears the selection.
func (c *Client) ClearSelection(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/selection", nil, http.StatusNoContent, nil)
}

// Accounts derives the account set for an identity NFT. An empty nft uses
// the selected one.
func (c *Client) Accounts(ctx context.Context, nft, assetMint string) (*pda.AccountSet, error) {
	q := url.Values{}
	if nft != "" {
		q.Set("nft", nft)
	}
	if assetMint != "" {
		q.Set("asset_mint", assetMint)
	}
	var out pda.AccountSet
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/accounts", q), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Vault returns the vault snapshot, reloading it when refresh is set.
func (c *Client) Vault(ctx context.Context, refresh bool) (*query.VaultSnapshot, error) {
	q := url.Values{}
	if refresh {
		q.Set("refresh", "true")
	}
	var out query.VaultSnapshot
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/vault", q), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Position returns the wallet's position for an identity NFT.
func (c *Client) Position(ctx context.Context, nft string) (*query.Position, error) {
	var out query.Position
	path := "/api/v1/positions/" + url.PathEscape(nft)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balances returns the wallet's non-zero balances for mints, or for the
// server's configured mints when none are given.
func (c *Client) Balances(ctx context.Context, mints ...string) ([]query.TokenBalance, error) {
	q := url.Values{}
	for _, m := range mints {
		q.Add("mint", m)
	}
	var out struct {
		Balances []query.TokenBalance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/balances", q), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// Collection returns the identity collection.
func (c *Client) Collection(ctx context.Context) (*solana.Collection, error) {
	var out solana.Collection
	if err := c.do(ctx, http.MethodGet, "/api/v1/collection", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TxState returns the current transaction state.
func (c *Client) TxState(ctx context.Context) (*txn.State, error) {
	var out txn.State
	if err := c.do(ctx, http.MethodGet, "/api/v1/tx", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeePreview returns the advisory lock fee for amount base units.
func (c *Client) FeePreview(ctx context.Context, amount uint64, tier string) (*txn.FormattedFeePreview, error) {
	q := url.Values{}
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("tier", tier)
	var out txn.FormattedFeePreview
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/fee-preview", q), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit deposits into the vault.
func (c *Client) Deposit(ctx context.Context, req OperationRequest) (*OperationResult, error) {
	return c.operation(ctx, "/api/v1/deposit", req)
}

// Withdraw redeems shares from the vault.
func (c *Client) Withdraw(ctx context.Context, req OperationRequest) (*OperationResult, error) {
	return c.operation(ctx, "/api/v1/withdraw", req)
}

// Lock deposits under a lock tier.
func (c *Client) Lock(ctx context.Context, req OperationRequest) (*OperationResult, error) {
	return c.operation(ctx, "/api/v1/lock", req)
}

// InitializeCollection creates the identity collection.
func (c *Client) InitializeCollection(ctx context.Context, name, symbol, baseURI string) (*OperationResult, error) {
	body := map[string]string{"name": name, "symbol": symbol, "base_uri": baseURI}
	return c.operation(ctx, "/api/v1/collection", body)
}

// MintNFT mints an identity NFT to the server's wallet.
func (c *Client) MintNFT(ctx context.Context) (*MintResult, error) {
	var out MintResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/nfts", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MintNFTs mints count identity NFTs to the server's wallet in sequence.
func (c *Client) MintNFTs(ctx context.Context, count int) (*MintBatchResult, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	var out MintBatchResult
	if err := c.do(ctx, http.MethodPost, withQuery("/api/v1/nfts", q), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MintTokens mints test tokens to the server's wallet. An empty mint uses
// the vault asset mint.
func (c *Client) MintTokens(ctx context.Context, amount uint64, mint string) (*OperationResult, error) {
	body := map[string]interface{}{"amount": amount}
	if mint != "" {
		body["mint"] = mint
	}
	return c.operation(ctx, "/api/v1/tokens/mint", body)
}

func (c *Client) operation(ctx context.Context, path string, body interface{}) (*OperationResult, error) {
	var out OperationResult
	if err := c.do(ctx, http.MethodPost, path, body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("operation confirmed", "path", path, "signature", out.Signature)
	return &out, nil
}

// StreamTx reads the transaction-state SSE stream, calling handler for each
// state until ctx is done, the stream ends or handler returns an error.
func (c *Client) StreamTx(ctx context.Context, handler func(txn.State) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/tx", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the client's request timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "state":
			var st txn.State
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
				c.logger.Warn("failed to decode state event", "error", err)
				continue
			}
			if err := handler(st); err != nil {
				return err
			}
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return apiErr
}
