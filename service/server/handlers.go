package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/nftvault/service/network"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/selection"
	"github.com/brojonat/nftvault/service/session"
	"github.com/brojonat/nftvault/service/txn"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20
	maxAddressLength   = 100 // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetNetwork returns the network binding state.
// GET /api/v1/network
func handleGetNetwork(sess *session.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sess.Binding.State(), http.StatusOK)
	})
}

type syncNetworkRequest struct {
	Name    string `json:"name"`
	ChainID string `json:"chain_id"`
}

// handleSyncNetwork reports the wallet's network to the binding.
// PUT /api/v1/network
func handleSyncNetwork(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncNetworkRequest
		if !decodeBody(w, r, &req) {
			return
		}
		state := sess.Binding.Sync(req.Name, req.ChainID)
		logger.Info("network synced", "network", req.Name, "chain_id", req.ChainID, "ready", state.Ready)
		writeJSON(w, state, http.StatusOK)
	})
}

// handleGetSelection returns the current selection.
// GET /api/v1/selection
func handleGetSelection(sess *session.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, selectionResponse(sess.Selection.Current()), http.StatusOK)
	})
}

type selectionRequest struct {
	TokenAccount string `json:"token_account,omitempty"`
	TokenMint    string `json:"token_mint,omitempty"`
	IdentityNFT  string `json:"identity_nft,omitempty"`
}

type selectionBody struct {
	selection.Selection
	Complete bool `json:"complete"`
}

func selectionResponse(sel selection.Selection) selectionBody {
	return selectionBody{Selection: sel, Complete: sel.Complete()}
}

// handleSetSelection updates the token and/or identity selection.
// PUT /api/v1/selection
func handleSetSelection(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req selectionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if req.TokenMint == "" && req.TokenAccount != "" {
			writeError(w, "token_mint is required with token_account", http.StatusBadRequest)
			return
		}
		if req.TokenMint == "" && req.IdentityNFT == "" {
			writeError(w, "token_mint or identity_nft is required", http.StatusBadRequest)
			return
		}

		var (
			mint, nft solanago.PublicKey
			account   *solanago.PublicKey
			err       error
		)
		if req.TokenMint != "" {
			if mint, err = parseAddress("token_mint", req.TokenMint); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if req.TokenAccount != "" {
			pk, err := parseAddress("token_account", req.TokenAccount)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			account = &pk
		}
		if req.IdentityNFT != "" {
			if nft, err = parseAddress("identity_nft", req.IdentityNFT); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if req.TokenMint != "" {
			sess.Selection.SetTokenSelection(account, mint)
		}
		if req.IdentityNFT != "" {
			sess.Selection.SetIdentitySelection(nft)
		}

		current := sess.Selection.Current()
		logger.Debug("selection updated", "complete", current.Complete())
		writeJSON(w, selectionResponse(current), http.StatusOK)
	})
}

// handleClearSelection clears the selection.
// DELETE /api/v1/selection
func handleClearSelection(sess *session.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess.Selection.ClearAll()
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetAccounts derives the account set for the wallet and an identity NFT.
// GET /api/v1/accounts?nft={mint}&asset_mint={mint}
func handleGetAccounts(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nft, ok := nftParam(w, sess, r.URL.Query().Get("nft"))
		if !ok {
			return
		}
		assetMint := sess.Deriver.AssetMint()
		if v := r.URL.Query().Get("asset_mint"); v != "" {
			pk, err := parseAddress("asset_mint", v)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			assetMint = pk
		}

		set, err := sess.Deriver.AccountsForAsset(sess.Wallet.PublicKey(), nft, assetMint)
		if err != nil {
			logger.Debug("failed to derive accounts", "nft", nft, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, set, http.StatusOK)
	})
}

// handleGetVault returns the vault snapshot.
// GET /api/v1/vault?refresh=true
func handleGetVault(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "true" {
			sess.Loader.Invalidate("api_refresh")
		}
		snap, err := sess.Loader.LoadVaultSnapshot(r.Context())
		if err != nil {
			writeQueryError(w, logger, "vault", err)
			return
		}
		writeJSON(w, snap, http.StatusOK)
	})
}

// handleGetPosition returns the wallet's position for an identity NFT.
// GET /api/v1/positions/{nft}
func handleGetPosition(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nft, err := parseAddress("nft", r.PathValue("nft"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pos, err := sess.Loader.LoadUserPosition(r.Context(), nft)
		if err != nil {
			writeQueryError(w, logger, "position", err)
			return
		}
		writeJSON(w, pos, http.StatusOK)
	})
}

// handleGetBalances returns the wallet's non-zero token balances.
// GET /api/v1/balances?mint={mint}&mint={mint}
func handleGetBalances(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints := sess.Config.TokenMints
		if raw := r.URL.Query()["mint"]; len(raw) > 0 {
			mints = make([]solanago.PublicKey, 0, len(raw))
			for _, v := range raw {
				pk, err := parseAddress("mint", v)
				if err != nil {
					writeError(w, err.Error(), http.StatusBadRequest)
					return
				}
				mints = append(mints, pk)
			}
		}

		balances, err := sess.Loader.LoadUserTokenBalances(r.Context(), mints)
		if err != nil {
			writeQueryError(w, logger, "balances", err)
			return
		}
		if balances == nil {
			balances = []query.TokenBalance{}
		}
		writeJSON(w, map[string]interface{}{
			"wallet":   sess.Wallet.PublicKey().String(),
			"balances": balances,
		}, http.StatusOK)
	})
}

// handleGetCollection returns the identity collection.
// GET /api/v1/collection
func handleGetCollection(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := sess.Loader.LoadCollection(r.Context())
		if err != nil {
			writeQueryError(w, logger, "collection", err)
			return
		}
		writeJSON(w, c, http.StatusOK)
	})
}

// handleGetTxState returns the current transaction state.
// GET /api/v1/tx
func handleGetTxState(sess *session.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sess.Orchestrator.State(), http.StatusOK)
	})
}

// handleFeePreview returns the advisory fee for a lock tier.
// GET /api/v1/fee-preview?amount={units}&tier={tier}
func handleFeePreview(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
		if err != nil {
			writeError(w, "amount must be a non-negative integer", http.StatusBadRequest)
			return
		}
		tier, err := txn.ParseTier(q.Get("tier"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		decimals := uint8(0)
		if snap := sess.Loader.VaultSnapshot(); snap != nil {
			decimals = snap.Decimals
		} else if snap, err := sess.Loader.LoadVaultSnapshot(r.Context()); err == nil {
			decimals = snap.Decimals
		} else {
			logger.Debug("fee preview without vault decimals", "error", err)
		}

		writeJSON(w, tier.PreviewFee(amount).Format(decimals), http.StatusOK)
	})
}

type operationRequest struct {
	Amount    uint64 `json:"amount"`
	AssetMint string `json:"asset_mint,omitempty"`
	NFT       string `json:"nft,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

type operationResponse struct {
	Signature string    `json:"signature"`
	State     txn.State `json:"state"`
}

// handleVaultOperation runs a deposit, withdraw or lock. The asset mint and
// identity NFT default to the current selection.
// POST /api/v1/{deposit,withdraw,lock}
func handleVaultOperation(sess *session.Session, op txn.Operation, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		current := sess.Selection.Current()
		assetMint := sess.Deriver.AssetMint()
		if current.TokenMint != nil {
			assetMint = *current.TokenMint
		}
		if req.AssetMint != "" {
			pk, err := parseAddress("asset_mint", req.AssetMint)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			assetMint = pk
		}

		var nft solanago.PublicKey
		if current.IdentityNFT != nil {
			nft = *current.IdentityNFT
		}
		if req.NFT != "" {
			pk, err := parseAddress("nft", req.NFT)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			nft = pk
		}

		var (
			sig solanago.Signature
			err error
		)
		switch op {
		case txn.OpDeposit:
			sig, err = sess.Orchestrator.Deposit(r.Context(), req.Amount, assetMint, nft)
		case txn.OpWithdraw:
			sig, err = sess.Orchestrator.Withdraw(r.Context(), req.Amount, assetMint, nft)
		case txn.OpLock:
			tier, perr := txn.ParseTier(req.Tier)
			if perr != nil {
				writeError(w, perr.Error(), http.StatusBadRequest)
				return
			}
			sig, err = sess.Orchestrator.Lock(r.Context(), req.Amount, assetMint, nft, tier)
		default:
			writeError(w, fmt.Sprintf("unknown operation %q", op), http.StatusNotFound)
			return
		}
		writeOperationResult(w, sess, logger, op, sig, err)
	})
}

type collectionRequest struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
}

// handleInitializeCollection creates the identity collection.
// POST /api/v1/collection
func handleInitializeCollection(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req collectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.Symbol == "" {
			writeError(w, "name and symbol are required", http.StatusBadRequest)
			return
		}
		sig, err := sess.Orchestrator.InitializeCollection(r.Context(), req.Name, req.Symbol, req.BaseURI)
		writeOperationResult(w, sess, logger, txn.OpInitializeCollection, sig, err)
	})
}

const maxBatchMint = 20

func mintJSON(m *txn.MintResult) map[string]interface{} {
	return map[string]interface{}{
		"signature":     m.Signature.String(),
		"mint":          m.Mint.String(),
		"token_account": m.TokenAccount.String(),
	}
}

// handleMintNFT mints identity NFTs to the wallet, one unless ?count= asks
// for a batch. A batch stops at the first failure and reports the mints
// that confirmed alongside the error.
// POST /api/v1/nfts
func handleMintNFT(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := 1
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxBatchMint {
				writeError(w, fmt.Sprintf("count must be between 1 and %d", maxBatchMint), http.StatusBadRequest)
				return
			}
			count = n
		}

		if count == 1 {
			result, err := sess.Orchestrator.MintNFT(r.Context())
			if err != nil {
				writeOperationResult(w, sess, logger, txn.OpMintNFT, solanago.Signature{}, err)
				return
			}
			body := mintJSON(result)
			body["state"] = sess.Orchestrator.State()
			writeJSON(w, body, http.StatusOK)
			return
		}

		minted, err := sess.Orchestrator.MintNFTs(r.Context(), count)
		if err != nil && len(minted) == 0 {
			writeOperationResult(w, sess, logger, txn.OpMintNFT, solanago.Signature{}, err)
			return
		}
		nfts := make([]map[string]interface{}, 0, len(minted))
		for _, m := range minted {
			nfts = append(nfts, mintJSON(m))
		}
		body := map[string]interface{}{
			"minted":    nfts,
			"requested": count,
			"state":     sess.Orchestrator.State(),
		}
		if err != nil {
			logger.Warn("batch mint incomplete", "minted", len(minted), "requested", count, "error", err)
			body["error"] = err.Error()
		}
		writeJSON(w, body, http.StatusOK)
	})
}

type mintTokensRequest struct {
	Amount uint64 `json:"amount"`
	Mint   string `json:"mint,omitempty"`
}

// handleMintTokens mints test tokens to the wallet.
// POST /api/v1/tokens/mint
func handleMintTokens(sess *session.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mintTokensRequest
		if !decodeBody(w, r, &req) {
			return
		}
		mint := sess.Deriver.AssetMint()
		if req.Mint != "" {
			pk, err := parseAddress("mint", req.Mint)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			mint = pk
		}
		sig, err := sess.Orchestrator.MintTokens(r.Context(), req.Amount, mint)
		writeOperationResult(w, sess, logger, txn.OpMintTokens, sig, err)
	})
}

// writeOperationResult maps an orchestrator result to a response: local
// validation errors are 400, a busy orchestrator 409, anything else 422.
func writeOperationResult(w http.ResponseWriter, sess *session.Session, logger *slog.Logger, op txn.Operation, sig solanago.Signature, err error) {
	state := sess.Orchestrator.State()
	if err == nil {
		writeJSON(w, operationResponse{Signature: sig.String(), State: state}, http.StatusOK)
		return
	}

	if errors.Is(err, txn.ErrBusy) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"state": state,
	}
	if !sig.IsZero() {
		body["signature"] = sig.String()
	}

	var txErr *txn.Error
	if errors.As(err, &txErr) {
		body["kind"] = txErr.Kind
		if txErr.Local() {
			writeJSON(w, body, http.StatusBadRequest)
			return
		}
	} else {
		body["kind"] = txn.KindUnknown
	}

	logger.Warn("operation failed", "operation", op, "error", err)
	writeJSON(w, body, http.StatusUnprocessableEntity)
}

// writeQueryError maps a query layer error to a response.
func writeQueryError(w http.ResponseWriter, logger *slog.Logger, what string, err error) {
	switch {
	case errors.Is(err, network.ErrNotReady):
		writeError(w, "network not ready", http.StatusServiceUnavailable)
	case errors.Is(err, query.ErrVaultNotFound),
		errors.Is(err, query.ErrPositionNotFound),
		errors.Is(err, query.ErrCollectionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		logger.Error("query failed", "query", what, "error", err)
		writeError(w, fmt.Sprintf("failed to load %s", what), http.StatusBadGateway)
	}
}

// nftParam resolves an identity NFT from a request value or the selection.
func nftParam(w http.ResponseWriter, sess *session.Session, value string) (solanago.PublicKey, bool) {
	if value == "" {
		if current := sess.Selection.Current(); current.IdentityNFT != nil {
			return *current.IdentityNFT, true
		}
		writeError(w, "nft is required", http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	pk, err := parseAddress("nft", value)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	return pk, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// parseAddress validates and decodes a base58 public key parameter.
func parseAddress(field, address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, errorf("invalid %s: %v", field, err)
	}
	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid %s: %v", field, err)
	}
	return pk, nil
}

// validateAddress validates an address for format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
