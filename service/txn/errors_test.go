package txn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	overflow := &solana.TransactionError{
		Signature: solanago.Signature{1},
		Err: map[string]interface{}{
			"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": float64(6004)}},
		},
	}

	tests := []struct {
		name        string
		err         error
		wantKind    Kind
		wantSummary string
		wantMessage string
	}{
		{
			name:        "wallet rejection",
			err:         errors.New("WalletSignTransactionError: User rejected the request."),
			wantKind:    KindUserRejected,
			wantSummary: "Transaction cancelled",
			wantMessage: "Transaction was cancelled by user",
		},
		{
			name:        "wrapped rejection sentinel",
			err:         fmt.Errorf("sign: %w", ErrUserRejected),
			wantKind:    KindUserRejected,
			wantSummary: "Transaction cancelled",
			wantMessage: "Transaction was cancelled by user",
		},
		{
			name:        "duplicate",
			err:         errors.New("Transaction simulation failed: This transaction has already been processed"),
			wantKind:    KindDuplicateTransaction,
			wantSummary: "Duplicate transaction",
			wantMessage: "This transaction has already been processed",
		},
		{
			name:        "insufficient funds",
			err:         errors.New("Attempt to debit an account: insufficient funds for fee"),
			wantKind:    KindInsufficientFunds,
			wantSummary: "Insufficient funds",
			wantMessage: "Insufficient funds to complete the transaction",
		},
		{
			name:        "insufficient lamports",
			err:         errors.New("Transfer: insufficient lamports 10, need 5000"),
			wantKind:    KindInsufficientFunds,
			wantSummary: "Insufficient funds",
			wantMessage: "Insufficient funds to complete the transaction",
		},
		{
			name:        "overflow in logs",
			err:         errors.New("Program log: Error: arithmetic overflow"),
			wantKind:    KindMathOverflow,
			wantSummary: "Amount too large",
			wantMessage: "Transaction amount causes mathematical overflow. Try a smaller amount.",
		},
		{
			name:        "overflow program error",
			err:         overflow,
			wantKind:    KindMathOverflow,
			wantSummary: "Amount too large",
			wantMessage: "Transaction amount causes mathematical overflow. Try a smaller amount.",
		},
		{
			name:        "custom program error hex only",
			err:         errors.New("failed to send transaction: custom program error: 0x1772"),
			wantKind:    KindInsufficientShares,
			wantSummary: "Insufficient shares",
			wantMessage: "Transaction failed: failed to send transaction: custom program error: 0x1772",
		},
		{
			name:        "invalid amount program error",
			err:         errors.New("custom program error: 0x1770"),
			wantKind:    KindInvalidAmount,
			wantSummary: "Invalid amount",
			wantMessage: "Transaction failed: custom program error: 0x1770",
		},
		{
			name:        "confirmation timeout",
			err:         fmt.Errorf("wait: %w", solana.ErrConfirmationTimeout),
			wantKind:    KindConfirmationTimeout,
			wantSummary: "Confirmation timed out",
		},
		{
			name:        "blockhash expired",
			err:         errors.New("block height exceeded"),
			wantKind:    KindConfirmationTimeout,
			wantSummary: "Confirmation timed out",
		},
		{
			name:        "unknown keeps raw message",
			err:         errors.New("connection reset by peer"),
			wantKind:    KindUnknown,
			wantSummary: "connection reset by peer",
			wantMessage: "Transaction failed: connection reset by peer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantSummary, got.Summary)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, got.Message)
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	assert.Nil(t, Classify(nil))

	orig := newError(KindInsufficientShares, "s", "m", nil)
	assert.Same(t, orig, Classify(fmt.Errorf("withdraw: %w", orig)))
}

func TestErrorMessage(t *testing.T) {
	e := failed(KindInsufficientShares, errors.New("Insufficient shares. Available: 1000, Requested: 1500"))
	assert.Equal(t, "Insufficient shares. Available: 1000, Requested: 1500", e.Summary)
	assert.Equal(t, "Transaction failed: Insufficient shares. Available: 1000, Requested: 1500", e.Error())
	assert.False(t, e.Local())
}
