package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/nftvault/service/solana"
)

var (
	// ErrBusy is returned when an operation is requested while another one
	// is still in flight. The state is left untouched.
	ErrBusy = errors.New("another transaction is in progress")

	// ErrUserRejected is returned by a Wallet that declined to sign.
	ErrUserRejected = errors.New("user rejected the request")
)

// Kind classifies an operation failure.
type Kind string

const (
	KindSelectionIncomplete  Kind = "SelectionIncomplete"
	KindInvalidAmount        Kind = "InvalidAmount"
	KindUnsupportedAsset     Kind = "UnsupportedAsset"
	KindNFTOwnershipUnproven Kind = "NFTOwnershipUnproven"
	KindInsufficientShares   Kind = "InsufficientShares"
	KindUserRejected         Kind = "UserRejected"
	KindDuplicateTransaction Kind = "DuplicateTransaction"
	KindInsufficientFunds    Kind = "InsufficientFunds"
	KindMathOverflow         Kind = "MathOverflow"
	KindConfirmationTimeout  Kind = "ConfirmationTimeout"
	KindUnknown              Kind = "Unknown"
)

// Error is a classified operation failure. Summary is the short form shown
// as the state's error; Message is the sentence shown to the user.
type Error struct {
	Kind    Kind
	Summary string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Local reports whether the failure was caught before any state transition.
func (e *Error) Local() bool {
	switch e.Kind {
	case KindSelectionIncomplete, KindInvalidAmount, KindUnsupportedAsset:
		return true
	}
	return false
}

func newError(kind Kind, summary, message string, err error) *Error {
	return &Error{Kind: kind, Summary: summary, Message: message, Err: err}
}

// failed wraps a precondition failure whose text is shown verbatim.
func failed(kind Kind, err error) *Error {
	msg := err.Error()
	return newError(kind, msg, "Transaction failed: "+msg, err)
}

// Classify maps a wallet, network or program error onto the failure
// taxonomy by its message. Unmatched errors are KindUnknown and keep the raw
// message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case errors.Is(err, ErrUserRejected) || has("rejected"):
		return newError(KindUserRejected, "Transaction cancelled", "Transaction was cancelled by user", err)
	case has("already been processed"):
		return newError(KindDuplicateTransaction, "Duplicate transaction", "This transaction has already been processed", err)
	case has("insufficient funds", "insufficient lamports"):
		return newError(KindInsufficientFunds, "Insufficient funds", "Insufficient funds to complete the transaction", err)
	case has("overflow", solana.ErrProgramMathOverflow.Hex()):
		return newError(KindMathOverflow, "Amount too large", "Transaction amount causes mathematical overflow. Try a smaller amount.", err)
	case has("insufficient shares", solana.ErrProgramInsufficientShares.Hex()):
		return newError(KindInsufficientShares, "Insufficient shares", "Transaction failed: "+msg, err)
	case has("invalid amount", "invalid deposit amount", solana.ErrProgramInvalidAmount.Hex()):
		return newError(KindInvalidAmount, "Invalid amount", "Transaction failed: "+msg, err)
	case errors.Is(err, solana.ErrConfirmationTimeout) || errors.Is(err, context.DeadlineExceeded) ||
		has("block height exceeded", "timeout", "timed out"):
		return newError(KindConfirmationTimeout, "Confirmation timed out", "Transaction failed: "+msg, err)
	default:
		return newError(KindUnknown, msg, "Transaction failed: "+msg, err)
	}
}
