package txn

import "time"

// Status is a step of the transaction lifecycle.
type Status string

const (
	StatusIdle       Status = "Idle"
	StatusBuilding   Status = "Building"
	StatusSigning    Status = "Signing"
	StatusConfirming Status = "Confirming"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
)

// Operation names a mutating entry point.
type Operation string

const (
	OpDeposit              Operation = "deposit"
	OpWithdraw             Operation = "withdraw"
	OpLock                 Operation = "lock"
	OpInitializeCollection Operation = "initialize_collection"
	OpMintNFT              Operation = "mint_nft"
	OpMintTokens           Operation = "mint_tokens"
)

// State is the orchestrator's observable transaction state. Signature is
// empty until the transaction has been broadcast.
type State struct {
	Status    Status    `json:"status"`
	Operation Operation `json:"operation,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Busy reports whether an operation is in flight or still on display.
func (s State) Busy() bool {
	return s.Status != StatusIdle
}

type stepMessages struct {
	building, signing, confirming, success string
}

var messages = map[Operation]stepMessages{
	OpDeposit: {
		building:   "Building transaction and deriving accounts...",
		signing:    "Please sign the transaction in your wallet...",
		confirming: "Transaction sent, waiting for network confirmation...",
		success:    "Deposit successful! Transaction confirmed on network.",
	},
	OpWithdraw: {
		building:   "Building withdraw transaction and deriving accounts...",
		signing:    "Please sign the withdraw transaction in your wallet...",
		confirming: "Transaction sent! Waiting for confirmation...",
		success:    "Withdraw completed successfully!",
	},
	OpLock: {
		building:   "Building lock transaction...",
		signing:    "Please sign the transaction in your wallet...",
		confirming: "Confirming transaction...",
		success:    "Lock successful!",
	},
	OpInitializeCollection: {
		building:   "Building collection initialization...",
		signing:    "Please sign the transaction in your wallet...",
		confirming: "Confirming transaction...",
		success:    "Collection initialized!",
	},
	OpMintNFT: {
		building:   "Building identity NFT mint...",
		signing:    "Please sign the transaction in your wallet...",
		confirming: "Confirming transaction...",
		success:    "Identity NFT minted!",
	},
	OpMintTokens: {
		building:   "Building token mint...",
		signing:    "Please sign the transaction in your wallet...",
		confirming: "Confirming transaction...",
		success:    "Tokens minted!",
	},
}

const (
	refreshedMessage     = "Balances updated successfully!"
	confirmFailedMessage = "Transaction was sent but network confirmation failed. Check the transaction status manually."
	confirmFailedPrefix  = "Confirmation failed: "
	notConnectedSummary  = "Connection error"
	notConnectedMessage  = "Wallet not connected or program not loaded"
)
