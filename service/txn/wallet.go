package txn

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Wallet signs transactions on behalf of the user. A wallet that declines
// to sign returns an error wrapping ErrUserRejected.
type Wallet interface {
	PublicKey() solanago.PublicKey
	SignTransaction(ctx context.Context, tx *solanago.Transaction) error
}

// ApprovalFunc decides whether a KeypairWallet signs tx.
type ApprovalFunc func(ctx context.Context, tx *solanago.Transaction) bool

// KeypairWallet signs with a local private key.
type KeypairWallet struct {
	key     solanago.PrivateKey
	approve ApprovalFunc
}

// NewKeypairWallet creates a wallet that signs every request with key.
func NewKeypairWallet(key solanago.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// LoadKeypairWallet reads a solana-keygen JSON keypair file.
func LoadKeypairWallet(path string) (*KeypairWallet, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewKeypairWallet(key), nil
}

// WithApproval asks fn before every signature.
func (w *KeypairWallet) WithApproval(fn ApprovalFunc) *KeypairWallet {
	w.approve = fn
	return w
}

func (w *KeypairWallet) PublicKey() solanago.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solanago.Transaction) error {
	if w.approve != nil && !w.approve(ctx, tx) {
		return ErrUserRejected
	}
	return PartialSign(tx, w.key)
}

// PartialSign adds signatures for keys, leaving the other signer slots as
// they are. Every key must be one of the message's required signers.
func PartialSign(tx *solanago.Transaction, keys ...solanago.PrivateKey) error {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < required {
		sigs := make([]solanago.Signature, required)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}

	for _, key := range keys {
		pub := key.PublicKey()
		slot := -1
		for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
			if tx.Message.AccountKeys[i].Equals(pub) {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("%s is not a required signer", pub)
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", pub, err)
		}
		tx.Signatures[slot] = sig
	}
	return nil
}
