package txn

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(t *testing.T, signers ...solanago.PublicKey) *solanago.Transaction {
	t.Helper()
	metas := solanago.AccountMetaSlice{}
	for _, s := range signers {
		metas = append(metas, solanago.NewAccountMeta(s, true, true))
	}
	ix := solanago.NewInstruction(solanago.SystemProgramID, metas, []byte{1})
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{7}, solanago.TransactionPayer(signers[0]))
	require.NoError(t, err)
	return tx
}

func TestKeypairWallet_Signs(t *testing.T) {
	w := NewKeypairWallet(solanago.NewWallet().PrivateKey)
	tx := newTestTransaction(t, w.PublicKey())

	require.NoError(t, w.SignTransaction(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, tx.Signatures[0].Verify(w.PublicKey(), msg))
}

func TestKeypairWallet_Approval(t *testing.T) {
	w := NewKeypairWallet(solanago.NewWallet().PrivateKey).
		WithApproval(func(context.Context, *solanago.Transaction) bool { return false })
	tx := newTestTransaction(t, w.PublicKey())

	err := w.SignTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.Equal(t, KindUserRejected, Classify(err).Kind)
}

func TestPartialSign(t *testing.T) {
	payer := solanago.NewWallet().PrivateKey
	cosigner := solanago.NewWallet().PrivateKey
	tx := newTestTransaction(t, payer.PublicKey(), cosigner.PublicKey())

	require.NoError(t, PartialSign(tx, cosigner))
	require.Len(t, tx.Signatures, 2)
	assert.True(t, tx.Signatures[0].IsZero(), "payer slot stays empty")
	assert.False(t, tx.Signatures[1].IsZero())

	require.NoError(t, PartialSign(tx, payer))
	assert.False(t, tx.Signatures[0].IsZero())

	stranger := solanago.NewWallet().PrivateKey
	err := PartialSign(tx, stranger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a required signer")
}

func TestLoadKeypairWallet(t *testing.T) {
	key := solanago.NewWallet().PrivateKey
	path := filepath.Join(t.TempDir(), "id.json")

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	w, err := LoadKeypairWallet(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.PublicKey())

	_, err = LoadKeypairWallet(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
