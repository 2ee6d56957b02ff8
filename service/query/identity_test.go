package query

import (
	"context"
	"testing"

	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCollection(t *testing.T) {
	f := newFixture(t)
	address, _, err := f.deriver.CollectionAddress()
	require.NoError(t, err)

	_, err = f.loader.LoadCollection(context.Background())
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	mint := solanago.NewWallet().PublicKey()
	id := pda.UniqueID(pda.SolanaChainID, f.owner, 0)
	require.NoError(t, f.mock.SetCollection(address, testNFTProgram, &solana.Collection{
		Authority:         f.owner,
		Name:              "Vault Identity",
		Symbol:            "VID",
		BaseURI:           "https://example.com/nft/",
		TotalSupply:       1,
		UniqueIDToTokenID: []solana.UniqueIDEntry{{UniqueID: id, TokenID: 1}},
		TokenIDToUniqueID: []solana.UniqueIDEntry{{UniqueID: id, TokenID: 1}},
		MintToUniqueID:    []solana.MintEntry{{Mint: mint, UniqueID: id}},
	}))

	c, err := f.loader.LoadCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Vault Identity", c.Name)
	assert.Equal(t, uint64(1), c.TotalSupply)
	assert.Same(t, c, f.loader.Collection())

	ctx := context.Background()

	exists, err := f.loader.UniqueIDExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	tokenID, ok, err := f.loader.TokenIDByUniqueID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), tokenID)

	got, ok, err := f.loader.UniqueIDByTokenID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got)

	got, ok, err = f.loader.UniqueIDByMint(ctx, mint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok, err = f.loader.UniqueIDByTokenID(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadUserState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.loader.LoadUserState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.Nonce)

	next, err := f.loader.NextUniqueID(ctx)
	require.NoError(t, err)
	assert.Equal(t, pda.UniqueID(pda.SolanaChainID, f.owner, 0), next)

	address, _, err := f.deriver.UserStateAddress(f.owner)
	require.NoError(t, err)
	require.NoError(t, f.mock.SetUserState(address, testNFTProgram, &solana.UserState{Nonce: 3}))
	f.loader.Invalidate("refresh")

	next, err = f.loader.NextUniqueID(ctx)
	require.NoError(t, err)
	assert.Equal(t, pda.UniqueID(pda.SolanaChainID, f.owner, 3), next)
}
