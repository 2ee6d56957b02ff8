package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

const collectionKey = "collection"

func userStateKey(user solanago.PublicKey) string {
	return "user_state:" + user.String()
}

// Collection returns the cached collection replica, or nil.
func (l *Loader) Collection() *solana.Collection {
	c, _ := cached[*solana.Collection](l, collectionKey)
	return c
}

// LoadCollection loads the identity collection account.
func (l *Loader) LoadCollection(ctx context.Context) (*solana.Collection, error) {
	return load(ctx, l, "collection", collectionKey, func(ctx context.Context, conn *solana.Client) (*solana.Collection, error) {
		address, _, err := l.deriver.CollectionAddress()
		if err != nil {
			return nil, err
		}
		acc, err := conn.GetAccount(ctx, address)
		if err != nil {
			if errors.Is(err, solana.ErrAccountNotFound) {
				return nil, fmt.Errorf("collection %s: %w", address, ErrCollectionNotFound)
			}
			return nil, err
		}
		return solana.DecodeCollection(acc.Data)
	})
}

// LoadUserState loads the owner's mint counter. A wallet that never minted
// has nonce 0.
func (l *Loader) LoadUserState(ctx context.Context) (*solana.UserState, error) {
	return load(ctx, l, "user_state", userStateKey(l.owner), func(ctx context.Context, conn *solana.Client) (*solana.UserState, error) {
		address, _, err := l.deriver.UserStateAddress(l.owner)
		if err != nil {
			return nil, err
		}
		acc, err := conn.GetAccount(ctx, address)
		if errors.Is(err, solana.ErrAccountNotFound) {
			return &solana.UserState{}, nil
		}
		if err != nil {
			return nil, err
		}
		return solana.DecodeUserState(acc.Data)
	})
}

// NextUniqueID returns the unique id the owner's next mint will record.
func (l *Loader) NextUniqueID(ctx context.Context) ([32]byte, error) {
	state, err := l.LoadUserState(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	return pda.UniqueID(pda.SolanaChainID, l.owner, state.Nonce), nil
}

// UniqueIDExists reports whether id has been minted in the collection.
func (l *Loader) UniqueIDExists(ctx context.Context, id [32]byte) (bool, error) {
	c, err := l.LoadCollection(ctx)
	if err != nil {
		return false, err
	}
	return c.UniqueIDExists(id), nil
}

// TokenIDByUniqueID returns the token id minted for id.
func (l *Loader) TokenIDByUniqueID(ctx context.Context, id [32]byte) (uint64, bool, error) {
	c, err := l.LoadCollection(ctx)
	if err != nil {
		return 0, false, err
	}
	tokenID, ok := c.TokenIDByUniqueID(id)
	return tokenID, ok, nil
}

// UniqueIDByTokenID returns the unique id recorded for tokenID.
func (l *Loader) UniqueIDByTokenID(ctx context.Context, tokenID uint64) ([32]byte, bool, error) {
	c, err := l.LoadCollection(ctx)
	if err != nil {
		return [32]byte{}, false, err
	}
	id, ok := c.UniqueIDByTokenID(tokenID)
	return id, ok, nil
}

// UniqueIDByMint returns the unique id recorded for an identity NFT mint.
func (l *Loader) UniqueIDByMint(ctx context.Context, mint solanago.PublicKey) ([32]byte, bool, error) {
	c, err := l.LoadCollection(ctx)
	if err != nil {
		return [32]byte{}, false, err
	}
	id, ok := c.UniqueIDByMint(mint)
	return id, ok, nil
}
