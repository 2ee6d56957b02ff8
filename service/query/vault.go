package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// VaultSnapshot is a read replica of the vault account plus the asset
// balance it currently holds.
type VaultSnapshot struct {
	solana.Vault

	Address      solanago.PublicKey `json:"address"`
	TokenAccount solanago.PublicKey `json:"token_account"`
	Liquidity    uint64             `json:"liquidity"`
	Decimals     uint8              `json:"decimals"`
	LoadedAt     time.Time          `json:"loaded_at"`
}

// Position is one identity NFT's share position. DepositAmount is derived
// from the shares and the vault liquidity at load time and is display-only.
type Position struct {
	Owner           solanago.PublicKey `json:"owner"`
	NFTMint         solanago.PublicKey `json:"nft_mint"`
	UserInfoAddress solanago.PublicKey `json:"user_info_address"`
	ShareAmount     uint64             `json:"share_amount"`
	DepositAmount   uint64             `json:"deposit_amount"`
	Decimals        uint8              `json:"decimals"`
	LockTier        uint8              `json:"lock_tier"`
	LockedUntil     int64              `json:"locked_until,omitempty"`
	LastUpdate      int64              `json:"last_update"`
	LoadedAt        time.Time          `json:"loaded_at"`
}

// DepositAmount converts shares into asset units at the vault's current
// liquidity: shares * vaultBalance / totalShares, or 0 with no shares
// outstanding.
func DepositAmount(shares, vaultBalance, totalShares uint64) uint64 {
	if totalShares == 0 {
		return 0
	}
	n := new(big.Int).SetUint64(shares)
	n.Mul(n, new(big.Int).SetUint64(vaultBalance))
	n.Quo(n, new(big.Int).SetUint64(totalShares))
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}

const vaultKey = "vault"

func positionKey(nft solanago.PublicKey) string {
	return "position:" + nft.String()
}

// VaultSnapshot returns the cached vault replica, or nil.
func (l *Loader) VaultSnapshot() *VaultSnapshot {
	v, _ := cached[*VaultSnapshot](l, vaultKey)
	return v
}

// Position returns the cached position for nft, or nil.
func (l *Loader) Position(nft solanago.PublicKey) *Position {
	p, _ := cached[*Position](l, positionKey(nft))
	return p
}

// LoadVaultSnapshot loads the default vault and its asset balance.
func (l *Loader) LoadVaultSnapshot(ctx context.Context) (*VaultSnapshot, error) {
	return load(ctx, l, "vault", vaultKey, l.fetchVaultSnapshot)
}

func (l *Loader) fetchVaultSnapshot(ctx context.Context, conn *solana.Client) (*VaultSnapshot, error) {
	address, _, err := l.deriver.VaultAddress(l.deriver.AssetMint(), l.deriver.VaultOwner())
	if err != nil {
		return nil, err
	}
	tokenAccount, err := pda.AssociatedTokenAddress(l.deriver.AssetMint(), address, true)
	if err != nil {
		return nil, err
	}

	var (
		vault   *solana.Vault
		balance *solana.TokenBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vault, err = readVault(gctx, conn, address)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = readBalanceOrZero(gctx, conn, tokenAccount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.DebugContext(ctx, "loaded vault snapshot",
		"vault", address.String(),
		"total_shares", vault.TotalShares,
		"liquidity", balance.Amount,
	)

	return &VaultSnapshot{
		Vault:        *vault,
		Address:      address,
		TokenAccount: tokenAccount,
		Liquidity:    balance.Amount,
		Decimals:     balance.Decimals,
		LoadedAt:     time.Now(),
	}, nil
}

// LoadUserPosition loads the position recorded for an identity NFT and
// prices it against a fresh read of the vault.
func (l *Loader) LoadUserPosition(ctx context.Context, nft solanago.PublicKey) (*Position, error) {
	return load(ctx, l, "position", positionKey(nft), func(ctx context.Context, conn *solana.Client) (*Position, error) {
		return l.fetchPosition(ctx, conn, nft)
	})
}

func (l *Loader) fetchPosition(ctx context.Context, conn *solana.Client, nft solanago.PublicKey) (*Position, error) {
	set, err := l.deriver.AccountsForUser(l.owner, nft)
	if err != nil {
		return nil, err
	}

	var (
		info    *solana.UserInfo
		vault   *solana.Vault
		balance *solana.TokenBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acc, err := conn.GetAccount(gctx, set.UserInfo.Key)
		if err != nil {
			if errors.Is(err, solana.ErrAccountNotFound) {
				return fmt.Errorf("nft %s: %w", nft, ErrPositionNotFound)
			}
			return err
		}
		info, err = solana.DecodeUserInfo(acc.Data)
		return err
	})
	g.Go(func() error {
		var err error
		vault, err = readVault(gctx, conn, set.Vault.Key)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = readBalanceOrZero(gctx, conn, set.VaultTokenAccount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pos := &Position{
		Owner:           l.owner,
		NFTMint:         nft,
		UserInfoAddress: set.UserInfo.Key,
		ShareAmount:     info.Shares,
		DepositAmount:   DepositAmount(info.Shares, balance.Amount, vault.TotalShares),
		Decimals:        balance.Decimals,
		LastUpdate:      info.LastUpdate,
		LoadedAt:        time.Now(),
	}
	if info.HasLock {
		pos.LockTier = info.LockTier
		pos.LockedUntil = info.LockedUntil
	}
	return pos, nil
}

func readVault(ctx context.Context, conn *solana.Client, address solanago.PublicKey) (*solana.Vault, error) {
	acc, err := conn.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) {
			return nil, fmt.Errorf("vault %s: %w", address, ErrVaultNotFound)
		}
		return nil, err
	}
	return solana.DecodeVault(acc.Data)
}

// readBalanceOrZero treats a missing token account as an empty one.
func readBalanceOrZero(ctx context.Context, conn *solana.Client, address solanago.PublicKey) (*solana.TokenBalance, error) {
	bal, err := conn.GetTokenBalance(ctx, address)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return &solana.TokenBalance{}, nil
	}
	return bal, err
}
