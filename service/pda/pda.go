// Package pda derives every program-owned address the vault and identity
// programs expect. All functions are pure: the same seeds, program ids and
// inputs always produce the same address and bump.
package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrOwnerOffCurve is returned when an associated token address is requested
	// for an off-curve owner without allowing it.
	ErrOwnerOffCurve = errors.New("owner is not on the ed25519 curve")

	// ErrZeroAddress is returned when a required input address is the zero key.
	ErrZeroAddress = errors.New("address is required")
)

// Seeds are the byte-string prefixes used for each derived address.
type Seeds struct {
	Vault      string
	UserInfo   string
	UserShares string
	Collection string
	UserState  string
	MintAuth   string
}

// VersionedSeeds builds the seed set for a vault schema version ("v3" gives
// "vault_v3", "user_info_v3", "user_shares_v3"). The identity program seeds
// are not versioned.
func VersionedSeeds(version, mintAuthSeed string) (Seeds, error) {
	if version == "" {
		return Seeds{}, fmt.Errorf("seed version is required")
	}
	if strings.Contains(version, "_") {
		return Seeds{}, fmt.Errorf("seed version %q must not contain '_'", version)
	}
	if mintAuthSeed == "" {
		return Seeds{}, fmt.Errorf("mint authority seed is required")
	}
	return Seeds{
		Vault:      "vault_" + version,
		UserInfo:   "user_info_" + version,
		UserShares: "user_shares_" + version,
		Collection: "collection",
		UserState:  "user_state",
		MintAuth:   mintAuthSeed,
	}, nil
}

// Programs are the on-chain program ids addresses are derived under.
type Programs struct {
	Vault solana.PublicKey
	NFT   solana.PublicKey
	Token solana.PublicKey
}

// Address is a derived address together with its bump.
type Address struct {
	Key  solana.PublicKey `json:"address"`
	Bump uint8            `json:"bump"`
}

// AccountSet is every address one (user, identity NFT, asset mint) operation touches.
type AccountSet struct {
	User      solana.PublicKey `json:"user"`
	NFTMint   solana.PublicKey `json:"nft_mint"`
	AssetMint solana.PublicKey `json:"asset_mint"`
	ShareMint solana.PublicKey `json:"share_mint"`

	Vault             Address `json:"vault"`
	Collection        Address `json:"collection"`
	UserSharePosition Address `json:"user_share_position"`
	UserInfo          Address `json:"user_info"`

	VaultTokenAccount solana.PublicKey `json:"vault_token_account"`
	UserAssetToken    solana.PublicKey `json:"user_asset_token"`
	UserNFTToken      solana.PublicKey `json:"user_nft_token"`
	UserShareToken    solana.PublicKey `json:"user_share_token"`
}

// Deriver computes addresses for one program/seed configuration.
// It holds no mutable state and is safe for concurrent use.
type Deriver struct {
	programs   Programs
	seeds      Seeds
	vaultOwner solana.PublicKey
	assetMint  solana.PublicKey
	shareMint  solana.PublicKey
}

// NewDeriver creates a Deriver. vaultOwner and assetMint identify the default
// vault; shareMint is the vault's share token mint.
func NewDeriver(programs Programs, seeds Seeds, vaultOwner, assetMint, shareMint solana.PublicKey) *Deriver {
	return &Deriver{
		programs:   programs,
		seeds:      seeds,
		vaultOwner: vaultOwner,
		assetMint:  assetMint,
		shareMint:  shareMint,
	}
}

// Programs returns the program ids the deriver targets.
func (d *Deriver) Programs() Programs { return d.programs }

// Seeds returns the seed configuration.
func (d *Deriver) Seeds() Seeds { return d.seeds }

// VaultOwner returns the protocol owner used in the vault seed.
func (d *Deriver) VaultOwner() solana.PublicKey { return d.vaultOwner }

// AssetMint returns the default vault asset mint.
func (d *Deriver) AssetMint() solana.PublicKey { return d.assetMint }

// ShareMint returns the vault share mint.
func (d *Deriver) ShareMint() solana.PublicKey { return d.shareMint }

// VaultAddress derives the vault PDA: [vault_<v>, assetMint, owner].
func (d *Deriver) VaultAddress(assetMint, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := requireKeys(assetMint, owner); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("vault address: %w", err)
	}
	return find(d.programs.Vault, []byte(d.seeds.Vault), assetMint[:], owner[:])
}

// CollectionAddress derives the identity collection PDA: [collection].
func (d *Deriver) CollectionAddress() (solana.PublicKey, uint8, error) {
	return find(d.programs.NFT, []byte(d.seeds.Collection))
}

// UserSharePositionAddress derives the per-NFT share position PDA: [user_shares_<v>, nftMint].
func (d *Deriver) UserSharePositionAddress(nftMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := requireKeys(nftMint); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("user share position address: %w", err)
	}
	return find(d.programs.Vault, []byte(d.seeds.UserShares), nftMint[:])
}

// UserInfoAddress derives the user info PDA: [user_info_<v>, nftToken, shareToken].
func (d *Deriver) UserInfoAddress(userNFTTokenAccount, userShareTokenAccount solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := requireKeys(userNFTTokenAccount, userShareTokenAccount); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("user info address: %w", err)
	}
	return find(d.programs.Vault, []byte(d.seeds.UserInfo), userNFTTokenAccount[:], userShareTokenAccount[:])
}

// UserStateAddress derives the identity program's per-user nonce PDA: [user_state, user].
func (d *Deriver) UserStateAddress(user solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := requireKeys(user); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("user state address: %w", err)
	}
	return find(d.programs.NFT, []byte(d.seeds.UserState), user[:])
}

// MintAuthorityAddress derives the test-token program's mint authority PDA.
func (d *Deriver) MintAuthorityAddress() (solana.PublicKey, uint8, error) {
	return find(d.programs.Token, []byte(d.seeds.MintAuth))
}

// AssociatedTokenAddress returns the canonical token account for (owner, mint).
// allowOffCurveOwner must be true when owner is itself a program address.
func AssociatedTokenAddress(mint, owner solana.PublicKey, allowOffCurveOwner bool) (solana.PublicKey, error) {
	if err := requireKeys(mint, owner); err != nil {
		return solana.PublicKey{}, fmt.Errorf("associated token address: %w", err)
	}
	if !allowOffCurveOwner && !solana.IsOnCurve(owner[:]) {
		return solana.PublicKey{}, fmt.Errorf("associated token address for %s: %w", owner, ErrOwnerOffCurve)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("associated token address: %w", err)
	}
	return ata, nil
}

// AccountsForUser derives the full account set for the default vault asset.
func (d *Deriver) AccountsForUser(user, nftMint solana.PublicKey) (*AccountSet, error) {
	return d.AccountsForAsset(user, nftMint, d.assetMint)
}

// AccountsForAsset derives the full account set for a specific asset mint.
func (d *Deriver) AccountsForAsset(user, nftMint, assetMint solana.PublicKey) (*AccountSet, error) {
	if err := requireKeys(user, nftMint, assetMint); err != nil {
		return nil, fmt.Errorf("derive accounts: %w", err)
	}

	set := &AccountSet{
		User:      user,
		NFTMint:   nftMint,
		AssetMint: assetMint,
		ShareMint: d.shareMint,
	}

	var err error
	if set.Vault.Key, set.Vault.Bump, err = d.VaultAddress(assetMint, d.vaultOwner); err != nil {
		return nil, err
	}
	if set.Collection.Key, set.Collection.Bump, err = d.CollectionAddress(); err != nil {
		return nil, fmt.Errorf("collection address: %w", err)
	}
	if set.UserSharePosition.Key, set.UserSharePosition.Bump, err = d.UserSharePositionAddress(nftMint); err != nil {
		return nil, err
	}

	// The vault and the share position are program addresses, so their token
	// accounts are off-curve owners.
	if set.VaultTokenAccount, err = AssociatedTokenAddress(assetMint, set.Vault.Key, true); err != nil {
		return nil, err
	}
	if set.UserShareToken, err = AssociatedTokenAddress(d.shareMint, set.UserSharePosition.Key, true); err != nil {
		return nil, err
	}
	if set.UserAssetToken, err = AssociatedTokenAddress(assetMint, user, false); err != nil {
		return nil, err
	}
	if set.UserNFTToken, err = AssociatedTokenAddress(nftMint, user, false); err != nil {
		return nil, err
	}

	if set.UserInfo.Key, set.UserInfo.Bump, err = d.UserInfoAddress(set.UserNFTToken, set.UserShareToken); err != nil {
		return nil, err
	}

	return set, nil
}

// UniqueID computes the identity NFT unique id the identity program records
// for a mint: sha256(chainID big-endian || wallet || nonce big-endian).
func UniqueID(chainID uint64, wallet solana.PublicKey, nonce uint64) [32]byte {
	buf := make([]byte, 0, 8+32+8)
	buf = binary.BigEndian.AppendUint64(buf, chainID)
	buf = append(buf, wallet[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return sha256.Sum256(buf)
}

// SolanaChainID is the chain id the identity program mixes into unique ids.
const SolanaChainID uint64 = 1

func find(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	if program.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("program id: %w", ErrZeroAddress)
	}
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("find program address: %w", err)
	}
	return addr, bump, nil
}

func requireKeys(keys ...solana.PublicKey) error {
	for _, k := range keys {
		if k.IsZero() {
			return ErrZeroAddress
		}
	}
	return nil
}
