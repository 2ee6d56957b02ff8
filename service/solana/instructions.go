package solana

import (
	"bytes"
	"fmt"

	"github.com/brojonat/nftvault/service/pda"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor instruction discriminators: sha256("global:<name>")[:8].
var (
	depositDiscriminator              = [8]byte{242, 35, 198, 137, 82, 225, 242, 182}
	withdrawDiscriminator             = [8]byte{183, 18, 70, 156, 148, 109, 161, 34}
	lockDiscriminator                 = [8]byte{21, 19, 208, 43, 237, 62, 255, 87}
	initializeCollectionDiscriminator = [8]byte{175, 175, 109, 31, 13, 152, 155, 237}
	mintNFTDiscriminator              = [8]byte{211, 57, 6, 167, 15, 219, 35, 251}
	mintTokensDiscriminator           = [8]byte{59, 132, 24, 246, 122, 39, 8, 243}
)

// NewDepositInstruction builds the vault deposit instruction.
func NewDepositInstruction(programID solana.PublicKey, set *pda.AccountSet, amount uint64) (solana.Instruction, error) {
	data, err := encodeArgs(depositDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint64(amount, bin.LE)
	})
	if err != nil {
		return nil, fmt.Errorf("deposit instruction: %w", err)
	}
	return solana.NewInstruction(programID, vaultAccountMetas(set), data), nil
}

// NewWithdrawInstruction builds the vault withdraw instruction; shares are
// share-token base units.
func NewWithdrawInstruction(programID solana.PublicKey, set *pda.AccountSet, shares uint64) (solana.Instruction, error) {
	data, err := encodeArgs(withdrawDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint64(shares, bin.LE)
	})
	if err != nil {
		return nil, fmt.Errorf("withdraw instruction: %w", err)
	}
	return solana.NewInstruction(programID, vaultAccountMetas(set), data), nil
}

// NewLockInstruction builds the vault lock instruction. amount is the
// pre-fee amount; tier is the lock tier index.
func NewLockInstruction(programID solana.PublicKey, set *pda.AccountSet, amount uint64, tier uint8) (solana.Instruction, error) {
	data, err := encodeArgs(lockDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint64(amount, bin.LE); err != nil {
			return err
		}
		return enc.WriteUint8(tier)
	})
	if err != nil {
		return nil, fmt.Errorf("lock instruction: %w", err)
	}
	return solana.NewInstruction(programID, vaultAccountMetas(set), data), nil
}

// vaultAccountMetas is the account list shared by deposit, withdraw and lock.
func vaultAccountMetas(set *pda.AccountSet) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(set.User, true, true),
		solana.NewAccountMeta(set.Vault.Key, true, false),
		solana.NewAccountMeta(set.Collection.Key, false, false),
		solana.NewAccountMeta(set.UserNFTToken, false, false),
		solana.NewAccountMeta(set.NFTMint, false, false),
		solana.NewAccountMeta(set.AssetMint, true, false),
		solana.NewAccountMeta(set.UserAssetToken, true, false),
		solana.NewAccountMeta(set.VaultTokenAccount, true, false),
		solana.NewAccountMeta(set.ShareMint, true, false),
		solana.NewAccountMeta(set.UserSharePosition.Key, false, false),
		solana.NewAccountMeta(set.UserShareToken, true, false),
		solana.NewAccountMeta(set.UserInfo.Key, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
	}
}

// InitializeCollectionParams are the identity collection's creation arguments.
type InitializeCollectionParams struct {
	Collection        solana.PublicKey
	Authority         solana.PublicKey
	Name              string
	Symbol            string
	BaseURI           string
	WormholeProgramID solana.PublicKey
}

// NewInitializeCollectionInstruction builds the identity program's
// collection initialization.
func NewInitializeCollectionInstruction(programID solana.PublicKey, p InitializeCollectionParams) (solana.Instruction, error) {
	if len(p.Name) > MaxCollectionNameLen {
		return nil, fmt.Errorf("collection name longer than %d bytes", MaxCollectionNameLen)
	}
	if len(p.Symbol) > MaxCollectionSymbolLen {
		return nil, fmt.Errorf("collection symbol longer than %d bytes", MaxCollectionSymbolLen)
	}
	if len(p.BaseURI) > MaxCollectionURILen {
		return nil, fmt.Errorf("collection base uri longer than %d bytes", MaxCollectionURILen)
	}

	data, err := encodeArgs(initializeCollectionDiscriminator, func(enc *bin.Encoder) error {
		for _, s := range []string{p.Name, p.Symbol, p.BaseURI} {
			if err := writeString(enc, s); err != nil {
				return err
			}
		}
		return enc.WriteBytes(p.WormholeProgramID[:], false)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize collection instruction: %w", err)
	}

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Collection, true, false),
		solana.NewAccountMeta(p.Authority, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// MintNFTAccounts are the accounts an identity NFT mint touches.
// Mint is a fresh keypair that must co-sign.
type MintNFTAccounts struct {
	Collection   solana.PublicKey
	UserState    solana.PublicKey
	Mint         solana.PublicKey
	TokenAccount solana.PublicKey
	User         solana.PublicKey
}

// NewMintNFTInstruction builds the identity program's mint instruction.
func NewMintNFTInstruction(programID solana.PublicKey, a MintNFTAccounts) (solana.Instruction, error) {
	data, err := encodeArgs(mintNFTDiscriminator, nil)
	if err != nil {
		return nil, fmt.Errorf("mint nft instruction: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Collection, true, false),
		solana.NewAccountMeta(a.UserState, true, false),
		solana.NewAccountMeta(a.Mint, true, true),
		solana.NewAccountMeta(a.TokenAccount, true, false),
		solana.NewAccountMeta(a.User, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}, data), nil
}

// MintTokensAccounts are the accounts a test-token mint touches.
type MintTokensAccounts struct {
	Caller        solana.PublicKey
	Mint          solana.PublicKey
	Recipient     solana.PublicKey
	MintAuthority solana.PublicKey
}

// NewMintTokensInstruction builds the test-token program's mint instruction.
func NewMintTokensInstruction(programID solana.PublicKey, a MintTokensAccounts, amount uint64) (solana.Instruction, error) {
	data, err := encodeArgs(mintTokensDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint64(amount, bin.LE)
	})
	if err != nil {
		return nil, fmt.Errorf("mint tokens instruction: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.Mint, true, false),
		solana.NewAccountMeta(a.Recipient, true, false),
		solana.NewAccountMeta(a.MintAuthority, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

func encodeArgs(disc [8]byte, write func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if write != nil {
		if err := write(enc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), bin.LE); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}
