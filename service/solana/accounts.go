package solana

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor account discriminators: sha256("account:<Name>")[:8].
var (
	VaultDiscriminator      = [8]byte{211, 8, 232, 43, 2, 152, 117, 119}
	UserInfoDiscriminator   = [8]byte{83, 134, 200, 56, 144, 56, 10, 62}
	CollectionDiscriminator = [8]byte{48, 160, 232, 205, 191, 207, 26, 141}
	UserStateDiscriminator  = [8]byte{72, 177, 85, 249, 76, 167, 186, 126}
)

// Collection limits enforced by the identity program.
const (
	MaxCollectionNameLen   = 32
	MaxCollectionSymbolLen = 8
	MaxCollectionURILen    = 200
)

// Vault is the vault program's per-asset account.
type Vault struct {
	Owner                solana.PublicKey `json:"owner"`
	AssetMint            solana.PublicKey `json:"asset_mint"`
	ShareMint            solana.PublicKey `json:"share_mint"`
	NFTCollectionAddress solana.PublicKey `json:"nft_collection_address"`
	TotalBorrowed        uint64           `json:"total_borrowed"`
	BorrowIndex          uint64           `json:"borrow_index"`
	BorrowRate           uint64           `json:"borrow_rate"`
	LastUpdateTime       int64            `json:"last_update_time"`
	ReserveFactor        uint64           `json:"reserve_factor"`
	TotalReserves        uint64           `json:"total_reserves"`
	TotalShares          uint64           `json:"total_shares"`
	Bump                 uint8            `json:"bump"`
}

// UserInfo is the per-NFT position record. Program versions that support
// locking append the tier and lock expiry; older accounts leave HasLock false.
type UserInfo struct {
	Vault       solana.PublicKey `json:"vault"`
	NFTMint     solana.PublicKey `json:"nft_mint"`
	Owner       solana.PublicKey `json:"owner"`
	Shares      uint64           `json:"shares"`
	LastUpdate  int64            `json:"last_update"`
	HasLock     bool             `json:"has_lock"`
	LockTier    uint8            `json:"lock_tier"`
	LockedUntil int64            `json:"locked_until"`
}

// UniqueIDEntry maps a unique id to its token id.
type UniqueIDEntry struct {
	UniqueID [32]byte `json:"unique_id"`
	TokenID  uint64   `json:"token_id"`
}

// MintEntry maps an NFT mint to its unique id.
type MintEntry struct {
	Mint     solana.PublicKey `json:"mint"`
	UniqueID [32]byte         `json:"unique_id"`
}

// Collection is the identity program's collection account.
type Collection struct {
	Authority           solana.PublicKey `json:"authority"`
	Name                string           `json:"name"`
	Symbol              string           `json:"symbol"`
	BaseURI             string           `json:"base_uri"`
	TotalSupply         uint64           `json:"total_supply"`
	WormholeProgramID   solana.PublicKey `json:"wormhole_program_id"`
	Bump                uint8            `json:"bump"`
	UniqueIDToTokenID   []UniqueIDEntry  `json:"unique_id_to_token_id"`
	TokenIDToUniqueID   []UniqueIDEntry  `json:"token_id_to_unique_id"`
	MintToUniqueID      []MintEntry      `json:"mint_to_unique_id"`
	CrossChainUniqueIDs [][32]byte       `json:"cross_chain_unique_ids"`
}

// UniqueIDExists reports whether id has been minted in this collection.
func (c *Collection) UniqueIDExists(id [32]byte) bool {
	for _, e := range c.UniqueIDToTokenID {
		if e.UniqueID == id {
			return true
		}
	}
	return false
}

// TokenIDByUniqueID returns the token id minted for a unique id.
func (c *Collection) TokenIDByUniqueID(id [32]byte) (uint64, bool) {
	for _, e := range c.UniqueIDToTokenID {
		if e.UniqueID == id {
			return e.TokenID, true
		}
	}
	return 0, false
}

// UniqueIDByTokenID returns the unique id recorded for a token id.
func (c *Collection) UniqueIDByTokenID(tokenID uint64) ([32]byte, bool) {
	for _, e := range c.TokenIDToUniqueID {
		if e.TokenID == tokenID {
			return e.UniqueID, true
		}
	}
	return [32]byte{}, false
}

// UniqueIDByMint returns the unique id recorded for an NFT mint.
func (c *Collection) UniqueIDByMint(mint solana.PublicKey) ([32]byte, bool) {
	for _, e := range c.MintToUniqueID {
		if e.Mint.Equals(mint) {
			return e.UniqueID, true
		}
	}
	return [32]byte{}, false
}

// UserState is the identity program's per-wallet mint counter.
type UserState struct {
	Nonce uint64 `json:"nonce"`
}

// DecodeVault decodes a vault account.
func DecodeVault(data []byte) (*Vault, error) {
	r, err := newAccountReader(data, VaultDiscriminator, "vault")
	if err != nil {
		return nil, err
	}
	v := &Vault{
		Owner:                r.pubkey(),
		AssetMint:            r.pubkey(),
		ShareMint:            r.pubkey(),
		NFTCollectionAddress: r.pubkey(),
		TotalBorrowed:        r.u64(),
		BorrowIndex:          r.u64(),
		BorrowRate:           r.u64(),
		LastUpdateTime:       r.i64(),
		ReserveFactor:        r.u64(),
		TotalReserves:        r.u64(),
		TotalShares:          r.u64(),
		Bump:                 r.u8(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode vault: %w", r.err)
	}
	return v, nil
}

// DecodeUserInfo decodes a user info account.
func DecodeUserInfo(data []byte) (*UserInfo, error) {
	r, err := newAccountReader(data, UserInfoDiscriminator, "user info")
	if err != nil {
		return nil, err
	}
	u := &UserInfo{
		Vault:      r.pubkey(),
		NFTMint:    r.pubkey(),
		Owner:      r.pubkey(),
		Shares:     r.u64(),
		LastUpdate: r.i64(),
	}
	if r.err == nil && r.dec.Remaining() >= 9 {
		u.HasLock = true
		u.LockTier = r.u8()
		u.LockedUntil = r.i64()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode user info: %w", r.err)
	}
	return u, nil
}

// DecodeCollection decodes an identity collection account.
func DecodeCollection(data []byte) (*Collection, error) {
	r, err := newAccountReader(data, CollectionDiscriminator, "collection")
	if err != nil {
		return nil, err
	}
	c := &Collection{
		Authority:         r.pubkey(),
		Name:              r.str(),
		Symbol:            r.str(),
		BaseURI:           r.str(),
		TotalSupply:       r.u64(),
		WormholeProgramID: r.pubkey(),
		Bump:              r.u8(),
	}

	n := r.vecLen()
	for i := uint32(0); i < n && r.err == nil; i++ {
		c.UniqueIDToTokenID = append(c.UniqueIDToTokenID, UniqueIDEntry{UniqueID: r.id(), TokenID: r.u64()})
	}
	n = r.vecLen()
	for i := uint32(0); i < n && r.err == nil; i++ {
		tokenID := r.u64()
		c.TokenIDToUniqueID = append(c.TokenIDToUniqueID, UniqueIDEntry{TokenID: tokenID, UniqueID: r.id()})
	}
	n = r.vecLen()
	for i := uint32(0); i < n && r.err == nil; i++ {
		c.MintToUniqueID = append(c.MintToUniqueID, MintEntry{Mint: r.pubkey(), UniqueID: r.id()})
	}
	n = r.vecLen()
	for i := uint32(0); i < n && r.err == nil; i++ {
		c.CrossChainUniqueIDs = append(c.CrossChainUniqueIDs, r.id())
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode collection: %w", r.err)
	}
	return c, nil
}

// DecodeUserState decodes an identity user state account.
func DecodeUserState(data []byte) (*UserState, error) {
	r, err := newAccountReader(data, UserStateDiscriminator, "user state")
	if err != nil {
		return nil, err
	}
	s := &UserState{Nonce: r.u64()}
	if r.err != nil {
		return nil, fmt.Errorf("decode user state: %w", r.err)
	}
	return s, nil
}

// accountReader reads borsh fields in order, keeping the first error.
type accountReader struct {
	dec *bin.Decoder
	err error
}

func newAccountReader(data []byte, disc [8]byte, name string) (*accountReader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("decode %s: data too short: %d bytes", name, len(data))
	}
	if !bytes.Equal(data[:8], disc[:]) {
		return nil, fmt.Errorf("decode %s: discriminator mismatch", name)
	}
	return &accountReader{dec: bin.NewBorshDecoder(data[8:])}, nil
}

func (r *accountReader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	b, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err
		return make([]byte, n)
	}
	return b
}

func (r *accountReader) pubkey() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.bytes(32))
}

func (r *accountReader) id() [32]byte {
	var out [32]byte
	copy(out[:], r.bytes(32))
	return out
}

func (r *accountReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(bin.LE)
	r.err = err
	return v
}

func (r *accountReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(bin.LE)
	r.err = err
	return v
}

func (r *accountReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

func (r *accountReader) vecLen() uint32 {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		r.err = err
		return 0
	}
	// Each element is at least 32 bytes; a longer count means corrupt data.
	if int(n) > r.dec.Remaining()/32 {
		r.err = fmt.Errorf("vector length %d exceeds remaining data", n)
		return 0
	}
	return n
}

func (r *accountReader) str() string {
	if r.err != nil {
		return ""
	}
	n, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		r.err = err
		return ""
	}
	if int(n) > r.dec.Remaining() {
		r.err = fmt.Errorf("string length %d exceeds remaining data", n)
		return ""
	}
	return string(r.bytes(int(n)))
}
