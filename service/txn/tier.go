package txn

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier selects the lock period of a locked deposit.
type Tier uint8

const (
	TierUnlocked Tier = iota
	TierShort
	TierLong
	TierVeryLong
)

// TierInfo is the fee and lock period the vault program applies to a tier.
type TierInfo struct {
	Tier     Tier          `json:"tier"`
	Name     string        `json:"name"`
	FeeBps   uint64        `json:"fee_bps"`
	Duration time.Duration `json:"duration"`
}

const day = 24 * time.Hour

var tiers = [...]TierInfo{
	{TierUnlocked, "Unlocked", 50, 0},
	{TierShort, "Short", 30, 30 * day},
	{TierLong, "Long", 20, 180 * day},
	{TierVeryLong, "VeryLong", 10, 365 * day},
}

// Tiers returns the tier table in index order.
func Tiers() []TierInfo {
	return append([]TierInfo(nil), tiers[:]...)
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return int(t) < len(tiers)
}

// Info returns the tier's table entry. It panics on an unknown tier.
func (t Tier) Info() TierInfo {
	return tiers[t]
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
	return tiers[t].Name
}

// ParseTier accepts a tier name (case-insensitive) or its index.
func ParseTier(s string) (Tier, error) {
	for _, info := range tiers {
		if strings.EqualFold(s, info.Name) || s == fmt.Sprint(uint8(info.Tier)) {
			return info.Tier, nil
		}
	}
	return 0, fmt.Errorf("unknown lock tier %q", s)
}

// FeePreview is an advisory estimate of the lock fee. The vault program's
// own accounting is authoritative.
type FeePreview struct {
	Tier    Tier   `json:"tier"`
	Amount  uint64 `json:"amount"`
	Fee     uint64 `json:"fee"`
	Net     uint64 `json:"net"`
	Savings uint64 `json:"savings"`
}

// PreviewFee computes fee = amount * feeBps / 10000 and the net deposit,
// plus the saving against the unlocked tier.
func (t Tier) PreviewFee(amount uint64) FeePreview {
	fee := bps(amount, t.Info().FeeBps)
	unlockedFee := bps(amount, TierUnlocked.Info().FeeBps)
	return FeePreview{
		Tier:    t,
		Amount:  amount,
		Fee:     fee,
		Net:     amount - fee,
		Savings: unlockedFee - fee,
	}
}

func bps(amount, rate uint64) uint64 {
	n := new(big.Int).SetUint64(amount)
	n.Mul(n, new(big.Int).SetUint64(rate))
	n.Quo(n, big.NewInt(10_000))
	return n.Uint64()
}

// FormattedFeePreview is a FeePreview rendered in display units.
type FormattedFeePreview struct {
	Tier       string `json:"tier"`
	FeePercent string `json:"fee_percent"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
	Savings    string `json:"savings"`
	LockDays   int    `json:"lock_days"`
}

// Format renders the preview for a mint with the given decimals.
func (p FeePreview) Format(decimals uint8) FormattedFeePreview {
	info := p.Tier.Info()
	return FormattedFeePreview{
		Tier:       info.Name,
		FeePercent: decimal.New(int64(info.FeeBps), -2).String() + "%",
		Amount:     display(p.Amount, decimals),
		Fee:        display(p.Fee, decimals),
		Net:        display(p.Net, decimals),
		Savings:    display(p.Savings, decimals),
		LockDays:   int(info.Duration / day),
	}
}

func display(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}
