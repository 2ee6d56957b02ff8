package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierTable(t *testing.T) {
	tests := []struct {
		tier   Tier
		name   string
		feeBps uint64
		days   int
	}{
		{TierUnlocked, "Unlocked", 50, 0},
		{TierShort, "Short", 30, 30},
		{TierLong, "Long", 20, 180},
		{TierVeryLong, "VeryLong", 10, 365},
	}
	for _, tt := range tests {
		info := tt.tier.Info()
		assert.Equal(t, tt.name, info.Name)
		assert.Equal(t, tt.feeBps, info.FeeBps)
		assert.Equal(t, time.Duration(tt.days)*24*time.Hour, info.Duration)
		assert.Equal(t, tt.name, tt.tier.String())
	}
	assert.Len(t, Tiers(), 4)
	assert.False(t, Tier(4).Valid())
	assert.Equal(t, "Tier(4)", Tier(4).String())
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{
		"unlocked": TierUnlocked,
		"Short":    TierShort,
		"2":        TierLong,
		"VERYLONG": TierVeryLong,
	} {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTier("forever")
	assert.Error(t, err)
}

func TestPreviewFee(t *testing.T) {
	tests := []struct {
		tier    Tier
		amount  uint64
		fee     uint64
		net     uint64
		savings uint64
	}{
		{TierUnlocked, 1_000_000, 5000, 995_000, 0},
		{TierShort, 1_000_000, 3000, 997_000, 2000},
		{TierLong, 1_000_000, 2000, 998_000, 3000},
		{TierVeryLong, 1_000_000, 1000, 999_000, 4000},
		{TierShort, 99, 0, 99, 0},
		{TierVeryLong, ^uint64(0), 18446744073709551, ^uint64(0) - 18446744073709551, 73786976294838207},
	}
	for _, tt := range tests {
		p := tt.tier.PreviewFee(tt.amount)
		assert.Equal(t, tt.fee, p.Fee, tt.tier.String())
		assert.Equal(t, tt.net, p.Net, tt.tier.String())
		assert.Equal(t, tt.savings, p.Savings, tt.tier.String())
		assert.Equal(t, tt.amount, p.Fee+p.Net)
	}
}

func TestFeePreviewFormat(t *testing.T) {
	f := TierShort.PreviewFee(1_000_000).Format(6)
	assert.Equal(t, "Short", f.Tier)
	assert.Equal(t, "0.3%", f.FeePercent)
	assert.Equal(t, "1", f.Amount)
	assert.Equal(t, "0.003", f.Fee)
	assert.Equal(t, "0.997", f.Net)
	assert.Equal(t, "0.002", f.Savings)
	assert.Equal(t, 30, f.LockDays)
}
