package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TokenBalance is a non-zero holding of one mint in the owner's associated
// token account.
type TokenBalance struct {
	Mint     solanago.PublicKey `json:"mint"`
	Account  solanago.PublicKey `json:"account"`
	Amount   uint64             `json:"amount"`
	Decimals uint8              `json:"decimals"`
	Display  string             `json:"display"`
}

// FormatAmount renders base units as a decimal string.
func FormatAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

func balancesKey(mints []solanago.PublicKey) string {
	parts := make([]string, len(mints))
	for i, m := range mints {
		parts[i] = m.String()
	}
	return "balances:" + strings.Join(parts, ",")
}

// LoadUserTokenBalances reads the owner's associated token account for each
// candidate mint. Missing accounts and zero balances are skipped; the result
// keeps the order of mints.
func (l *Loader) LoadUserTokenBalances(ctx context.Context, mints []solanago.PublicKey) ([]TokenBalance, error) {
	if len(mints) == 0 {
		return nil, nil
	}
	return load(ctx, l, "balances", balancesKey(mints), func(ctx context.Context, conn *solana.Client) ([]TokenBalance, error) {
		return l.fetchBalances(ctx, conn, mints)
	})
}

func (l *Loader) fetchBalances(ctx context.Context, conn *solana.Client, mints []solanago.PublicKey) ([]TokenBalance, error) {
	found := make([]*TokenBalance, len(mints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, mint := range mints {
		g.Go(func() error {
			account, err := pda.AssociatedTokenAddress(mint, l.owner, false)
			if err != nil {
				return err
			}
			bal, err := conn.GetTokenBalance(gctx, account)
			if errors.Is(err, solana.ErrAccountNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("balance for mint %s: %w", mint, err)
			}
			if bal.Amount == 0 {
				return nil
			}
			found[i] = &TokenBalance{
				Mint:     mint,
				Account:  account,
				Amount:   bal.Amount,
				Decimals: bal.Decimals,
				Display:  FormatAmount(bal.Amount, bal.Decimals),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	balances := make([]TokenBalance, 0, len(mints))
	for _, b := range found {
		if b != nil {
			balances = append(balances, *b)
		}
	}
	l.logger.DebugContext(ctx, "loaded token balances", "candidates", len(mints), "held", len(balances))
	return balances, nil
}
