package main

import (
	"context"
	"fmt"
	"io"

	"github.com/brojonat/nftvault/client"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/query"
	"github.com/brojonat/nftvault/service/solana"
	"github.com/urfave/cli/v2"
)

func nftFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "nft",
		Usage: "Identity NFT mint",
	}
}

func assetMintFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "asset-mint",
		Usage: "Vault asset mint (defaults to the configured asset)",
	}
}

func amountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "amount",
		Usage:    "Amount in display units, e.g. 1.5",
		Required: true,
	}
}

func decimalsFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "decimals",
		Usage: "Decimals for --amount (defaults to the vault asset's decimals; 0 for base units)",
	}
}

// withBackend opens the backend, runs fn and releases it.
func withBackend(c *cli.Context, fn func(ctx context.Context, b backend) error) error {
	b, release, err := openBackend(c)
	if err != nil {
		return err
	}
	defer release()
	return fn(c.Context, b)
}

// resolveAmount reads --amount in the decimals given by --decimals or the
// vault snapshot.
func resolveAmount(ctx context.Context, c *cli.Context, b backend) (uint64, uint8, error) {
	var decimals uint8
	if c.IsSet("decimals") {
		d := c.Int("decimals")
		if d < 0 || d > 18 {
			return 0, 0, fmt.Errorf("decimals must be between 0 and 18, got %d", d)
		}
		decimals = uint8(d)
	} else {
		snap, err := b.Vault(ctx, false)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to load vault decimals: %w", err)
		}
		decimals = snap.Decimals
	}
	amount, err := parseAmount(c.String("amount"), decimals)
	return amount, decimals, err
}

func deriveCommand() *cli.Command {
	return &cli.Command{
		Name:  "derive",
		Usage: "Derive the vault, collection and position addresses for an identity NFT",
		Flags: []cli.Flag{nftFlag(), assetMintFlag()},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				set, err := b.Accounts(ctx, c.String("nft"), c.String("asset-mint"))
				if err != nil {
					return err
				}
				return printResult(c, set, func(w io.Writer) { printAccounts(w, set) })
			})
		},
	}
}

func printAccounts(w io.Writer, set *pda.AccountSet) {
	fmt.Fprintf(w, "User:                %s\n", set.User)
	fmt.Fprintf(w, "NFT mint:            %s\n", set.NFTMint)
	fmt.Fprintf(w, "Asset mint:          %s\n", set.AssetMint)
	fmt.Fprintf(w, "Share mint:          %s\n", set.ShareMint)
	fmt.Fprintf(w, "Vault:               %s (bump %d)\n", set.Vault.Key, set.Vault.Bump)
	fmt.Fprintf(w, "Collection:          %s (bump %d)\n", set.Collection.Key, set.Collection.Bump)
	fmt.Fprintf(w, "Share position:      %s (bump %d)\n", set.UserSharePosition.Key, set.UserSharePosition.Bump)
	fmt.Fprintf(w, "User info:           %s (bump %d)\n", set.UserInfo.Key, set.UserInfo.Bump)
	fmt.Fprintf(w, "Vault token account: %s\n", set.VaultTokenAccount)
	fmt.Fprintf(w, "User asset token:    %s\n", set.UserAssetToken)
	fmt.Fprintf(w, "User NFT token:      %s\n", set.UserNFTToken)
	fmt.Fprintf(w, "User share token:    %s\n", set.UserShareToken)
}

func vaultCommand() *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "Show the vault and its liquidity",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "Drop cached replicas before loading",
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				snap, err := b.Vault(ctx, c.Bool("refresh"))
				if err != nil {
					return err
				}
				return printResult(c, snap, func(w io.Writer) { printVault(w, snap) })
			})
		},
	}
}

func printVault(w io.Writer, snap *query.VaultSnapshot) {
	fmt.Fprintf(w, "Vault:         %s\n", snap.Address)
	fmt.Fprintf(w, "  Owner:       %s\n", snap.Owner)
	fmt.Fprintf(w, "  Asset mint:  %s\n", snap.AssetMint)
	fmt.Fprintf(w, "  Share mint:  %s\n", snap.ShareMint)
	fmt.Fprintf(w, "  Liquidity:   %s\n", query.FormatAmount(snap.Liquidity, snap.Decimals))
	fmt.Fprintf(w, "  Shares:      %d\n", snap.TotalShares)
	fmt.Fprintf(w, "  Borrowed:    %s\n", query.FormatAmount(snap.TotalBorrowed, snap.Decimals))
	fmt.Fprintf(w, "  Loaded at:   %s\n", snap.LoadedAt.Format("2006-01-02 15:04:05"))
}

func positionCommand() *cli.Command {
	return &cli.Command{
		Name:  "position",
		Usage: "Show the share position held by an identity NFT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "nft",
				Usage:    "Identity NFT mint",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				pos, err := b.Position(ctx, c.String("nft"))
				if err != nil {
					return err
				}
				return printResult(c, pos, func(w io.Writer) {
					fmt.Fprintf(w, "Position for NFT %s\n", pos.NFTMint)
					fmt.Fprintf(w, "  Owner:     %s\n", pos.Owner)
					fmt.Fprintf(w, "  Shares:    %d\n", pos.ShareAmount)
					fmt.Fprintf(w, "  Deposited: %s\n", query.FormatAmount(pos.DepositAmount, pos.Decimals))
					fmt.Fprintf(w, "  Lock tier: %d\n", pos.LockTier)
					if pos.LockedUntil > 0 {
						fmt.Fprintf(w, "  Locked until: %d\n", pos.LockedUntil)
					}
				})
			})
		},
	}
}

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "balances",
		Usage: "List the wallet's token balances",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "mint",
				Usage: "Mint to query (repeatable; defaults to TOKEN_MINTS)",
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				balances, err := b.Balances(ctx, c.StringSlice("mint")...)
				if err != nil {
					return err
				}
				return printResult(c, balances, func(w io.Writer) {
					if len(balances) == 0 {
						fmt.Fprintln(w, "No token balances found")
						return
					}
					for _, bal := range balances {
						fmt.Fprintf(w, "%s  %s\n", bal.Mint, bal.Display)
					}
				})
			})
		},
	}
}

func collectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "collection",
		Usage: "Show the identity NFT collection",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				col, err := b.Collection(ctx)
				if err != nil {
					return err
				}
				return printResult(c, col, func(w io.Writer) { printCollection(w, col) })
			})
		},
	}
}

func printCollection(w io.Writer, col *solana.Collection) {
	fmt.Fprintf(w, "Collection %s (%s)\n", col.Name, col.Symbol)
	fmt.Fprintf(w, "  Authority:    %s\n", col.Authority)
	fmt.Fprintf(w, "  Base URI:     %s\n", col.BaseURI)
	fmt.Fprintf(w, "  Total supply: %d\n", col.TotalSupply)
}

func depositCommand() *cli.Command {
	return &cli.Command{
		Name:  "deposit",
		Usage: "Deposit asset tokens into the vault against an identity NFT",
		Flags: []cli.Flag{amountFlag(), decimalsFlag(), nftFlag(), assetMintFlag()},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				amount, _, err := resolveAmount(ctx, c, b)
				if err != nil {
					return err
				}
				res, err := b.Deposit(ctx, operationRequest(c, amount))
				if err != nil {
					return err
				}
				return printResult(c, res, func(w io.Writer) { printOperation(w, "Deposit", res) })
			})
		},
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:  "withdraw",
		Usage: "Redeem vault shares held by an identity NFT",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "shares",
				Usage:    "Shares to redeem, in base units",
				Required: true,
			},
			nftFlag(),
			assetMintFlag(),
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				res, err := b.Withdraw(ctx, operationRequest(c, c.Uint64("shares")))
				if err != nil {
					return err
				}
				return printResult(c, res, func(w io.Writer) { printOperation(w, "Withdraw", res) })
			})
		},
	}
}

func lockCommand() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "Deposit and lock asset tokens for a fee tier",
		Flags: []cli.Flag{
			amountFlag(),
			decimalsFlag(),
			nftFlag(),
			assetMintFlag(),
			&cli.StringFlag{
				Name:     "tier",
				Usage:    "Lock tier (Unlocked, Short, Long, VeryLong or 0-3)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				amount, _, err := resolveAmount(ctx, c, b)
				if err != nil {
					return err
				}
				req := operationRequest(c, amount)
				req.Tier = c.String("tier")
				res, err := b.Lock(ctx, req)
				if err != nil {
					return err
				}
				return printResult(c, res, func(w io.Writer) { printOperation(w, "Lock", res) })
			})
		},
	}
}

func feePreviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "fee-preview",
		Usage: "Preview the withdrawal fee for a lock tier",
		Flags: []cli.Flag{
			amountFlag(),
			decimalsFlag(),
			&cli.StringFlag{
				Name:  "tier",
				Usage: "Lock tier (Unlocked, Short, Long, VeryLong or 0-3)",
				Value: "Unlocked",
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				amount, _, err := resolveAmount(ctx, c, b)
				if err != nil {
					return err
				}
				preview, err := b.FeePreview(ctx, amount, c.String("tier"))
				if err != nil {
					return err
				}
				return printResult(c, preview, func(w io.Writer) {
					fmt.Fprintf(w, "Tier %s (%d days)\n", preview.Tier, preview.LockDays)
					fmt.Fprintf(w, "  Amount:  %s\n", preview.Amount)
					fmt.Fprintf(w, "  Fee:     %s (%s)\n", preview.Fee, preview.FeePercent)
					fmt.Fprintf(w, "  Net:     %s\n", preview.Net)
					fmt.Fprintf(w, "  Savings: %s\n", preview.Savings)
				})
			})
		},
	}
}

func operationRequest(c *cli.Context, amount uint64) client.OperationRequest {
	return client.OperationRequest{
		Amount:    amount,
		AssetMint: c.String("asset-mint"),
		NFT:       c.String("nft"),
	}
}

func printOperation(w io.Writer, name string, res *client.OperationResult) {
	fmt.Fprintf(w, "✓ %s confirmed\n", name)
	fmt.Fprintf(w, "  Signature: %s\n", res.Signature)
	if res.State.Message != "" {
		fmt.Fprintf(w, "  %s\n", res.State.Message)
	}
}
