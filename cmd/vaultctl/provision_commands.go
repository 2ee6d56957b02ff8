package main

import (
	"context"
	"fmt"
	"io"

	"github.com/brojonat/nftvault/client"
	"github.com/urfave/cli/v2"
)

func initCollectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-collection",
		Usage: "Initialize the identity NFT collection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Collection name", Required: true},
			&cli.StringFlag{Name: "symbol", Usage: "Collection symbol", Required: true},
			&cli.StringFlag{Name: "base-uri", Usage: "Metadata base URI", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				res, err := b.InitializeCollection(ctx, c.String("name"), c.String("symbol"), c.String("base-uri"))
				if err != nil {
					return err
				}
				return printResult(c, res, func(w io.Writer) { printOperation(w, "Collection initialization", res) })
			})
		},
	}
}

func mintNFTCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint-nft",
		Usage: "Mint identity NFTs to the wallet",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "Number of NFTs to mint in sequence"},
		},
		Action: func(c *cli.Context) error {
			count := c.Int("count")
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return withBackend(c, func(ctx context.Context, b backend) error {
				if count == 1 {
					res, err := b.MintNFT(ctx)
					if err != nil {
						return err
					}
					return printResult(c, res, func(w io.Writer) { printMint(w, res) })
				}

				res, err := b.MintNFTs(ctx, count)
				if err != nil {
					return err
				}
				if err := printResult(c, res, func(w io.Writer) {
					for i := range res.Minted {
						printMint(w, &res.Minted[i])
					}
				}); err != nil {
					return err
				}
				if res.Error != "" {
					return fmt.Errorf("minted %d of %d: %s", len(res.Minted), res.Requested, res.Error)
				}
				return nil
			})
		},
	}
}

func printMint(w io.Writer, res *client.MintResult) {
	fmt.Fprintf(w, "✓ Identity NFT minted\n")
	fmt.Fprintf(w, "  Mint:          %s\n", res.Mint)
	fmt.Fprintf(w, "  Token account: %s\n", res.TokenAccount)
	fmt.Fprintf(w, "  Signature:     %s\n", res.Signature)
}

func mintTokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint-tokens",
		Usage: "Mint test tokens to the wallet",
		Flags: []cli.Flag{
			amountFlag(),
			decimalsFlag(),
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Mint to issue (defaults to the vault asset)",
			},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				amount, _, err := resolveAmount(ctx, c, b)
				if err != nil {
					return err
				}
				res, err := b.MintTokens(ctx, amount, c.String("mint"))
				if err != nil {
					return err
				}
				return printResult(c, res, func(w io.Writer) { printOperation(w, "Token mint", res) })
			})
		},
	}
}
