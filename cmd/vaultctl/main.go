package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "vaultctl",
		Usage: "NFT-indexed vault client",
		Description: `Derive vault addresses, inspect positions and run deposits, withdrawals and locks.

Commands run against a local session built from the environment and a keypair
file, or against a vault server when --server-url is set.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before:  loadEnvFile,
		Commands: []*cli.Command{
			deriveCommand(),
			vaultCommand(),
			positionCommand(),
			balancesCommand(),
			collectionCommand(),
			depositCommand(),
			withdrawCommand(),
			lockCommand(),
			feePreviewCommand(),
			initCollectionCommand(),
			mintNFTCommand(),
			mintTokensCommand(),
			{
				Name:  "tx",
				Usage: "Transaction state commands",
				Subcommands: []*cli.Command{
					txStateCommand(),
					txWatchCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Vault server URL; when empty, commands run a local session",
				EnvVars: []string{"SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Usage:   "solana-keygen keypair file for local sessions",
				EnvVars: []string{"KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Wallet network for local sessions",
				EnvVars: []string{"NETWORK"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (implies --json)",
			},
		},
	}
}

// loadEnvFile loads --env-file. A missing default file is not an error.
func loadEnvFile(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !c.IsSet("env-file") {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
