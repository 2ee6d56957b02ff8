package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/nftvault/client"
	"github.com/brojonat/nftvault/service/txn"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

var errWatchDone = errors.New("watch condition met")

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, newLogger(c.String("log-level")))
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "vaultctl CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}

func txStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the current transaction state",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b backend) error {
				st, err := b.TxState(ctx)
				if err != nil {
					return err
				}
				return printResult(c, st, func(w io.Writer) { printState(w, *st) })
			})
		},
	}
}

func txWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream transaction state updates from the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "until-jq",
				Usage: "Stop once this jq expression is truthy for a state, e.g. '.status == \"success\"'",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			var until *gojq.Code
			if expr := c.String("until-jq"); expr != "" {
				code, err := compileJQ(expr)
				if err != nil {
					return err
				}
				until = code
			}

			ctx := c.Context
			if d := c.Duration("timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "Watching transaction state at %s...\n", serverURL)
			}

			cl := client.NewClient(serverURL, nil, newLogger(c.String("log-level")))
			err := cl.StreamTx(ctx, func(st txn.State) error {
				if err := printResult(c, st, func(w io.Writer) { printState(w, st) }); err != nil {
					return err
				}
				if until == nil {
					return nil
				}
				ok, err := matchJQ(until, st)
				if err != nil {
					return err
				}
				if ok {
					return errWatchDone
				}
				return nil
			})
			if errors.Is(err, errWatchDone) {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || (err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
				return fmt.Errorf("timed out waiting for transaction state")
			}
			return err
		},
	}
}

func printState(w io.Writer, st txn.State) {
	line := string(st.Status)
	if st.Operation != "" {
		line += " " + string(st.Operation)
	}
	if st.Message != "" {
		line += ": " + st.Message
	}
	fmt.Fprintln(w, line)
	if st.Signature != "" {
		fmt.Fprintf(w, "  Signature: %s\n", st.Signature)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "  Error (%s): %s\n", st.Kind, st.Error)
	}
}
