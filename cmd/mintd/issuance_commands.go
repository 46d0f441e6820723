package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sablefin/mintd/client"
	"github.com/urfave/cli/v2"
)

// getClient builds an HTTP client against the configured server URL.
func getClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func createIssuanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new token type on-chain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "network",
				Aliases:  []string{"n"},
				Usage:    "Target network (mainnet, testnet, devnet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "issuer",
				Usage:    "Issuer account address",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "asset-scale",
				Usage: "Decimal places in the display unit",
			},
			&cli.StringFlag{
				Name:     "max-supply",
				Usage:    "Maximum supply in base units",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "transfer-fee",
				Usage: "Transfer fee in hundredths of a basis point (max 50000)",
			},
			&cli.BoolFlag{
				Name:  "can-transfer",
				Usage: "Allow holder-to-holder transfers",
			},
			&cli.BoolFlag{
				Name:  "require-auth",
				Usage: "Require holder authorization",
			},
			&cli.BoolFlag{
				Name:  "can-clawback",
				Usage: "Allow the issuer to claw back balances",
			},
			&cli.BoolFlag{
				Name:  "can-lock",
				Usage: "Allow the issuer to freeze balances",
			},
			&cli.StringFlag{
				Name:  "metadata",
				Usage: "Asset metadata (JSON or plain text)",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			result, err := cl.CreateIssuance(context.Background(), client.CreateIssuanceRequest{
				Network:       c.String("network"),
				IssuerAddress: c.String("issuer"),
				AssetScale:    uint8(c.Uint("asset-scale")),
				MaxSupply:     c.String("max-supply"),
				TransferFee:   uint16(c.Uint("transfer-fee")),
				CanTransfer:   c.Bool("can-transfer"),
				RequireAuth:   c.Bool("require-auth"),
				CanClawback:   c.Bool("can-clawback"),
				CanLock:       c.Bool("can-lock"),
				Metadata:      c.String("metadata"),
			})
			if err != nil {
				return fmt.Errorf("failed to create issuance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Issuance created\n")
			fmt.Printf("  ID:              %s\n", result.Issuance.ID)
			fmt.Printf("  MPT Issuance ID: %s\n", result.Issuance.MPTIssuanceID)
			fmt.Printf("  Tx Hash:         %s\n", result.Issuance.CreateTxHash)
			if result.ReconcileNeeded {
				fmt.Printf("  ⚠ Record pending reconciliation\n")
			}
			return nil
		},
	}
}

func getIssuanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get issuance details from the server",
		ArgsUsage: "<issuance-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			cl := getClient(c)
			iss, err := cl.GetIssuance(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get issuance: %w", err)
			}
			return outputJSON(iss)
		},
	}
}

func listIssuancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List issuances from the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Filter by network",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			issuances, err := cl.ListIssuances(context.Background(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to list issuances: %w", err)
			}
			return outputJSON(issuances)
		},
	}
}

func freezeCommand() *cli.Command {
	return &cli.Command{
		Name:      "freeze",
		Usage:     "Freeze an issuance, globally or for one holder",
		ArgsUsage: "<issuance-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "holder",
				Usage: "Freeze only this holder's balance (omit for a global freeze)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			cl := getClient(c)
			result, err := cl.Freeze(context.Background(), c.Args().First(), c.String("holder"))
			if err != nil {
				return fmt.Errorf("failed to freeze: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("✓ Frozen (tx %s)\n", result.TxHash)
			return nil
		},
	}
}

func unfreezeCommand() *cli.Command {
	return &cli.Command{
		Name:      "unfreeze",
		Usage:     "Unfreeze an issuance, globally or for one holder",
		ArgsUsage: "<issuance-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "holder",
				Usage: "Unfreeze only this holder's balance (omit for a global unfreeze)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			cl := getClient(c)
			result, err := cl.Unfreeze(context.Background(), c.Args().First(), c.String("holder"))
			if err != nil {
				return fmt.Errorf("failed to unfreeze: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("✓ Unfrozen (tx %s)\n", result.TxHash)
			return nil
		},
	}
}

func clawbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "clawback",
		Usage:     "Claw token value back from a holder",
		ArgsUsage: "<issuance-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "holder",
				Usage:    "Holder address to claw back from",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount in display units (e.g. '25.50')",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			cl := getClient(c)
			result, err := cl.Clawback(context.Background(), c.Args().First(), c.String("holder"), c.String("amount"))
			if err != nil {
				return fmt.Errorf("failed to claw back: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("✓ Clawed back %s from %s (tx %s)\n", c.String("amount"), c.String("holder"), result.TxHash)
			return nil
		},
	}
}
