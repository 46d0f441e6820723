package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func authorizeHolderCommand() *cli.Command {
	return &cli.Command{
		Name:      "authorize",
		Usage:     "Authorize a holder for an issuance",
		ArgsUsage: "<issuance-id> <holder-address>",
		Description: `Authorize a holder to hold token value for an issuance.

Custodial holders are signed for directly and come back authorized.
Non-custodial holders get a pending record, a correlation id, and the
transaction payload they must sign and submit themselves; settle the
record afterwards with 'mintd auth confirm'.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: issuance id and holder address")
			}

			cl := getClient(c)
			result, err := cl.AuthorizeHolder(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to authorize holder: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			if result.Status == "authorized" {
				fmt.Printf("✓ Holder authorized (tx %s)\n", result.TxHash)
				return nil
			}
			fmt.Printf("⧗ Authorization pending holder signature\n")
			fmt.Printf("  Correlation ID: %s\n", result.CorrelationID)
			fmt.Printf("  Signing payload:\n")
			fmt.Printf("  %s\n", string(result.SigningPayload))
			return nil
		},
	}
}

func confirmAuthorizationCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirm",
		Usage:     "Settle a pending authorization against an observed transaction",
		ArgsUsage: "<correlation-id> <tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: correlation id and tx hash")
			}

			cl := getClient(c)
			auth, err := cl.ConfirmAuthorization(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to confirm authorization: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(auth)
			}
			fmt.Printf("✓ Authorization settled: %s\n", auth.Status)
			return nil
		},
	}
}

func listAuthorizationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List authorizations for an issuance",
		ArgsUsage: "<issuance-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, authorized, rejected)",
			},
			&cli.StringFlag{
				Name:  "holder",
				Usage: "Filter by holder address",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			cl := getClient(c)
			auths, err := cl.ListAuthorizations(context.Background(), c.Args().First(), c.String("status"), c.String("holder"))
			if err != nil {
				return fmt.Errorf("failed to list authorizations: %w", err)
			}
			return outputJSON(auths)
		},
	}
}
