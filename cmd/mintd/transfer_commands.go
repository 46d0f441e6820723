package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sablefin/mintd/client"
	"github.com/urfave/cli/v2"
)

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Mint or move token value, exactly once per idempotency key",
		Description: `Submit a payment of token value. A source equal to the issuer address
mints; any other source is a holder-to-holder transfer (which requires the
transferable capability).

Every call carries an idempotency key. Repeating a settled key replays the
stored outcome instead of submitting again; omit --idempotency-key to have
one generated, but pass your own when you might retry.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "issuance",
				Aliases:  []string{"i"},
				Usage:    "Issuance id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Source address (the issuer address mints)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Destination address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in display units (e.g. '500.00')",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "idempotency-key",
				Aliases: []string{"k"},
				Usage:   "Idempotency key (generated when omitted)",
			},
			&cli.BoolFlag{
				Name:  "auto-authorize",
				Usage: "Authorize a custodial destination first when the issuance requires it",
			},
		},
		Action: func(c *cli.Context) error {
			key := c.String("idempotency-key")
			if key == "" {
				key = uuid.NewString()
			}

			cl := getClient(c)
			result, err := cl.Transfer(context.Background(), client.TransferRequest{
				IssuanceID:         c.String("issuance"),
				SourceAddress:      c.String("from"),
				DestinationAddress: c.String("to"),
				Amount:             c.String("amount"),
				IdempotencyKey:     key,
				AutoAuthorize:      c.Bool("auto-authorize"),
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			if result.Replayed {
				fmt.Printf("✓ Replayed stored outcome for key %s\n", key)
			} else {
				fmt.Printf("✓ Transfer validated\n")
			}
			if result.Transfer != nil {
				fmt.Printf("  Tx Hash: %s\n", result.Transfer.TxHash)
				fmt.Printf("  Amount:  %s base units\n", result.Transfer.Amount)
			}
			if result.Outcome != nil && result.Outcome.TimedOut {
				fmt.Printf("  ⚠ Timed out before validation; retry with the same key: %s\n", key)
			}
			if result.ReconcileNeeded {
				fmt.Printf("  ⚠ Record pending reconciliation\n")
			}
			return nil
		},
	}
}
