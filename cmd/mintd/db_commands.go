package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sablefin/mintd/service/db"
	"github.com/urfave/cli/v2"
)

func listIssuancesDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-issuances",
		Usage:   "List issuances straight from the database",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Filter by network (mainnet, testnet, devnet)",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (created, minted, active, paused)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			issuances, err := store.ListIssuances(context.Background(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to list issuances: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Issuance, 0)
				for _, iss := range issuances {
					if iss.Status == statusFilter {
						filtered = append(filtered, iss)
					}
				}
				issuances = filtered
			}

			if c.Bool("json") {
				return outputJSON(issuances)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNETWORK\tISSUER\tSTATUS\tMPT ISSUANCE ID\tCREATED")
			for _, iss := range issuances {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					iss.ID,
					iss.Network,
					iss.IssuerAddress,
					iss.Status,
					iss.MPTIssuanceID,
					iss.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d issuances\n", len(issuances))
			return nil
		},
	}
}

func getIssuanceDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-issuance",
		Usage:     "Get issuance details",
		Aliases:   []string{"get"},
		ArgsUsage: "<issuance-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: issuance id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			iss, err := store.GetIssuance(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get issuance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(iss)
			}

			// Pretty output
			fmt.Printf("ID:              %s\n", iss.ID)
			fmt.Printf("Network:         %s\n", iss.Network)
			fmt.Printf("Issuer:          %s\n", iss.IssuerAddress)
			fmt.Printf("Status:          %s\n", iss.Status)
			fmt.Printf("Asset Scale:     %d\n", iss.AssetScale)
			fmt.Printf("Max Supply:      %s\n", iss.MaxSupply)
			fmt.Printf("Transfer Fee:    %d\n", iss.TransferFee)
			fmt.Printf("Capabilities:    transfer=%t auth=%t clawback=%t lock=%t\n",
				iss.CanTransfer, iss.RequireAuth, iss.CanClawback, iss.CanLock)
			fmt.Printf("MPT Issuance ID: %s\n", iss.MPTIssuanceID)
			fmt.Printf("Create Tx:       %s\n", iss.CreateTxHash)
			fmt.Printf("Created:         %s\n", iss.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:         %s\n", iss.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listAuthorizationsDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-authorizations",
		Usage:     "List authorizations for an issuance",
		Aliases:   []string{"auths"},
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

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			auths, err := store.ListAuthorizations(context.Background(), db.ListAuthorizationsParams{
				IssuanceID:   c.Args().First(),
				StatusFilter: c.String("status"),
				HolderFilter: c.String("holder"),
			})
			if err != nil {
				return fmt.Errorf("failed to list authorizations: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(auths)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOLDER\tCUSTODY\tSTATUS\tTX HASH\tCREATED")
			for _, auth := range auths {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					auth.HolderAddress,
					auth.Custody,
					auth.Status,
					formatOptional(auth.TxHash),
					auth.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d authorizations\n", len(auths))
			return nil
		},
	}
}

func getTransferDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Get the recorded outcome for an idempotency key",
		ArgsUsage: "<idempotency-key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: idempotency key")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfer, err := store.GetTransfer(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transfer)
			}

			fmt.Printf("Idempotency Key: %s\n", transfer.IdempotencyKey)
			fmt.Printf("Issuance:        %s\n", transfer.IssuanceID)
			fmt.Printf("Source:          %s\n", transfer.SourceAddress)
			fmt.Printf("Destination:     %s\n", transfer.DestinationAddress)
			fmt.Printf("Amount:          %s base units\n", transfer.Amount)
			fmt.Printf("Tx Hash:         %s\n", transfer.TxHash)
			fmt.Printf("Engine Result:   %s\n", transfer.EngineResult)
			fmt.Printf("Validated:       %t\n", transfer.Validated)
			fmt.Printf("Timed Out:       %t\n", transfer.TimedOut)
			fmt.Printf("Elapsed:         %dms\n", transfer.ElapsedMS)
			fmt.Printf("Created:         %s\n", transfer.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

// Helper function to get database connection from CLI context
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format optional strings
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
