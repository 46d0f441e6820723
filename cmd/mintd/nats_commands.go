package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams lifecycle events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to token lifecycle events",
		ArgsUsage: "[subject]",
		Description: `Subscribe to lifecycle events published to NATS JetStream.

Events are published under "mpt." plus the event kind, so the subject
argument selects a slice of the lifecycle:

  mintd nats subscribe                      # everything (mpt.>)
  mintd nats subscribe "mpt.issuance.*"     # issuance events only
  mintd nats subscribe mpt.reconcile.needed # dual-write divergences

Use --filter with a jq expression to keep only matching events:

  mintd nats subscribe --filter '.kind == "transfer.completed"' \
      --filter '.network == "testnet"' --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression an event must satisfy (repeatable; all must match)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "mintd-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = c.Args().Get(0)
			}

			// Compile jq filters up front so a bad expression fails fast.
			filters := c.StringSlice("filter")
			compiled := make([]*gojq.Code, len(filters))
			for i, filter := range filters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiled[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			return streamEvents(subject, c.String("nats-url"), compiled, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamEvents connects to NATS and streams lifecycle events.
func streamEvents(subject, natsURL string, filters []*gojq.Code, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.LifecycleEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}

			if !matchesFilters(&event, filters) {
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Event #%d: %s\n", count, event.Kind)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Network:     %s\n", event.Network)
				fmt.Printf("Issuance:    %s\n", event.IssuanceID)
				if event.Holder != "" {
					fmt.Printf("Holder:      %s\n", event.Holder)
				}
				if event.Amount != "" {
					fmt.Printf("Amount:      %s base units\n", event.Amount)
				}
				if event.TxHash != "" {
					fmt.Printf("Tx Hash:     %s\n", event.TxHash)
				}
				if event.Detail != "" {
					fmt.Printf("Detail:      %s\n", event.Detail)
				}
				fmt.Printf("Occurred:    %s\n\n", event.OccurredAt.Format(time.RFC3339))
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d event(s)\n", count)
			}
			return nil
		}
	}
}

// matchesFilters reports whether every compiled jq filter evaluates to a
// truthy value against the event.
func matchesFilters(event *natspkg.LifecycleEvent, filters []*gojq.Code) bool {
	if len(filters) == 0 {
		return true
	}

	// Round-trip through JSON so jq sees plain maps.
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var eventJSON interface{}
	if err := json.Unmarshal(data, &eventJSON); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(eventJSON)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
