/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smarthatch/authserver/config"
	"github.com/smarthatch/authserver/internal/mq"
	"github.com/smarthatch/authserver/internal/server"
	"github.com/smarthatch/authserver/types"
	"github.com/spf13/cobra"
)

var eventsFilter []string

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect auth events on the configured broker",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print auth events as JSON lines until interrupted",
	Long: `Subscribes to the auth events channel of the broker selected by MQ_BACKEND
and prints each event. Usage:

	MQ_BACKEND=rabbitmq smarthatch events tail --type user.logged_in
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := server.NewMQ(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer queue.Close()

		wanted := make(map[types.AuthEventType]bool, len(eventsFilter))
		for _, t := range eventsFilter {
			wanted[types.AuthEventType(t)] = true
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		publisher := mq.NewEventPublisher(queue, cfg.MQ.EventsChannel)
		err = publisher.ConsumeAuthEvents(ctx, func(_ context.Context, event types.AuthEvent) error {
			if len(wanted) > 0 && !wanted[event.Type] {
				return nil
			}
			return enc.Encode(event)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)

	eventsTailCmd.Flags().StringSliceVar(&eventsFilter, "type", nil, "only print events of these types")
}
