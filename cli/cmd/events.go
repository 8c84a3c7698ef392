package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/impactwatch/impactwatch/cli/internal/events"
	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/impactwatch/impactwatch/common/audit"
	"github.com/impactwatch/impactwatch/common/logging"
	natsclient "github.com/impactwatch/impactwatch/common/messaging/nats"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow Impact Card notifications",
	Long: `Stream card created and updated notifications from the message broker
until interrupted. With --signing-key, events that do not carry a valid
signature are reported and dropped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		url, _ := cmd.Flags().GetString("nats-url")
		if url == "" {
			url = cfg.NATSURL(profile)
		}
		queue, _ := cmd.Flags().GetString("queue")
		key, _ := cmd.Flags().GetString("signing-key")

		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = url
		natsCfg.Name = "iwctl-events"
		natsCfg.MaxReconnects = 5
		natsCfg.Logger = logging.Discard()
		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			return err
		}
		defer client.Close()

		opts := events.Options{Queue: queue}
		if key != "" {
			opts.Verifier = audit.NewEventSigner(key)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format := outputFormat(cmd)
		output.Info("Following card events on %s (Ctrl-C to stop)", url)
		err = events.Follow(ctx, client, opts, func(ev events.CardEvent) {
			printEvent(format, ev)
		}, func(err error) {
			output.Warn("%v", err)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func printEvent(format string, ev events.CardEvent) {
	if ok, _ := output.Structured(format, ev); ok {
		return
	}
	mark := ""
	if ev.Verified {
		mark = " ✓"
	}
	fmt.Fprintf(output.Out, "%s  %-9s %s  %s  %s  %s%s\n",
		ev.At.Local().Format("15:04:05"),
		ev.Action,
		ev.CardID,
		ev.WatchID,
		output.RiskColor(ev.RiskLevel).Sprint(ev.RiskLevel),
		ev.Status,
		mark)
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("nats-url", "", "broker URL (default: profile or defaults.nats_url)")
	eventsCmd.Flags().String("queue", "", "join a queue group to share events with other followers")
	eventsCmd.Flags().String("signing-key", "", "verify event signatures with this key")
}
