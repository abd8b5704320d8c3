package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/fixgate/pkg/config"
	"github.com/marmos91/fixgate/pkg/fix"
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Override the persisted sequence counters",
	Long: `Reset or set the persisted sequence counters while the engine is
down ("fixgate sessions" shows them). Overriding counters is how
operators reconcile a session after the counterparty resets on their
side.`,
}

var sequenceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset both counters to 1",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, messageStore, err := openStoreFromConfig()
		if err != nil {
			return err
		}
		defer messageStore.Close()

		id := sessionIDFromConfig(cfg)
		if err := messageStore.Reset(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Sequence numbers for %s reset to {1,1}\n", id)
		return nil
	},
}

var sequenceSetCmd = &cobra.Command{
	Use:   "set <next-in> <next-out>",
	Short: "Set the next incoming and outgoing sequence numbers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nextIn, err := strconv.Atoi(args[0])
		if err != nil || nextIn < 1 {
			return fmt.Errorf("next-in must be a positive integer, got %q", args[0])
		}
		nextOut, err := strconv.Atoi(args[1])
		if err != nil || nextOut < 1 {
			return fmt.Errorf("next-out must be a positive integer, got %q", args[1])
		}

		cfg, messageStore, err := openStoreFromConfig()
		if err != nil {
			return err
		}
		defer messageStore.Close()

		id := sessionIDFromConfig(cfg)
		if err := messageStore.PersistSeq(context.Background(), id, nextIn, nextOut); err != nil {
			return err
		}
		fmt.Printf("Sequence numbers for %s set to {%d,%d}\n", id, nextIn, nextOut)
		return nil
	},
}

func init() {
	sequenceCmd.AddCommand(sequenceResetCmd)
	sequenceCmd.AddCommand(sequenceSetCmd)
}

func sessionIDFromConfig(cfg *config.Config) fix.SessionID {
	return fix.SessionID{
		BeginString:  cfg.Session.Version,
		SenderCompID: cfg.Session.Sender,
		TargetCompID: cfg.Session.Target,
	}
}
