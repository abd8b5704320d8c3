package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/fixgate/pkg/config"
	"github.com/marmos91/fixgate/pkg/store"
	"github.com/marmos91/fixgate/pkg/store/factory"
	sqlstore "github.com/marmos91/fixgate/pkg/store/sql"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show the persisted session and its counters",
	Long: `Show the configured session's persisted sequence counters from the
message store. Run while the engine is down; the store backends are
single-writer.`,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, messageStore, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer messageStore.Close()

	id := sessionIDFromConfig(cfg)
	seq, err := messageStore.Load(context.Background(), id)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Session", "Next In", "Next Out", "Created"})
	table.Append([]string{
		id.String(),
		strconv.Itoa(seq.NextIncoming),
		strconv.Itoa(seq.NextOutgoing),
		seq.CreatedAt.Format("2006-01-02 15:04:05 MST"),
	})
	table.Render()
	return nil
}

// openStoreFromConfig loads the config and opens its journal backend.
func openStoreFromConfig() (*config.Config, store.MessageStore, error) {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	messageStore, err := factory.Open(factory.Config{
		Backend: store.Backend(cfg.Store.Type),
		Path:    cfg.Store.Path,
		Postgres: sqlstore.PostgresConfig{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			Database: cfg.Store.Postgres.Database,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			SSLMode:  cfg.Store.Postgres.SSLMode,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open message store: %w", err)
	}
	return cfg, messageStore, nil
}
