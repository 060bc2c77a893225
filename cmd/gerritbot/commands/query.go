package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/roasbeef/gerritbot/internal/baselib/actor"
	"github.com/roasbeef/gerritbot/internal/config"
	"github.com/roasbeef/gerritbot/internal/gerrit"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <search term>...",
	Short: "Run an ad-hoc Gerrit query",
	Long: `Run "gerrit query --format=JSON" over the bot's SSH credentials
and print the raw result, one JSON object per line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	conn, err := gerrit.Connect(gerrit.ConnConfig{
		Addr:        cfg.Gerrit.Host,
		Username:    cfg.Gerrit.Username,
		PrivKeyPath: cfg.Gerrit.PrivKeyPath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	system := actor.NewActorSystem()
	defer system.Shutdown(context.Background())

	// The runner owns and closes the connection.
	runner := gerrit.NewCommandRunner(system, conn)

	output, err := runner.Run(
		cmd.Context(),
		"gerrit query --format=JSON "+strings.Join(args, " "),
	)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Print(output)

	return nil
}
