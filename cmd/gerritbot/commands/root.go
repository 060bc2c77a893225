package commands

import (
	"github.com/spf13/cobra"
)

var (
	// dbPath is the path to the SQLite database.
	dbPath string

	// configPath is the path to the daemon config file, used by commands
	// that talk to Gerrit.
	configPath string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "gerritbot",
	Short: "Operator CLI for the Gerrit notification bot",
	Long: `gerritbot manages the notification bot from the command line.

Use it to inspect and edit the persisted users, run ad-hoc Gerrit queries
over the bot's SSH credentials, and show version information.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: ~/.gerritbot/gerritbot.db)",
	)
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "config.yml",
		"Path to the daemon config file",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(usersCmd)
}
