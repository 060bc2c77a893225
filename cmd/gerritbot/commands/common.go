package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roasbeef/gerritbot/internal/db"
)

// openUserStore opens the database and returns the user store plus a close
// function.
func openUserStore() (*db.UserStore, func() error, error) {
	path := dbPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	sqlite, err := db.OpenSqliteStore(path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db.NewUserStore(sqlite, log), sqlite.Close, nil
}

// formatUser renders one user row for terminal output.
func formatUser(user *db.User) string {
	enabled := "disabled"
	if user.Enabled {
		enabled = "enabled"
	}

	out := fmt.Sprintf("#%d %s (%s)", user.ID, user.Email, enabled)
	if user.Flags != nil {
		out += fmt.Sprintf(" flags=%d", *user.Flags)
	}
	if user.FilterRegex != "" {
		state := "off"
		if user.FilterEnabled {
			state = "on"
		}
		out += fmt.Sprintf(" filter=%q (%s)", user.FilterRegex, state)
	}

	return out
}
