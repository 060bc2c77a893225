package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/roasbeef/gerritbot/internal/db"
	"github.com/stretchr/testify/require"
)

func newTestUserStore(t *testing.T, dbPath string) *db.UserStore {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	sqlite, err := db.OpenSqliteStore(dbPath, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sqlite.Close())
	})

	return db.NewUserStore(sqlite, log)
}

// TestStateEnableRegistersUser checks first contact creates the user.
func TestStateEnableRegistersUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	state := NewState(nil)

	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", true,
	))
	require.Equal(t, 1, state.NumUsers())

	ref, ok := state.FindByEmail("jdoe@example.com")
	require.True(t, ok)
	require.True(t, state.UserAt(ref).Enabled)

	// Disabling the same person must not create a second user.
	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", false,
	))
	require.Equal(t, 1, state.NumUsers())
	require.False(t, state.UserAt(ref).Enabled)
}

// TestStateStatus checks the status wording and the user count.
func TestStateStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	state := NewState(nil)

	require.Contains(t, state.StatusFor("person-1"), "**disabled**")
	require.Contains(t, state.StatusFor("person-1"), "another 0 user(s)")

	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", true,
	))
	require.NoError(t, state.SetEnabled(
		ctx, "person-2", "other@example.com", true,
	))

	status := state.StatusFor("person-1")
	require.Contains(t, status, "**enabled**")
	require.Contains(t, status, "another 1 user(s)")
}

// TestStateFilterLifecycle walks a filter through add, toggle and the error
// cases.
func TestStateFilterLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	state := NewState(nil)

	// No user yet.
	require.ErrorIs(
		t, state.AddFilter(ctx, "person-1", ".*"), ErrNotRegistered,
	)
	_, err := state.SetFilterEnabled(ctx, "person-1", true)
	require.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", true,
	))

	// Toggling before adding a filter.
	_, err = state.SetFilterEnabled(ctx, "person-1", true)
	require.ErrorIs(t, err, ErrNoFilterConfigured)

	// Invalid regex is rejected and leaves no filter behind.
	require.ErrorIs(
		t, state.AddFilter(ctx, "person-1", ".some_regex/["),
		ErrInvalidFilter,
	)
	regex, _, err := state.Filter("person-1")
	require.NoError(t, err)
	require.Empty(t, regex)

	// A valid filter is enabled right away.
	require.NoError(t, state.AddFilter(ctx, "person-1", ".*some_word.*"))
	ref, _ := state.FindByEmail("jdoe@example.com")
	require.True(t, state.IsFiltered(ref, "contains some_word here"))
	require.False(t, state.IsFiltered(ref, "unrelated"))

	// Disabling keeps the regex but stops matching.
	regex, err = state.SetFilterEnabled(ctx, "person-1", false)
	require.NoError(t, err)
	require.Equal(t, ".*some_word.*", regex)
	require.False(t, state.IsFiltered(ref, "contains some_word here"))

	// Filter commands from a disabled user are rejected.
	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", false,
	))
	require.ErrorIs(
		t, state.AddFilter(ctx, "person-1", ".*"),
		ErrNotificationsDisabled,
	)
	_, err = state.SetFilterEnabled(ctx, "person-1", true)
	require.ErrorIs(t, err, ErrNotificationsDisabled)
}

// TestStatePersistence checks mutations are written through and Load
// restores them into a fresh state.
func TestStatePersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "gerritbot.db")
	store := newTestUserStore(t, dbPath)

	state := NewState(store)
	require.NoError(t, state.Load(ctx))

	require.NoError(t, state.SetEnabled(
		ctx, "person-1", "jdoe@example.com", true,
	))
	require.NoError(t, state.AddFilter(ctx, "person-1", ".*noise.*"))
	require.NoError(t, state.SetEnabled(
		ctx, "person-2", "other@example.com", false,
	))

	restored := NewState(store)
	require.NoError(t, restored.Load(ctx))
	require.Equal(t, 2, restored.NumUsers())

	ref, ok := restored.FindByEmail("jdoe@example.com")
	require.True(t, ok)
	user := restored.UserAt(ref)
	require.True(t, user.Enabled)
	require.Equal(t, ".*noise.*", user.FilterRegex)
	require.True(t, user.FilterEnabled)
	require.Equal(t, "person-1", user.SparkPersonID)

	ref, ok = restored.FindByEmail("other@example.com")
	require.True(t, ok)
	require.False(t, restored.UserAt(ref).Enabled)
}
