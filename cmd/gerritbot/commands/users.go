package commands

import (
	"fmt"
	"strings"

	"github.com/roasbeef/gerritbot/internal/bot"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect and edit the persisted users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUsersList,
}

var usersEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Enable notifications for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserEnabled(cmd, args[0], true)
	},
}

var usersDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable notifications for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserEnabled(cmd, args[0], false)
	},
}

var usersFlagsCmd = &cobra.Command{
	Use:   "flags <email> [+flag|-flag ...]",
	Short: "Show or edit a user's notification flags",
	Long: `Show a user's notification flags, or edit them with +flag and
-flag arguments. The single argument "reset" restores the default flag set.

Known flags: ` + flagList() + `.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUsersFlags,
}

func flagList() string {
	names := make([]string, len(bot.AllFlags))
	for i, flag := range bot.AllFlags {
		names[i] = flag.String()
	}

	return strings.Join(names, ", ")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openUserStore()
	if err != nil {
		return err
	}
	defer closeStore()

	users, err := store.ListUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}

	for i := range users {
		fmt.Println(formatUser(&users[i]))
	}

	return nil
}

func setUserEnabled(cmd *cobra.Command, email string, enabled bool) error {
	store, closeStore, err := openUserStore()
	if err != nil {
		return err
	}
	defer closeStore()

	err = store.SetUserEnabled(cmd.Context(), email, enabled)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	user, err := store.GetUserByEmail(cmd.Context(), email)
	if err != nil {
		return err
	}
	fmt.Println(formatUser(&user))

	return nil
}

func runUsersFlags(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openUserStore()
	if err != nil {
		return err
	}
	defer closeStore()

	email := args[0]
	user, err := store.GetUserByEmail(cmd.Context(), email)
	if err != nil {
		return fmt.Errorf("failed to fetch user: %w", err)
	}

	edits := args[1:]
	if len(edits) == 0 {
		fmt.Printf("%s: %s\n", email, bot.FlagsOf(&user))
		return nil
	}

	if len(edits) == 1 && edits[0] == "reset" {
		err := store.SetUserFlags(cmd.Context(), email, nil)
		if err != nil {
			return fmt.Errorf("failed to reset flags: %w", err)
		}

		fmt.Printf("%s: %s (default)\n", email, bot.DefaultFlags)
		return nil
	}

	flags := bot.FlagsOf(&user)
	for _, edit := range edits {
		if len(edit) < 2 ||
			(edit[0] != '+' && edit[0] != '-') {

			return fmt.Errorf("flag edit %q must start with + "+
				"or -", edit)
		}

		flag, err := bot.ParseFlag(edit[1:])
		if err != nil {
			return err
		}

		flags = flags.With(flag, edit[0] == '+')
	}

	value := int64(flags)
	err = store.SetUserFlags(cmd.Context(), email, &value)
	if err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}

	fmt.Printf("%s: %s\n", email, flags)

	return nil
}

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersEnableCmd)
	usersCmd.AddCommand(usersDisableCmd)
	usersCmd.AddCommand(usersFlagsCmd)
}
