package bot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseCommand checks the command surface, including case folding and
// that filter regex arguments keep their case.
func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want ParsedCommand
	}{
		{"enable", ParsedCommand{Kind: CmdEnable}},
		{"  Enable ", ParsedCommand{Kind: CmdEnable}},
		{"disable", ParsedCommand{Kind: CmdDisable}},
		{"STATUS", ParsedCommand{Kind: CmdStatus}},
		{"help", ParsedCommand{Kind: CmdHelp}},
		{"version", ParsedCommand{Kind: CmdVersion}},
		{"filter", ParsedCommand{Kind: CmdFilterStatus}},
		{"filter enable", ParsedCommand{Kind: CmdFilterEnable}},
		{"Filter Disable", ParsedCommand{Kind: CmdFilterDisable}},
		{
			"filter .*Code-Review.*",
			ParsedCommand{
				Kind: CmdFilterAdd, Arg: ".*Code-Review.*",
			},
		},
		{
			"FILTER Some Pattern",
			ParsedCommand{
				Kind: CmdFilterAdd, Arg: "Some Pattern",
			},
		},
		{"good morning", ParsedCommand{Kind: CmdUnknown}},
		{"", ParsedCommand{Kind: CmdUnknown}},
	}

	for _, test := range tests {
		require.Equal(
			t, test.want, ParseCommand(test.text),
			"text %q", test.text,
		)
	}
}

// TestFlagSet checks flag membership, toggling and name round trips.
func TestFlagSet(t *testing.T) {
	t.Parallel()

	require.True(t, DefaultFlags.Contains(FlagNotifyReviewApprovals))
	require.True(t, DefaultFlags.Contains(FlagNotifyReviewInlineComments))
	require.True(t, DefaultFlags.Contains(FlagNotifyReviewerAdded))
	require.False(t, DefaultFlags.Contains(FlagNotifyReviewComments))

	flags := DefaultFlags.With(FlagNotifyReviewerAdded, false)
	require.False(t, flags.Contains(FlagNotifyReviewerAdded))

	flags = flags.With(FlagNotifyReviewComments, true)
	require.True(t, flags.Contains(FlagNotifyReviewComments))

	for _, flag := range AllFlags {
		parsed, err := ParseFlag(flag.String())
		require.NoError(t, err)
		require.Equal(t, flag, parsed)
	}

	_, err := ParseFlag("notify_everything")
	require.Error(t, err)
}
