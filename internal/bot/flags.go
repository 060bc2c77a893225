package bot

import (
	"fmt"
	"strings"

	"github.com/roasbeef/gerritbot/internal/db"
)

// Flag is one notification preference bit. A user's flags decide which
// review events turn into chat messages for them.
type Flag int64

const (
	// FlagNotifyReviewApprovals selects messages for reviews that carry
	// label votes.
	FlagNotifyReviewApprovals Flag = 1 << iota

	// FlagNotifyReviewComments selects messages for review comments
	// without any votes.
	FlagNotifyReviewComments

	// FlagNotifyReviewInlineComments selects messages for reviews that
	// carry inline comments.
	FlagNotifyReviewInlineComments

	// FlagNotifyReviewerAdded selects messages for being added as a
	// reviewer on a change.
	FlagNotifyReviewerAdded
)

// DefaultFlags is the flag set of users that never customized anything.
const DefaultFlags = FlagNotifyReviewApprovals |
	FlagNotifyReviewInlineComments |
	FlagNotifyReviewerAdded

// flagNames maps each flag to its stable external name, used by the
// operator CLI and in log output.
var flagNames = map[Flag]string{
	FlagNotifyReviewApprovals:      "notify_review_approvals",
	FlagNotifyReviewComments:       "notify_review_comments",
	FlagNotifyReviewInlineComments: "notify_review_inline_comments",
	FlagNotifyReviewerAdded:        "notify_reviewer_added",
}

// AllFlags lists every known flag in bit order.
var AllFlags = []Flag{
	FlagNotifyReviewApprovals,
	FlagNotifyReviewComments,
	FlagNotifyReviewInlineComments,
	FlagNotifyReviewerAdded,
}

// Contains reports whether every bit of flag is set.
func (f Flag) Contains(flag Flag) bool {
	return f&flag == flag
}

// With returns the flag set with flag set or cleared.
func (f Flag) With(flag Flag, value bool) Flag {
	if value {
		return f | flag
	}

	return f &^ flag
}

// String renders the set as a comma separated list of flag names.
func (f Flag) String() string {
	var names []string
	for _, flag := range AllFlags {
		if f.Contains(flag) {
			names = append(names, flagNames[flag])
		}
	}

	return strings.Join(names, ",")
}

// ParseFlag resolves a single flag name.
func ParseFlag(name string) (Flag, error) {
	for flag, flagName := range flagNames {
		if flagName == name {
			return flag, nil
		}
	}

	return 0, fmt.Errorf("unknown flag %q", name)
}

// FlagsOf decodes a stored user's flag set, falling back to the defaults
// when the user never customized their flags.
func FlagsOf(user *db.User) Flag {
	if user.Flags == nil {
		return DefaultFlags
	}

	return Flag(*user.Flags)
}
