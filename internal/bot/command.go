package bot

import (
	"regexp"
	"strings"
)

// Command is a chat command addressed to the bot.
type Command int

const (
	// CmdUnknown is anything the bot does not understand. It triggers
	// the greeting.
	CmdUnknown Command = iota

	// CmdEnable turns notifications on.
	CmdEnable

	// CmdDisable turns notifications off.
	CmdDisable

	// CmdStatus asks whether notifications are on.
	CmdStatus

	// CmdHelp asks for the command list.
	CmdHelp

	// CmdVersion asks for the bot's version.
	CmdVersion

	// CmdFilterStatus asks for the configured message filter.
	CmdFilterStatus

	// CmdFilterEnable turns the configured filter on.
	CmdFilterEnable

	// CmdFilterDisable turns the configured filter off.
	CmdFilterDisable

	// CmdFilterAdd configures a new message filter. Arg carries the
	// regex.
	CmdFilterAdd
)

// ParsedCommand is the result of parsing one chat message.
type ParsedCommand struct {
	Kind Command

	// Arg is the command argument, currently only used by CmdFilterAdd.
	Arg string
}

// filterPattern captures the regex argument of "filter <regex>". The
// argument keeps its original case since regexes are case sensitive.
var filterPattern = regexp.MustCompile(`(?i)^filter (.*)$`)

// ParseCommand parses one chat message into a command. Fixed commands are
// matched case insensitively on the trimmed text.
func ParseCommand(text string) ParsedCommand {
	trimmed := strings.TrimSpace(text)

	switch strings.ToLower(trimmed) {
	case "enable":
		return ParsedCommand{Kind: CmdEnable}
	case "disable":
		return ParsedCommand{Kind: CmdDisable}
	case "status":
		return ParsedCommand{Kind: CmdStatus}
	case "help":
		return ParsedCommand{Kind: CmdHelp}
	case "version":
		return ParsedCommand{Kind: CmdVersion}
	case "filter":
		return ParsedCommand{Kind: CmdFilterStatus}
	case "filter enable":
		return ParsedCommand{Kind: CmdFilterEnable}
	case "filter disable":
		return ParsedCommand{Kind: CmdFilterDisable}
	}

	if match := filterPattern.FindStringSubmatch(trimmed); match != nil {
		return ParsedCommand{Kind: CmdFilterAdd, Arg: match[1]}
	}

	return ParsedCommand{Kind: CmdUnknown}
}
