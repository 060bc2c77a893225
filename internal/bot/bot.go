// Package bot is the coordinator: it merges review events from Gerrit and
// chat commands from Webex into one stream of actions, applies user state
// and deduplication, and sends the resulting messages. All state mutation
// happens on the single Run goroutine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/gerritbot/internal/dedup"
	"github.com/roasbeef/gerritbot/internal/format"
	"github.com/roasbeef/gerritbot/internal/gerrit"
	"github.com/roasbeef/gerritbot/internal/spark"
)

const greetingsMsg = "Hi. I am GerritBot. I can watch Gerrit reviews " +
	"for you, and notify you about new +1/-1's.\n\n" +
	"To enable notifications, just type in **enable**. A small note: " +
	"your email in Webex and in Gerrit has to be the same. Otherwise, " +
	"I can't match your accounts.\n\n" +
	"For more information, type in **help**.\n"

const helpMsg = "Commands:\n\n" +
	"`enable` -- I will start notifying you.\n\n" +
	"`disable` -- I will stop notifying you.\n\n" +
	"`filter <regex>` -- Filter all messages by applying the specified " +
	"regex pattern. If the pattern matches, the message is filtered. " +
	"The pattern is applied to the full text I send to you. Be aware, " +
	"to send this command **not** in markdown mode, otherwise, Webex " +
	"would eat some special characters in the pattern. For regex " +
	"specification, cf. https://golang.org/s/re2syntax.\n\n" +
	"`filter enable` -- Enable the filtering of messages with the " +
	"configured filter.\n\n" +
	"`filter disable` -- Disable the filtering of messages with the " +
	"configured filter.\n\n" +
	"`status` -- Show if I am notifying you, and a little bit more " +
	"information. 😉\n\n" +
	"`help` -- This message\n"

const notRegisteredMsg = "Notifications for you are disabled. Please " +
	"enable notifications first, and then add a filter."

const invalidFilterMsg = "Your provided filter is invalid. Please " +
	"double-check the regex you provided. Specifications of the regex " +
	"are here: https://golang.org/s/re2syntax."

// ChatClient is the slice of the Webex client the bot needs: direct
// notifications by email and replies to inbound messages. *spark.Client
// implements it.
type ChatClient interface {
	SendToPersonEmail(ctx context.Context, email, markdown string) error
	Reply(ctx context.Context, msg *spark.Message, markdown string) error
}

// Config bundles the bot's collaborators.
type Config struct {
	// State is the user state, loaded before Run is called.
	State *State

	// Limiter deduplicates repeat notifications. Nil disables
	// deduplication.
	Limiter *dedup.Limiter

	// Chat delivers outbound messages.
	Chat ChatClient

	// Version is the reply to the version command.
	Version string
}

// Bot drives the notification loop.
type Bot struct {
	cfg Config
}

// New builds a bot.
func New(cfg Config) *Bot {
	if cfg.Limiter == nil {
		cfg.Limiter = dedup.NewLimiter(0, 0)
	}

	return &Bot{cfg: cfg}
}

// Run consumes review events and chat messages until the context is
// canceled or the event stream terminates. A terminal stream error is
// returned; a closed message channel just stops command handling.
func (b *Bot) Run(ctx context.Context,
	events <-chan fn.Result[gerrit.Event],
	messages <-chan spark.Message) error {

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case result, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}

			event, err := result.Unpack()
			if err != nil {
				return fmt.Errorf("event stream failed: %w",
					err)
			}

			b.handleEvent(ctx, event)

		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}

			b.handleMessage(ctx, &msg)
		}
	}
}

// handleEvent turns one review event into at most one notification.
func (b *Bot) handleEvent(ctx context.Context, event gerrit.Event) {
	switch event := event.(type) {
	case *gerrit.CommentAddedEvent:
		b.handleCommentAdded(ctx, event)

	case *gerrit.ReviewerAddedEvent:
		b.handleReviewerAdded(ctx, event)

	default:
		log.Debugf("Ignoring event type %s", event.EventType())
	}
}

// isHumanAuthor reports whether an account looks like a person rather than
// an automation account.
func isHumanAuthor(user *gerrit.User) bool {
	return user.Username != "" &&
		!strings.Contains(strings.ToLower(user.Username), "bot")
}

func (b *Bot) handleCommentAdded(ctx context.Context,
	event *gerrit.CommentAddedEvent) {

	change := &event.Change

	// Reviews by the change owner are not worth a notification.
	approver := event.Author.Username
	if approver == "" || approver == change.Owner.Username {
		return
	}

	ownerEmail := change.Owner.Email
	if ownerEmail == "" {
		return
	}

	ref, ok := b.cfg.State.FindByEmail(ownerEmail)
	if !ok {
		return
	}

	user := b.cfg.State.UserAt(ref)
	if !user.Enabled {
		return
	}

	flags := FlagsOf(user)
	wantsAny := flags.Contains(FlagNotifyReviewApprovals) ||
		flags.Contains(FlagNotifyReviewComments) ||
		flags.Contains(FlagNotifyReviewInlineComments)
	if !wantsAny {
		return
	}

	if b.cfg.Limiter.Limit(dedup.ApprovalsKey(ref, event)) {
		log.Debugf("Suppressed repeated approval notification for %s "+
			"on %s", ownerEmail, change.ID)
		return
	}

	isHuman := isHumanAuthor(&event.Author)
	msg, err := format.CommentAdded(event, isHuman).UnwrapOrErr(
		errors.New("no notification message"),
	)
	if err != nil {
		return
	}

	if b.cfg.State.IsFiltered(ref, msg) {
		log.Debugf("Filtered notification for %s", ownerEmail)
		return
	}

	b.send(ctx, user.Email, msg)
}

func (b *Bot) handleReviewerAdded(ctx context.Context,
	event *gerrit.ReviewerAddedEvent) {

	reviewerEmail := event.Reviewer.Email
	if reviewerEmail == "" {
		return
	}

	ref, ok := b.cfg.State.FindByEmail(reviewerEmail)
	if !ok {
		return
	}

	user := b.cfg.State.UserAt(ref)
	if !user.Enabled || !FlagsOf(user).Contains(FlagNotifyReviewerAdded) {
		return
	}

	if b.cfg.Limiter.Limit(dedup.ReviewerAddedKey(ref, event)) {
		log.Debugf("Suppressed repeated reviewer-added notification "+
			"for %s on %s", reviewerEmail, event.Change.ID)
		return
	}

	msg := format.ReviewerAdded(event)
	if b.cfg.State.IsFiltered(ref, msg) {
		return
	}

	b.send(ctx, user.Email, msg)
}

// send delivers one notification, logging failures rather than stopping the
// loop.
func (b *Bot) send(ctx context.Context, email, msg string) {
	log.Debugf("Notifying %s: %s", email, msg)

	if err := b.cfg.Chat.SendToPersonEmail(ctx, email, msg); err != nil {
		log.Errorf("Unable to send notification to %s: %v", email, err)
	}
}

// handleMessage runs one chat command and replies.
func (b *Bot) handleMessage(ctx context.Context, msg *spark.Message) {
	reply := b.runCommand(ctx, msg)
	if reply == "" {
		return
	}

	if err := b.cfg.Chat.Reply(ctx, msg, reply); err != nil {
		log.Errorf("Unable to reply to %s: %v", msg.PersonEmail, err)
	}
}

// runCommand mutates state per the parsed command and returns the reply
// text.
func (b *Bot) runCommand(ctx context.Context, msg *spark.Message) string {
	state := b.cfg.State
	cmd := ParseCommand(msg.Text)

	switch cmd.Kind {
	case CmdEnable:
		err := state.SetEnabled(
			ctx, msg.PersonID, msg.PersonEmail, true,
		)
		if err != nil {
			log.Errorf("Unable to enable %s: %v",
				msg.PersonEmail, err)
			return "Something went wrong, please try again."
		}
		return "Got it! Happy reviewing!"

	case CmdDisable:
		err := state.SetEnabled(
			ctx, msg.PersonID, msg.PersonEmail, false,
		)
		if err != nil {
			log.Errorf("Unable to disable %s: %v",
				msg.PersonEmail, err)
			return "Something went wrong, please try again."
		}
		return "Got it! I will stay silent."

	case CmdStatus:
		return state.StatusFor(msg.PersonID)

	case CmdHelp:
		return helpMsg

	case CmdVersion:
		return fmt.Sprintf("gerritbot %s", b.cfg.Version)

	case CmdFilterStatus:
		regex, enabled, err := state.Filter(msg.PersonID)
		switch {
		case errors.Is(err, ErrNotRegistered):
			return notRegisteredMsg
		case err != nil:
			log.Errorf("Unable to look up filter for %s: %v",
				msg.PersonEmail, err)
			return ""
		case regex == "":
			return "No filter is configured for you."
		}

		word := "disabled"
		if enabled {
			word = "enabled"
		}
		return fmt.Sprintf("The following filter is configured for "+
			"you: `%s`. It is **%s**.", regex, word)

	case CmdFilterAdd:
		err := state.AddFilter(ctx, msg.PersonID, cmd.Arg)
		switch {
		case err == nil:
			return "Filter successfully added and enabled."
		case errors.Is(err, ErrNotRegistered),
			errors.Is(err, ErrNotificationsDisabled):

			return notRegisteredMsg
		case errors.Is(err, ErrInvalidFilter):
			return invalidFilterMsg
		}

		log.Errorf("Unable to add filter for %s: %v",
			msg.PersonEmail, err)
		return "Something went wrong, please try again."

	case CmdFilterEnable:
		regex, err := state.SetFilterEnabled(ctx, msg.PersonID, true)
		switch {
		case err == nil:
			return fmt.Sprintf("Filter successfully enabled. "+
				"The following filter is configured: %s",
				regex)
		case errors.Is(err, ErrNotRegistered),
			errors.Is(err, ErrNotificationsDisabled):

			return notRegisteredMsg
		case errors.Is(err, ErrNoFilterConfigured):
			return "Cannot enable filter since there is none " +
				"configured. Use `filter <regex>` to add a " +
				"new filter."
		case errors.Is(err, ErrInvalidFilter):
			return invalidFilterMsg
		}

		log.Errorf("Unable to enable filter for %s: %v",
			msg.PersonEmail, err)
		return "Something went wrong, please try again."

	case CmdFilterDisable:
		_, err := state.SetFilterEnabled(ctx, msg.PersonID, false)
		switch {
		case err == nil:
			return "Filter successfully disabled."
		case errors.Is(err, ErrNotRegistered),
			errors.Is(err, ErrNotificationsDisabled):

			return "Notifications for you are disabled. No " +
				"need to disable the filter."
		case errors.Is(err, ErrNoFilterConfigured):
			return "No need to disable the filter since there " +
				"is none configured."
		case errors.Is(err, ErrInvalidFilter):
			return invalidFilterMsg
		}

		log.Errorf("Unable to disable filter for %s: %v",
			msg.PersonEmail, err)
		return "Something went wrong, please try again."
	}

	return greetingsMsg
}
