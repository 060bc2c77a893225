package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/gerritbot/internal/dedup"
	"github.com/roasbeef/gerritbot/internal/gerrit"
	"github.com/roasbeef/gerritbot/internal/spark"
	"github.com/stretchr/testify/require"
)

// approvalEventJSON is a comment-added event where "approver" votes +2 on a
// change owned by "author".
const approvalEventJSON = `{"author":{"name":"Approver","username":` +
	`"approver","email":"approver@example.com"},"approvals":[{"type":` +
	`"Code-Review","description":"Code-Review","value":"2","oldValue":` +
	`"-1"}],"comment":"Patch Set 1: Code-Review+2\n\nLooks good to ` +
	`me.","patchSet":{"number":1,"revision":` +
	`"49a65998c02eda928559f2d0b586c20bc8e37b10","ref":` +
	`"refs/changes/42/42/1","createdOn":1494165142,"isDraft":false,` +
	`"kind":"REWORK"},"change":{"project":"demo-project","branch":` +
	`"master","id":"Ic160fa37fca005fec17a2434aadf0d9dcfbb7b14",` +
	`"number":49,"subject":"Some review.","owner":{"name":"Author",` +
	`"email":"author@example.com","username":"author"},"url":` +
	`"http://localhost/42","status":"NEW"},"type":"comment-added",` +
	`"eventCreatedOn":1499190282}`

func approvalEvent(t *testing.T) *gerrit.CommentAddedEvent {
	t.Helper()

	event, err := gerrit.DecodeEvent([]byte(approvalEventJSON))
	require.NoError(t, err)

	commentAdded, ok := event.(*gerrit.CommentAddedEvent)
	require.True(t, ok)

	return commentAdded
}

func reviewerAddedEvent() *gerrit.ReviewerAddedEvent {
	return &gerrit.ReviewerAddedEvent{
		Change: gerrit.Change{
			Project: "demo-project",
			ID:      "Ic160fa37fca005fec17a2434aadf0d9dcfbb7b14",
			Subject: "Some review.",
			URL:     "http://localhost/42",
			Owner: gerrit.User{
				Username: "author",
				Email:    "author@example.com",
			},
		},
		Reviewer: gerrit.User{
			Username: "jdoe",
			Email:    "jdoe@example.com",
		},
	}
}

type sentMessage struct {
	email string
	text  string
}

// fakeChat records outbound traffic instead of talking to Webex.
type fakeChat struct {
	mu      sync.Mutex
	sent    []sentMessage
	replies []string
}

func (f *fakeChat) SendToPersonEmail(_ context.Context, email,
	markdown string) error {

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{email: email, text: markdown})
	return nil
}

func (f *fakeChat) Reply(_ context.Context, _ *spark.Message,
	markdown string) error {

	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, markdown)
	return nil
}

func (f *fakeChat) numSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChat) numReplies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

func newTestBot(t *testing.T, limiter *dedup.Limiter) (*Bot, *fakeChat,
	*State) {

	t.Helper()

	chat := &fakeChat{}
	state := NewState(nil)
	bot := New(Config{
		State:   state,
		Limiter: limiter,
		Chat:    chat,
		Version: "0.1.0-test",
	})

	return bot, chat, state
}

func enableUser(t *testing.T, state *State, personID, email string) {
	t.Helper()

	require.NoError(t, state.SetEnabled(
		context.Background(), personID, email, true,
	))
}

// TestBotNotifiesChangeOwner checks an approval lands in the owner's inbox.
func TestBotNotifiesChangeOwner(t *testing.T) {
	t.Parallel()

	bot, chat, state := newTestBot(t, nil)
	enableUser(t, state, "author_person_id", "author@example.com")

	bot.handleEvent(context.Background(), approvalEvent(t))

	require.Len(t, chat.sent, 1)
	require.Equal(t, "author@example.com", chat.sent[0].email)
	require.Contains(t, chat.sent[0].text, "Some review.")
	require.Contains(t, chat.sent[0].text, "👍 +2 (Code-Review)")
	require.Contains(t, chat.sent[0].text, "> Looks good to me.")
}

// TestBotSkipsSelfApproval checks owners never hear about their own votes.
func TestBotSkipsSelfApproval(t *testing.T) {
	t.Parallel()

	bot, chat, state := newTestBot(t, nil)
	enableUser(t, state, "author_person_id", "author@example.com")

	event := approvalEvent(t)
	event.Author.Username = event.Change.Owner.Username

	bot.handleEvent(context.Background(), event)
	require.Empty(t, chat.sent)
}

// TestBotSkipsUnknownAndDisabledUsers checks only enabled, registered users
// get notified.
func TestBotSkipsUnknownAndDisabledUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bot, chat, state := newTestBot(t, nil)

	// Nobody registered.
	bot.handleEvent(ctx, approvalEvent(t))
	require.Empty(t, chat.sent)

	// Registered but disabled.
	require.NoError(t, state.SetEnabled(
		ctx, "author_person_id", "author@example.com", false,
	))
	bot.handleEvent(ctx, approvalEvent(t))
	require.Empty(t, chat.sent)
}

// TestBotDeduplicatesRepeatedEvents checks the limiter suppresses the
// second identical notification.
func TestBotDeduplicatesRepeatedEvents(t *testing.T) {
	t.Parallel()

	limiter := dedup.NewLimiter(10, time.Minute)
	bot, chat, state := newTestBot(t, limiter)
	enableUser(t, state, "author_person_id", "author@example.com")

	ctx := context.Background()
	bot.handleEvent(ctx, approvalEvent(t))
	bot.handleEvent(ctx, approvalEvent(t))

	require.Len(t, chat.sent, 1)
}

// TestBotAppliesUserFilter checks an enabled filter suppresses matching
// messages.
func TestBotAppliesUserFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bot, chat, state := newTestBot(t, nil)
	enableUser(t, state, "author_person_id", "author@example.com")

	require.NoError(t, state.AddFilter(
		ctx, "author_person_id", ".*Code-Review.*",
	))
	bot.handleEvent(ctx, approvalEvent(t))
	require.Empty(t, chat.sent)

	_, err := state.SetFilterEnabled(ctx, "author_person_id", false)
	require.NoError(t, err)
	bot.handleEvent(ctx, approvalEvent(t))
	require.Len(t, chat.sent, 1)
}

// TestBotRespectsNotificationFlags checks a user who only wants
// reviewer-added messages hears nothing about approvals.
func TestBotRespectsNotificationFlags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bot, chat, state := newTestBot(t, nil)
	enableUser(t, state, "author_person_id", "author@example.com")

	ref, _ := state.FindByEmail("author@example.com")
	flags := int64(FlagNotifyReviewerAdded)
	state.UserAt(ref).Flags = &flags

	bot.handleEvent(ctx, approvalEvent(t))
	require.Empty(t, chat.sent)
}

// TestBotNotifiesAddedReviewer checks the reviewer-added path end to end,
// including its dedup key.
func TestBotNotifiesAddedReviewer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := dedup.NewLimiter(10, time.Minute)
	bot, chat, state := newTestBot(t, limiter)
	enableUser(t, state, "jdoe_person_id", "jdoe@example.com")

	bot.handleEvent(ctx, reviewerAddedEvent())
	bot.handleEvent(ctx, reviewerAddedEvent())

	require.Len(t, chat.sent, 1)
	require.Equal(t, "jdoe@example.com", chat.sent[0].email)
	require.Contains(t, chat.sent[0].text, "👓 Added as reviewer")
}

// TestBotChatCommands walks the command surface through runCommand.
func TestBotChatCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bot, _, state := newTestBot(t, nil)

	msg := func(text string) *spark.Message {
		return &spark.Message{
			PersonID:    "person-1",
			PersonEmail: "jdoe@example.com",
			Text:        text,
		}
	}

	// Unknown text greets.
	require.Equal(t, greetingsMsg, bot.runCommand(ctx, msg("hi there")))

	// Filter commands before enabling.
	require.Equal(
		t, notRegisteredMsg, bot.runCommand(ctx, msg("filter .*")),
	)

	require.Equal(
		t, "Got it! Happy reviewing!",
		bot.runCommand(ctx, msg("enable")),
	)
	require.Equal(t, 1, state.NumUsers())

	require.Contains(
		t, bot.runCommand(ctx, msg("status")), "**enabled**",
	)
	require.Equal(t, helpMsg, bot.runCommand(ctx, msg("help")))
	require.Equal(
		t, "gerritbot 0.1.0-test",
		bot.runCommand(ctx, msg("version")),
	)

	// Filter lifecycle.
	require.Equal(
		t, "No filter is configured for you.",
		bot.runCommand(ctx, msg("filter")),
	)
	require.Equal(
		t, invalidFilterMsg,
		bot.runCommand(ctx, msg("filter .some_regex/[")),
	)
	require.Equal(
		t, "Filter successfully added and enabled.",
		bot.runCommand(ctx, msg("filter .*spam.*")),
	)
	require.Contains(
		t, bot.runCommand(ctx, msg("filter")), "`.*spam.*`",
	)
	require.Equal(
		t, "Filter successfully disabled.",
		bot.runCommand(ctx, msg("filter disable")),
	)
	require.Contains(
		t, bot.runCommand(ctx, msg("filter enable")), ".*spam.*",
	)

	require.Equal(
		t, "Got it! I will stay silent.",
		bot.runCommand(ctx, msg("disable")),
	)
}

// TestBotRunMergesStreams feeds both channels through Run and checks the
// loop ends with the stream's terminal error.
func TestBotRunMergesStreams(t *testing.T) {
	t.Parallel()

	bot, chat, state := newTestBot(t, nil)
	enableUser(t, state, "author_person_id", "author@example.com")

	events := make(chan fn.Result[gerrit.Event])
	messages := make(chan spark.Message)

	runErr := make(chan error, 1)
	go func() {
		runErr <- bot.Run(context.Background(), events, messages)
	}()

	events <- fn.Ok[gerrit.Event](approvalEvent(t))
	require.Eventually(t, func() bool {
		return chat.numSent() == 1
	}, time.Second, 5*time.Millisecond)

	messages <- spark.Message{
		PersonID:    "person-2",
		PersonEmail: "other@example.com",
		Text:        "enable",
	}
	require.Eventually(t, func() bool {
		return chat.numReplies() == 1
	}, time.Second, 5*time.Millisecond)

	events <- fn.Err[gerrit.Event](gerrit.ErrStreamTerminated)
	require.ErrorIs(t, <-runErr, gerrit.ErrStreamTerminated)

	require.Equal(t, 2, state.NumUsers())
}

// TestBotRunStopsOnCancel checks context cancellation ends the loop.
func TestBotRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	bot, _, _ := newTestBot(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bot.Run(
		ctx,
		make(chan fn.Result[gerrit.Event]),
		make(chan spark.Message),
	)
	require.ErrorIs(t, err, context.Canceled)
}
