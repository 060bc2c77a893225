// Package format renders review events into the markdown messages the bot
// sends. Everything here is pure: events in, strings out.
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/gerritbot/internal/gerrit"
)

// unknownUser stands in when an account has no username.
const unknownUser = "<unknown user>"

// approvalGlyphs maps the labels worth notifying about to their vote glyphs.
// Votes on labels outside this map produce no message.
var approvalGlyphs = map[string]struct{ up, down string }{
	"Code-Review": {up: "👍", down: "👎"},
	"Verified":    {up: "🌞", down: "⛈️"},
	"QA":          {up: "✔️", down: "✖️"},
}

// Approval renders one label vote, e.g.
//
//	[Some review.](http://localhost/42) (demo-project) 👍 +2 (Code-Review) from approver
//
// followed by the quoted body of the review comment when the vote came from
// a human. Votes on unknown labels render nothing.
func Approval(event *gerrit.CommentAddedEvent, approval *gerrit.Approval,
	isHuman bool) fn.Option[string] {

	glyphs, known := approvalGlyphs[approval.Type]
	if !known {
		return fn.None[string]()
	}

	value, err := strconv.Atoi(approval.Value)
	if err != nil || value == 0 {
		return fn.None[string]()
	}

	glyph := glyphs.up
	if value < 0 {
		glyph = glyphs.down
	}

	approver := event.Author.Username
	if approver == "" {
		approver = unknownUser
	}

	msg := fmt.Sprintf("[%s](%s) (%s) %s %+d (%s) from %s",
		event.Change.Subject, event.Change.URL, event.Change.Project,
		glyph, value, approval.Type, approver)

	if isHuman {
		body := quotedCommentBody(event.Comment).UnwrapOr("")
		if body != "" {
			msg += "\n\n" + body
		}
	}

	return fn.Some(msg)
}

// quotedCommentBody quotes the free-text paragraphs of a review comment,
// dropping the leading "Patch Set N:" header paragraph.
func quotedCommentBody(comment string) fn.Option[string] {
	paragraphs := strings.Split(comment, "\n\n")
	if len(paragraphs) < 2 {
		return fn.None[string]()
	}

	quoted := make([]string, 0, len(paragraphs)-1)
	for _, paragraph := range paragraphs[1:] {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		quoted = append(quoted, "> "+paragraph)
	}

	if len(quoted) == 0 {
		return fn.None[string]()
	}

	return fn.Some(strings.Join(quoted, "<br>\n"))
}

// CommentAdded renders a complete comment-added notification: one line per
// notable vote, joined by blank lines, plus any inline comments. When there
// are no notable votes the message falls back to the raw comment, but only
// for humans and only when inline comments exist.
func CommentAdded(event *gerrit.CommentAddedEvent,
	isHuman bool) fn.Option[string] {

	var messages []string
	for i := range event.Approvals {
		approval := &event.Approvals[i]

		// Skip votes that did not change and explicit zero votes.
		if approval.OldValue != nil &&
			*approval.OldValue == approval.Value {

			continue
		}
		if approval.Value == "0" {
			continue
		}

		Approval(event, approval, isHuman).WhenSome(func(m string) {
			messages = append(messages, m)
		})
	}

	inline := InlineComments(&event.Change, &event.PatchSet)

	var message string
	switch {
	case len(messages) > 0:
		message = strings.Join(messages, "\n\n")

	case isHuman && inline.IsSome():
		// No notable votes, but a human left inline comments.
		message = event.Comment

	default:
		return fn.None[string]()
	}

	if body := inline.UnwrapOr(""); body != "" {
		message += "\n\n" + body
	}

	return fn.Some(message)
}

// ReviewerAdded renders a reviewer-added notification.
func ReviewerAdded(event *gerrit.ReviewerAddedEvent) string {
	owner := event.Change.Owner.Username
	if owner == "" {
		owner = unknownUser
	}

	return fmt.Sprintf("[%s](%s) (%s) 👓 Added as reviewer",
		event.Change.Subject, event.Change.URL, owner)
}

// InlineComments renders a patch set's per-file draft comments, grouped by
// file with each comment linked to its line.
func InlineComments(change *gerrit.Change,
	patchSet *gerrit.PatchSet) fn.Option[string] {

	if len(patchSet.Comments) == 0 {
		return fn.None[string]()
	}

	// The change URL ends with the change number; everything before the
	// last slash is the instance base URL.
	baseURL := change.URL
	if idx := strings.LastIndex(baseURL, "/"); idx >= 0 {
		baseURL = baseURL[:idx]
	}

	byFile := make(map[string][]gerrit.InlineComment)
	for _, comment := range patchSet.Comments {
		byFile[comment.File] = append(byFile[comment.File], comment)
	}

	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	var sections []string
	for _, file := range files {
		var rendered []string
		for _, comment := range byFile[file] {
			rendered = append(
				rendered,
				renderInlineComment(
					baseURL, change.Number,
					patchSet.Number, &comment,
				),
			)
		}

		sections = append(sections, fmt.Sprintf("`%s`\n\n%s",
			file, strings.Join(rendered, "\n")))
	}

	return fn.Some(strings.Join(sections, "\n\n"))
}

// renderInlineComment renders one inline comment as a quoted block whose
// first line links to the commented line.
func renderInlineComment(baseURL string, changeNumber, patchSetNumber uint32,
	comment *gerrit.InlineComment) string {

	reviewer := comment.Reviewer.Username
	if reviewer == "" {
		reviewer = unknownUser
	}

	url := fmt.Sprintf("%s/#/c/%d/%d/%s@%d", baseURL, changeNumber,
		patchSetNumber, comment.File, comment.Line)

	lines := strings.Split(comment.Message, "\n")

	out := fmt.Sprintf("> [Line %d](%s) by %s: %s", comment.Line, url,
		reviewer, lines[0])
	for _, line := range lines[1:] {
		out += "\n> " + line
	}

	return out
}
