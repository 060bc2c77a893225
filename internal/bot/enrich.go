package bot

import (
	"regexp"

	"github.com/roasbeef/gerritbot/internal/gerrit"
)

// inlineCommentsHint matches the "(N comments)" marker Gerrit appends to
// review comments that carry inline comments.
var inlineCommentsHint = regexp.MustCompile(`\(\d+\scomments?\)`)

// RequestExtendedInfo selects which extra change state is worth a follow-up
// query for an event: the inline comments, but only when a human other than
// the change owner reviewed and the comment text hints that inline comments
// exist.
func RequestExtendedInfo(event gerrit.Event) []gerrit.ExtendedInfo {
	commentAdded, ok := event.(*gerrit.CommentAddedEvent)
	if !ok {
		return nil
	}

	author := &commentAdded.Author
	if !isHumanAuthor(author) {
		return nil
	}
	if author.Username == commentAdded.Change.Owner.Username {
		return nil
	}
	if !inlineCommentsHint.MatchString(commentAdded.Comment) {
		return nil
	}

	return []gerrit.ExtendedInfo{gerrit.InlineComments}
}
