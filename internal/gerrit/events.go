package gerrit

import (
	"encoding/json"
	"fmt"
)

// User identifies a Gerrit account as it appears in stream events.
type User struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
}

// Approval is a single label vote attached to a comment-added event.
type Approval struct {
	// Type is the label the vote applies to, e.g. Code-Review.
	Type string `json:"type"`

	// Description is the human readable label name.
	Description string `json:"description"`

	// Value is the vote as a signed decimal string, e.g. "-1" or "+2".
	Value string `json:"value"`

	// OldValue is the previous vote, if the vote changed.
	OldValue *string `json:"oldValue,omitempty"`
}

// InlineComment is a draft comment attached to a specific file and line of a
// patch set.
type InlineComment struct {
	File     string `json:"file"`
	Line     uint32 `json:"line"`
	Reviewer User   `json:"reviewer"`
	Message  string `json:"message"`
}

// PatchSet is one revision of a change.
type PatchSet struct {
	Number         uint32          `json:"number"`
	Revision       string          `json:"revision"`
	Parents        []string        `json:"parents"`
	Ref            string          `json:"ref"`
	Uploader       User            `json:"uploader"`
	CreatedOn      uint32          `json:"createdOn"`
	Author         User            `json:"author"`
	Kind           string          `json:"kind"`
	SizeInsertions int32           `json:"sizeInsertions"`
	SizeDeletions  int32           `json:"sizeDeletions"`
	Comments       []InlineComment `json:"comments,omitempty"`
}

// SubmitStatus is the submittability of a change as reported by
// --submit-records.
type SubmitStatus string

const (
	SubmitStatusOK        SubmitStatus = "OK"
	SubmitStatusNotReady  SubmitStatus = "NOT_READY"
	SubmitStatusRuleError SubmitStatus = "RULE_ERROR"
)

// SubmitRecord is the result of evaluating a change's submit rules.
type SubmitRecord struct {
	Status SubmitStatus `json:"status"`
}

// Comment is a change-level review comment.
type Comment struct {
	Timestamp uint64 `json:"timestamp"`
	Reviewer  User   `json:"reviewer"`
	Message   string `json:"message"`
}

// Change is the review unit everything else hangs off of.
type Change struct {
	Project         string         `json:"project"`
	Branch          string         `json:"branch"`
	ID              string         `json:"id"`
	Number          uint32         `json:"number"`
	Subject         string         `json:"subject"`
	Topic           string         `json:"topic,omitempty"`
	Owner           User           `json:"owner"`
	URL             string         `json:"url"`
	CommitMessage   string         `json:"commitMessage"`
	Status          string         `json:"status"`
	CurrentPatchSet *PatchSet      `json:"currentPatchSet,omitempty"`
	PatchSets       []PatchSet     `json:"patchSets,omitempty"`
	Comments        []Comment      `json:"comments,omitempty"`
	SubmitRecords   []SubmitRecord `json:"submitRecords,omitempty"`
}

// Event is one decoded entry of the event stream. The two concrete types are
// CommentAddedEvent and ReviewerAddedEvent; everything else on the wire is
// dropped before it gets here.
type Event interface {
	// EventType returns the wire-level type tag of the event.
	EventType() string

	// EventChange returns the change the event applies to.
	EventChange() *Change

	// EventPatchSet returns the patch set the event applies to.
	EventPatchSet() *PatchSet
}

// CommentAddedEvent is emitted when a review comment, with or without label
// votes, lands on a change.
type CommentAddedEvent struct {
	Change    Change     `json:"change"`
	PatchSet  PatchSet   `json:"patchSet"`
	Author    User       `json:"author"`
	Approvals []Approval `json:"approvals,omitempty"`
	Comment   string     `json:"comment"`
	CreatedOn uint32     `json:"eventCreatedOn"`
}

// EventType implements the Event interface.
func (e *CommentAddedEvent) EventType() string { return EventTypeCommentAdded }

// EventChange implements the Event interface.
func (e *CommentAddedEvent) EventChange() *Change { return &e.Change }

// EventPatchSet implements the Event interface.
func (e *CommentAddedEvent) EventPatchSet() *PatchSet { return &e.PatchSet }

// ReviewerAddedEvent is emitted when an account is added as a reviewer on a
// change.
type ReviewerAddedEvent struct {
	Change    Change   `json:"change"`
	PatchSet  PatchSet `json:"patchSet"`
	Reviewer  User     `json:"reviewer"`
	CreatedOn uint32   `json:"eventCreatedOn"`
}

// EventType implements the Event interface.
func (e *ReviewerAddedEvent) EventType() string { return EventTypeReviewerAdded }

// EventChange implements the Event interface.
func (e *ReviewerAddedEvent) EventChange() *Change { return &e.Change }

// EventPatchSet implements the Event interface.
func (e *ReviewerAddedEvent) EventPatchSet() *PatchSet { return &e.PatchSet }

const (
	// EventTypeCommentAdded is the wire tag of CommentAddedEvent.
	EventTypeCommentAdded = "comment-added"

	// EventTypeReviewerAdded is the wire tag of ReviewerAddedEvent.
	EventTypeReviewerAdded = "reviewer-added"
)

// DecodeEvent parses one line of the event stream into a typed event. Lines
// carrying an unknown type tag, as well as lines missing required fields,
// produce an error; the stream drops them and moves on.
func DecodeEvent(line []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("unable to parse event: %w", err)
	}

	switch probe.Type {
	case EventTypeCommentAdded:
		var event CommentAddedEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("unable to parse %s event: %w",
				probe.Type, err)
		}
		if err := validateEvent(&event.Change, &event.PatchSet); err != nil {
			return nil, err
		}

		return &event, nil

	case EventTypeReviewerAdded:
		var event ReviewerAddedEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("unable to parse %s event: %w",
				probe.Type, err)
		}
		if err := validateEvent(&event.Change, &event.PatchSet); err != nil {
			return nil, err
		}

		return &event, nil

	default:
		return nil, fmt.Errorf("unhandled event type %q", probe.Type)
	}
}

// validateEvent checks the invariants every event carries: a change with an
// identity and a patch set with a revision.
func validateEvent(change *Change, patchSet *PatchSet) error {
	if change.ID == "" {
		return fmt.Errorf("event change missing id")
	}
	if patchSet.Revision == "" {
		return fmt.Errorf("event patch set missing revision")
	}

	return nil
}
