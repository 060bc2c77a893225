package gerrit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ExtendedInfo names a piece of change state that stream events do not carry
// and that has to be fetched with a follow-up query.
type ExtendedInfo uint8

const (
	// SubmitRecords asks for the change's submit rule evaluation.
	SubmitRecords ExtendedInfo = iota

	// InlineComments asks for per-file draft comments on the patch sets.
	InlineComments
)

// InfoSelector decides, per event, which extended info to fetch. Returning
// nil forwards the event untouched.
type InfoSelector func(Event) []ExtendedInfo

// ExtendedEvents wraps an event stream so that selected events get enriched
// with extra change state before they are forwarded. Enrichment is best
// effort: when the follow-up query fails or its result does not decode, the
// original event is forwarded as is. Terminal errors pass through unchanged
// and the output closes when the input does.
func ExtendedEvents(ctx context.Context, in <-chan fn.Result[Event],
	runner *CommandRunner, selector InfoSelector) <-chan fn.Result[Event] {

	out := make(chan fn.Result[Event], cap(in))

	go func() {
		defer close(out)

		for item := range in {
			event, err := item.Unpack()
			if err == nil {
				event = enrichEvent(ctx, runner, event,
					selector(event))
				item = fn.Ok(event)
			}

			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// enrichEvent fetches the requested extended info for one event and grafts
// it onto the event's change and patch set.
func enrichEvent(ctx context.Context, runner *CommandRunner, event Event,
	infos []ExtendedInfo) Event {

	if len(infos) == 0 {
		return event
	}

	query := buildExtendedQuery(event.EventChange().ID, infos)

	output, err := runner.Run(ctx, query)
	if err != nil {
		log.Warnf("Extended info query failed for change %s: %v",
			event.EventChange().ID, err)
		return event
	}

	// The query output is one JSON object per line with a trailing stats
	// line; only the first line describes the change.
	line, _, _ := strings.Cut(output, "\n")

	var fetched Change
	if err := json.Unmarshal([]byte(line), &fetched); err != nil {
		log.Warnf("Unable to decode extended info for change %s: %v",
			event.EventChange().ID, err)
		return event
	}

	change := event.EventChange()
	patchSet := event.EventPatchSet()

	// Replace the event's patch set with the fetched one of the same
	// number, which carries the inline comments.
	for _, fetchedPatchSet := range fetched.PatchSets {
		if fetchedPatchSet.Number == patchSet.Number {
			*patchSet = fetchedPatchSet
			break
		}
	}

	change.SubmitRecords = fetched.SubmitRecords

	return event
}

// buildExtendedQuery assembles the gerrit query command that fetches the
// requested extended info for a change.
func buildExtendedQuery(changeID string, infos []ExtendedInfo) string {
	var query strings.Builder
	query.WriteString("gerrit query --format=JSON")

	for _, info := range infos {
		switch info {
		case SubmitRecords:
			query.WriteString(" --submit-records")
		case InlineComments:
			query.WriteString(" --patch-sets --comments")
		}
	}

	query.WriteString(" change:")
	query.WriteString(changeID)

	return query.String()
}
