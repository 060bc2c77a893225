package dedup

import (
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/roasbeef/gerritbot/internal/gerrit"
)

// KeyKind discriminates the two notification shapes that get deduplicated.
type KeyKind uint8

const (
	// KindApprovals keys an approval notification.
	KindApprovals KeyKind = iota

	// KindReviewerAdded keys a reviewer-added notification.
	KindReviewerAdded
)

// Subject is the change aspect a notification is about: the change's topic
// when it has one, otherwise its subject line. The two namespaces stay
// distinct so a topic can never collide with an equal subject string.
type Subject struct {
	// FromTopic is true when Text holds the change's topic.
	FromTopic bool

	// Text is the topic or subject string.
	Text string
}

// SubjectFromChange derives the dedup subject of a change, preferring its
// topic.
func SubjectFromChange(change *gerrit.Change) Subject {
	if change.Topic != "" {
		return Subject{FromTopic: true, Text: change.Topic}
	}

	return Subject{Text: change.Subject}
}

// CacheKey identifies one logical notification. Two events that would
// produce the same message for the same recipient map to equal keys, no
// matter what order their label votes arrived in.
type CacheKey struct {
	// UserRef identifies the recipient.
	UserRef int

	// Kind is the notification shape.
	Kind KeyKind

	// Subject is the change's topic or subject.
	Subject Subject

	// Approver is the voting account's email. Empty for reviewer-added
	// keys.
	Approver string

	// Approvals is the canonical encoding of the event's label votes:
	// type=value pairs, sorted, so vote order never splits a key. Empty
	// for reviewer-added keys.
	Approvals string
}

// ApprovalsKey builds the cache key of an approval notification.
func ApprovalsKey(userRef int, event *gerrit.CommentAddedEvent) CacheKey {
	pairs := make([]string, 0, len(event.Approvals))
	for _, approval := range event.Approvals {
		pairs = append(pairs, approval.Type+"="+approval.Value)
	}
	sort.Strings(pairs)

	return CacheKey{
		UserRef:   userRef,
		Kind:      KindApprovals,
		Subject:   SubjectFromChange(&event.Change),
		Approver:  event.Author.Email,
		Approvals: strings.Join(pairs, "\x1f"),
	}
}

// ReviewerAddedKey builds the cache key of a reviewer-added notification.
func ReviewerAddedKey(userRef int,
	event *gerrit.ReviewerAddedEvent) CacheKey {

	return CacheKey{
		UserRef: userRef,
		Kind:    KindReviewerAdded,
		Subject: SubjectFromChange(&event.Change),
	}
}

// Limiter suppresses repeat notifications. It remembers recently sent keys
// in an LRU with a fixed capacity and per-entry TTL; a key counts as a
// duplicate while it is both present and unexpired. Hitting a key refreshes
// its recency (it moves away from eviction) but not its TTL, so a
// notification that keeps repeating still gets through once per TTL window.
type Limiter struct {
	cache *expirable.LRU[CacheKey, struct{}]
}

// NewLimiter builds a limiter with the given capacity and TTL. A zero
// capacity or TTL disables deduplication entirely: every key passes.
func NewLimiter(capacity int, ttl time.Duration) *Limiter {
	if capacity <= 0 || ttl <= 0 {
		return &Limiter{}
	}

	return &Limiter{
		cache: expirable.NewLRU[CacheKey, struct{}](
			capacity, nil, ttl,
		),
	}
}

// Limit reports whether the key was seen recently. A miss records the key
// and lets the notification pass.
func (l *Limiter) Limit(key CacheKey) bool {
	if l.cache == nil {
		return false
	}

	if _, seen := l.cache.Get(key); seen {
		return true
	}

	l.cache.Add(key, struct{}{})

	return false
}
