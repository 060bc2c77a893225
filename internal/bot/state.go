package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/roasbeef/gerritbot/internal/db"
)

var (
	// ErrNotRegistered is returned when a command targets a person the
	// bot has never talked to.
	ErrNotRegistered = errors.New("user not registered")

	// ErrNotificationsDisabled is returned when a filter command arrives
	// from a user whose notifications are off.
	ErrNotificationsDisabled = errors.New("notifications disabled")

	// ErrInvalidFilter is returned for filter regexes that do not
	// compile.
	ErrInvalidFilter = errors.New("invalid filter regex")

	// ErrNoFilterConfigured is returned when a filter toggle arrives
	// before any filter was added.
	ErrNoFilterConfigured = errors.New("no filter configured")
)

// State holds the bot's users in memory, indexed by chat person id and by
// email, and writes every mutation through to the database. It is owned by
// the bot's event loop and must not be shared across goroutines.
type State struct {
	// store persists mutations. A nil store keeps the state purely in
	// memory.
	store *db.UserStore

	users      []db.User
	byEmail    map[string]int
	byPersonID map[string]int
}

// NewState builds an empty state backed by the given store.
func NewState(store *db.UserStore) *State {
	return &State{
		store:      store,
		byEmail:    make(map[string]int),
		byPersonID: make(map[string]int),
	}
}

// Load replaces the in-memory users with the persisted ones.
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("unable to load users: %w", err)
	}

	s.users = users
	s.byEmail = make(map[string]int, len(users))
	s.byPersonID = make(map[string]int, len(users))
	for i, user := range users {
		s.byEmail[user.Email] = i
		s.byPersonID[user.SparkPersonID] = i
	}

	log.Infof("Loaded %d user(s)", len(users))

	return nil
}

// NumUsers returns the number of known users.
func (s *State) NumUsers() int {
	return len(s.users)
}

// UserAt returns the user at a known ref.
func (s *State) UserAt(ref int) *db.User {
	return &s.users[ref]
}

// FindByEmail resolves a Gerrit account email to a user ref.
func (s *State) FindByEmail(email string) (int, bool) {
	ref, ok := s.byEmail[email]
	return ref, ok
}

// findByPersonID resolves a chat person id to a user ref.
func (s *State) findByPersonID(personID string) (int, bool) {
	ref, ok := s.byPersonID[personID]
	return ref, ok
}

// findOrAdd returns the ref of the user with the given person id, creating
// the user on first contact. The email is assumed to be the same in the
// chat system and in Gerrit.
func (s *State) findOrAdd(ctx context.Context, personID,
	email string) (int, error) {

	if ref, ok := s.byPersonID[personID]; ok {
		return ref, nil
	}

	user := db.User{
		Email:         email,
		SparkPersonID: personID,
		Enabled:       true,
	}
	if s.store != nil {
		stored, err := s.store.UpsertUser(ctx, email, personID)
		if err != nil {
			return 0, fmt.Errorf("unable to add user: %w", err)
		}
		user = stored
	}

	ref := len(s.users)
	s.users = append(s.users, user)
	s.byEmail[email] = ref
	s.byPersonID[personID] = ref

	return ref, nil
}

// SetEnabled turns notifications for a user on or off, registering the user
// on first contact.
func (s *State) SetEnabled(ctx context.Context, personID, email string,
	enabled bool) error {

	ref, err := s.findOrAdd(ctx, personID, email)
	if err != nil {
		return err
	}

	s.users[ref].Enabled = enabled
	if s.store != nil {
		err := s.store.SetUserEnabled(
			ctx, s.users[ref].Email, enabled,
		)
		if err != nil {
			return fmt.Errorf("unable to persist user: %w", err)
		}
	}

	return nil
}

// AddFilter stores a message filter regex for the user and enables it.
func (s *State) AddFilter(ctx context.Context, personID,
	regex string) error {

	ref, ok := s.findByPersonID(personID)
	if !ok {
		return ErrNotRegistered
	}
	if !s.users[ref].Enabled {
		return ErrNotificationsDisabled
	}

	if _, err := regexp.Compile(regex); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}

	s.users[ref].FilterRegex = regex
	s.users[ref].FilterEnabled = true

	return s.persistFilter(ctx, ref)
}

// SetFilterEnabled toggles the configured filter without discarding it,
// returning the filter regex.
func (s *State) SetFilterEnabled(ctx context.Context, personID string,
	enabled bool) (string, error) {

	ref, ok := s.findByPersonID(personID)
	if !ok {
		return "", ErrNotRegistered
	}
	if !s.users[ref].Enabled {
		return "", ErrNotificationsDisabled
	}
	if s.users[ref].FilterRegex == "" {
		return "", ErrNoFilterConfigured
	}
	if _, err := regexp.Compile(s.users[ref].FilterRegex); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}

	s.users[ref].FilterEnabled = enabled

	return s.users[ref].FilterRegex, s.persistFilter(ctx, ref)
}

// Filter returns the user's configured filter regex and whether it is
// enabled.
func (s *State) Filter(personID string) (string, bool, error) {
	ref, ok := s.findByPersonID(personID)
	if !ok {
		return "", false, ErrNotRegistered
	}

	user := &s.users[ref]

	return user.FilterRegex, user.FilterEnabled, nil
}

func (s *State) persistFilter(ctx context.Context, ref int) error {
	if s.store == nil {
		return nil
	}

	user := &s.users[ref]
	err := s.store.SetUserFilter(
		ctx, user.Email, user.FilterRegex, user.FilterEnabled,
	)
	if err != nil {
		return fmt.Errorf("unable to persist filter: %w", err)
	}

	return nil
}

// IsFiltered reports whether a rendered message matches the user's enabled
// filter. A filter that no longer compiles is ignored.
func (s *State) IsFiltered(ref int, msg string) bool {
	user := &s.users[ref]
	if user.FilterRegex == "" || !user.FilterEnabled {
		return false
	}

	re, err := regexp.Compile(user.FilterRegex)
	if err != nil {
		log.Warnf("User %s has an invalid filter regex configured: %v",
			user.Email, err)
		return false
	}

	return re.MatchString(msg)
}

// StatusFor renders the status reply for a person.
func (s *State) StatusFor(personID string) string {
	enabled := false
	if ref, ok := s.findByPersonID(personID); ok {
		enabled = s.users[ref].Enabled
	}

	others := s.NumUsers()
	if enabled && others > 0 {
		others--
	}

	word := "disabled"
	if enabled {
		word = "enabled"
	}

	return fmt.Sprintf(
		"Notifications for you are **%s**. I am notifying another "+
			"%d user(s).", word, others,
	)
}
