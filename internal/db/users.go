package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUserNotFound is returned when an operation targets an email that no
// user was registered under.
var ErrUserNotFound = errors.New("user not found")

// User is one notification recipient as stored in the database.
type User struct {
	// ID is the row id.
	ID int64

	// Email of the user; assumed to be the same in chat and Gerrit.
	Email string

	// SparkPersonID addresses the user for direct messages.
	SparkPersonID string

	// Enabled reports whether the user receives notifications at all.
	Enabled bool

	// Flags is the notification flag bitmask. Nil means the default flag
	// set; the bot layer owns the bit assignments.
	Flags *int64

	// FilterRegex optionally suppresses messages matching it.
	FilterRegex string

	// FilterEnabled toggles the filter without discarding the regex.
	FilterEnabled bool
}

// UserQueries runs user queries against one database transaction.
type UserQueries struct {
	tx *sql.Tx
}

// newUserQueries binds a query object to a transaction.
func newUserQueries(tx *sql.Tx) *UserQueries {
	return &UserQueries{tx: tx}
}

const userColumns = `id, email, spark_person_id, enabled, flags,
	filter_regex, filter_enabled`

// scanUser reads one user row.
func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user  User
		flags sql.NullInt64
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.SparkPersonID, &user.Enabled,
		&flags, &user.FilterRegex, &user.FilterEnabled,
	)
	if err != nil {
		return User{}, err
	}

	if flags.Valid {
		value := flags.Int64
		user.Flags = &value
	}

	return user, nil
}

// UpsertUser creates the user if it does not exist yet, or refreshes its
// person id if it does, returning the stored row either way.
func (q *UserQueries) UpsertUser(ctx context.Context, email,
	personID string) (User, error) {

	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO users (email, spark_person_id)
		VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET
			spark_person_id = excluded.spark_person_id,
			updated_at = strftime('%s', 'now')`,
		email, personID,
	)
	if err != nil {
		return User{}, fmt.Errorf("failed to upsert user: %w", err)
	}

	return q.GetUserByEmail(ctx, email)
}

// GetUserByEmail fetches a single user.
func (q *UserQueries) GetUserByEmail(ctx context.Context,
	email string) (User, error) {

	row := q.tx.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to fetch user: %w", err)
	}

	return user, nil
}

// ListUsers returns all users ordered by row id.
func (q *UserQueries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// updateUser runs an update statement and maps a zero row count onto
// ErrUserNotFound.
func (q *UserQueries) updateUser(ctx context.Context, query string,
	args ...any) error {

	result, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	numRows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if numRows == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetUserEnabled toggles all notifications for a user.
func (q *UserQueries) SetUserEnabled(ctx context.Context, email string,
	enabled bool) error {

	return q.updateUser(ctx, `
		UPDATE users SET enabled = ?,
			updated_at = strftime('%s', 'now')
		WHERE email = ?`,
		enabled, email,
	)
}

// SetUserFlags stores a user's flag bitmask. A nil bitmask restores the
// default flag set.
func (q *UserQueries) SetUserFlags(ctx context.Context, email string,
	flags *int64) error {

	var value sql.NullInt64
	if flags != nil {
		value = sql.NullInt64{Int64: *flags, Valid: true}
	}

	return q.updateUser(ctx, `
		UPDATE users SET flags = ?,
			updated_at = strftime('%s', 'now')
		WHERE email = ?`,
		value, email,
	)
}

// SetUserFilter stores a user's message filter regex and its enabled state.
func (q *UserQueries) SetUserFilter(ctx context.Context, email, regex string,
	enabled bool) error {

	return q.updateUser(ctx, `
		UPDATE users SET filter_regex = ?, filter_enabled = ?,
			updated_at = strftime('%s', 'now')
		WHERE email = ?`,
		regex, enabled, email,
	)
}

// UserStore persists notification recipients with retry-aware transactions.
type UserStore struct {
	executor *TransactionExecutor[*UserQueries]
}

// NewUserStore wraps a database handle in a user store.
func NewUserStore(db BatchedQuerier, log *slog.Logger,
	opts ...TxExecutorOption) *UserStore {

	return &UserStore{
		executor: NewTransactionExecutor(
			db, newUserQueries, log, opts...,
		),
	}
}

// UpsertUser creates or refreshes a user.
func (s *UserStore) UpsertUser(ctx context.Context, email,
	personID string) (User, error) {

	var user User
	err := s.executor.ExecTx(ctx, WriteTxOption(),
		func(q *UserQueries) error {
			var err error
			user, err = q.UpsertUser(ctx, email, personID)
			return err
		},
	)

	return user, err
}

// GetUserByEmail fetches a single user.
func (s *UserStore) GetUserByEmail(ctx context.Context,
	email string) (User, error) {

	var user User
	err := s.executor.ExecTx(ctx, ReadTxOption(),
		func(q *UserQueries) error {
			var err error
			user, err = q.GetUserByEmail(ctx, email)
			return err
		},
	)

	return user, err
}

// ListUsers returns all users.
func (s *UserStore) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.executor.ExecTx(ctx, ReadTxOption(),
		func(q *UserQueries) error {
			var err error
			users, err = q.ListUsers(ctx)
			return err
		},
	)

	return users, err
}

// SetUserEnabled toggles all notifications for a user.
func (s *UserStore) SetUserEnabled(ctx context.Context, email string,
	enabled bool) error {

	return s.executor.ExecTx(ctx, WriteTxOption(),
		func(q *UserQueries) error {
			return q.SetUserEnabled(ctx, email, enabled)
		},
	)
}

// SetUserFlags stores a user's flag bitmask, nil meaning the default set.
func (s *UserStore) SetUserFlags(ctx context.Context, email string,
	flags *int64) error {

	return s.executor.ExecTx(ctx, WriteTxOption(),
		func(q *UserQueries) error {
			return q.SetUserFlags(ctx, email, flags)
		},
	)
}

// SetUserFilter stores a user's message filter.
func (s *UserStore) SetUserFilter(ctx context.Context, email, regex string,
	enabled bool) error {

	return s.executor.ExecTx(ctx, WriteTxOption(),
		func(q *UserQueries) error {
			return q.SetUserFilter(ctx, email, regex, enabled)
		},
	)
}
