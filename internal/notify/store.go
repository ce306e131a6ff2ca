// Package notify persists operator-facing notifications locally.
// Notifications are dashboard-local state, not gateway records; when no
// database is configured the feature degrades to empty results rather
// than erroring, matching how missing cron data is tolerated.
package notify

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/florawren/clawboard/internal/db"
)

// Notification is one operator-facing alert entry
type Notification struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListOptions filters notification queries
type ListOptions struct {
	UnreadOnly bool
	Limit      int
}

// Store reads and writes notifications. A nil receiver or absent database
// is valid and yields empty results.
type Store struct {
	db     *db.DB
	logger *slog.Logger
}

// NewStore creates a store over an open database, initializing the schema.
// Passing a nil database returns a disabled store.
func NewStore(database *db.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: database, logger: logger}
	if database == nil {
		return s, nil
	}
	if err := initSchema(database); err != nil {
		return nil, fmt.Errorf("init notification schema: %w", err)
	}
	return s, nil
}

// Available reports whether a backing database is configured
func (s *Store) Available() bool {
	return s != nil && s.db != nil
}

// Add inserts a notification and returns its id
func (s *Store) Add(kind, title, body string) (int64, error) {
	if !s.Available() {
		return 0, nil
	}

	res, err := s.db.Exec(`
		INSERT INTO notifications (kind, title, body, read, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, kind, title, body, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}

	return res.LastInsertId()
}

// List returns notifications, newest first
func (s *Store) List(opts ListOptions) ([]Notification, error) {
	if !s.Available() {
		return []Notification{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, title, body, read, created_at
		FROM notifications
	`
	args := []any{}
	if opts.UnreadOnly {
		query += " WHERE read = 0"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		var body sql.NullString
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if body.Valid {
			n.Body = body.String
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkRead marks one notification read. Returns false when it doesn't exist.
func (s *Store) MarkRead(id int64) (bool, error) {
	if !s.Available() {
		return false, nil
	}

	res, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkAllRead marks every unread notification read and returns the count
func (s *Store) MarkAllRead() (int64, error) {
	if !s.Available() {
		return 0, nil
	}

	res, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE read = 0`)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}

	return res.RowsAffected()
}

// Delete removes one notification. Returns false when it doesn't exist.
func (s *Store) Delete(id int64) (bool, error) {
	if !s.Available() {
		return false, nil
	}

	res, err := s.db.Exec(`DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteAll removes all notifications and returns the count
func (s *Store) DeleteAll() (int64, error) {
	if !s.Available() {
		return 0, nil
	}

	res, err := s.db.Exec(`DELETE FROM notifications`)
	if err != nil {
		return 0, fmt.Errorf("delete all notifications: %w", err)
	}

	return res.RowsAffected()
}
