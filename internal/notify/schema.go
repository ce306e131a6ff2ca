package notify

import (
	"github.com/florawren/clawboard/internal/db"
)

// initSchema creates the notifications table if it does not exist
func initSchema(database *db.DB) error {
	_, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT,
			read       INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_read
			ON notifications (read, created_at);
	`)
	return err
}
