package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestOpen(t *testing.T) {
	database, err := Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer database.Close()

	if database.Driver() != "sqlite3" {
		t.Errorf("Driver() = %s, expected sqlite3", database.Driver())
	}

	// Foreign keys are enabled on open
	var enabled int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("pragma query error: %v", err)
	}
	if enabled != 1 {
		t.Error("foreign keys not enabled")
	}
}

func TestOpenWithConfig(t *testing.T) {
	database, err := OpenWithConfig(Config{
		Driver:          "sqlite3",
		DSN:             ":memory:",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		t.Fatalf("OpenWithConfig() error: %v", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOpen_BadDriver(t *testing.T) {
	if _, err := Open("no-such-driver", ":memory:"); err == nil {
		t.Error("expected error for unregistered driver")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("ErrNotFound not classified")
	}
	if !IsNotFound(sql.ErrNoRows) {
		t.Error("sql.ErrNoRows not classified")
	}
	if IsNotFound(errors.New("other")) {
		t.Error("unrelated error classified as not found")
	}
	if IsNotFound(nil) {
		t.Error("nil classified as not found")
	}
}

func TestIsDuplicate(t *testing.T) {
	if !IsDuplicate(ErrDuplicate) {
		t.Error("ErrDuplicate not classified")
	}
	if !IsDuplicate(errors.New("UNIQUE constraint failed: notifications.id")) {
		t.Error("sqlite unique violation not classified")
	}
	if IsDuplicate(errors.New("other")) {
		t.Error("unrelated error classified as duplicate")
	}
	if IsDuplicate(nil) {
		t.Error("nil classified as duplicate")
	}
}
