package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "service.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.MailboxAccount{},
		&models.MailboxState{},
		&models.QueuedEvent{},
		&models.Invoice{},
		&models.ClassificationPattern{},
		&models.VendorProfile{},
		&models.AuditEntry{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

// seedMailbox creates a mailbox state row, with a cursor when cursor > 0
func seedMailbox(t *testing.T, states *repository.MailboxStateRepository, mailboxID string, cursor uint64) {
	t.Helper()
	ctx := context.Background()

	if err := states.EnsureExists(ctx, mailboxID, baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to seed mailbox: %v", err)
	}
	if cursor == 0 {
		return
	}
	if _, err := states.InitializeCursor(ctx, mailboxID, cursor, baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to seed cursor: %v", err)
	}
}

func mustState(t *testing.T, states *repository.MailboxStateRepository, mailboxID string) *models.MailboxState {
	t.Helper()
	state, err := states.Get(context.Background(), mailboxID)
	if err != nil {
		t.Fatalf("failed to load mailbox state: %v", err)
	}
	return state
}

// fixedClock returns a clock pinned to the instant held in *at
func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}
