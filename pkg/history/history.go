// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package history keeps a log of programming sessions in a SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Outcomes stored in FlashSession.Outcome
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// FlashSession is one programming run
type FlashSession struct {
	ID         uint      `gorm:"primarykey"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	Port       string `gorm:"size:255"`
	Model      string `gorm:"size:32;index"`
	Code       uint16
	Protocol   string `gorm:"size:16"`
	Firmware   string `gorm:"size:16"`
	Fosc       uint32
	Baud       int
	HexPath    string `gorm:"size:1024"`
	ImageSize  int
	Written    int
	Erased     bool
	Outcome    string `gorm:"size:16;index"`
	Error      string `gorm:"size:1024"`
}

// TableName specifies the table name for GORM
func (FlashSession) TableName() string {
	return "flash_sessions"
}

// Duration returns how long the session ran
func (s FlashSession) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Succeeded reports whether the session completed
func (s FlashSession) Succeeded() bool {
	return s.Outcome == OutcomeSuccess
}

// Store wraps the GORM database instance
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the history database at path
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	// Pure Go SQLite driver
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection, so an in-memory database is shared by every query
	sqlDB.SetMaxOpenConns(1)
	if err := configureSQLite(sqlDB); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&FlashSession{}); err != nil {
		return nil, fmt.Errorf("migrating history: %w", err)
	}

	log.Debug().Str("path", path).Msg("history database opened")
	return &Store{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Record stores a finished session and assigns its ID
func (s *Store) Record(session *FlashSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.Outcome == "" {
		return fmt.Errorf("session has no outcome")
	}
	return s.db.Create(session).Error
}

// Latest returns up to n sessions, newest first
func (s *Store) Latest(n int) ([]FlashSession, error) {
	var sessions []FlashSession
	q := s.db.Order("started_at DESC").Order("id DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ByModel returns up to n sessions for one model, newest first
func (s *Store) ByModel(model string, n int) ([]FlashSession, error) {
	var sessions []FlashSession
	q := s.db.Where("model = ?", model).Order("started_at DESC").Order("id DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// Summary counts sessions by outcome
type Summary struct {
	Total     int64
	Succeeded int64
	Failed    int64
	Written   int64
}

// Summarize aggregates every stored session
func (s *Store) Summarize() (Summary, error) {
	var sum Summary
	if err := s.db.Model(&FlashSession{}).Count(&sum.Total).Error; err != nil {
		return sum, err
	}
	if err := s.db.Model(&FlashSession{}).Where("outcome = ?", OutcomeSuccess).Count(&sum.Succeeded).Error; err != nil {
		return sum, err
	}
	if err := s.db.Model(&FlashSession{}).Where("outcome = ?", OutcomeFailed).Count(&sum.Failed).Error; err != nil {
		return sum, err
	}
	row := s.db.Model(&FlashSession{}).Select("COALESCE(SUM(written), 0)").Row()
	if err := row.Scan(&sum.Written); err != nil {
		return sum, err
	}
	return sum, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
