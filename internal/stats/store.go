// Package stats implements the gateway's optional local usage-stats
// store (observability.usage_store): a SQLite table of one row per
// request, independent of and additional to the audit JSONL recorder.
package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// UsageRecord is one completed request, per SPEC_FULL.md's DOMAIN STACK
// entry for gorm/sqlite: request_id, model, stream, status, latency_ms,
// input/output token counts.
type UsageRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	RequestID    string    `gorm:"column:request_id;index:idx_usage_request_id;not null"`
	Model        string    `gorm:"column:model;index:idx_usage_model;not null"`
	Stream       bool      `gorm:"column:stream;not null"`
	Status       int       `gorm:"column:status;not null"`
	LatencyMs    int64     `gorm:"column:latency_ms;not null"`
	InputTokens  int64     `gorm:"column:input_tokens"`
	OutputTokens int64     `gorm:"column:output_tokens"`
	CreatedAt    time.Time `gorm:"column:created_at;index:idx_usage_created_at"`
}

// Store persists UsageRecord rows in SQLite using GORM.
type Store struct {
	db *gorm.DB
}

// Open creates or loads the usage-stats database at path, creating its
// parent directory if needed, and auto-migrates the UsageRecord schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create usage store directory: %w", err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open usage store: %w", err)
	}

	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate usage store: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one usage row. CreatedAt defaults to now if unset.
func (s *Store) Record(rec UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(&rec).Error
}

// TotalsByModel aggregates request count and token usage per model,
// the query the teacher's own usage APIs are built around.
type ModelTotals struct {
	Model        string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
}

func (s *Store) TotalsByModel() ([]ModelTotals, error) {
	var out []ModelTotals
	err := s.db.Model(&UsageRecord{}).
		Select("model, count(*) as requests, sum(input_tokens) as input_tokens, sum(output_tokens) as output_tokens").
		Group("model").
		Scan(&out).Error
	return out, err
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
