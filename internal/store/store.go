// Package store persists anomaly events and hop aggregates in SQLite via gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

type eventRecord struct {
	ID              string   `gorm:"primaryKey;size:36"`
	Target          string   `gorm:"index;not null"`
	DestinationAddr string
	IssueKind       string   `gorm:"index;not null"`
	HopCount        int
	ProblemHop      int
	MeanLatencyMs   *float64
	LossPct         float64
	CreatedAt       time.Time        `gorm:"index"`
	Hops            []eventHopRecord `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

func (eventRecord) TableName() string { return "events" }

type eventHopRecord struct {
	ID        uint     `gorm:"primaryKey"`
	EventID   string   `gorm:"size:36;not null;uniqueIndex:idx_event_hop"`
	HopNumber int      `gorm:"not null;uniqueIndex:idx_event_hop"`
	Address   string
	Hostname  string
	LatencyMs *float64
	TimedOut  bool
}

func (eventHopRecord) TableName() string { return "event_hops" }

type aggregateRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Target     string    `gorm:"not null;uniqueIndex:idx_hop_bucket"`
	HopNumber  int       `gorm:"not null;uniqueIndex:idx_hop_bucket"`
	HopAddress string    `gorm:"not null;uniqueIndex:idx_hop_bucket"`
	Minute     time.Time `gorm:"not null;uniqueIndex:idx_hop_bucket;index"`
	Attempts   int64
	Losses     int64
	Samples    int64
	MeanMs     *float64
	MinMs      *float64
	MaxMs      *float64
	UpdatedAt  time.Time
}

func (aggregateRecord) TableName() string { return "hop_aggregates" }

// Store is the persistence gateway.
type Store struct {
	orm    *gorm.DB
	logger *zap.Logger
}

// Open connects to the SQLite database at path and migrates the schema. The
// pool is pinned to a single connection: SQLite has one writer, and it keeps
// every read-modify-write merge for a key from interleaving with another.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	orm, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := orm.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := orm.AutoMigrate(&eventRecord{}, &eventHopRecord{}, &aggregateRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{orm: orm, logger: logger}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
