package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Refresh outcomes stored in Record.Outcome.
const (
	OutcomeSuccess       = "success"
	OutcomeFetchError    = "fetch_error"
	OutcomeParseError    = "parse_error"
	OutcomeEmptySchedule = "empty_schedule"
	OutcomeError         = "error"
)

// Record is one refresh attempt.
type Record struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	StartedAt   time.Time      `gorm:"index" json:"startedAt"`
	Site        string         `gorm:"size:32;index" json:"site"`
	Product     string         `gorm:"size:64" json:"product"`
	Outcome     string         `gorm:"size:32" json:"outcome"`
	Error       string         `json:"error,omitempty"`
	Frames      int            `json:"frames"`
	LatestFrame time.Time      `json:"latestFrame"`
	ElapsedMs   int64          `json:"elapsedMs"`
	FrameTimes  datatypes.JSON `json:"frameTimes"`
}

// TableName keeps the table name stable if the struct is renamed.
func (Record) TableName() string { return "refresh_records" }

// EncodeTimes packs frame times for Record.FrameTimes.
func EncodeTimes(ts []time.Time) datatypes.JSON {
	if len(ts) == 0 {
		return datatypes.JSON("[]")
	}
	b, err := json.Marshal(ts)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

// Times decodes FrameTimes.
func (r Record) Times() ([]time.Time, error) {
	if len(r.FrameTimes) == 0 {
		return nil, nil
	}
	var out []time.Time
	if err := json.Unmarshal(r.FrameTimes, &out); err != nil {
		return nil, fmt.Errorf("decode frame times: %w", err)
	}
	return out, nil
}

// Options selects the database backing the store.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path (or ":memory:") for sqlite, a connection string for
	// postgres.
	DSN string
}

// Store persists refresh records.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects and migrates the schema.
func Open(opts Options, log zerolog.Logger) (*Store, error) {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "radar-history.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err == nil {
			// One connection so ":memory:" is a single database.
			if sqlDB, derr := db.DB(); derr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	case "postgres":
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  opts.DSN,
			PreferSimpleProtocol: true,
		}), cfg)
	default:
		return nil, fmt.Errorf("unknown history driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s history database: %w", opts.Driver, err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	log.Info().Str("driver", db.Dialector.Name()).Msg("history store ready")
	return &Store{db: db, log: log}, nil
}

// Record inserts r.
func (s *Store) Record(ctx context.Context, r Record) error {
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := s.db.WithContext(ctx).
		Order("started_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query refresh records: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
