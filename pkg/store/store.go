// Package store persists streams and their test runs in SQLite.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// Store provides persistence for streams and test runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertStream(ctx context.Context, streamID, url, name string) (*Stream, error)
	TouchStream(ctx context.Context, streamID string) error
	GetStream(ctx context.Context, streamID string) (*Stream, error)

	SaveRun(ctx context.Context, rec *result.Record) error
	StreamHistory(ctx context.Context, streamID string, limit int) ([]TestRun, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log  logrus.FieldLogger
	path string
	db   *gorm.DB
}

// NewStore creates a Store backed by the SQLite database at path.
func NewStore(log logrus.FieldLogger, path string) Store {
	return &store{
		log:  log.WithField("component", "store"),
		path: path,
	}
}

// Start opens the database connection and runs migrations. The parent
// directory is created if missing.
func (s *store) Start(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Stream{},
		&TestRun{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("path", s.path).Debug("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertStream registers a stream, creating the row on first sight.
// An existing row keeps its created_at and counters.
func (s *store) UpsertStream(
	ctx context.Context, streamID, url, name string,
) (*Stream, error) {
	stream := &Stream{
		StreamID:  streamID,
		URL:       url,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	res := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		FirstOrCreate(stream)
	if res.Error != nil {
		return nil, fmt.Errorf("upserting stream: %w", res.Error)
	}

	if name != "" && stream.Name != name {
		if err := s.db.WithContext(ctx).
			Model(stream).
			Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("updating stream name: %w", err)
		}
	}

	return stream, nil
}

// TouchStream bumps the test counter and last-tested timestamp.
func (s *store) TouchStream(ctx context.Context, streamID string) error {
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).
		Model(&Stream{}).
		Where("stream_id = ?", streamID).
		Updates(map[string]interface{}{
			"test_count":  gorm.Expr("test_count + 1"),
			"last_tested": now,
		}).Error; err != nil {
		return fmt.Errorf("touching stream: %w", err)
	}

	return nil
}

// GetStream returns the stream row, or nil when unknown.
func (s *store) GetStream(
	ctx context.Context, streamID string,
) (*Stream, error) {
	var stream Stream

	err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		First(&stream).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("getting stream: %w", err)
	}

	return &stream, nil
}

// SaveRun inserts or updates a test run keyed by test_run_id. The
// pipeline calls this after every phase, so the row is written in
// place as the record grows.
func (s *store) SaveRun(ctx context.Context, rec *result.Record) error {
	data, err := rec.JSON()
	if err != nil {
		return fmt.Errorf("serializing record: %w", err)
	}

	run := &TestRun{
		TestRunID:   rec.TestRunID,
		StreamID:    rec.StreamID,
		Phase:       rec.Phase,
		Timestamp:   rec.Timestamp,
		ResultsJSON: string(data),
	}

	res := s.db.WithContext(ctx).
		Where("test_run_id = ?", run.TestRunID).
		Assign(run).
		FirstOrCreate(run)
	if res.Error != nil {
		return fmt.Errorf("saving test run: %w", res.Error)
	}

	return nil
}

// StreamHistory returns the most recent runs for a stream, newest
// first. A non-positive limit returns everything.
func (s *store) StreamHistory(
	ctx context.Context, streamID string, limit int,
) ([]TestRun, error) {
	q := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("timestamp DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []TestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing test runs: %w", err)
	}

	return runs, nil
}
