package store

import "time"

// Stream is a monitored stream URL. StreamID is derived
// deterministically from the normalized URL, so re-checking the same
// stream always lands on the same row.
type Stream struct {
	StreamID   string `gorm:"primaryKey"`
	URL        string `gorm:"not null;uniqueIndex"`
	Name       string
	CreatedAt  time.Time
	LastTested *time.Time
	TestCount  int
}

// TestRun is one diagnostic run against a stream. The full record is
// serialized as JSON; Phase tracks how far the pipeline got so
// re-saves after each phase update the row in place.
type TestRun struct {
	TestRunID   string `gorm:"primaryKey"`
	StreamID    string `gorm:"not null;index"`
	Phase       int
	Timestamp   time.Time
	ResultsJSON string `gorm:"type:text"`
}
