// Package report owns the accumulating record of one diagnostic run: it
// seeds a slot for every phase, merges phase outputs as they complete,
// persists after every merge and finally grades the stream.
package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// Persister stores the record. Persistence failures must not abort the
// pipeline; the aggregator logs and continues.
type Persister interface {
	SaveRun(ctx context.Context, rec *result.Record) error
}

// Aggregator builds the record for a single test run.
type Aggregator struct {
	log       logrus.FieldLogger
	persister Persister
	rec       *result.Record
}

// NewAggregator creates an aggregator with every phase slot seeded as
// skipped, so the record never silently lacks a phase. Requested phases
// carry a "not reached" reason until their output arrives. The
// persister may be nil.
func NewAggregator(
	log logrus.FieldLogger,
	persister Persister,
	testRunID, streamID, streamURL string,
	phases map[int]bool,
) *Aggregator {
	reason := func(phase int) string {
		if phases[phase] {
			return "not reached"
		}

		return "phase not requested"
	}

	rec := &result.Record{
		TestRunID:    testRunID,
		StreamID:     streamID,
		StreamURL:    streamURL,
		Timestamp:    time.Now().UTC(),
		Connectivity: &result.Connectivity{Status: result.StatusSkipped, Reason: reason(1)},
		Player:       &result.Player{Status: result.StatusSkipped, Reason: reason(2)},
		Audio:        &result.Audio{Status: result.StatusSkipped, Reason: reason(3)},
		Ads:          &result.AdDetection{Status: result.StatusSkipped, Reason: reason(4)},
	}

	return &Aggregator{
		log:       log.WithField("component", "report"),
		persister: persister,
		rec:       rec,
	}
}

// Record returns the accumulating record.
func (a *Aggregator) Record() *result.Record {
	return a.rec
}

// MergeConnectivity records the phase 1 output and persists.
func (a *Aggregator) MergeConnectivity(ctx context.Context, c *result.Connectivity) {
	a.rec.Connectivity = c
	a.stamp(1)
	a.persist(ctx)
}

// MergePlayer records the phase 2 output, derives the connection
// quality summary and persists.
func (a *Aggregator) MergePlayer(ctx context.Context, p *result.Player) {
	a.rec.Player = p
	a.rec.ConnectionQuality = &result.ConnectionQuality{
		Stable: p.Status == result.StatusOK,
	}
	a.stamp(2)
	a.persist(ctx)
}

// MergeAudio records the phase 3 output and persists.
func (a *Aggregator) MergeAudio(ctx context.Context, audio *result.Audio) {
	a.rec.Audio = audio
	a.stamp(3)
	a.persist(ctx)
}

// MergeAds records the phase 4 output and persists.
func (a *Aggregator) MergeAds(ctx context.Context, ads *result.AdDetection) {
	a.rec.Ads = ads
	a.stamp(4)
	a.persist(ctx)
}

// Finalize grades the record and persists it one last time.
func (a *Aggregator) Finalize(ctx context.Context) *result.Record {
	score, issues, recommendations := Grade(a.rec)

	a.rec.HealthScore = &score
	a.rec.Issues = issues
	a.rec.Recommendations = recommendations

	a.persist(ctx)

	return a.rec
}

func (a *Aggregator) stamp(phase int) {
	if phase > a.rec.Phase {
		a.rec.Phase = phase
	}

	a.rec.Timestamp = time.Now().UTC()
}

func (a *Aggregator) persist(ctx context.Context) {
	if a.persister == nil {
		return
	}

	if err := a.persister.SaveRun(ctx, a.rec); err != nil {
		a.log.WithError(err).WithField("test_run_id", a.rec.TestRunID).
			Error("Failed to persist test run")
	}
}
