// Package pipeline orchestrates a diagnostic run: URL validation,
// stream registration, the four test phases in order and final
// grading. Phase failures are recorded in the result, never returned
// as errors; only an unusable request aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/addetect"
	"github.com/streamprobe/streamprobe/pkg/audio"
	"github.com/streamprobe/streamprobe/pkg/config"
	"github.com/streamprobe/streamprobe/pkg/connectivity"
	"github.com/streamprobe/streamprobe/pkg/identity"
	"github.com/streamprobe/streamprobe/pkg/player"
	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/report"
	"github.com/streamprobe/streamprobe/pkg/result"
	"github.com/streamprobe/streamprobe/pkg/store"
	"github.com/streamprobe/streamprobe/pkg/validate"
)

// PhaseCount is the number of pipeline phases.
const PhaseCount = 4

// Request describes one diagnostic run.
type Request struct {
	URL string

	// TestRunID keys the persisted record. Empty means a fresh
	// random ID; a non-empty value must be a UUID.
	TestRunID string

	// Phase caps the run at phases 1..Phase. Zero means all phases.
	Phase int

	// SkipPhases removes individual phases from the run.
	SkipPhases []int
}

// Pipeline runs diagnostic requests.
type Pipeline interface {
	Run(ctx context.Context, req *Request) (*result.Record, error)
}

// Options allows injecting phase components and the store. Nil fields
// are built from the configuration.
type Options struct {
	Store    store.Store
	Checker  connectivity.Checker
	Tester   player.Tester
	Analyzer audio.Analyzer
	Detector addetect.Detector
}

// Compile-time interface check.
var _ Pipeline = (*pipeline)(nil)

type pipeline struct {
	log       logrus.FieldLogger
	validator *validate.URLValidator
	store     store.Store

	checker  connectivity.Checker
	tester   player.Tester
	analyzer audio.Analyzer
	detector addetect.Detector

	// One breaker per external tool, shared across the phases of a
	// pipeline instance.
	playerBreaker *procrun.Breaker
	audioBreaker  *procrun.Breaker
}

// New creates a pipeline from the configuration, building any phase
// component not supplied in opts.
func New(log logrus.FieldLogger, cfg *config.Config, opts Options) (Pipeline, error) {
	p := &pipeline{
		log: log.WithField("component", "pipeline"),
		validator: validate.NewURLValidator(
			cfg.Security.AllowedSchemes,
			cfg.Security.BlockPrivateIPs,
			cfg.Security.MaxURLLength,
		),
		store:    opts.Store,
		checker:  opts.Checker,
		tester:   opts.Tester,
		analyzer: opts.Analyzer,
		detector: opts.Detector,
	}

	connectTimeout := time.Duration(cfg.Security.ConnectTimeoutSeconds) * time.Second
	readTimeout := time.Duration(cfg.Security.ReadTimeoutSeconds) * time.Second
	procRunner := procrun.NewRunner(log)

	if p.checker == nil {
		p.checker = connectivity.NewChecker(log, connectivity.Options{
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
			VerifyTLS:      cfg.Security.VerifyTLSEnabled(),
			Runner:         procRunner,
		})
	}

	if p.tester == nil {
		p.playerBreaker = procrun.NewBreaker(0, 0)

		tester, err := player.NewTester(log, player.Options{
			PlaybackDuration: time.Duration(cfg.Probe.PlaybackDurationSeconds) * time.Second,
			ConnectTimeout:   connectTimeout,
			Runner:           procRunner,
			Breaker:          p.playerBreaker,
		})
		if err != nil {
			return nil, fmt.Errorf("creating player tester: %w", err)
		}

		p.tester = tester
	}

	if p.analyzer == nil {
		p.audioBreaker = procrun.NewBreaker(0, 0)

		analyzer, err := audio.NewAnalyzer(log, audio.Options{
			SampleDuration:     time.Duration(cfg.Probe.SampleDurationSeconds) * time.Second,
			SilenceThresholdDB: cfg.Probe.SilenceThreshold(),
			SilenceMinDuration: time.Duration(cfg.Probe.SilenceMinDurationSeconds * float64(time.Second)),
			TempDir:            cfg.Storage.TempDir,
			MaxCaptureBytes:    cfg.Storage.MaxCaptureBytes,
			Runner:             procRunner,
			Breaker:            p.audioBreaker,
		})
		if err != nil {
			return nil, fmt.Errorf("creating audio analyzer: %w", err)
		}

		p.analyzer = analyzer
	}

	if p.detector == nil {
		detector, err := addetect.NewDetector(log, addetect.Options{
			MonitoringDuration: time.Duration(cfg.Probe.AdMonitoringSeconds) * time.Second,
			CheckInterval:      time.Duration(cfg.Probe.AdCheckIntervalSeconds * float64(time.Second)),
			MinBreak:           time.Duration(cfg.Probe.AdMinBreakSeconds * float64(time.Second)),
		})
		if err != nil {
			return nil, fmt.Errorf("creating ad detector: %w", err)
		}

		p.detector = detector
	}

	return p, nil
}

// Run executes the requested phases against the URL and returns the
// graded record. The returned error is non-nil only when the request
// itself is unusable.
func (p *pipeline) Run(ctx context.Context, req *Request) (*result.Record, error) {
	if err := p.validator.Validate(req.URL); err != nil {
		return nil, fmt.Errorf("validating url: %w", err)
	}

	testRunID := req.TestRunID
	if testRunID == "" {
		testRunID = identity.NewTestRunID()
	} else if !identity.ValidTestRunID(testRunID) {
		return nil, fmt.Errorf("test run id %q is not a valid uuid", testRunID)
	}

	streamID, err := identity.StreamID(req.URL)
	if err != nil {
		return nil, fmt.Errorf("deriving stream id: %w", err)
	}

	phases, err := requestedPhases(req)
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"test_run_id": testRunID,
		"stream_id":   streamID,
	})
	log.WithField("url", req.URL).Info("Starting diagnostic run")

	p.registerStream(ctx, log, streamID, req.URL)

	var persister report.Persister
	if p.store != nil {
		persister = p.store
	}

	agg := report.NewAggregator(p.log, persister, testRunID, streamID, req.URL, phases)

	if phases[1] {
		agg.MergeConnectivity(ctx, p.runConnectivity(ctx, req.URL))
	}

	if phases[2] {
		agg.MergePlayer(ctx, p.runPlayer(ctx, req.URL))
	}

	if phases[3] {
		agg.MergeAudio(ctx, p.runAudio(ctx, req.URL))
	}

	if phases[4] {
		agg.MergeAds(ctx, p.runAds(ctx, req.URL))
	}

	rec := agg.Finalize(ctx)

	log.WithFields(logrus.Fields{
		"phase":        rec.Phase,
		"health_score": *rec.HealthScore,
	}).Info("Diagnostic run complete")

	return rec, nil
}

// requestedPhases expands the request into the set of phases to run.
// A phase cap of N means phases 1 through N.
func requestedPhases(req *Request) (map[int]bool, error) {
	last := req.Phase
	if last == 0 {
		last = PhaseCount
	}

	if !validate.Phase(last) {
		return nil, fmt.Errorf("phase must be between 1 and %d, got %d", PhaseCount, req.Phase)
	}

	phases := make(map[int]bool, PhaseCount)
	for n := 1; n <= last; n++ {
		phases[n] = true
	}

	for _, n := range req.SkipPhases {
		if !validate.Phase(n) {
			return nil, fmt.Errorf("cannot skip unknown phase %d", n)
		}

		delete(phases, n)
	}

	if len(phases) == 0 {
		return nil, fmt.Errorf("no phases left to run")
	}

	return phases, nil
}

// registerStream records the stream row before testing starts.
// Registration failures are logged but do not abort the run.
func (p *pipeline) registerStream(
	ctx context.Context, log logrus.FieldLogger, streamID, url string,
) {
	if p.store == nil {
		return
	}

	if _, err := p.store.UpsertStream(ctx, streamID, url, ""); err != nil {
		log.WithError(err).Warn("Failed to register stream")

		return
	}

	if err := p.store.TouchStream(ctx, streamID); err != nil {
		log.WithError(err).Warn("Failed to update stream counters")
	}
}

// Each phase runs behind a recover so a panic in one phase degrades
// to an error-status result instead of killing the run.

func (p *pipeline) runConnectivity(ctx context.Context, url string) (out *result.Connectivity) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("Connectivity check panicked")

			out = &result.Connectivity{
				Status: result.StatusError,
				Error:  fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return p.checker.Check(ctx, url)
}

func (p *pipeline) runPlayer(ctx context.Context, url string) (out *result.Player) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("Player test panicked")

			out = &result.Player{
				Status: result.StatusError,
				Error:  fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return p.tester.Test(ctx, url)
}

func (p *pipeline) runAudio(ctx context.Context, url string) (out *result.Audio) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("Audio analysis panicked")

			out = &result.Audio{
				Status: result.StatusError,
				Error:  fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return p.analyzer.Analyze(ctx, url)
}

func (p *pipeline) runAds(ctx context.Context, url string) (out *result.AdDetection) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("Ad detection panicked")

			out = &result.AdDetection{
				Status: result.StatusError,
				Error:  fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return p.detector.Detect(ctx, url)
}
