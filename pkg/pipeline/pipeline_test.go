package pipeline

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamprobe/streamprobe/pkg/config"
	"github.com/streamprobe/streamprobe/pkg/result"
	"github.com/streamprobe/streamprobe/pkg/store"
)

type fakeChecker struct {
	calls int
	panic bool
	out   *result.Connectivity
}

func (f *fakeChecker) Check(_ context.Context, _ string) *result.Connectivity {
	f.calls++
	if f.panic {
		panic("checker exploded")
	}

	return f.out
}

type fakeTester struct {
	calls int
	out   *result.Player
}

func (f *fakeTester) Test(_ context.Context, _ string) *result.Player {
	f.calls++

	return f.out
}

type fakeAnalyzer struct {
	calls int
	out   *result.Audio
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) *result.Audio {
	f.calls++

	return f.out
}

type fakeDetector struct {
	calls int
	out   *result.AdDetection
}

func (f *fakeDetector) Detect(_ context.Context, _ string) *result.AdDetection {
	f.calls++

	return f.out
}

type fixture struct {
	checker  *fakeChecker
	tester   *fakeTester
	analyzer *fakeAnalyzer
	detector *fakeDetector
	pipeline Pipeline
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()

	f := &fixture{
		checker:  &fakeChecker{out: &result.Connectivity{Status: result.StatusOK}},
		tester:   &fakeTester{out: &result.Player{Status: result.StatusOK, FormatSupported: true}},
		analyzer: &fakeAnalyzer{out: &result.Audio{Status: result.StatusOK}},
		detector: &fakeDetector{out: &result.AdDetection{Status: result.StatusOK}},
	}

	p, err := New(logrus.New(), config.Default(), Options{
		Store:    st,
		Checker:  f.checker,
		Tester:   f.tester,
		Analyzer: f.analyzer,
		Detector: f.detector,
	})
	require.NoError(t, err)

	f.pipeline = p

	return f
}

func TestNewGuardsExternalToolsWithBreakers(t *testing.T) {
	p, err := New(logrus.New(), config.Default(), Options{})
	require.NoError(t, err)

	pl := p.(*pipeline)
	require.NotNil(t, pl.playerBreaker)
	require.NotNil(t, pl.audioBreaker)

	// Separate tools trip separately.
	assert.NotSame(t, pl.playerBreaker, pl.audioBreaker)
	assert.True(t, pl.playerBreaker.Allow())
	assert.True(t, pl.audioBreaker.Allow())
}

func TestNewInjectedComponentsSkipBreakers(t *testing.T) {
	f := newFixture(t, nil)

	pl := f.pipeline.(*pipeline)
	assert.Nil(t, pl.playerBreaker)
	assert.Nil(t, pl.audioBreaker)
}

func TestRunAllPhases(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.pipeline.Run(context.Background(), &Request{
		URL: "http://radio.example/live",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.checker.calls)
	assert.Equal(t, 1, f.tester.calls)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Equal(t, 1, f.detector.calls)

	assert.Equal(t, 4, rec.Phase)
	assert.Equal(t, result.StatusOK, rec.Connectivity.Status)
	assert.Equal(t, result.StatusOK, rec.Player.Status)
	assert.Equal(t, result.StatusOK, rec.Audio.Status)
	assert.Equal(t, result.StatusOK, rec.Ads.Status)
	require.NotNil(t, rec.HealthScore)
	assert.Equal(t, 100, *rec.HealthScore)
	require.NotNil(t, rec.ConnectionQuality)
	assert.True(t, rec.ConnectionQuality.Stable)

	assert.NotEmpty(t, rec.TestRunID)
	assert.Len(t, rec.StreamID, 16)
}

func TestRunPhaseCap(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.pipeline.Run(context.Background(), &Request{
		URL:   "http://radio.example/live",
		Phase: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.checker.calls)
	assert.Equal(t, 1, f.tester.calls)
	assert.Equal(t, 0, f.analyzer.calls)
	assert.Equal(t, 0, f.detector.calls)

	assert.Equal(t, 2, rec.Phase)
	assert.Equal(t, result.StatusSkipped, rec.Audio.Status)
	assert.Equal(t, "phase not requested", rec.Audio.Reason)
	assert.Equal(t, result.StatusSkipped, rec.Ads.Status)
}

func TestRunSkipPhase(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.pipeline.Run(context.Background(), &Request{
		URL:        "http://radio.example/live",
		SkipPhases: []int{3},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.analyzer.calls)
	assert.Equal(t, 1, f.detector.calls)
	assert.Equal(t, result.StatusSkipped, rec.Audio.Status)
	assert.Equal(t, result.StatusOK, rec.Ads.Status)
	assert.Equal(t, 4, rec.Phase)
}

func TestRunRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{
			name: "blocked scheme",
			req:  &Request{URL: "file:///etc/passwd"},
			want: "validating url",
		},
		{
			name: "missing scheme",
			req:  &Request{URL: "radio.example/live"},
			want: "validating url",
		},
		{
			name: "phase out of range",
			req:  &Request{URL: "http://radio.example/live", Phase: 7},
			want: "phase must be between 1 and 4",
		},
		{
			name: "unknown skip phase",
			req:  &Request{URL: "http://radio.example/live", SkipPhases: []int{9}},
			want: "cannot skip unknown phase 9",
		},
		{
			name: "everything skipped",
			req:  &Request{URL: "http://radio.example/live", Phase: 1, SkipPhases: []int{1}},
			want: "no phases left to run",
		},
		{
			name: "malformed test run id",
			req:  &Request{URL: "http://radio.example/live", TestRunID: "not-a-uuid"},
			want: "not a valid uuid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.pipeline.Run(ctx, tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, rec)
		})
	}
}

func TestRunKeepsCallerTestRunID(t *testing.T) {
	f := newFixture(t, nil)

	const id = "a3a2bfa8-9b0c-4b7f-8f38-5de1a9c2a001"

	rec, err := f.pipeline.Run(context.Background(), &Request{
		URL:       "http://radio.example/live",
		TestRunID: id,
	})
	require.NoError(t, err)
	assert.Equal(t, id, rec.TestRunID)
}

func TestRunRecoversFromPhasePanic(t *testing.T) {
	f := newFixture(t, nil)
	f.checker.panic = true

	rec, err := f.pipeline.Run(context.Background(), &Request{
		URL: "http://radio.example/live",
	})
	require.NoError(t, err)

	assert.Equal(t, result.StatusError, rec.Connectivity.Status)
	assert.Contains(t, rec.Connectivity.Error, "internal error")

	// The remaining phases still run.
	assert.Equal(t, 1, f.tester.calls)
	assert.Equal(t, result.StatusOK, rec.Player.Status)
}

func TestRunPersistsAndRegistersStream(t *testing.T) {
	ctx := context.Background()

	st := store.NewStore(logrus.New(), t.TempDir()+"/streamprobe.db")
	require.NoError(t, st.Start(ctx))
	defer st.Stop()

	f := newFixture(t, st)

	rec, err := f.pipeline.Run(ctx, &Request{URL: "http://radio.example/live"})
	require.NoError(t, err)

	stream, err := st.GetStream(ctx, rec.StreamID)
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "http://radio.example/live", stream.URL)
	assert.Equal(t, 1, stream.TestCount)

	runs, err := st.StreamHistory(ctx, rec.StreamID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.TestRunID, runs[0].TestRunID)
	assert.Equal(t, 4, runs[0].Phase)
}

func TestRunSameURLSameStreamID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, &Request{URL: "http://Radio.Example/live"})
	require.NoError(t, err)

	second, err := f.pipeline.Run(ctx, &Request{URL: "http://radio.example/live"})
	require.NoError(t, err)

	assert.Equal(t, first.StreamID, second.StreamID)
	assert.NotEqual(t, first.TestRunID, second.TestRunID)
}
