package report

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamprobe/streamprobe/pkg/result"
)

type recordingPersister struct {
	mu    sync.Mutex
	saves []result.Record
	err   error
}

func (p *recordingPersister) SaveRun(_ context.Context, rec *result.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.saves = append(p.saves, *rec)

	return p.err
}

func allPhases() map[int]bool {
	return map[int]bool{1: true, 2: true, 3: true, 4: true}
}

func TestNewAggregatorSeedsEveryPhase(t *testing.T) {
	agg := NewAggregator(logrus.New(), nil, "run-1", "stream-1", "http://radio.example/live", map[int]bool{1: true, 2: true})

	rec := agg.Record()
	require.NotNil(t, rec.Connectivity)
	require.NotNil(t, rec.Player)
	require.NotNil(t, rec.Audio)
	require.NotNil(t, rec.Ads)

	assert.Equal(t, result.StatusSkipped, rec.Connectivity.Status)
	assert.Equal(t, "not reached", rec.Connectivity.Reason)
	assert.Equal(t, "not reached", rec.Player.Reason)
	assert.Equal(t, "phase not requested", rec.Audio.Reason)
	assert.Equal(t, "phase not requested", rec.Ads.Reason)
	assert.Equal(t, 0, rec.Phase)
}

func TestMergePersistsAfterEveryPhase(t *testing.T) {
	persister := &recordingPersister{}
	agg := NewAggregator(logrus.New(), persister, "run-1", "stream-1", "http://radio.example/live", allPhases())

	ctx := context.Background()
	agg.MergeConnectivity(ctx, &result.Connectivity{Status: result.StatusOK})
	agg.MergePlayer(ctx, &result.Player{Status: result.StatusOK, FormatSupported: true})
	agg.MergeAudio(ctx, &result.Audio{Status: result.StatusOK})
	agg.MergeAds(ctx, &result.AdDetection{Status: result.StatusOK})
	rec := agg.Finalize(ctx)

	require.Len(t, persister.saves, 5)
	assert.Equal(t, 1, persister.saves[0].Phase)
	assert.Equal(t, 2, persister.saves[1].Phase)
	assert.Equal(t, 3, persister.saves[2].Phase)
	assert.Equal(t, 4, persister.saves[3].Phase)
	require.NotNil(t, rec.HealthScore)
	assert.Equal(t, 100, *rec.HealthScore)
}

func TestMergePlayerDerivesConnectionQuality(t *testing.T) {
	ctx := context.Background()

	agg := NewAggregator(logrus.New(), nil, "run-1", "stream-1", "http://radio.example/live", allPhases())
	agg.MergePlayer(ctx, &result.Player{Status: result.StatusOK, FormatSupported: true})
	require.NotNil(t, agg.Record().ConnectionQuality)
	assert.True(t, agg.Record().ConnectionQuality.Stable)
	assert.False(t, agg.Record().ConnectionQuality.PacketLossDetected)

	agg = NewAggregator(logrus.New(), nil, "run-1", "stream-1", "http://radio.example/live", allPhases())
	agg.MergePlayer(ctx, &result.Player{Status: result.StatusError})
	assert.False(t, agg.Record().ConnectionQuality.Stable)
}

func TestPersisterErrorDoesNotAbort(t *testing.T) {
	persister := &recordingPersister{err: assert.AnError}
	agg := NewAggregator(logrus.New(), persister, "run-1", "stream-1", "http://radio.example/live", allPhases())

	agg.MergeConnectivity(context.Background(), &result.Connectivity{Status: result.StatusOK})

	assert.Equal(t, 1, agg.Record().Phase)
}

func intPtr(v int) *int { return &v }

func TestGrade(t *testing.T) {
	tests := []struct {
		name      string
		rec       *result.Record
		score     int
		issues    []string
		recsMatch []string
	}{
		{
			name: "perfect stream",
			rec: &result.Record{
				Connectivity: &result.Connectivity{
					Status: result.StatusOK,
					Probe:  &result.ConnectionProbe{HTTPStatus: 200},
				},
				Player:            &result.Player{Status: result.StatusOK, FormatSupported: true},
				ConnectionQuality: &result.ConnectionQuality{Stable: true},
				Audio: &result.Audio{
					Status:  result.StatusOK,
					Quality: &result.AudioQuality{AverageVolumeDB: -12},
				},
				Ads: &result.AdDetection{Status: result.StatusOK},
			},
			score:  100,
			issues: []string{},
		},
		{
			name: "connectivity failure",
			rec: &result.Record{
				Connectivity: &result.Connectivity{Status: result.StatusError},
			},
			score:     80,
			issues:    []string{"Stream connectivity failed"},
			recsMatch: nil,
		},
		{
			name: "non-200 http status",
			rec: &result.Record{
				Connectivity: &result.Connectivity{
					Status: result.StatusOK,
					Probe:  &result.ConnectionProbe{HTTPStatus: 403},
				},
			},
			score:  90,
			issues: []string{"HTTP status: 403"},
		},
		{
			name: "invalid certificate",
			rec: &result.Record{
				Connectivity: &result.Connectivity{
					Status: result.StatusOK,
					SSL:    &result.SSLCertificate{Valid: false},
				},
			},
			score:  90,
			issues: []string{"SSL certificate invalid or expired"},
		},
		{
			name: "expiring self-signed certificate",
			rec: &result.Record{
				Connectivity: &result.Connectivity{
					Status: result.StatusOK,
					SSL: &result.SSLCertificate{
						Valid:               true,
						DaysUntilExpiration: intPtr(12),
						SelfSigned:          true,
					},
				},
			},
			score: 90,
			issues: []string{
				"SSL certificate expiring in 12 days",
				"Self-signed SSL certificate",
			},
			recsMatch: []string{"Renew SSL certificate soon"},
		},
		{
			name: "player failure also marks connection unstable",
			rec: &result.Record{
				Player:            &result.Player{Status: result.StatusError},
				ConnectionQuality: &result.ConnectionQuality{Stable: false},
			},
			score:     70,
			issues:    []string{"VLC player test failed", "Unstable connection"},
			recsMatch: []string{"Review stream configuration and server settings"},
		},
		{
			name: "unsupported format",
			rec: &result.Record{
				Player:            &result.Player{Status: result.StatusOK, FormatSupported: false},
				ConnectionQuality: &result.ConnectionQuality{Stable: true},
			},
			score:  90,
			issues: []string{"Stream format not supported by player"},
		},
		{
			name: "mostly silent stream with error pattern",
			rec: &result.Record{
				Audio: &result.Audio{
					Status:         result.StatusOK,
					Silence:        &result.SilenceDetection{Detected: true, Percentage: 82.5},
					ErrorDetection: &result.ErrorDetection{Detected: true},
					Quality:        &result.AudioQuality{AverageVolumeDB: -48.3},
				},
			},
			score: 75,
			issues: []string{
				"Excessive silence: 82.5%",
				"Error message detected in audio",
				"Very low audio volume: -48.3 dB",
			},
			recsMatch: []string{"Increase stream volume levels"},
		},
		{
			name: "moderate silence and clipping",
			rec: &result.Record{
				Audio: &result.Audio{
					Status:  result.StatusOK,
					Silence: &result.SilenceDetection{Detected: true, Percentage: 25.0},
					Quality: &result.AudioQuality{AverageVolumeDB: -10, ClippingDetected: true},
				},
			},
			score: 90,
			issues: []string{
				"Significant silence: 25.0%",
				"Audio clipping detected",
			},
			recsMatch: []string{"Reduce input gain to prevent clipping"},
		},
		{
			name: "ads detected is a minor deduction",
			rec: &result.Record{
				Ads: &result.AdDetection{
					Status:      result.StatusOK,
					AdsDetected: true,
					Breaks:      []result.AdBreak{{DurationSeconds: 30}},
				},
			},
			score:  97,
			issues: []string{"Advertising detected: 1 break(s)"},
		},
		{
			name: "skipped phases contribute nothing",
			rec: &result.Record{
				Connectivity: &result.Connectivity{Status: result.StatusSkipped},
				Player:       &result.Player{Status: result.StatusSkipped},
				Audio:        &result.Audio{Status: result.StatusSkipped},
				Ads:          &result.AdDetection{Status: result.StatusSkipped},
			},
			score:  100,
			issues: []string{},
		},
		{
			name: "heavily degraded stream",
			rec: &result.Record{
				Connectivity: &result.Connectivity{
					Status: result.StatusError,
					SSL:    &result.SSLCertificate{Valid: false, SelfSigned: true},
				},
				Player:            &result.Player{Status: result.StatusError},
				ConnectionQuality: &result.ConnectionQuality{Stable: false},
				Audio: &result.Audio{
					Status:         result.StatusOK,
					Silence:        &result.SilenceDetection{Detected: true, Percentage: 97.0},
					ErrorDetection: &result.ErrorDetection{Detected: true},
					Quality:        &result.AudioQuality{AverageVolumeDB: -90, ClippingDetected: true},
				},
			},
			score: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, issues, recs := Grade(tt.rec)

			assert.Equal(t, tt.score, score)
			if tt.issues != nil {
				assert.Equal(t, tt.issues, issues)
			}
			for _, want := range tt.recsMatch {
				assert.Contains(t, recs, want)
			}
		})
	}
}
