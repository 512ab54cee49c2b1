// Package addetect implements the fourth diagnostic phase: polling
// stream metadata over a bounded window and turning title/genre
// transitions into advertising breaks.
package addetect

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// DefaultMinBreak is the shortest span counted as an ad break.
const DefaultMinBreak = 2 * time.Second

// Metadata is one observation of the stream's now-playing information.
type Metadata struct {
	Title string
	Genre string
}

// Fetcher obtains current stream metadata. A nil *Metadata with nil
// error means the server exposed none.
type Fetcher func(ctx context.Context, streamURL string) (*Metadata, error)

// Detector monitors a stream for advertising markers.
type Detector interface {
	Detect(ctx context.Context, streamURL string) *result.AdDetection
}

// Options configures a Detector.
type Options struct {
	MonitoringDuration time.Duration
	CheckInterval      time.Duration
	// MinBreak is the shortest counted break. Zero means DefaultMinBreak.
	MinBreak time.Duration
	// Fetcher overrides the ICY metadata fetcher, used by tests.
	Fetcher Fetcher
	// Client backs the default fetcher. Nil means a 5s-timeout client.
	Client *http.Client
}

type detector struct {
	log                logrus.FieldLogger
	monitoringDuration time.Duration
	checkInterval      time.Duration
	minBreak           time.Duration
	fetch              Fetcher
}

var _ Detector = (*detector)(nil)

// NewDetector creates an ad detector. Both the monitoring duration and
// the check interval must be strictly positive.
func NewDetector(log logrus.FieldLogger, opts Options) (Detector, error) {
	if opts.MonitoringDuration <= 0 {
		return nil, fmt.Errorf("monitoring duration must be positive")
	}

	if opts.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}

	if opts.MinBreak <= 0 {
		opts.MinBreak = DefaultMinBreak
	}

	fetch := opts.Fetcher
	if fetch == nil {
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Second}
		}

		fetch = icyFetcher(client)
	}

	return &detector{
		log:                log.WithField("component", "addetect"),
		monitoringDuration: opts.MonitoringDuration,
		checkInterval:      opts.CheckInterval,
		minBreak:           opts.MinBreak,
		fetch:              fetch,
	}, nil
}

// Detect polls metadata until the monitoring window closes. Individual
// fetch failures are skipped without touching the last-seen state so a
// transient outage cannot fabricate a break boundary; a window with no
// successful fetch at all reports no ads rather than an error.
func (d *detector) Detect(ctx context.Context, streamURL string) *result.AdDetection {
	out := &result.AdDetection{
		Status:                    result.StatusOK,
		Breaks:                    []result.AdBreak{},
		MonitoringDurationSeconds: d.monitoringDuration.Seconds(),
	}

	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()

	deadline := time.After(d.monitoringDuration)

	var (
		breakStart time.Time
		breakTitle string
		breakGenre string
	)

	closeBreak := func(end time.Time) {
		if breakStart.IsZero() {
			return
		}

		duration := end.Sub(breakStart)
		if duration >= d.minBreak {
			out.Breaks = append(out.Breaks, result.AdBreak{
				Start:           breakStart.UTC(),
				End:             end.UTC(),
				DurationSeconds: math.Round(duration.Seconds()*100) / 100,
				DetectionMethod: "metadata_marker",
				Title:           breakTitle,
				Genre:           breakGenre,
			})
		}

		breakStart = time.Time{}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			md, err := d.fetch(ctx, streamURL)
			if err != nil || md == nil {
				if err != nil {
					d.log.WithError(err).Debug("Metadata fetch failed, skipping tick")
				}

				continue
			}

			if isAdMarker(md.Title, md.Genre) {
				if breakStart.IsZero() {
					breakStart = time.Now()
					breakTitle = md.Title
					breakGenre = md.Genre

					d.log.WithField("title", md.Title).Debug("Ad break opened")
				}
			} else {
				closeBreak(time.Now())
			}
		}
	}

	closeBreak(time.Now())

	out.AdsDetected = len(out.Breaks) > 0

	for _, b := range out.Breaks {
		out.TotalAdTimeSeconds += b.DurationSeconds
	}

	hours := d.monitoringDuration.Hours()
	if hours > 0 {
		out.FrequencyPerHour = math.Round(float64(len(out.Breaks))/hours*10) / 10
	}

	return out
}

// Ad marker patterns over lowercased title/genre. The short tokens are
// matched on word boundaries so "radio" or "shadow" do not trip them.
var (
	adTitlePattern = regexp.MustCompile(`commercial|advertisement|advertising|ad break|promo|\bad\b|\bspot\b`)
	adGenrePattern = regexp.MustCompile(`commercial|advertisement|\bad\b|\bspot\b`)
)

func isAdMarker(title, genre string) bool {
	if title != "" && adTitlePattern.MatchString(strings.ToLower(title)) {
		return true
	}

	if genre != "" && adGenrePattern.MatchString(strings.ToLower(genre)) {
		return true
	}

	return false
}

// icyFetcher reads ICY headers from the stream without consuming audio.
func icyFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, streamURL string) (*Metadata, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Icy-MetaData", "1")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		md := &Metadata{
			Title: resp.Header.Get("icy-name"),
			Genre: resp.Header.Get("icy-genre"),
		}

		if md.Title == "" && md.Genre == "" {
			return nil, nil
		}

		return md, nil
	}
}
