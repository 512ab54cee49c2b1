package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// renderRecord writes the human-readable diagnostic report.
func renderRecord(w io.Writer, rec *result.Record) {
	fmt.Fprintln(w, "Stream Diagnostic Report")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "URL:         %s\n", rec.StreamURL)
	fmt.Fprintf(w, "Stream ID:   %s\n", rec.StreamID)
	fmt.Fprintf(w, "Test Run ID: %s\n", rec.TestRunID)
	fmt.Fprintf(w, "Timestamp:   %s\n", rec.Timestamp.Format("2006-01-02 15:04:05 MST"))

	if rec.HealthScore != nil {
		fmt.Fprintf(w, "Health:      %d/100\n", *rec.HealthScore)
	}

	renderConnectivity(w, rec.Connectivity)
	renderPlayer(w, rec.Player, rec.ConnectionQuality)
	renderAudio(w, rec.Audio)
	renderAds(w, rec.Ads)

	if len(rec.Issues) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Issues:")

		for _, issue := range rec.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}

	if len(rec.Recommendations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recommendations:")

		for _, r := range rec.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}

func section(w io.Writer, title string, status result.Status, errMsg, reason string) bool {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s: %s\n", title, status)

	switch status {
	case result.StatusOK:
		return true
	case result.StatusSkipped:
		if reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", reason)
		}
	case result.StatusError:
		if errMsg != "" {
			fmt.Fprintf(w, "  error: %s\n", errMsg)
		}

		if reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", reason)
		}
	}

	return false
}

func renderConnectivity(w io.Writer, c *result.Connectivity) {
	if c == nil {
		return
	}

	ok := section(w, "Phase 1: Connectivity", c.Status, c.Error, c.Reason)

	if p := c.Probe; p != nil {
		fmt.Fprintf(w, "  connection:    %s (%d ms", p.Status, p.ResponseTimeMS)

		if p.HTTPStatus != 0 {
			fmt.Fprintf(w, ", HTTP %d", p.HTTPStatus)
		}

		fmt.Fprintln(w, ")")
	}

	if !ok {
		return
	}

	if t := c.StreamType; t != nil {
		fmt.Fprintf(w, "  stream type:   %s\n", t.Type)
	}

	if p := c.Parameters; p != nil {
		var parts []string

		if p.Codec != "" {
			parts = append(parts, p.Codec)
		}

		if p.BitrateKbps != nil {
			parts = append(parts, fmt.Sprintf("%d kbps", *p.BitrateKbps))
		}

		if p.SampleRateHz != nil {
			parts = append(parts, fmt.Sprintf("%d Hz", *p.SampleRateHz))
		}

		if p.Channels != "" {
			parts = append(parts, p.Channels)
		}

		if len(parts) > 0 {
			fmt.Fprintf(w, "  parameters:    %s\n", strings.Join(parts, ", "))
		}
	}

	if m := c.Metadata; m != nil && m.Title != "" {
		fmt.Fprintf(w, "  station:       %s\n", m.Title)
	}

	if ssl := c.SSL; ssl != nil {
		state := "valid"
		if !ssl.Valid {
			state = "INVALID"
		}

		fmt.Fprintf(w, "  certificate:   %s", state)

		if ssl.DaysUntilExpiration != nil {
			fmt.Fprintf(w, " (expires in %d days)", *ssl.DaysUntilExpiration)
		}

		if ssl.SelfSigned {
			fmt.Fprint(w, " [self-signed]")
		}

		fmt.Fprintln(w)
	}

	if h := c.HLS; h != nil {
		if h.IsMasterPlaylist {
			fmt.Fprintf(w, "  hls:           master playlist, %d variants\n", len(h.VariantStreams))
		} else {
			fmt.Fprintf(w, "  hls:           media playlist, %d segments\n", h.SegmentCount)
		}
	}
}

func renderPlayer(w io.Writer, p *result.Player, q *result.ConnectionQuality) {
	if p == nil {
		return
	}

	if !section(w, "Phase 2: Player Test", p.Status, p.Error, p.Reason) {
		return
	}

	fmt.Fprintf(w, "  method:        %s\n", p.Method)

	if p.ConnectionTimeMS != nil {
		fmt.Fprintf(w, "  connect time:  %d ms\n", *p.ConnectionTimeMS)
	}

	fmt.Fprintf(w, "  playback:      %.1f s, %d buffering event(s)\n",
		p.PlaybackDurationSeconds, p.BufferingEvents)

	if q != nil {
		stable := "stable"
		if !q.Stable {
			stable = "unstable"
		}

		fmt.Fprintf(w, "  connection:    %s\n", stable)
	}
}

func renderAudio(w io.Writer, a *result.Audio) {
	if a == nil {
		return
	}

	if !section(w, "Phase 3: Audio Analysis", a.Status, a.Error, a.Reason) {
		return
	}

	if s := a.Silence; s != nil {
		fmt.Fprintf(w, "  silence:       %.1f%% (%d period(s), threshold %.0f dB)\n",
			s.Percentage, len(s.Periods), s.ThresholdDB)
	}

	if q := a.Quality; q != nil {
		fmt.Fprintf(w, "  volume:        avg %.1f dB, peak %.1f dB\n",
			q.AverageVolumeDB, q.PeakVolumeDB)

		if q.ClippingDetected {
			fmt.Fprintf(w, "  clipping:      %.2f%% of samples\n", q.ClippingPercentage)
		}
	}

	if e := a.ErrorDetection; e != nil && e.Detected {
		for _, msg := range e.Messages {
			fmt.Fprintf(w, "  warning:       %s\n", msg)
		}
	}
}

func renderAds(w io.Writer, a *result.AdDetection) {
	if a == nil {
		return
	}

	if !section(w, "Phase 4: Ad Detection", a.Status, a.Error, a.Reason) {
		return
	}

	if !a.AdsDetected {
		fmt.Fprintf(w, "  no ads detected in %.0f s of monitoring\n",
			a.MonitoringDurationSeconds)

		return
	}

	fmt.Fprintf(w, "  ad breaks:     %d (%.1f s total, %.1f/hour)\n",
		len(a.Breaks), a.TotalAdTimeSeconds, a.FrequencyPerHour)

	for _, b := range a.Breaks {
		fmt.Fprintf(w, "    %s  %.1f s  %s\n",
			b.Start.Format("15:04:05"), b.DurationSeconds, b.Title)
	}
}
