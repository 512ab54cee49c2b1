// Package player implements the second diagnostic phase: playing the
// stream for a few seconds with a headless VLC and watching how the
// playback goes.
package player

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/result"
)

// Methods reported in the player result.
const (
	MethodEventStream = "event_stream"
	MethodCommandLine = "command_line"
)

// Tester runs the playback test against a stream URL.
type Tester interface {
	Test(ctx context.Context, streamURL string) *result.Player
}

// Options configures a Tester.
type Options struct {
	PlaybackDuration time.Duration
	ConnectTimeout   time.Duration
	Runner           procrun.Runner
	// VLCPath overrides binary discovery.
	VLCPath string
	Breaker *procrun.Breaker
}

type tester struct {
	log              logrus.FieldLogger
	playbackDuration time.Duration
	connectTimeout   time.Duration
	runner           procrun.Runner
	vlcPath          string
	breaker          *procrun.Breaker
}

var _ Tester = (*tester)(nil)

// NewTester creates a playback tester. Durations must be positive.
func NewTester(log logrus.FieldLogger, opts Options) (Tester, error) {
	if opts.PlaybackDuration <= 0 {
		return nil, fmt.Errorf("playback duration must be positive")
	}

	if opts.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connection timeout must be positive")
	}

	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	return &tester{
		log:              log.WithField("component", "player"),
		playbackDuration: opts.PlaybackDuration,
		connectTimeout:   opts.ConnectTimeout,
		runner:           opts.Runner,
		vlcPath:          opts.VLCPath,
		breaker:          opts.Breaker,
	}, nil
}

// Test plays the stream headlessly. The preferred mode observes VLC's
// verbose output live; when the streaming setup fails it falls back to
// a capture-and-parse run.
func (t *tester) Test(ctx context.Context, streamURL string) *result.Player {
	if t.breaker != nil && !t.breaker.Allow() {
		return &result.Player{
			Status: result.StatusError,
			Error:  "player unavailable",
			Reason: "repeated player failures, backing off",
		}
	}

	vlcPath := t.vlcPath
	if vlcPath == "" {
		vlcPath = findVLC()
	}

	if vlcPath == "" {
		return &result.Player{
			Status: result.StatusError,
			Error:  "VLC not found",
			Reason: "no VLC binary on PATH or in known locations",
			Errors: []string{"VLC not found"},
		}
	}

	out := t.testEventStream(ctx, vlcPath, streamURL)
	if out == nil {
		out = t.testCommandLine(ctx, vlcPath, streamURL)
	}

	if t.breaker != nil {
		if out.Status == result.StatusOK {
			t.breaker.RecordSuccess()
		} else {
			t.breaker.RecordFailure()
		}
	}

	return out
}

// streamState tallies classified player events.
type streamState struct {
	connected       bool
	connectionAfter time.Duration
	bufferingEvents int
	errors          []string
}

// testEventStream runs VLC verbose and classifies its output lines as
// they arrive. Returns nil when the process could not be started, which
// selects the fallback mode.
func (t *tester) testEventStream(ctx context.Context, vlcPath, streamURL string) *result.Player {
	seconds := int(t.playbackDuration.Seconds())
	args := []string{
		"--intf", "dummy",
		"--no-video",
		"--aout", "dummy",
		"--verbose", "2",
		"--network-caching=3000",
		"--run-time", strconv.Itoa(seconds),
		streamURL,
	}

	// Bounded channel between the line producer and the tallying
	// consumer; overflow drops events rather than stalling VLC.
	events := make(chan event, 256)
	done := make(chan *streamState, 1)

	go func() {
		state := &streamState{}
		for ev := range events {
			switch ev.kind {
			case eventConnected:
				if !state.connected {
					state.connected = true
					state.connectionAfter = ev.at
				}
			case eventBuffering:
				state.bufferingEvents++
			case eventError:
				if len(state.errors) < 20 {
					state.errors = append(state.errors, ev.line)
				}
			}
		}

		done <- state
	}()

	start := time.Now()

	res, err := t.runner.RunStreaming(ctx, procrun.Spec{
		Path:    vlcPath,
		Args:    args,
		Timeout: t.connectTimeout + t.playbackDuration + 10*time.Second,
	}, func(line string) {
		kind := classifyLine(line)
		if kind == eventNone {
			return
		}

		select {
		case events <- event{kind: kind, line: line, at: time.Since(start)}:
		default:
		}
	})

	close(events)
	state := <-done

	if err != nil {
		t.log.WithError(err).Debug("Event stream mode unavailable")

		return nil
	}

	return t.buildResult(MethodEventStream, res, state, time.Since(start))
}

// testCommandLine runs VLC quietly to completion and parses the
// captured output with the same classifier.
func (t *tester) testCommandLine(ctx context.Context, vlcPath, streamURL string) *result.Player {
	seconds := int(t.playbackDuration.Seconds())
	args := []string{
		"--intf", "dummy",
		"--quiet",
		"--no-video",
		"--network-caching=3000",
		"--run-time", strconv.Itoa(seconds),
		streamURL,
	}

	start := time.Now()

	res, err := t.runner.Run(ctx, procrun.Spec{
		Path:    vlcPath,
		Args:    args,
		Timeout: t.connectTimeout + t.playbackDuration + 10*time.Second,
	})
	if err != nil {
		return &result.Player{
			Status: result.StatusError,
			Error:  err.Error(),
			Reason: "could not start VLC",
			Method: MethodCommandLine,
			Errors: []string{err.Error()},
		}
	}

	elapsed := time.Since(start)

	state := &streamState{}

	for _, line := range strings.Split(string(res.Stderr), "\n") {
		switch classifyLine(line) {
		case eventConnected:
			state.connected = true
		case eventBuffering:
			state.bufferingEvents++
		case eventError:
			if len(state.errors) < 20 {
				state.errors = append(state.errors, line)
			}
		}
	}

	out := t.buildResult(MethodCommandLine, res, state, elapsed)

	// Without live events the connection time is an estimate: the
	// first fifth of the run, capped at 5s.
	if out.Status == result.StatusOK && out.ConnectionTimeMS == nil {
		ms := int(math.Min(elapsed.Seconds()*0.2, 5.0) * 1000)
		out.ConnectionTimeMS = &ms
	}

	return out
}

// buildResult folds the process outcome and tallied events into the
// phase result. Exit 0 counts as success, as does our own termination
// of a player that had connected.
func (t *tester) buildResult(method string, res *procrun.Result, state *streamState, elapsed time.Duration) *result.Player {
	out := &result.Player{
		Method:                  method,
		PlaybackDurationSeconds: math.Round(elapsed.Seconds()*100) / 100,
		BufferingEvents:         state.bufferingEvents,
		Errors:                  state.errors,
	}

	terminatedByUs := res.TimedOut || (res.ExitCode != nil && *res.ExitCode == -1)
	succeeded := res.Succeeded || (terminatedByUs && (method == MethodCommandLine || state.connected))

	if succeeded {
		out.Status = result.StatusOK
		out.FormatSupported = true

		if state.connected {
			ms := int(state.connectionAfter.Milliseconds())
			out.ConnectionTimeMS = &ms
		}

		return out
	}

	out.Status = result.StatusError

	switch {
	case len(state.errors) > 0:
		out.Error = state.errors[0]
	case res.Reason != "":
		out.Error = res.Reason
	default:
		out.Error = "playback failed"
	}

	if res.ExitCode != nil && *res.ExitCode > 0 {
		out.Errors = append(out.Errors, fmt.Sprintf("VLC returned error code %d", *res.ExitCode))
	}

	out.Reason = "stream did not play"

	return out
}

type eventKind int

const (
	eventNone eventKind = iota
	eventConnected
	eventBuffering
	eventError
)

type event struct {
	kind eventKind
	line string
	at   time.Duration
}

// classifyLine maps a VLC output line to an event. Errors win over the
// other classes since VLC error lines often also mention the stream.
func classifyLine(line string) eventKind {
	l := strings.ToLower(line)

	switch {
	case l == "":
		return eventNone
	case strings.Contains(l, "cannot open"),
		strings.Contains(l, "unable to open"),
		strings.Contains(l, "access error"),
		strings.Contains(l, "cannot connect"),
		strings.Contains(l, "codec not supported"),
		strings.Contains(l, " error"):
		return eventError
	case strings.Contains(l, "buffering"):
		return eventBuffering
	case strings.Contains(l, "stream opened"),
		strings.Contains(l, "successfully opened"),
		strings.Contains(l, "playing"),
		strings.Contains(l, "connection succeeded"):
		return eventConnected
	default:
		return eventNone
	}
}

// findVLC locates a VLC binary on PATH or in well-known install
// locations.
func findVLC() string {
	if path, err := exec.LookPath("vlc"); err == nil {
		return path
	}

	var candidates []string

	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/VLC.app/Contents/MacOS/VLC",
			"/usr/local/bin/vlc",
			"/opt/homebrew/bin/vlc",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\VideoLAN\VLC\vlc.exe`,
			`C:\Program Files (x86)\VideoLAN\VLC\vlc.exe`,
		}
	default:
		candidates = []string{"/usr/bin/vlc", "/usr/local/bin/vlc", "/snap/bin/vlc"}
	}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}

	return ""
}
