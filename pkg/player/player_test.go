//go:build unix

package player

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/result"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// writeStubPlayer creates an executable script standing in for VLC.
func writeStubPlayer(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vlc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))

	return path
}

func newTester(t *testing.T, vlcPath string) Tester {
	t.Helper()

	tester, err := NewTester(testLogger(), Options{
		PlaybackDuration: time.Second,
		ConnectTimeout:   2 * time.Second,
		Runner:           procrun.NewRunner(testLogger()),
		VLCPath:          vlcPath,
	})
	require.NoError(t, err)

	return tester
}

func TestNewTester_RejectsBadOptions(t *testing.T) {
	runner := procrun.NewRunner(testLogger())

	_, err := NewTester(testLogger(), Options{
		PlaybackDuration: 0,
		ConnectTimeout:   time.Second,
		Runner:           runner,
	})
	require.Error(t, err)

	_, err = NewTester(testLogger(), Options{
		PlaybackDuration: time.Second,
		ConnectTimeout:   -1,
		Runner:           runner,
	})
	require.Error(t, err)

	_, err = NewTester(testLogger(), Options{
		PlaybackDuration: time.Second,
		ConnectTimeout:   time.Second,
	})
	require.Error(t, err)
}

func TestTest_SuccessfulPlayback(t *testing.T) {
	stub := writeStubPlayer(t, `
echo "main debug: stream opened" 1>&2
echo "main debug: buffering 30%" 1>&2
echo "main debug: buffering done" 1>&2
sleep 0.2
exit 0
`)

	res := newTester(t, stub).Test(context.Background(), "http://radio.example/stream")

	assert.Equal(t, result.StatusOK, res.Status)
	assert.Equal(t, MethodEventStream, res.Method)
	assert.True(t, res.FormatSupported)
	assert.Equal(t, 2, res.BufferingEvents)
	require.NotNil(t, res.ConnectionTimeMS)
	assert.GreaterOrEqual(t, *res.ConnectionTimeMS, 0)
	assert.Greater(t, res.PlaybackDurationSeconds, 0.0)
	assert.Empty(t, res.Errors)
}

func TestTest_PlaybackError(t *testing.T) {
	stub := writeStubPlayer(t, `
echo "access error: cannot connect to radio.example" 1>&2
exit 1
`)

	res := newTester(t, stub).Test(context.Background(), "http://radio.example/stream")

	assert.Equal(t, result.StatusError, res.Status)
	assert.False(t, res.FormatSupported)
	assert.NotEmpty(t, res.Error)
	assert.NotEmpty(t, res.Errors)
}

func TestTest_HangingPlayerIsTerminated(t *testing.T) {
	stub := writeStubPlayer(t, `
echo "main debug: stream opened" 1>&2
sleep 60
`)

	tester, err := NewTester(testLogger(), Options{
		PlaybackDuration: 200 * time.Millisecond,
		ConnectTimeout:   200 * time.Millisecond,
		Runner:           procrun.NewRunner(testLogger()),
		VLCPath:          stub,
	})
	require.NoError(t, err)

	start := time.Now()
	res := tester.Test(context.Background(), "http://radio.example/stream")

	// Connected before we cut it off: counts as a working stream.
	assert.Equal(t, result.StatusOK, res.Status)
	assert.Less(t, time.Since(start), 20*time.Second)
}

func TestTest_MissingBinary(t *testing.T) {
	res := newTester(t, filepath.Join(t.TempDir(), "missing")).Test(context.Background(), "http://radio.example/stream")

	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, MethodCommandLine, res.Method)
}

func TestTest_BreakerOpenShortCircuits(t *testing.T) {
	breaker := procrun.NewBreaker(1, time.Hour)
	breaker.RecordFailure()

	tester, err := NewTester(testLogger(), Options{
		PlaybackDuration: time.Second,
		ConnectTimeout:   time.Second,
		Runner:           procrun.NewRunner(testLogger()),
		VLCPath:          "/usr/bin/true",
		Breaker:          breaker,
	})
	require.NoError(t, err)

	res := tester.Test(context.Background(), "http://radio.example/stream")

	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, "player unavailable", res.Error)
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want eventKind
	}{
		{"", eventNone},
		{"main debug: stream opened", eventConnected},
		{"main debug: Buffering 52%", eventBuffering},
		{"access error: cannot connect", eventError},
		{"http: cannot open stream", eventError},
		{"core debug: toggling playing state", eventConnected},
		{"something unrelated", eventNone},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyLine(tt.line))
		})
	}
}
