// Package audio implements the third diagnostic phase: capture a short
// sample of the stream with ffmpeg, decode it to PCM and analyze it for
// silence, quality problems and looping error messages.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/result"
)

// Decode target: 16-bit signed little-endian, 44.1 kHz stereo.
const (
	decodeSampleRate = 44100
	decodeChannels   = 2
)

// Analyzer runs the audio sampling phase against a stream URL.
type Analyzer interface {
	Analyze(ctx context.Context, streamURL string) *result.Audio
}

// Options configures an Analyzer.
type Options struct {
	SampleDuration     time.Duration
	SilenceThresholdDB float64
	SilenceMinDuration time.Duration
	TempDir            string
	MaxCaptureBytes    int64
	Runner             procrun.Runner
	// FFmpegPath overrides binary discovery.
	FFmpegPath string
	Breaker    *procrun.Breaker
}

type analyzer struct {
	log                logrus.FieldLogger
	sampleDuration     time.Duration
	silenceThresholdDB float64
	silenceMinDuration time.Duration
	tempDir            string
	maxCaptureBytes    int64
	runner             procrun.Runner
	ffmpegPath         string
	breaker            *procrun.Breaker
}

var _ Analyzer = (*analyzer)(nil)

// NewAnalyzer creates an audio analyzer.
func NewAnalyzer(log logrus.FieldLogger, opts Options) (Analyzer, error) {
	seconds := opts.SampleDuration.Seconds()
	if seconds < 1 || seconds > 300 {
		return nil, fmt.Errorf("sample duration must be between 1s and 300s")
	}

	if opts.SilenceThresholdDB < -100 || opts.SilenceThresholdDB > 0 {
		return nil, fmt.Errorf("silence threshold must be between -100 and 0 dB")
	}

	if opts.SilenceMinDuration <= 0 {
		return nil, fmt.Errorf("silence minimum duration must be positive")
	}

	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	if opts.MaxCaptureBytes <= 0 {
		opts.MaxCaptureBytes = procrun.DefaultMaxCaptureBytes
	}

	return &analyzer{
		log:                log.WithField("component", "audio"),
		sampleDuration:     opts.SampleDuration,
		silenceThresholdDB: opts.SilenceThresholdDB,
		silenceMinDuration: opts.SilenceMinDuration,
		tempDir:            opts.TempDir,
		maxCaptureBytes:    opts.MaxCaptureBytes,
		runner:             opts.Runner,
		ffmpegPath:         opts.FFmpegPath,
		breaker:            opts.Breaker,
	}, nil
}

// Analyze captures and inspects a sample. Failures are explicit in the
// result status, never fabricated metrics.
func (a *analyzer) Analyze(ctx context.Context, streamURL string) *result.Audio {
	out := &result.Audio{
		SampleDurationSeconds: int(a.sampleDuration.Seconds()),
	}

	if a.breaker != nil && !a.breaker.Allow() {
		out.Status = result.StatusError
		out.Error = "audio capture unavailable"
		out.Reason = "repeated capture failures, backing off"

		return out
	}

	ffmpegPath := a.ffmpegPath
	if ffmpegPath == "" {
		ffmpegPath = findFFmpeg()
	}

	if ffmpegPath == "" {
		out.Status = result.StatusError
		out.Error = "Failed to download audio sample"
		out.Reason = "ffmpeg not found"
		a.recordFailure()

		return out
	}

	var samples []float64

	err := procrun.WithTempFile(a.tempDir, "sample-*.mp3", func(path string) error {
		if err := a.download(ctx, ffmpegPath, streamURL, path); err != nil {
			return err
		}

		decoded, err := a.decode(ctx, ffmpegPath, path)
		if err != nil {
			return err
		}

		samples = decoded

		return nil
	})
	if err != nil {
		out.Status = result.StatusError
		out.Error = err.Error()
		a.recordFailure()

		return out
	}

	if a.breaker != nil {
		a.breaker.RecordSuccess()
	}

	out.Status = result.StatusOK
	out.Silence = detectSilence(samples, decodeSampleRate, a.silenceThresholdDB, a.silenceMinDuration)
	out.Quality = analyzeQuality(samples)
	out.ErrorDetection = detectErrorPattern(samples, decodeSampleRate)

	return out
}

func (a *analyzer) recordFailure() {
	if a.breaker != nil {
		a.breaker.RecordFailure()
	}
}

// downloadStrategies are tried in order until one produces a non-empty
// file. Later entries add flags that help with fussy stream servers.
var downloadStrategies = [][]string{
	nil,
	{"-probesize", "32768", "-analyzeduration", "0"},
	{"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5"},
}

// download records the stream into path as MP3.
func (a *analyzer) download(ctx context.Context, ffmpegPath, streamURL, path string) error {
	seconds := strconv.Itoa(int(a.sampleDuration.Seconds()))

	for _, extra := range downloadStrategies {
		args := append([]string{}, extra...)
		args = append(args,
			"-i", streamURL,
			"-t", seconds,
			"-acodec", "libmp3lame",
			"-ar", strconv.Itoa(decodeSampleRate),
			"-ac", strconv.Itoa(decodeChannels),
			"-fs", strconv.FormatInt(a.maxCaptureBytes, 10),
			"-y",
			path,
		)

		res, err := a.runner.Run(ctx, procrun.Spec{
			Path:    ffmpegPath,
			Args:    args,
			Timeout: a.sampleDuration + 30*time.Second,
		})
		if err != nil {
			return fmt.Errorf("Failed to download audio sample")
		}

		if !res.Succeeded {
			a.log.WithField("reason", res.Reason).Debug("Download attempt failed")

			continue
		}

		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}

		a.log.Debug("Download attempt produced an empty file")
	}

	return fmt.Errorf("Failed to download audio sample")
}

// decode converts the captured file to mono float64 samples in [-1, 1].
func (a *analyzer) decode(ctx context.Context, ffmpegPath, path string) ([]float64, error) {
	// Decoded PCM size is known from the capture duration; leave slack
	// for container padding.
	pcmBudget := int64(a.sampleDuration.Seconds())*decodeSampleRate*decodeChannels*2 + 1<<20

	res, err := a.runner.Run(ctx, procrun.Spec{
		Path: ffmpegPath,
		Args: []string{
			"-i", path,
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ar", strconv.Itoa(decodeSampleRate),
			"-ac", strconv.Itoa(decodeChannels),
			"-",
		},
		Timeout:         a.sampleDuration + 30*time.Second,
		MaxCaptureBytes: pcmBudget,
	})
	if err != nil || !res.Succeeded || len(res.Stdout) == 0 {
		return nil, fmt.Errorf("Failed to load audio data")
	}

	return pcmToMono(res.Stdout), nil
}

// pcmToMono parses interleaved 16-bit little-endian stereo PCM and
// averages the channels. A trailing odd sample is paired with zero.
func pcmToMono(raw []byte) []float64 {
	count := len(raw) / 2
	if count == 0 {
		return nil
	}

	ints := make([]int16, count)
	for i := 0; i < count; i++ {
		ints[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if count%2 != 0 {
		ints = append(ints, 0)
		count++
	}

	mono := make([]float64, count/2)
	for i := range mono {
		left := float64(ints[i*2])
		right := float64(ints[i*2+1])
		mono[i] = (left + right) / 2 / 32768.0
	}

	return mono
}

// findFFmpeg locates an ffmpeg binary on PATH or in well-known install
// locations.
func findFFmpeg() string {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}

	for _, candidate := range []string{"/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}

	return ""
}
