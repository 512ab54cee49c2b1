package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

// block returns n samples alternating between +amp and -amp.
func block(n int, amp float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}

	return samples
}

func seconds(s float64) int {
	return int(s * testRate)
}

func TestDetectSilence_EmptyAndShortBuffers(t *testing.T) {
	out := detectSilence(nil, testRate, -40, 2*time.Second)
	assert.False(t, out.Detected)
	assert.Zero(t, out.Percentage)
	assert.Empty(t, out.Periods)

	// Shorter than one 100ms window: no windows, no division.
	out = detectSilence(block(100, 0.5), testRate, -40, 2*time.Second)
	assert.False(t, out.Detected)
	assert.Zero(t, out.Percentage)
}

func TestDetectSilence_AllLoud(t *testing.T) {
	out := detectSilence(block(seconds(3), 0.5), testRate, -40, 2*time.Second)

	assert.False(t, out.Detected)
	assert.Zero(t, out.Percentage)
	assert.Empty(t, out.Periods)
}

func TestDetectSilence_SilentRunBecomesPeriod(t *testing.T) {
	samples := append(block(seconds(3), 0), block(seconds(3), 0.5)...)

	out := detectSilence(samples, testRate, -40, 2*time.Second)

	assert.True(t, out.Detected)
	require.Len(t, out.Periods, 1)
	assert.InDelta(t, 0.0, out.Periods[0].StartSeconds, 0.01)
	assert.InDelta(t, 3.0, out.Periods[0].EndSeconds, 0.11)
	assert.InDelta(t, 3.0, out.Periods[0].DurationSeconds, 0.11)
	assert.InDelta(t, 50.0, out.Percentage, 1.0)
}

func TestDetectSilence_ShortRunsFiltered(t *testing.T) {
	samples := append(block(seconds(1), 0), block(seconds(5), 0.5)...)

	out := detectSilence(samples, testRate, -40, 2*time.Second)

	// Below the minimum duration: contributes to the percentage but
	// not to the period list.
	assert.False(t, out.Detected)
	assert.Empty(t, out.Periods)
	assert.InDelta(t, 16.6, out.Percentage, 1.0)
}

func TestDetectSilence_TrailingRunClosed(t *testing.T) {
	samples := append(block(seconds(2), 0.5), block(seconds(3), 0)...)

	out := detectSilence(samples, testRate, -40, 2*time.Second)

	require.Len(t, out.Periods, 1)
	assert.InDelta(t, 2.0, out.Periods[0].StartSeconds, 0.11)
	assert.InDelta(t, 5.0, out.Periods[0].EndSeconds, 0.11)
}

func TestAnalyzeQuality_Silence(t *testing.T) {
	out := analyzeQuality(block(seconds(1), 0))

	assert.InDelta(t, -120.0, out.AverageVolumeDB, 0.001)
	assert.InDelta(t, -120.0, out.PeakVolumeDB, 0.001)
	assert.False(t, out.ClippingDetected)
	assert.Zero(t, out.ClippingPercentage)
}

func TestAnalyzeQuality_Clipping(t *testing.T) {
	out := analyzeQuality(block(seconds(1), 1.0))

	assert.True(t, out.ClippingDetected)
	assert.InDelta(t, 100.0, out.ClippingPercentage, 0.001)
	assert.InDelta(t, 0.0, out.PeakVolumeDB, 0.01)
	assert.InDelta(t, 0.0, out.DynamicRangeDB, 0.02)
}

func TestAnalyzeQuality_ModerateLevel(t *testing.T) {
	out := analyzeQuality(block(seconds(1), 0.5))

	assert.InDelta(t, -6.02, out.AverageVolumeDB, 0.05)
	assert.InDelta(t, -6.02, out.PeakVolumeDB, 0.05)
	assert.False(t, out.ClippingDetected)
}

func TestDetectErrorPattern(t *testing.T) {
	// Program audio: plenty of energy, no flag.
	out := detectErrorPattern(block(seconds(5), 0.5), testRate)
	assert.False(t, out.Detected)

	// Uniform near-silence across windows: flagged as repetitive.
	out = detectErrorPattern(block(seconds(5), 0.001), testRate)
	assert.True(t, out.Detected)
	assert.True(t, out.RepetitivePattern)
	assert.NotEmpty(t, out.Messages)

	// Fewer than two windows: nothing to compare.
	out = detectErrorPattern(block(seconds(1), 0.001), testRate)
	assert.False(t, out.Detected)
}

func TestPCMToMono(t *testing.T) {
	// Two stereo frames: (1000, 3000) and (-2000, -2000).
	raw := []byte{
		0xE8, 0x03, 0xB8, 0x0B,
		0x30, 0xF8, 0x30, 0xF8,
	}

	mono := pcmToMono(raw)
	require.Len(t, mono, 2)
	assert.InDelta(t, 2000.0/32768.0, mono[0], 1e-9)
	assert.InDelta(t, -2000.0/32768.0, mono[1], 1e-9)

	// Odd trailing sample is paired with zero.
	mono = pcmToMono([]byte{0xE8, 0x03, 0xE8, 0x03, 0xE8, 0x03})
	require.Len(t, mono, 2)
	assert.InDelta(t, 1000.0/32768.0, mono[0], 1e-9)
	assert.InDelta(t, 500.0/32768.0, mono[1], 1e-9)

	assert.Nil(t, pcmToMono([]byte{0x01}))
	assert.Nil(t, pcmToMono(nil))
}
