package audio

import (
	"math"
	"time"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// dbFloor replaces -Inf for digital silence so no NaN or Inf escapes
// into results.
const dbFloor = -120.0

// clippingThreshold is the fraction of full scale treated as clipped.
const clippingThreshold = 0.99

// amplitudeDB converts a linear amplitude in [0, 1] to dBFS.
func amplitudeDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return dbFloor
	}

	db := 20 * math.Log10(amplitude)
	if db < dbFloor || math.IsNaN(db) || math.IsInf(db, 0) {
		return dbFloor
	}

	return db
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// detectSilence scans 100 ms RMS windows against the threshold.
// Consecutive silent windows of at least minDuration become reported
// periods.
func detectSilence(samples []float64, sampleRate int, thresholdDB float64, minDuration time.Duration) *result.SilenceDetection {
	out := &result.SilenceDetection{
		Periods:     []result.SilencePeriod{},
		ThresholdDB: thresholdDB,
	}

	if len(samples) == 0 || sampleRate <= 0 {
		return out
	}

	windowSize := sampleRate / 10
	if windowSize < 1 {
		windowSize = 1
	}

	numWindows := len(samples) / windowSize
	if numWindows == 0 {
		return out
	}

	windowSeconds := float64(windowSize) / float64(sampleRate)

	var (
		silentWindows int
		runStart      = -1
	)

	endRun := func(endWindow int) {
		if runStart < 0 {
			return
		}

		start := float64(runStart) * windowSeconds
		end := float64(endWindow) * windowSeconds

		if end-start >= minDuration.Seconds() {
			out.Periods = append(out.Periods, result.SilencePeriod{
				StartSeconds:    round2(start),
				EndSeconds:      round2(end),
				DurationSeconds: round2(end - start),
			})
		}

		runStart = -1
	}

	for i := 0; i < numWindows; i++ {
		window := samples[i*windowSize : (i+1)*windowSize]

		var sumSq float64
		for _, s := range window {
			sumSq += s * s
		}

		rms := math.Sqrt(sumSq / float64(len(window)))

		if amplitudeDB(rms) < thresholdDB {
			silentWindows++

			if runStart < 0 {
				runStart = i
			}
		} else {
			endRun(i)
		}
	}

	endRun(numWindows)

	out.Detected = len(out.Periods) > 0
	out.Percentage = round2(float64(silentWindows*windowSize) / float64(len(samples)) * 100)

	return out
}

// analyzeQuality computes volume and clipping metrics over the whole
// sample.
func analyzeQuality(samples []float64) *result.AudioQuality {
	out := &result.AudioQuality{}

	if len(samples) == 0 {
		out.AverageVolumeDB = dbFloor
		out.PeakVolumeDB = dbFloor

		return out
	}

	var (
		sumSq   float64
		peak    float64
		clipped int
	)

	for _, s := range samples {
		abs := math.Abs(s)
		sumSq += s * s

		if abs > peak {
			peak = abs
		}

		if abs >= clippingThreshold {
			clipped++
		}
	}

	rms := math.Sqrt(sumSq / float64(len(samples)))

	out.AverageVolumeDB = round2(amplitudeDB(rms))
	out.PeakVolumeDB = round2(amplitudeDB(peak))
	out.DynamicRangeDB = round2(out.PeakVolumeDB - out.AverageVolumeDB)

	out.ClippingPercentage = round2(float64(clipped) / float64(len(samples)) * 100)
	out.ClippingDetected = out.ClippingPercentage > 1.0

	return out
}

// detectErrorPattern looks for a looping announcement: one-second
// windows whose variances are uniformly tiny suggest the same quiet
// message repeating instead of program audio.
func detectErrorPattern(samples []float64, sampleRate int) *result.ErrorDetection {
	out := &result.ErrorDetection{}

	if len(samples) == 0 || sampleRate <= 0 {
		return out
	}

	windowSize := sampleRate
	if windowSize < 1 {
		windowSize = 1
	}

	numWindows := len(samples) / windowSize
	if numWindows < 2 {
		return out
	}

	variances := make([]float64, 0, numWindows)

	for i := 0; i < numWindows; i++ {
		window := samples[i*windowSize : (i+1)*windowSize]

		var mean float64
		for _, s := range window {
			mean += s
		}
		mean /= float64(len(window))

		var variance float64
		for _, s := range window {
			d := s - mean
			variance += d * d
		}
		variance /= float64(len(window))

		variances = append(variances, variance)
	}

	var mean float64
	for _, v := range variances {
		mean += v
	}
	mean /= float64(len(variances))

	var std float64
	for _, v := range variances {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(variances)))

	if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
		return out
	}

	if mean < 0.01 && std < 0.005 {
		out.Detected = true
		out.RepetitivePattern = true
		out.Messages = append(out.Messages, "Repetitive audio pattern detected (possible error message)")
	}

	return out
}
