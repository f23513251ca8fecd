package analysis

import "math"

// Silence/fade analyzer: reduces the signal to a per-window peak envelope in
// dB and scans it from both ends. A window above the silence threshold ends
// the silent region; a window above the fade threshold ends the fade region.
// Encoder delay/padding is estimated separately from near-zero runs in the
// raw head/tail samples.
const (
	envelopeWindow = 256

	silenceThresholdDB = -60.0
	fadeThresholdDB    = -40.0

	// MaxSilenceTrim caps detected silence on either end, in seconds.
	MaxSilenceTrim = 5.0

	// Encoder delay/padding heuristics are referenced to 44.1 kHz material.
	encoderScanSamples = 3000
	encoderRefRate     = 44100.0
	nearZeroAmplitude  = 1e-4

	// Trailing content above this average amplitude suggests the track was
	// mixed to run straight into the next one.
	gaplessMarkerAmplitude = 0.01
	gaplessMarkerWindow    = 0.2 // seconds
)

// AnalyzeSilence measures leading/trailing silence, fade-in/fade-out,
// encoder delay/padding and the gapless-marker flag.
func AnalyzeSilence(buf *Buffer) SilenceMetrics {
	if !buf.valid() {
		return DefaultSilence()
	}

	n := buf.NumFrames()
	sr := float64(buf.SampleRate)
	duration := buf.Duration()

	env := peakEnvelopeDB(buf)

	m := SilenceMetrics{SampleRate: buf.SampleRate}

	// Forward scan: silence ends at the first window over -60 dB, fade-in
	// ends at the first window over -40 dB.
	silenceEnd := len(env)
	for i, db := range env {
		if db > silenceThresholdDB {
			silenceEnd = i
			break
		}
	}
	fadeEnd := silenceEnd
	for i := silenceEnd; i < len(env); i++ {
		if db := env[i]; db > fadeThresholdDB {
			fadeEnd = i
			break
		}
		fadeEnd = i + 1
	}
	m.StartSilence = windowTime(silenceEnd, sr)
	m.FadeIn = windowTime(fadeEnd, sr) - m.StartSilence

	// Backward scan mirrors the forward one.
	silenceStart := -1
	for i := len(env) - 1; i >= 0; i-- {
		if env[i] > silenceThresholdDB {
			silenceStart = i
			break
		}
	}
	fadeStart := silenceStart
	for i := silenceStart; i >= 0; i-- {
		if env[i] > fadeThresholdDB {
			fadeStart = i
			break
		}
		fadeStart = i - 1
	}
	m.EndSilence = duration - windowTime(silenceStart+1, sr)
	m.FadeOut = windowTime(silenceStart+1, sr) - windowTime(fadeStart+1, sr)

	m.StartSilence = clamp(m.StartSilence, 0, math.Min(MaxSilenceTrim, duration))
	m.EndSilence = clamp(m.EndSilence, 0, math.Min(MaxSilenceTrim, duration))
	m.FadeIn = clamp(m.FadeIn, 0, duration)
	m.FadeOut = clamp(m.FadeOut, 0, duration)

	scan := int(encoderScanSamples * sr / encoderRefRate)
	if scan > n {
		scan = n
	}
	m.EncoderDelay = leadingNearZeroRun(buf, 0, scan)
	m.EncoderPadding = trailingNearZeroRun(buf, n-scan, n)
	m.HasGaplessMarkers = hasGaplessMarkers(buf)

	return m
}

// peakEnvelopeDB reduces all channels to one peak amplitude per window,
// expressed in dBFS.
func peakEnvelopeDB(buf *Buffer) []float64 {
	n := buf.NumFrames()
	numWindows := (n + envelopeWindow - 1) / envelopeWindow
	env := make([]float64, numWindows)
	for w := range env {
		start := w * envelopeWindow
		end := start + envelopeWindow
		if end > n {
			end = n
		}
		peak := 0.0
		for _, ch := range buf.Channels {
			for _, s := range ch[start:end] {
				if a := math.Abs(s); a > peak {
					peak = a
				}
			}
		}
		if peak <= 0 {
			env[w] = truePeakFloor
		} else {
			env[w] = 20 * math.Log10(peak)
		}
	}
	return env
}

func windowTime(window int, sampleRate float64) float64 {
	return float64(window) * envelopeWindow / sampleRate
}

// leadingNearZeroRun counts consecutive near-zero samples from the head of
// the scan region, across all channels.
func leadingNearZeroRun(buf *Buffer, start, end int) int {
	run := 0
	for i := start; i < end; i++ {
		if frameAmplitude(buf, i) >= nearZeroAmplitude {
			break
		}
		run++
	}
	return run
}

func trailingNearZeroRun(buf *Buffer, start, end int) int {
	if start < 0 {
		start = 0
	}
	run := 0
	for i := end - 1; i >= start; i-- {
		if frameAmplitude(buf, i) >= nearZeroAmplitude {
			break
		}
		run++
	}
	return run
}

func frameAmplitude(buf *Buffer, i int) float64 {
	peak := 0.0
	for _, ch := range buf.Channels {
		if a := math.Abs(ch[i]); a > peak {
			peak = a
		}
	}
	return peak
}

// hasGaplessMarkers reports whether the trailing window retains non-trivial
// average amplitude, i.e. the track does not fade or decay into silence.
func hasGaplessMarkers(buf *Buffer) bool {
	n := buf.NumFrames()
	window := int(gaplessMarkerWindow * float64(buf.SampleRate))
	if window < 1 || window > n {
		window = n
	}
	sum := 0.0
	for i := n - window; i < n; i++ {
		sum += frameAmplitude(buf, i)
	}
	return sum/float64(window) > gaplessMarkerAmplitude
}
