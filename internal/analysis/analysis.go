// Package analysis contains the offline analyzers that feed the transition
// engine: loudness measurement, silence/fade trimming and tempo detection.
// Analyzers are pure functions over decoded PCM. They never fail: degenerate
// or empty input yields the documented neutral default for each metric type,
// so playback never depends on analysis succeeding.
package analysis

import "time"

// Buffer is a decoded multi-channel PCM buffer. Samples are channel-major
// float64 in [-1, 1]; all channels have equal length.
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// NumFrames returns the per-channel sample count.
func (b *Buffer) NumFrames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.NumFrames()) / float64(b.SampleRate)
}

func (b *Buffer) valid() bool {
	return b != nil && b.SampleRate > 0 && len(b.Channels) > 0 && len(b.Channels[0]) > 0
}

// LoudnessMetrics holds frequency-weighted loudness measurements in LUFS
// (log-domain, K-weighting approximation) plus the suggested normalization
// gain in dB.
type LoudnessMetrics struct {
	Integrated float64 `json:"integrated"`
	ShortTerm  float64 `json:"short_term"`
	Momentary  float64 `json:"momentary"`
	Range      float64 `json:"range"`
	TruePeak   float64 `json:"true_peak"`
	GainAdjust float64 `json:"gain_adjust"`
}

// SilenceMetrics describes leading/trailing silence and fades, in seconds,
// plus encoder delay/padding sample counts and the gapless-marker flag.
type SilenceMetrics struct {
	StartSilence      float64 `json:"start_silence"`
	EndSilence        float64 `json:"end_silence"`
	FadeIn            float64 `json:"fade_in"`
	FadeOut           float64 `json:"fade_out"`
	HasGaplessMarkers bool    `json:"has_gapless_markers"`
	EncoderDelay      int     `json:"encoder_delay"`
	EncoderPadding    int     `json:"encoder_padding"`
	SampleRate        int     `json:"sample_rate"`
}

// BeatMetrics is the tempo analysis output. Beats are seconds from track
// start, monotonically increasing and bounded by the track duration.
type BeatMetrics struct {
	BPM           float64   `json:"bpm"`
	Confidence    float64   `json:"confidence"`
	Beats         []float64 `json:"beats,omitempty"`
	Downbeats     []float64 `json:"downbeats,omitempty"`
	TimeSignature string    `json:"time_signature"`
	Phase         float64   `json:"phase"`
}

// Result aggregates all three analyzers for one track. Immutable once
// produced. ContentHash is empty when analysis fell back to defaults.
type Result struct {
	Loudness    LoudnessMetrics `json:"loudness"`
	Silence     SilenceMetrics  `json:"silence"`
	Beats       BeatMetrics     `json:"beats"`
	ContentHash string          `json:"content_hash"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// DefaultLoudness is the neutral loudness result: silence-floor levels and
// no gain adjustment.
func DefaultLoudness() LoudnessMetrics {
	return LoudnessMetrics{
		Integrated: loudnessFloor,
		ShortTerm:  loudnessFloor,
		Momentary:  loudnessFloor,
		Range:      0,
		TruePeak:   truePeakFloor,
		GainAdjust: 0,
	}
}

// DefaultSilence is the neutral silence result: no trimming.
func DefaultSilence() SilenceMetrics {
	return SilenceMetrics{}
}

// DefaultBeats is the neutral tempo result: 120 BPM at zero confidence.
func DefaultBeats() BeatMetrics {
	return BeatMetrics{BPM: defaultBPM, Confidence: 0, TimeSignature: "4/4"}
}

// DefaultResult is a fully-populated Result using every analyzer's default,
// with an empty content hash. Returned when decode or analysis fails so
// callers never null-check.
func DefaultResult() Result {
	return Result{
		Loudness:   DefaultLoudness(),
		Silence:    DefaultSilence(),
		Beats:      DefaultBeats(),
		ComputedAt: time.Now(),
	}
}

// Analyze runs all three analyzers over one buffer.
func Analyze(buf *Buffer) Result {
	return Result{
		Loudness:   AnalyzeLoudness(buf),
		Silence:    AnalyzeSilence(buf),
		Beats:      AnalyzeTempo(buf),
		ComputedAt: time.Now(),
	}
}
