package analysis

// Trim policy consumed by the engine when seeking past dead air between
// tracks. Tracks carrying gapless markers trim only encoder delay/padding;
// everything else trims detected silence, capped per end, unless that end
// has a deliberate fade worth preserving.
const (
	// MaxTrimPerEnd caps silence-derived trims, in seconds.
	MaxTrimPerEnd = 2.0

	// FadePreserveThreshold suppresses a side's trim entirely when that
	// side's detected fade is longer than this, in seconds.
	FadePreserveThreshold = 0.5
)

// TrimPoints are seek offsets in seconds: Start is skipped at the head, End
// is shaved off the tail.
type TrimPoints struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ComputeTrimPoints derives trim offsets from silence metrics. Both offsets
// are clamped to [0, duration].
func ComputeTrimPoints(s SilenceMetrics, sampleRate int, duration float64) TrimPoints {
	if duration <= 0 || sampleRate <= 0 {
		return TrimPoints{}
	}

	var t TrimPoints
	if s.HasGaplessMarkers {
		sr := float64(sampleRate)
		t.Start = float64(s.EncoderDelay) / sr
		t.End = float64(s.EncoderPadding) / sr
	} else {
		if s.FadeIn <= FadePreserveThreshold {
			t.Start = clamp(s.StartSilence, 0, MaxTrimPerEnd)
		}
		if s.FadeOut <= FadePreserveThreshold {
			t.End = clamp(s.EndSilence, 0, MaxTrimPerEnd)
		}
	}

	t.Start = clamp(t.Start, 0, duration)
	t.End = clamp(t.End, 0, duration)
	return t
}
