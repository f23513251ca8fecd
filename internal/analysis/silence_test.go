package analysis

import (
	"math"
	"testing"
)

// toneAfterSilence builds a mono buffer with leading silence followed by a
// steady 440 Hz tone.
func toneAfterSilence(sampleRate int, silenceSec, toneSec, amplitude float64) *Buffer {
	silence := int(float64(sampleRate) * silenceSec)
	tone := int(float64(sampleRate) * toneSec)
	samples := make([]float64, silence+tone)
	for i := silence; i < len(samples); i++ {
		samples[i] = amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
	}
	return &Buffer{SampleRate: sampleRate, Channels: [][]float64{samples}}
}

func TestStartSilenceDetection(t *testing.T) {
	m := AnalyzeSilence(toneAfterSilence(44100, 1.0, 3.0, 0.5))

	if math.Abs(m.StartSilence-1.0) > 0.05 {
		t.Errorf("StartSilence = %v, want ~1.0", m.StartSilence)
	}
	if m.EndSilence > 0.05 {
		t.Errorf("EndSilence = %v, want ~0 for steady tail", m.EndSilence)
	}
}

func TestEndSilenceDetection(t *testing.T) {
	buf := toneAfterSilence(44100, 0, 3.0, 0.5)
	// Zero out the last 1.5 s.
	n := len(buf.Channels[0])
	for i := n - int(1.5*44100); i < n; i++ {
		buf.Channels[0][i] = 0
	}

	m := AnalyzeSilence(buf)
	if math.Abs(m.EndSilence-1.5) > 0.05 {
		t.Errorf("EndSilence = %v, want ~1.5", m.EndSilence)
	}
}

func TestSilenceCappedAtCeiling(t *testing.T) {
	m := AnalyzeSilence(toneAfterSilence(44100, 10.0, 2.0, 0.5))
	if m.StartSilence != MaxSilenceTrim {
		t.Errorf("StartSilence = %v, want capped at %v", m.StartSilence, MaxSilenceTrim)
	}
}

func TestAllSilentBuffer(t *testing.T) {
	m := AnalyzeSilence(silentBuffer(44100, 3, 1))
	if m.StartSilence != 3 && m.StartSilence != MaxSilenceTrim {
		t.Errorf("StartSilence = %v, want full duration (capped)", m.StartSilence)
	}
	if m.FadeIn != 0 || m.FadeOut != 0 {
		t.Errorf("fades = (%v, %v), want 0 for silent buffer", m.FadeIn, m.FadeOut)
	}
	if m.HasGaplessMarkers {
		t.Error("silent buffer should not carry gapless markers")
	}
}

func TestFadeInDetection(t *testing.T) {
	// One second ramping 0 -> 0.02, then a full tone. The envelope crosses
	// -60 dB early in the ramp and -40 dB around its midpoint, so a fade of
	// several hundred milliseconds must be reported.
	sr := 44100
	ramp := sr
	tone := 2 * sr
	samples := make([]float64, ramp+tone)
	for i := 0; i < ramp; i++ {
		amp := 0.02 * float64(i) / float64(ramp)
		samples[i] = amp * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
	}
	for i := ramp; i < len(samples); i++ {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
	}

	m := AnalyzeSilence(&Buffer{SampleRate: sr, Channels: [][]float64{samples}})
	if m.FadeIn < 0.3 {
		t.Errorf("FadeIn = %v, want > 0.3 for a slow ramp", m.FadeIn)
	}
}

func TestEncoderDelayRun(t *testing.T) {
	sr := 44100
	samples := make([]float64, 3*sr)
	for i := 500; i < len(samples); i++ {
		samples[i] = 0.5
	}

	m := AnalyzeSilence(&Buffer{SampleRate: sr, Channels: [][]float64{samples}})
	if m.EncoderDelay != 500 {
		t.Errorf("EncoderDelay = %d, want 500", m.EncoderDelay)
	}
	if m.EncoderPadding != 0 {
		t.Errorf("EncoderPadding = %d, want 0 for loud tail", m.EncoderPadding)
	}
}

func TestGaplessMarkers(t *testing.T) {
	abrupt := toneAfterSilence(44100, 0, 3, 0.5)
	if m := AnalyzeSilence(abrupt); !m.HasGaplessMarkers {
		t.Error("tone held to the last sample should carry gapless markers")
	}

	faded := toneAfterSilence(44100, 0, 3, 0.5)
	n := len(faded.Channels[0])
	for i := n - 44100; i < n; i++ {
		faded.Channels[0][i] = 0
	}
	if m := AnalyzeSilence(faded); m.HasGaplessMarkers {
		t.Error("track fading to silence should not carry gapless markers")
	}
}

func TestSilenceDurationsNonNegativeAndBounded(t *testing.T) {
	bufs := []*Buffer{
		toneAfterSilence(44100, 0.5, 2, 0.5),
		toneAfterSilence(22050, 3, 1, 0.2),
		silentBuffer(44100, 1, 2),
	}
	for i, buf := range bufs {
		m := AnalyzeSilence(buf)
		d := buf.Duration()
		for name, v := range map[string]float64{
			"StartSilence": m.StartSilence,
			"EndSilence":   m.EndSilence,
			"FadeIn":       m.FadeIn,
			"FadeOut":      m.FadeOut,
		} {
			if v < 0 || v > d {
				t.Errorf("buf %d: %s = %v outside [0, %v]", i, name, v, d)
			}
		}
	}
}

// --- Trim policy ---

func TestTrimGaplessUsesOnlyEncoderSamples(t *testing.T) {
	s := SilenceMetrics{
		StartSilence:      4,
		EndSilence:        4,
		HasGaplessMarkers: true,
		EncoderDelay:      441,
		EncoderPadding:    882,
	}
	tr := ComputeTrimPoints(s, 44100, 200)

	if math.Abs(tr.Start-0.01) > 1e-9 {
		t.Errorf("Start = %v, want encoder delay 0.01 s", tr.Start)
	}
	if math.Abs(tr.End-0.02) > 1e-9 {
		t.Errorf("End = %v, want encoder padding 0.02 s", tr.End)
	}
}

func TestTrimSilenceCappedAtTwoSeconds(t *testing.T) {
	s := SilenceMetrics{StartSilence: 5, EndSilence: 5}
	tr := ComputeTrimPoints(s, 44100, 200)
	if tr.Start != MaxTrimPerEnd || tr.End != MaxTrimPerEnd {
		t.Errorf("trims = (%v, %v), want capped at %v", tr.Start, tr.End, MaxTrimPerEnd)
	}
}

func TestTrimSuppressedByFade(t *testing.T) {
	s := SilenceMetrics{StartSilence: 1.5, EndSilence: 1.5, FadeIn: 0.6, FadeOut: 0.4}
	tr := ComputeTrimPoints(s, 44100, 200)
	if tr.Start != 0 {
		t.Errorf("Start = %v, want 0 exactly when fade-in > 0.5 s", tr.Start)
	}
	if tr.End != 1.5 {
		t.Errorf("End = %v, want 1.5 (fade-out below threshold)", tr.End)
	}
}

func TestTrimClampedToDuration(t *testing.T) {
	s := SilenceMetrics{HasGaplessMarkers: true, EncoderDelay: 441000, EncoderPadding: 441000}
	tr := ComputeTrimPoints(s, 44100, 5)
	if tr.Start < 0 || tr.Start > 5 || tr.End < 0 || tr.End > 5 {
		t.Errorf("trims = (%v, %v), want within [0, 5]", tr.Start, tr.End)
	}
}

func TestTrimZeroDuration(t *testing.T) {
	tr := ComputeTrimPoints(SilenceMetrics{StartSilence: 1}, 44100, 0)
	if tr.Start != 0 || tr.End != 0 {
		t.Errorf("trims = (%v, %v), want zero for zero duration", tr.Start, tr.End)
	}
}
