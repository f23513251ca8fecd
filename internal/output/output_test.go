package output

import (
	"math"
	"testing"

	"github.com/seguefm/segue/internal/analysis"
)

func readSample(b []byte) float64 {
	v := int16(uint16(b[0]) | uint16(b[1])<<8)
	return float64(v) / 32767
}

func TestToDevicePCMStereoPassthrough(t *testing.T) {
	n := deviceRate / 10
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		left[i] = 0.5
		right[i] = -0.25
	}
	buf := &analysis.Buffer{SampleRate: deviceRate, Channels: [][]float64{left, right}}

	pcm := toDevicePCM(buf)
	if len(pcm) != n*bytesPerFrame {
		t.Fatalf("got %d bytes, want %d", len(pcm), n*bytesPerFrame)
	}
	if l := readSample(pcm[0:]); math.Abs(l-0.5) > 0.001 {
		t.Errorf("left sample = %v, want 0.5", l)
	}
	if r := readSample(pcm[2:]); math.Abs(r+0.25) > 0.001 {
		t.Errorf("right sample = %v, want -0.25", r)
	}
}

func TestToDevicePCMDuplicatesMono(t *testing.T) {
	mono := []float64{0.3, 0.3, 0.3, 0.3}
	buf := &analysis.Buffer{SampleRate: deviceRate, Channels: [][]float64{mono}}

	pcm := toDevicePCM(buf)
	if l, r := readSample(pcm[0:]), readSample(pcm[2:]); l != r {
		t.Errorf("mono not duplicated: left %v, right %v", l, r)
	}
}

func TestToDevicePCMResamples(t *testing.T) {
	srcRate := 24000
	n := srcRate // one second
	ch := make([]float64, n)
	buf := &analysis.Buffer{SampleRate: srcRate, Channels: [][]float64{ch}}

	pcm := toDevicePCM(buf)
	frames := len(pcm) / bytesPerFrame
	if frames != deviceRate {
		t.Errorf("resampled to %d frames, want %d", frames, deviceRate)
	}
}

func TestToDevicePCMClampsSamples(t *testing.T) {
	ch := []float64{2.0, -2.0}
	buf := &analysis.Buffer{SampleRate: deviceRate, Channels: [][]float64{ch}}

	pcm := toDevicePCM(buf)
	if s := readSample(pcm[0:]); s < 0.99 {
		t.Errorf("over-range sample = %v, want clamp to 1", s)
	}
	if s := readSample(pcm[4:]); s > -0.99 {
		t.Errorf("under-range sample = %v, want clamp to -1", s)
	}
}

func TestToDevicePCMEmptyBuffer(t *testing.T) {
	if pcm := toDevicePCM(&analysis.Buffer{SampleRate: deviceRate}); len(pcm) != 0 {
		t.Errorf("empty buffer produced %d bytes", len(pcm))
	}
}

func TestSampleAtInterpolates(t *testing.T) {
	ch := []float64{0, 1}
	if got := sampleAt(ch, 0.5); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("sampleAt(0.5) = %v, want 0.5", got)
	}
	if got := sampleAt(ch, 5); got != 1 {
		t.Errorf("sampleAt past end = %v, want last sample", got)
	}
}
