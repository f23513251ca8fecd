package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Tempo analyzer: spectral-flux onset detection over Hamming-windowed FFT
// frames, an inter-onset-interval histogram for the tempo estimate, and a
// brute-force phase search for the beat grid.
const (
	tempoFrameSize = 2048
	tempoHopSize   = 512

	fluxAvgRadius     = 8
	fluxThresholdGain = 1.5

	minBPM     = 60.0
	maxBPM     = 200.0
	defaultBPM = 120.0

	minOnsets = 10

	phaseSearchStep = 0.010 // seconds
	beatTolerance   = 0.050 // seconds
)

// AnalyzeTempo estimates tempo, beat grid, downbeats and time signature.
// Fewer than 10 detected onsets yields the 120 BPM / zero-confidence default.
func AnalyzeTempo(buf *Buffer) BeatMetrics {
	if !buf.valid() || buf.NumFrames() < tempoFrameSize*2 {
		return DefaultBeats()
	}

	mono := downmixMono(buf)
	flux := spectralFlux(mono)
	onsets, strengths := pickOnsets(flux, float64(buf.SampleRate))
	if len(onsets) < minOnsets {
		return DefaultBeats()
	}

	bpm, confidence := tempoFromIntervals(onsets)
	period := 60.0 / bpm
	phase := bestGridPhase(onsets, period)

	duration := buf.Duration()
	var beats []float64
	for t := phase; t <= duration; t += period {
		beats = append(beats, t)
	}

	stride, sig := classifyMeter(beats, onsets, strengths)
	var downbeats []float64
	for i := 0; i < len(beats); i += stride {
		downbeats = append(downbeats, beats[i])
	}

	return BeatMetrics{
		BPM:           bpm,
		Confidence:    confidence,
		Beats:         beats,
		Downbeats:     downbeats,
		TimeSignature: sig,
		Phase:         phase,
	}
}

func downmixMono(buf *Buffer) []float64 {
	n := buf.NumFrames()
	mono := make([]float64, n)
	scale := 1.0 / float64(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, s := range ch {
			mono[i] += s * scale
		}
	}
	return mono
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// spectralFlux computes the sum of positive magnitude increases between
// consecutive frames.
func spectralFlux(mono []float64) []float64 {
	numFrames := (len(mono)-tempoFrameSize)/tempoHopSize + 1
	if numFrames < 2 {
		return nil
	}

	window := hammingWindow(tempoFrameSize)
	frame := make([]float64, tempoFrameSize)
	bins := tempoFrameSize/2 + 1
	prevMag := make([]float64, bins)
	mag := make([]float64, bins)
	flux := make([]float64, numFrames)

	for t := 0; t < numFrames; t++ {
		off := t * tempoHopSize
		for i := range frame {
			frame[i] = mono[off+i] * window[i]
		}
		spectrum := fft.FFTReal(frame)
		for k := 0; k < bins; k++ {
			mag[k] = cmplx.Abs(spectrum[k])
		}
		if t > 0 {
			sum := 0.0
			for k := 0; k < bins; k++ {
				if d := mag[k] - prevMag[k]; d > 0 {
					sum += d
				}
			}
			flux[t] = sum
		}
		prevMag, mag = mag, prevMag
	}
	return flux
}

// pickOnsets selects flux values that exceed a local moving-average
// threshold and are local maxima. Returns onset times and their strengths.
func pickOnsets(flux []float64, sampleRate float64) (times, strengths []float64) {
	for t := 1; t < len(flux)-1; t++ {
		lo := t - fluxAvgRadius
		if lo < 0 {
			lo = 0
		}
		hi := t + fluxAvgRadius
		if hi >= len(flux) {
			hi = len(flux) - 1
		}
		sum := 0.0
		for i := lo; i <= hi; i++ {
			sum += flux[i]
		}
		threshold := fluxThresholdGain * sum / float64(hi-lo+1)

		if flux[t] > threshold && flux[t] >= flux[t-1] && flux[t] > flux[t+1] {
			times = append(times, float64(t)*tempoHopSize/sampleRate)
			strengths = append(strengths, flux[t])
		}
	}
	return times, strengths
}

// tempoFromIntervals builds an inter-onset-interval histogram restricted to
// [60,200] BPM, folding octave errors by doubling/halving. The modal bin is
// the tempo; its relative mass is the confidence.
func tempoFromIntervals(onsets []float64) (bpm, confidence float64) {
	var folded []float64
	hist := make(map[int]int)

	for i := 1; i < len(onsets); i++ {
		dt := onsets[i] - onsets[i-1]
		if dt <= 0 {
			continue
		}
		b := 60.0 / dt
		for b < minBPM {
			b *= 2
		}
		for b > maxBPM {
			b /= 2
		}
		if b < minBPM || b > maxBPM {
			continue
		}
		folded = append(folded, b)
		hist[int(b+0.5)]++
	}
	if len(folded) == 0 {
		return defaultBPM, 0
	}

	bestBin, bestCount := 0, 0
	for bin, count := range hist {
		if count > bestCount || (count == bestCount && bin < bestBin) {
			bestBin, bestCount = bin, count
		}
	}

	// Onset times are hop-quantized, which scatters one true tempo across
	// neighboring 1 BPM bins. Average every interval within 8% of the modal
	// bin so the grid period doesn't inherit the quantization error.
	center := float64(bestBin)
	sum, count := 0.0, 0
	for _, b := range folded {
		if math.Abs(b-center) <= 0.08*center {
			sum += b
			count++
		}
	}
	if count == 0 {
		return defaultBPM, 0
	}

	bpm = clamp(sum/float64(count), minBPM, maxBPM)
	confidence = clamp(float64(count)/float64(len(folded)), 0, 1)
	return bpm, confidence
}

// bestGridPhase brute-force searches the beat-grid phase offset scoring
// proximity of grid points to detected onsets.
func bestGridPhase(onsets []float64, period float64) float64 {
	if period <= 0 || len(onsets) == 0 {
		return 0
	}
	end := onsets[len(onsets)-1]

	bestPhase, bestScore := 0.0, -1
	for phase := 0.0; phase < period; phase += phaseSearchStep {
		score := 0
		oi := 0
		for t := phase; t <= end; t += period {
			for oi < len(onsets) && onsets[oi] < t-beatTolerance {
				oi++
			}
			if oi < len(onsets) && math.Abs(onsets[oi]-t) <= beatTolerance {
				score++
			}
		}
		if score > bestScore {
			bestScore, bestPhase = score, phase
		}
	}
	return bestPhase
}

// classifyMeter compares average onset strength at every 3rd vs every 4th
// grid position and returns the winning stride with its signature label.
func classifyMeter(beats, onsets, strengths []float64) (stride int, signature string) {
	score3 := strideEnergy(beats, onsets, strengths, 3)
	score4 := strideEnergy(beats, onsets, strengths, 4)
	if score3 > score4 {
		return 3, "3/4"
	}
	return 4, "4/4"
}

// strideEnergy averages the onset strength found near every stride-th beat.
func strideEnergy(beats, onsets, strengths []float64, stride int) float64 {
	sum, count := 0.0, 0
	for i := 0; i < len(beats); i += stride {
		sum += onsetStrengthNear(beats[i], onsets, strengths)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func onsetStrengthNear(t float64, onsets, strengths []float64) float64 {
	best := 0.0
	for i, o := range onsets {
		if math.Abs(o-t) <= beatTolerance && strengths[i] > best {
			best = strengths[i]
		}
	}
	return best
}
