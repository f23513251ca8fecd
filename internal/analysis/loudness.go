package analysis

import (
	"math"
	"sort"
)

// Loudness analyzer: approximate K-weighting (a ~38 Hz second-order
// high-pass cascaded with a ~1.5 kHz high-shelf boost) followed by
// mean-square energy measurement. Close enough for normalization between
// consecutive tracks; not broadcast-certified.
const (
	// TargetLoudness is the default normalization target in LUFS.
	TargetLoudness = -18.0

	// MaxGainAdjust bounds the suggested normalization gain, in dB.
	MaxGainAdjust = 20.0

	loudnessFloor = -70.0
	truePeakFloor = -100.0

	kHighpassFreq  = 38.13
	kHighpassQ     = 0.5
	kHighShelfFreq = 1681.97
	kHighShelfGain = 3.99
	kHighShelfQ    = 0.7071

	surroundWeight = 1.41

	momentaryWindow = 0.4 // seconds
	shortTermWindow = 3.0 // seconds
	energyBlock     = 0.1 // seconds, accumulation granularity
)

// biquad is a second-order IIR section in transposed direct form II.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

func newHighpass(sampleRate, freq, q float64) biquad {
	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func newHighShelf(sampleRate, freq, gainDB, q float64) biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)
	sq := 2 * math.Sqrt(a) * alpha

	a0 := (a + 1) - (a-1)*cosw + sq
	return biquad{
		b0: a * ((a + 1) + (a-1)*cosw + sq) / a0,
		b1: -2 * a * ((a - 1) + (a+1)*cosw) / a0,
		b2: a * ((a + 1) + (a-1)*cosw - sq) / a0,
		a1: 2 * ((a - 1) - (a+1)*cosw) / a0,
		a2: ((a + 1) - (a-1)*cosw - sq) / a0,
	}
}

// channelWeight implements the surround weighting: the first three channels
// (L, R, C) count as 1.0, side/rear channels as 1.41.
func channelWeight(ch int) float64 {
	if ch >= 3 {
		return surroundWeight
	}
	return 1.0
}

func energyToLoudness(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return loudnessFloor
	}
	l := -0.691 + 10*math.Log10(meanSquare)
	if l < loudnessFloor {
		return loudnessFloor
	}
	return l
}

// AnalyzeLoudness measures integrated, short-term (trailing 3 s) and
// momentary (trailing 400 ms) loudness, loudness range, true peak and the
// suggested gain adjustment toward the -18 LUFS target.
func AnalyzeLoudness(buf *Buffer) LoudnessMetrics {
	if !buf.valid() {
		return DefaultLoudness()
	}

	n := buf.NumFrames()
	blockSize := int(float64(buf.SampleRate) * energyBlock)
	if blockSize < 1 {
		blockSize = 1
	}
	numBlocks := (n + blockSize - 1) / blockSize

	// Weighted square sums accumulated per 100 ms block; every trailing
	// window is then a suffix sum over blocks.
	blockSum := make([]float64, numBlocks)
	blockLen := make([]int, numBlocks)

	truePeak := 0.0
	for ch, samples := range buf.Channels {
		hp := newHighpass(float64(buf.SampleRate), kHighpassFreq, kHighpassQ)
		shelf := newHighShelf(float64(buf.SampleRate), kHighShelfFreq, kHighShelfGain, kHighShelfQ)
		w := channelWeight(ch)

		for i, s := range samples {
			if a := math.Abs(s); a > truePeak {
				truePeak = a
			}
			y := shelf.process(hp.process(s))
			blockSum[i/blockSize] += w * y * y
		}
	}
	for b := range blockLen {
		end := (b + 1) * blockSize
		if end > n {
			end = n
		}
		blockLen[b] = end - b*blockSize
	}

	total := 0.0
	for _, s := range blockSum {
		total += s
	}
	integrated := energyToLoudness(total / float64(n))

	shortBlocks := int(shortTermWindow / energyBlock)
	momBlocks := int(momentaryWindow / energyBlock)
	shortTerm := energyToLoudness(trailingMeanSquare(blockSum, blockLen, numBlocks, shortBlocks))
	momentary := energyToLoudness(trailingMeanSquare(blockSum, blockLen, numBlocks, momBlocks))

	m := LoudnessMetrics{
		Integrated: integrated,
		ShortTerm:  shortTerm,
		Momentary:  momentary,
		Range:      loudnessRange(blockSum, blockLen, shortBlocks),
		TruePeak:   peakDB(truePeak),
		GainAdjust: clamp(TargetLoudness-integrated, -MaxGainAdjust, MaxGainAdjust),
	}
	return m
}

// trailingMeanSquare computes the mean square over the last `window` blocks.
func trailingMeanSquare(blockSum []float64, blockLen []int, numBlocks, window int) float64 {
	start := numBlocks - window
	if start < 0 {
		start = 0
	}
	sum, count := 0.0, 0
	for b := start; b < numBlocks; b++ {
		sum += blockSum[b]
		count += blockLen[b]
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// loudnessRange is the spread between the 10th and 95th percentile of the
// short-term loudness distribution, gated at the silence floor.
func loudnessRange(blockSum []float64, blockLen []int, window int) float64 {
	hop := window / 3
	if hop < 1 {
		hop = 1
	}
	var series []float64
	for start := 0; start+window <= len(blockSum); start += hop {
		sum, count := 0.0, 0
		for b := start; b < start+window; b++ {
			sum += blockSum[b]
			count += blockLen[b]
		}
		if count == 0 {
			continue
		}
		l := energyToLoudness(sum / float64(count))
		if l > loudnessFloor {
			series = append(series, l)
		}
	}
	if len(series) < 2 {
		return 0
	}
	sort.Float64s(series)
	lo := series[int(float64(len(series)-1)*0.10)]
	hi := series[int(float64(len(series)-1)*0.95)]
	return hi - lo
}

func peakDB(peak float64) float64 {
	if peak <= 0 {
		return truePeakFloor
	}
	db := 20 * math.Log10(peak)
	if db < truePeakFloor {
		return truePeakFloor
	}
	return db
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
