// Package media decodes audio files into the PCM buffers the analyzers and
// the playback output consume. WAV, MP3 and Ogg Vorbis are supported in
// pure Go.
package media

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/seguefm/segue/internal/analysis"
)

// Info describes a media file without decoding its payload.
type Info struct {
	SampleRate int
	Channels   int
	Duration   float64 // seconds
}

// ErrUnsupportedFormat is returned for file extensions no decoder handles.
var ErrUnsupportedFormat = fmt.Errorf("unsupported media format")

// FileDecoder decodes local files, dispatching on extension. The zero value
// is ready to use.
type FileDecoder struct{}

// DecodePCM decodes the whole file into a channel-major float64 buffer.
func (FileDecoder) DecodePCM(ctx context.Context, locator string) (*analysis.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(locator)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext(locator) {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	case ".ogg", ".oga":
		return decodeOgg(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext(locator))
	}
}

// Probe reads format headers only.
func (FileDecoder) Probe(ctx context.Context, locator string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	f, err := os.Open(locator)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	switch ext(locator) {
	case ".wav":
		d := wav.NewDecoder(f)
		d.ReadInfo()
		if !d.IsValidFile() {
			return Info{}, fmt.Errorf("probe %s: not a valid wav file", locator)
		}
		dur, err := d.Duration()
		if err != nil {
			return Info{}, fmt.Errorf("probe %s: %w", locator, err)
		}
		return Info{
			SampleRate: int(d.SampleRate),
			Channels:   int(d.NumChans),
			Duration:   dur.Seconds(),
		}, nil
	case ".mp3":
		d, err := gomp3.NewDecoder(f)
		if err != nil {
			return Info{}, fmt.Errorf("probe %s: %w", locator, err)
		}
		sr := d.SampleRate()
		frames := d.Length() / 4 // 16-bit stereo output
		return Info{
			SampleRate: sr,
			Channels:   2,
			Duration:   float64(frames) / float64(sr),
		}, nil
	case ".ogg", ".oga":
		format, err := oggvorbis.GetFormat(f)
		if err != nil {
			return Info{}, fmt.Errorf("probe %s: %w", locator, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Info{}, err
		}
		length, _, err := oggvorbis.GetLength(f)
		if err != nil {
			return Info{}, fmt.Errorf("probe %s: %w", locator, err)
		}
		return Info{
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Duration:   float64(length) / float64(format.SampleRate),
		}, nil
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext(locator))
	}
}

func ext(locator string) string {
	return strings.ToLower(filepath.Ext(locator))
}

func decodeWAV(f *os.File) (*analysis.Buffer, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("decode %s: not a valid wav file", f.Name())
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode %s: missing format", f.Name())
	}

	// Integer samples are normalized by the source bit depth.
	scale := 1.0
	if d.BitDepth > 0 {
		scale = 1.0 / float64(int64(1)<<(d.BitDepth-1))
	}
	ch := pcm.Format.NumChannels
	frames := len(pcm.Data) / ch
	channels := make([][]float64, ch)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			channels[c][i] = float64(pcm.Data[i*ch+c]) * scale
		}
	}
	return &analysis.Buffer{SampleRate: pcm.Format.SampleRate, Channels: channels}, nil
}

func decodeMP3(f *os.File) (*analysis.Buffer, error) {
	d, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	// The decoder always emits 16-bit little-endian stereo.
	frames := len(raw) / 4
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left[i] = float64(int16(uint16(raw[i*4])|uint16(raw[i*4+1])<<8)) / math.MaxInt16
		right[i] = float64(int16(uint16(raw[i*4+2])|uint16(raw[i*4+3])<<8)) / math.MaxInt16
	}
	return &analysis.Buffer{SampleRate: d.SampleRate(), Channels: [][]float64{left, right}}, nil
}

func decodeOgg(f *os.File) (*analysis.Buffer, error) {
	data, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	ch := format.Channels
	if ch <= 0 {
		return nil, fmt.Errorf("decode %s: missing format", f.Name())
	}
	frames := len(data) / ch
	channels := make([][]float64, ch)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			channels[c][i] = float64(data[i*ch+c])
		}
	}
	return &analysis.Buffer{SampleRate: format.SampleRate, Channels: channels}, nil
}
