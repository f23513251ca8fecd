// Package output plays decoded PCM through the system audio device. One
// Device wraps one audio context; every opened handle is an independent
// player over a fully decoded track, which is what lets two voices overlap
// during a transition.
package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	oto "github.com/hajimehoshi/oto/v2"
	"github.com/rs/zerolog"

	"github.com/seguefm/segue/internal/analysis"
	"github.com/seguefm/segue/internal/engine"
	"github.com/seguefm/segue/internal/media"
)

const (
	deviceRate     = 48000
	deviceChannels = 2
	bytesPerFrame  = deviceChannels * 2 // 16-bit samples

	endedPollInterval = 50 * time.Millisecond
)

// Device owns the audio context. Safe for concurrent Open calls.
type Device struct {
	ctx *oto.Context
	dec media.FileDecoder
	log zerolog.Logger
}

// NewDevice opens the system audio device and blocks until it is ready.
func NewDevice(log zerolog.Logger) (*Device, error) {
	ctx, ready, err := oto.NewContext(deviceRate, deviceChannels, 2)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Device{ctx: ctx, log: log}, nil
}

// Open decodes the whole file and binds a player to it.
func (d *Device) Open(ctx context.Context, locator string) (engine.Handle, error) {
	buf, err := d.dec.DecodePCM(ctx, locator)
	if err != nil {
		return nil, err
	}
	pcm := toDevicePCM(buf)
	h := &handle{
		pcm:      pcm,
		duration: float64(len(pcm)) / bytesPerFrame / deviceRate,
		done:     make(chan struct{}),
		log:      d.log.With().Str("locator", locator).Logger(),
	}
	h.player = d.ctx.NewPlayer(&pcmReader{h: h})
	h.player.SetVolume(1)
	return h, nil
}

// handle is one bound track: decoded bytes plus a player over them.
type handle struct {
	player oto.Player
	log    zerolog.Logger

	mu       sync.Mutex
	pcm      []byte
	offset   int // next byte handed to the player
	duration float64
	ended    func()
	watching bool
	closed   bool
	done     chan struct{}
}

// pcmReader feeds the player from the handle's buffer at its current offset.
type pcmReader struct {
	h *handle
}

func (r *pcmReader) Read(p []byte) (int, error) {
	h := r.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.offset >= len(h.pcm) {
		// Keep the stream open so a Seek can rewind; silence past the end.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, h.pcm[h.offset:])
	h.offset += n
	return n, nil
}

func (h *handle) Play() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("play: handle closed")
	}
	startWatcher := !h.watching
	h.watching = true
	h.mu.Unlock()

	h.player.Play()
	if startWatcher {
		go h.watchEnded()
	}
	return nil
}

func (h *handle) Pause() {
	h.player.Pause()
}

// Seek repositions playback. The player's queued bytes are discarded so the
// jump is immediate.
func (h *handle) Seek(seconds float64) {
	wasPlaying := h.player.IsPlaying()
	h.player.Pause()

	h.mu.Lock()
	frame := int(seconds * deviceRate)
	off := frame * bytesPerFrame
	if off < 0 {
		off = 0
	}
	if off > len(h.pcm) {
		off = len(h.pcm)
	}
	h.offset = off
	h.mu.Unlock()

	h.player.Reset()
	if wasPlaying {
		h.player.Play()
	}
}

// Position is the playback position in seconds, corrected for bytes the
// player has buffered but not yet rendered.
func (h *handle) Position() float64 {
	h.mu.Lock()
	off := h.offset
	h.mu.Unlock()

	pending := h.player.UnplayedBufferSize()
	played := off - int(pending)
	if played < 0 {
		played = 0
	}
	return float64(played) / bytesPerFrame / deviceRate
}

func (h *handle) Duration() float64 {
	return h.duration
}

func (h *handle) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	h.player.SetVolume(gain)
}

func (h *handle) SetEnded(fn func()) {
	h.mu.Lock()
	h.ended = fn
	h.mu.Unlock()
}

func (h *handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.ended = nil
	close(h.done)
	h.mu.Unlock()
	h.player.Close()
}

// watchEnded fires the ended callback once the buffer is exhausted and the
// player has drained.
func (h *handle) watchEnded() {
	ticker := time.NewTicker(endedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}
		h.mu.Lock()
		exhausted := h.offset >= len(h.pcm)
		fn := h.ended
		h.mu.Unlock()
		if !exhausted || h.player.UnplayedBufferSize() > 0 {
			continue
		}
		h.player.Pause()
		h.log.Debug().Msg("stream drained")
		if fn != nil {
			fn()
		}
		return
	}
}

// toDevicePCM converts an analysis buffer to the device format: interleaved
// 16-bit little-endian stereo at the device rate, linearly resampled.
func toDevicePCM(buf *analysis.Buffer) []byte {
	srcFrames := buf.NumFrames()
	if srcFrames == 0 || buf.SampleRate <= 0 {
		return nil
	}
	left, right := stereoPair(buf)

	dstFrames := int(float64(srcFrames) * deviceRate / float64(buf.SampleRate))
	out := make([]byte, dstFrames*bytesPerFrame)
	step := float64(buf.SampleRate) / deviceRate
	for i := 0; i < dstFrames; i++ {
		l := sampleAt(left, float64(i)*step)
		r := sampleAt(right, float64(i)*step)
		putSample(out[i*4:], l)
		putSample(out[i*4+2:], r)
	}
	return out
}

// stereoPair maps any channel count onto two: mono is duplicated, extra
// channels are ignored.
func stereoPair(buf *analysis.Buffer) (left, right []float64) {
	left = buf.Channels[0]
	right = left
	if len(buf.Channels) > 1 {
		right = buf.Channels[1]
	}
	return left, right
}

// sampleAt linearly interpolates between neighboring source samples.
func sampleAt(ch []float64, pos float64) float64 {
	i := int(pos)
	if i >= len(ch)-1 {
		return ch[len(ch)-1]
	}
	frac := pos - float64(i)
	return ch[i]*(1-frac) + ch[i+1]*frac
}

func putSample(b []byte, s float64) {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int16(s * 32767)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
