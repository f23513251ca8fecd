package engine

import (
	"context"
	"sync"

	"github.com/seguefm/segue/internal/analysis"
)

// Track identifies a playable item for the engine. Duration is advisory;
// the bound handle's duration wins when available.
type Track struct {
	ID       string
	Locator  string
	Duration float64 // seconds
}

// Handle is one bound transport voice: the opaque per-voice output handle
// supplied by the output collaborator. Tick resolution is on the order of
// 10 ms; no sample-accurate scheduling is assumed.
type Handle interface {
	Play() error
	Pause()
	Seek(seconds float64)
	Position() float64
	Duration() float64
	SetGain(gain float64)
	SetEnded(fn func())
	Close()
}

// Output opens transport handles for locators.
type Output interface {
	Open(ctx context.Context, locator string) (Handle, error)
}

// Enhancer supplies best-effort analysis metadata (normalization gain, trim
// points, beat grid). It never fails; degraded results carry defaults.
type Enhancer interface {
	Analyze(ctx context.Context, locator string) analysis.Result
}

type voiceState int

const (
	voiceEmpty voiceState = iota
	voiceLoading
	voiceReady
	voicePlaying
	voicePaused
)

func (s voiceState) String() string {
	switch s {
	case voiceLoading:
		return "loading"
	case voiceReady:
		return "ready"
	case voicePlaying:
		return "playing"
	case voicePaused:
		return "paused"
	default:
		return "empty"
	}
}

// voice is one of the engine's two playback slots. gen is bumped on every
// teardown so asynchronous completions against an old binding can be
// recognized and discarded. bindMu serializes concurrent binds to the same
// slot (a lookahead preload racing an explicit transition).
type voice struct {
	bindMu sync.Mutex

	handle Handle
	state  voiceState
	track  Track
	gen    uint64

	curveGain  float64 // transition automation gain in [0,1]
	normGain   float64 // linear loudness-normalization gain
	trim       analysis.TrimPoints
	beats      analysis.BeatMetrics
	gapless    bool
	endSilence float64 // seconds of trailing silence, valid only when analyzed
	analyzed   bool    // analysis produced real measurements, not defaults
}

func newVoice() *voice {
	return &voice{curveGain: 1, normGain: 1}
}

// applyGain pushes the composed gain (automation × normalization × volume,
// zeroed when muted) down to the handle.
func (v *voice) applyGain(volume float64, muted bool) {
	if v.handle == nil {
		return
	}
	g := v.curveGain * v.normGain * volume
	if muted {
		g = 0
	}
	v.handle.SetGain(g)
}

// teardown releases the binding and resets the slot. Bumping gen
// invalidates every in-flight asynchronous completion for this voice.
func (v *voice) teardown() {
	v.gen++
	if v.handle != nil {
		v.handle.SetEnded(nil)
		v.handle.Close()
		v.handle = nil
	}
	v.state = voiceEmpty
	v.track = Track{}
	v.curveGain = 1
	v.normGain = 1
	v.trim = analysis.TrimPoints{}
	v.beats = analysis.BeatMetrics{}
	v.gapless = false
	v.endSilence = 0
	v.analyzed = false
}

// bound reports whether the voice holds a usable binding for the track.
func (v *voice) bound(trackID string) bool {
	return v.track.ID == trackID && (v.state == voiceReady || v.state == voicePlaying || v.state == voicePaused)
}
