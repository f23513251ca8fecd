// Package engine implements the dual-voice transition engine. Two playback
// voices share one logical player surface; at any instant exactly one voice
// is the active one. Transitions bind the next track to the inactive voice,
// automate both gains along a curve, then hand active status over.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seguefm/segue/internal/analysis"
)

var (
	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("engine destroyed")

	// ErrCrossfadeActive rejects a second transition while one is in flight.
	ErrCrossfadeActive = errors.New("crossfade already in progress")

	// ErrNoActiveTrack rejects transitions when nothing is loaded.
	ErrNoActiveTrack = errors.New("no active track loaded")

	// ErrNotReady means the incoming track failed to become ready in time.
	ErrNotReady = errors.New("incoming track not ready")

	// ErrAborted means the transition was cancelled while preparing.
	ErrAborted = errors.New("crossfade aborted")

	// errStale marks an async completion that lost a race with teardown.
	errStale = errors.New("voice binding superseded")
)

const (
	defaultTickInterval     = 50 * time.Millisecond
	defaultCrossfade        = 5 * time.Second
	defaultReadyTimeout     = 5 * time.Second
	defaultPreloadAhead     = 15 * time.Second
	defaultTruePeakLimit    = -1.0 // dBFS ceiling after normalization gain
	defaultGaplessThreshold = 100 * time.Millisecond
	gaplessFadeDuration     = 8 * time.Millisecond
	beatMatchMinConfident   = 0.5
)

// Options configures the engine. Zero values pick sensible defaults.
type Options struct {
	CrossfadeDuration time.Duration
	Curve             Curve
	TickInterval      time.Duration
	TargetLoudness    *float64 // LUFS normalization target, nil selects the standard target
	TruePeakLimit     *float64 // dBFS ceiling on post-gain peaks, nil selects -1 dBFS
	BeatMatch         bool
	GaplessThreshold  time.Duration // trailing silence below this makes the transition gapless
	PreloadLookahead  time.Duration
	ReadyTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.CrossfadeDuration <= 0 {
		o.CrossfadeDuration = defaultCrossfade
	}
	if o.Curve == "" {
		o.Curve = CurveEqualPower
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.TargetLoudness == nil {
		v := analysis.TargetLoudness
		o.TargetLoudness = &v
	}
	if o.TruePeakLimit == nil {
		v := defaultTruePeakLimit
		o.TruePeakLimit = &v
	}
	if o.GaplessThreshold <= 0 {
		o.GaplessThreshold = defaultGaplessThreshold
	}
	if o.PreloadLookahead <= 0 {
		o.PreloadLookahead = defaultPreloadAhead
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}
	return o
}

// Callbacks are fired outside the engine lock; they may call back into the
// engine. NextTrack is the exception: it is a provider consulted during
// scheduling and must not call engine methods. When set, it drives
// continuous playback: the engine preloads and auto-transitions into
// whatever it returns.
type Callbacks struct {
	OnTrackEnd          func(track Track)
	OnTimeUpdate        func(position, duration float64)
	OnCrossfadeStart    func(from, to Track)
	OnCrossfadeComplete func(track Track)
	OnError             func(err error)
	NextTrack           func() (Track, bool)
}

type sessionPhase int

const (
	phasePreparing sessionPhase = iota
	phaseActive
)

// crossfadeSession tracks the single in-flight transition. At most one
// session exists at a time.
type crossfadeSession struct {
	id       string
	from, to int // voice indices
	start    time.Time
	duration time.Duration
	curve    Curve
	phase    sessionPhase
}

// Engine is the dual-voice transition engine. All exported methods are safe
// for concurrent use.
type Engine struct {
	out  Output
	enh  Enhancer
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	cb        Callbacks
	voices    [2]*voice
	active    int
	volume    float64
	muted     bool
	playing   bool
	destroyed bool
	session   *crossfadeSession
	pausedAt  time.Time // freezes session automation across Pause/Play
	armed     bool      // auto-transition single-shot for the current active track

	preloading string // track ID with a preload in flight

	nowFn func() time.Time
}

// New builds an engine over the given output and optional enhancer.
func New(out Output, enh Enhancer, opts Options, cb Callbacks, log zerolog.Logger) *Engine {
	return &Engine{
		out:    out,
		enh:    enh,
		opts:   opts.withDefaults(),
		log:    log,
		cb:     cb,
		voices: [2]*voice{newVoice(), newVoice()},
		volume: 1,
		nowFn:  time.Now,
	}
}

// Run drives the engine's scheduling loop until the context is cancelled or
// the engine is destroyed.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.tick(e.nowFn()) {
				return
			}
		}
	}
}

// tick advances crossfade automation, emits time updates and arms lookahead
// work. Returns false once the engine is destroyed.
func (e *Engine) tick(now time.Time) bool {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return false
	}

	var fire []func()

	if s := e.session; s != nil && s.phase == phaseActive && e.playing {
		progress := now.Sub(s.start).Seconds() / s.duration.Seconds()
		fadeOut, fadeIn := s.curve.Gains(progress)
		e.voices[s.from].curveGain = fadeOut
		e.voices[s.to].curveGain = fadeIn
		e.voices[s.from].applyGain(e.volume, e.muted)
		e.voices[s.to].applyGain(e.volume, e.muted)
		if progress >= 1 {
			fire = append(fire, e.finishSessionLocked()...)
		}
	}

	av := e.voices[e.active]
	if av.handle != nil && e.playing {
		pos, dur := e.logicalPositionLocked(av)
		if fn := e.cb.OnTimeUpdate; fn != nil {
			fire = append(fire, func() { fn(pos, dur) })
		}

		remaining := dur - pos
		if e.session == nil && e.cb.NextTrack != nil {
			switch {
			case e.armed && remaining <= e.transitionLeadLocked(av):
				e.armed = false
				fire = append(fire, e.autoTransitionLocked(av)...)
			case remaining <= e.opts.PreloadLookahead.Seconds():
				fire = append(fire, e.maybePreloadLocked()...)
			}
		}
	}
	e.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	return true
}

// gaplessEligibleLocked reports whether the voice's track should hand over
// gaplessly: explicit markers, or trailing silence under the threshold.
func (e *Engine) gaplessEligibleLocked(v *voice) bool {
	return v.gapless || (v.analyzed && v.endSilence <= e.opts.GaplessThreshold.Seconds())
}

// transitionLeadLocked is how far before the trimmed end the automatic
// transition fires.
func (e *Engine) transitionLeadLocked(v *voice) float64 {
	if e.gaplessEligibleLocked(v) {
		return gaplessFadeDuration.Seconds() + e.opts.TickInterval.Seconds()
	}
	return e.opts.CrossfadeDuration.Seconds()
}

func (e *Engine) maybePreloadLocked() []func() {
	next, ok := e.peekNextLocked()
	if !ok {
		return nil
	}
	inactive := e.voices[1-e.active]
	if inactive.bound(next.ID) || e.preloading == next.ID {
		return nil
	}
	e.preloading = next.ID
	return []func(){func() {
		go func() {
			e.PreloadNextTrack(context.Background(), next)
			e.mu.Lock()
			if e.preloading == next.ID {
				e.preloading = ""
			}
			e.mu.Unlock()
		}()
	}}
}

func (e *Engine) autoTransitionLocked(active *voice) []func() {
	next, ok := e.peekNextLocked()
	if !ok {
		return nil
	}
	gapless := e.gaplessEligibleLocked(active)
	return []func(){func() {
		go func() {
			var err error
			if gapless {
				err = e.ScheduleGaplessTransition(context.Background(), next)
			} else {
				err = e.ScheduleCrossfade(context.Background(), next, e.opts.CrossfadeDuration, e.opts.Curve)
			}
			if err != nil && !errors.Is(err, ErrCrossfadeActive) && !errors.Is(err, ErrDestroyed) {
				e.reportError(fmt.Errorf("auto transition: %w", err))
			}
		}()
	}}
}

// peekNextLocked consults the NextTrack provider, skipping the currently
// active track.
func (e *Engine) peekNextLocked() (Track, bool) {
	if e.cb.NextTrack == nil {
		return Track{}, false
	}
	next, ok := e.cb.NextTrack()
	if !ok || next.ID == e.voices[e.active].track.ID {
		return Track{}, false
	}
	return next, true
}

// bindVoice analyzes and opens a track on the given voice. The lock is
// released around the blocking open and analysis; the voice generation
// captured at entry detects teardown races on resumption. bindMu keeps two
// binds to the same slot from interleaving.
func (e *Engine) bindVoice(ctx context.Context, idx int, track Track) error {
	v := e.voices[idx]
	v.bindMu.Lock()
	defer v.bindMu.Unlock()

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if v.bound(track.ID) {
		e.mu.Unlock()
		return nil
	}
	v.teardown()
	v.state = voiceLoading
	v.track = track
	gen := v.gen
	e.mu.Unlock()

	var res analysis.Result
	if e.enh != nil {
		res = e.enh.Analyze(ctx, track.Locator)
	} else {
		res = analysis.DefaultResult()
	}

	h, err := e.out.Open(ctx, track.Locator)
	if err != nil {
		e.mu.Lock()
		if !e.destroyed && v.gen == gen {
			v.teardown()
		}
		e.mu.Unlock()
		return fmt.Errorf("open %s: %w", track.Locator, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || v.gen != gen {
		h.Close()
		return errStale
	}

	v.handle = h
	v.state = voiceReady
	v.normGain = normalizationGain(res.Loudness, *e.opts.TargetLoudness, *e.opts.TruePeakLimit)
	dur := h.Duration()
	if dur <= 0 {
		dur = track.Duration
	}
	v.trim = analysis.ComputeTrimPoints(res.Silence, res.Silence.SampleRate, dur)
	v.beats = res.Beats
	v.gapless = res.Silence.HasGaplessMarkers
	v.endSilence = res.Silence.EndSilence
	v.analyzed = res.ContentHash != ""
	if v.trim.Start > 0 {
		h.Seek(v.trim.Start)
	}
	h.SetEnded(func() { e.handleEnded(idx, gen) })
	v.applyGain(e.volume, e.muted)

	e.log.Debug().
		Str("track", track.ID).
		Int("voice", idx).
		Float64("norm_gain", v.normGain).
		Float64("trim_start", v.trim.Start).
		Float64("trim_end", v.trim.End).
		Msg("voice bound")
	return nil
}

// normalizationGain derives the linear loudness-normalization gain toward
// the target, capped so the post-gain true peak stays at or under the
// configured ceiling. Tracks without usable measurements pass through at
// unity.
func normalizationGain(l analysis.LoudnessMetrics, targetLUFS, peakLimitDB float64) float64 {
	if l == analysis.DefaultLoudness() {
		return 1
	}
	gainDB := l.GainAdjust + (targetLUFS - analysis.TargetLoudness)
	if gainDB > analysis.MaxGainAdjust {
		gainDB = analysis.MaxGainAdjust
	} else if gainDB < -analysis.MaxGainAdjust {
		gainDB = -analysis.MaxGainAdjust
	}
	requested := gainDB
	if headroom := peakLimitDB - l.TruePeak; gainDB > headroom {
		gainDB = headroom
	}
	if gainDB < 0 && requested >= 0 {
		// Never attenuate below unity purely on account of the limiter
		// when no boost was requested.
		gainDB = 0
	}
	return math.Pow(10, gainDB/20)
}

// LoadTrack replaces the current track on the active voice. Loading the
// already-active track is a no-op. On failure the engine stays paused and
// the error is reported.
func (e *Engine) LoadTrack(ctx context.Context, track Track) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		e.log.Warn().Str("track", track.ID).Msg("load after destroy ignored")
		return ErrDestroyed
	}
	if e.voices[e.active].bound(track.ID) {
		e.mu.Unlock()
		return nil
	}
	fire := e.abortSessionLocked()
	wasPlaying := e.playing
	idx := e.active
	e.mu.Unlock()
	for _, fn := range fire {
		fn()
	}

	if err := e.bindVoice(ctx, idx, track); err != nil {
		if errors.Is(err, errStale) || errors.Is(err, ErrDestroyed) {
			return err
		}
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		e.reportError(fmt.Errorf("load track %s: %w", track.ID, err))
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	e.armed = true
	v := e.voices[idx]
	if wasPlaying && v.bound(track.ID) {
		if err := v.handle.Play(); err != nil {
			e.playing = false
			return fmt.Errorf("play %s: %w", track.ID, err)
		}
		v.state = voicePlaying
	}
	return nil
}

// PreloadNextTrack binds a track to the inactive voice without starting it.
// Failures are logged but never surface as playback errors.
func (e *Engine) PreloadNextTrack(ctx context.Context, track Track) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	idx := 1 - e.active
	if e.voices[e.active].track.ID == track.ID || e.voices[idx].bound(track.ID) {
		e.mu.Unlock()
		return
	}
	if e.session != nil {
		// The inactive voice belongs to the session right now.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.bindVoice(ctx, idx, track); err != nil && !errors.Is(err, errStale) && !errors.Is(err, ErrDestroyed) {
		e.log.Warn().Err(err).Str("track", track.ID).Msg("preload failed")
	}
}

// ScheduleCrossfade starts a crossfade from the active track into next. At
// most one transition runs at a time; a second request is rejected without
// touching engine state.
func (e *Engine) ScheduleCrossfade(ctx context.Context, next Track, duration time.Duration, curve Curve) error {
	if duration <= 0 {
		duration = e.opts.CrossfadeDuration
	}
	if curve == "" {
		curve = e.opts.Curve
	}
	return e.scheduleTransition(ctx, next, duration, curve, false)
}

// ScheduleGaplessTransition hands over to next with a near-instant linear
// fade, for tracks mixed to run into each other.
func (e *Engine) ScheduleGaplessTransition(ctx context.Context, next Track) error {
	return e.scheduleTransition(ctx, next, gaplessFadeDuration, CurveLinear, true)
}

func (e *Engine) scheduleTransition(ctx context.Context, next Track, duration time.Duration, curve Curve, gapless bool) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.session != nil {
		e.mu.Unlock()
		return ErrCrossfadeActive
	}
	from := e.active
	to := 1 - from
	av := e.voices[from]
	if av.handle == nil {
		e.mu.Unlock()
		return ErrNoActiveTrack
	}
	fromTrack := av.track
	s := &crossfadeSession{
		id:       uuid.NewString(),
		from:     from,
		to:       to,
		duration: duration,
		curve:    curve,
		phase:    phasePreparing,
	}
	e.session = s
	needBind := !e.voices[to].bound(next.ID)
	e.mu.Unlock()

	if needBind {
		bindCtx, cancel := context.WithTimeout(ctx, e.opts.ReadyTimeout)
		err := e.bindVoice(bindCtx, to, next)
		cancel()
		if err != nil {
			e.mu.Lock()
			stolen := e.session != s
			if !stolen {
				e.session = nil
			}
			e.mu.Unlock()
			if stolen || errors.Is(err, errStale) {
				return ErrAborted
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(bindCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %s", ErrNotReady, next.ID)
			}
			e.reportError(err)
			return err
		}
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.session != s {
		e.mu.Unlock()
		return ErrAborted
	}
	tv := e.voices[to]
	if !tv.bound(next.ID) {
		e.session = nil
		e.mu.Unlock()
		return ErrAborted
	}

	start := e.nowFn()
	if e.opts.BeatMatch && !gapless {
		if d := e.beatAlignDelayLocked(av); d > 0 {
			start = start.Add(d)
		}
	}

	tv.curveGain = 0
	tv.applyGain(e.volume, e.muted)
	if err := tv.handle.Play(); err != nil {
		e.session = nil
		fire := func() { e.reportError(fmt.Errorf("start incoming %s: %w", next.ID, err)) }
		e.mu.Unlock()
		fire()
		return err
	}
	tv.state = voicePlaying
	e.playing = true
	if av.state == voiceReady || av.state == voicePaused {
		// Transitioning out of a paused deck still plays out the fade.
		if err := av.handle.Play(); err == nil {
			av.state = voicePlaying
		}
	}
	s.start = start
	s.phase = phaseActive
	// A pause issued while the bind was in flight must not shift the fade
	// timeline once a redundant Play comes in.
	e.pausedAt = time.Time{}

	e.log.Info().
		Str("session", s.id).
		Str("from", fromTrack.ID).
		Str("to", next.ID).
		Dur("duration", duration).
		Str("curve", string(curve)).
		Bool("gapless", gapless).
		Msg("transition started")

	startCb := e.cb.OnCrossfadeStart
	e.mu.Unlock()
	if startCb != nil {
		startCb(fromTrack, next)
	}
	return nil
}

// beatAlignDelayLocked delays the transition start to the outgoing track's
// next beat boundary, when the beat grid is trustworthy.
func (e *Engine) beatAlignDelayLocked(v *voice) time.Duration {
	b := v.beats
	if b.Confidence < beatMatchMinConfident || b.BPM <= 0 {
		return 0
	}
	period := 60.0 / b.BPM
	pos := v.handle.Position()
	offset := math.Mod(pos-b.Phase, period)
	if offset < 0 {
		offset += period
	}
	wait := period - offset
	if wait >= period-1e-9 {
		wait = 0
	}
	return time.Duration(wait * float64(time.Second))
}

// AbortCrossfade cancels the in-flight transition, tears down the incoming
// voice and restores the active voice to full automation gain.
func (e *Engine) AbortCrossfade() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	fire := e.abortSessionLocked()
	e.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
	return nil
}

func (e *Engine) abortSessionLocked() []func() {
	s := e.session
	if s == nil {
		return nil
	}
	e.session = nil
	e.pausedAt = time.Time{}
	e.voices[s.to].teardown()
	av := e.voices[s.from]
	av.curveGain = 1
	av.applyGain(e.volume, e.muted)
	e.armed = true
	e.log.Info().Str("session", s.id).Msg("transition aborted")
	return nil
}

// finishSessionLocked completes the hand-off: the incoming voice becomes
// active at full gain and the outgoing voice is released.
func (e *Engine) finishSessionLocked() []func() {
	s := e.session
	if s == nil {
		return nil
	}
	e.session = nil
	e.pausedAt = time.Time{}

	out := e.voices[s.from]
	in := e.voices[s.to]
	finished := out.track
	out.handle.Pause()
	out.teardown()

	e.active = s.to
	in.curveGain = 1
	in.applyGain(e.volume, e.muted)
	e.armed = true

	e.log.Info().Str("session", s.id).Str("track", in.track.ID).Msg("transition complete")

	var fire []func()
	if fn := e.cb.OnCrossfadeComplete; fn != nil {
		track := in.track
		fire = append(fire, func() { fn(track) })
	}
	if fn := e.cb.OnTrackEnd; fn != nil {
		fire = append(fire, func() { fn(finished) })
	}
	return fire
}

// handleEnded runs when a voice's handle reports natural end of stream. The
// generation token discards completions that raced with a teardown.
func (e *Engine) handleEnded(idx int, gen uint64) {
	e.mu.Lock()
	if e.destroyed || e.voices[idx].gen != gen {
		e.mu.Unlock()
		return
	}
	var fire []func()
	if s := e.session; s != nil && s.from == idx && s.phase == phaseActive {
		// Outgoing track ran out before automation finished.
		fire = e.finishSessionLocked()
	} else if idx == e.active {
		if s := e.session; s != nil && s.from == idx {
			// The incoming voice is still preparing; with nothing left to
			// fade from, the transition is dropped, not completed.
			fire = append(fire, e.abortSessionLocked()...)
		}
		v := e.voices[idx]
		ended := v.track
		v.teardown()
		e.playing = false
		if fn := e.cb.OnTrackEnd; fn != nil {
			fire = append(fire, func() { fn(ended) })
		}
	}
	e.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

// Play resumes the active voice, and the incoming voice too when a
// transition is in flight. A transition paused mid-fade picks up where it
// left off.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	v := e.voices[e.active]
	if v.handle == nil {
		return ErrNoActiveTrack
	}
	if err := v.handle.Play(); err != nil {
		return fmt.Errorf("play %s: %w", v.track.ID, err)
	}
	v.state = voicePlaying
	if s := e.session; s != nil {
		if tv := e.voices[s.to]; tv.handle != nil && tv.state == voicePaused {
			if err := tv.handle.Play(); err == nil {
				tv.state = voicePlaying
			}
		}
		if !e.pausedAt.IsZero() {
			s.start = s.start.Add(e.nowFn().Sub(e.pausedAt))
		}
	}
	e.pausedAt = time.Time{}
	e.playing = true
	return nil
}

// Pause pauses both voices, freezing any in-flight transition's automation
// along with its audio.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	for _, v := range e.voices {
		if v.handle != nil && v.state == voicePlaying {
			v.handle.Pause()
			v.state = voicePaused
		}
	}
	if e.session != nil && e.playing {
		e.pausedAt = e.nowFn()
	}
	e.playing = false
}

// Seek positions the active voice within the trimmed timeline.
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	v := e.voices[e.active]
	if v.handle == nil {
		return ErrNoActiveTrack
	}
	_, dur := e.logicalPositionLocked(v)
	seconds = math.Max(0, math.Min(seconds, dur))
	v.handle.Seek(v.trim.Start + seconds)
	return nil
}

// SetVolume sets the master volume in [0,1] and reapplies it to both voices.
func (e *Engine) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.volume = math.Max(0, math.Min(volume, 1))
	for _, v := range e.voices {
		v.applyGain(e.volume, e.muted)
	}
}

// SetMuted mutes or unmutes both voices without disturbing automation.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.muted = muted
	for _, v := range e.voices {
		v.applyGain(e.volume, e.muted)
	}
}

// CurrentTime is the active voice's position on the trimmed timeline.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.voices[e.active].handle == nil {
		return 0
	}
	pos, _ := e.logicalPositionLocked(e.voices[e.active])
	return pos
}

// CurrentDuration is the active track's trimmed duration.
func (e *Engine) CurrentDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.voices[e.active].handle == nil {
		return 0
	}
	_, dur := e.logicalPositionLocked(e.voices[e.active])
	return dur
}

// IsPlaying reports whether the engine is in the playing state.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && !e.destroyed
}

// CurrentTrack returns the active voice's track, if any.
func (e *Engine) CurrentTrack() (Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.voices[e.active]
	if e.destroyed || v.handle == nil {
		return Track{}, false
	}
	return v.track, true
}

// Destroy tears down both voices and permanently disables the engine.
// Subsequent calls are no-ops; callbacks never fire again.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.session = nil
	e.playing = false
	e.cb = Callbacks{}
	for _, v := range e.voices {
		v.teardown()
	}
	e.mu.Unlock()
	e.log.Info().Msg("engine destroyed")
}

// logicalPositionLocked maps the handle's raw position into the trimmed
// timeline: [0, rawDuration - trimStart - trimEnd].
func (e *Engine) logicalPositionLocked(v *voice) (pos, dur float64) {
	raw := v.handle.Duration()
	if raw <= 0 {
		raw = v.track.Duration
	}
	dur = raw - v.trim.Start - v.trim.End
	if dur < 0 {
		dur = 0
	}
	pos = v.handle.Position() - v.trim.Start
	pos = math.Max(0, math.Min(pos, dur))
	return pos, dur
}

func (e *Engine) reportError(err error) {
	e.log.Error().Err(err).Msg("engine error")
	e.mu.Lock()
	fn := e.cb.OnError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
