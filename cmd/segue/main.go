// Command segue plays local audio files with analyzed, gap-aware
// transitions, and exposes the analyzers directly for inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/seguefm/segue/internal/cache"
	"github.com/seguefm/segue/internal/config"
	"github.com/seguefm/segue/internal/engine"
	"github.com/seguefm/segue/internal/media"
	"github.com/seguefm/segue/internal/output"
)

var cli struct {
	LogLevel string `help:"Log level (trace, debug, info, warn, error)." default:""`

	Analyze AnalyzeCmd `cmd:"" help:"Analyze audio files and print loudness, trim and tempo metrics."`
	Play    PlayCmd    `cmd:"" help:"Play audio files back to back with crossfades."`
	Cache   CacheCmd   `cmd:"" help:"Manage the analysis cache."`
}

type AnalyzeCmd struct {
	Files []string `arg:"" type:"existingfile" help:"Audio files to analyze."`
	JSON  bool     `help:"Emit raw JSON instead of a table."`
}

type PlayCmd struct {
	Files     []string      `arg:"" type:"existingfile" help:"Audio files to play, in order."`
	Crossfade time.Duration `help:"Crossfade duration." default:"0"`
	Curve     string        `help:"Crossfade curve." default:""`
	BeatMatch bool          `help:"Align transitions to the outgoing beat grid."`
}

type CacheCmd struct {
	Clear bool `help:"Drop all cached analysis results."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("segue"),
		kong.Description("Gap-aware audio playback with analyzed crossfades."),
		kong.UsageOnError(),
	)

	cfg := config.Load()
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.Bind(cfg, log)
	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func openOrchestrator(cfg config.Config, log zerolog.Logger) (*cache.Orchestrator, *cache.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	store, err := cache.OpenStore(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	orc := cache.NewOrchestrator(media.FileDecoder{}, store, cfg.CacheRetention, log)
	return orc, store, nil
}

func (c *AnalyzeCmd) Run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	orc, store, err := openOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	results := orc.AnalyzeBatch(ctx, c.Files)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	header := color.New(color.FgCyan, color.Bold)
	value := color.New(color.FgWhite)
	warn := color.New(color.FgYellow)

	for i, res := range results {
		header.Printf("%s\n", c.Files[i])
		if res.ContentHash == "" {
			warn.Println("  analysis unavailable, showing defaults")
		}
		value.Printf("  loudness    %.1f LUFS (range %.1f LU, true peak %.1f dBFS)\n",
			res.Loudness.Integrated, res.Loudness.Range, res.Loudness.TruePeak)
		value.Printf("  gain        %+.1f dB to target\n", res.Loudness.GainAdjust)
		value.Printf("  silence     start %.2fs / end %.2fs (fade in %.2fs, out %.2fs)\n",
			res.Silence.StartSilence, res.Silence.EndSilence, res.Silence.FadeIn, res.Silence.FadeOut)
		if res.Silence.HasGaplessMarkers {
			value.Printf("  gapless     yes (delay %d, padding %d samples)\n",
				res.Silence.EncoderDelay, res.Silence.EncoderPadding)
		}
		value.Printf("  tempo       %.1f BPM (%s, confidence %.2f)\n",
			res.Beats.BPM, res.Beats.TimeSignature, res.Beats.Confidence)
		fmt.Println()
	}
	return nil
}

func (c *PlayCmd) Run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	crossfade := cfg.CrossfadeDuration
	if c.Crossfade > 0 {
		crossfade = c.Crossfade
	}
	curveName := cfg.CrossfadeCurve
	if c.Curve != "" {
		curveName = c.Curve
	}
	curve, err := engine.ParseCurve(curveName)
	if err != nil {
		return err
	}

	orc, store, err := openOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	dev, err := output.NewDevice(log)
	if err != nil {
		return err
	}

	// Queue: tracks consumed in argument order.
	queue := make([]engine.Track, len(c.Files))
	for i, f := range c.Files {
		queue[i] = engine.Track{ID: f, Locator: f}
	}
	next := 1

	done := make(chan struct{})
	var doneOnce sync.Once
	title := color.New(color.FgGreen, color.Bold)

	var eng *engine.Engine
	eng = engine.New(dev, orc, engine.Options{
		CrossfadeDuration: crossfade,
		Curve:             curve,
		TickInterval:      cfg.TickInterval,
		TargetLoudness:    &cfg.TargetLoudness,
		TruePeakLimit:     &cfg.TruePeakLimit,
		BeatMatch:         c.BeatMatch || cfg.BeatMatch,
		GaplessThreshold:  cfg.GaplessThreshold,
		PreloadLookahead:  cfg.PreloadLookahead,
		ReadyTimeout:      cfg.ReadyTimeout,
	}, engine.Callbacks{
		NextTrack: func() (engine.Track, bool) {
			if next >= len(queue) {
				return engine.Track{}, false
			}
			return queue[next], true
		},
		OnCrossfadeStart: func(from, to engine.Track) {
			title.Printf("\n-> %s\n", filepath.Base(to.Locator))
			next++
		},
		OnTrackEnd: func(track engine.Track) {
			if cur, ok := eng.CurrentTrack(); !ok || cur.ID == track.ID {
				// Last track ran out with nothing queued behind it.
				doneOnce.Do(func() { close(done) })
			}
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("playback error")
		},
	}, log)
	defer eng.Destroy()

	go eng.Run(ctx)

	if err := eng.LoadTrack(ctx, queue[0]); err != nil {
		return err
	}
	title.Printf("-> %s\n", filepath.Base(queue[0].Locator))
	if err := eng.Play(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func (c *CacheCmd) Run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	orc, store, err := openOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Clear {
		if err := orc.ClearCache(); err != nil {
			return err
		}
		fmt.Println("analysis cache cleared")
		return nil
	}
	fmt.Printf("cache: %s\n", cfg.CachePath)
	return nil
}
