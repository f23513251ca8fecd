package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Transition behavior
	CrossfadeDuration time.Duration // fade length between tracks
	CrossfadeCurve    string        // linear, equal-power, s-curve, logarithmic, exponential
	BeatMatch         bool          // align transition starts to the outgoing beat grid
	TickInterval      time.Duration // scheduler resolution
	PreloadLookahead  time.Duration // how early the next track is bound
	ReadyTimeout      time.Duration // max wait for an incoming track to become ready

	// Gapless hand-off
	GaplessThreshold time.Duration // trailing silence below this makes the transition gapless

	// Loudness
	TargetLoudness float64 // LUFS normalization target
	TruePeakLimit  float64 // dBFS ceiling after normalization gain

	// Analysis cache
	CachePath      string
	CacheRetention time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		CrossfadeDuration: time.Duration(envFloat("SEGUE_CROSSFADE_SECONDS", 5)) * time.Second,
		CrossfadeCurve:    envStr("SEGUE_CROSSFADE_CURVE", "equal-power"),
		BeatMatch:         envBool("SEGUE_BEAT_MATCH", false),
		TickInterval:      time.Duration(envInt("SEGUE_TICK_MS", 50)) * time.Millisecond,
		PreloadLookahead:  time.Duration(envInt("SEGUE_PRELOAD_SECONDS", 15)) * time.Second,
		ReadyTimeout:      time.Duration(envInt("SEGUE_READY_TIMEOUT_SECONDS", 5)) * time.Second,

		GaplessThreshold: time.Duration(envInt("SEGUE_GAPLESS_THRESHOLD_MS", 100)) * time.Millisecond,

		TargetLoudness: envFloat("SEGUE_TARGET_LUFS", -18.0),
		TruePeakLimit:  envFloat("SEGUE_TRUE_PEAK_LIMIT", -1.0),

		CachePath:      envStr("SEGUE_CACHE_PATH", defaultCachePath()),
		CacheRetention: time.Duration(envInt("SEGUE_CACHE_RETENTION_DAYS", 30)) * 24 * time.Hour,

		LogLevel: envStr("SEGUE_LOG_LEVEL", "info"),
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "segue", "analysis.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
