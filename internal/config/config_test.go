package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that might interfere
	envVars := []string{
		"SEGUE_CROSSFADE_SECONDS", "SEGUE_CROSSFADE_CURVE", "SEGUE_BEAT_MATCH",
		"SEGUE_TICK_MS", "SEGUE_PRELOAD_SECONDS", "SEGUE_READY_TIMEOUT_SECONDS",
		"SEGUE_GAPLESS_THRESHOLD_MS", "SEGUE_TARGET_LUFS",
		"SEGUE_TRUE_PEAK_LIMIT", "SEGUE_CACHE_PATH", "SEGUE_CACHE_RETENTION_DAYS",
		"SEGUE_LOG_LEVEL",
	}
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.CrossfadeDuration != 5*time.Second {
		t.Errorf("CrossfadeDuration = %v, want 5s", cfg.CrossfadeDuration)
	}
	if cfg.CrossfadeCurve != "equal-power" {
		t.Errorf("CrossfadeCurve = %q, want 'equal-power'", cfg.CrossfadeCurve)
	}
	if cfg.BeatMatch {
		t.Error("BeatMatch = true, want false by default")
	}
	if cfg.TickInterval != 50*time.Millisecond {
		t.Errorf("TickInterval = %v, want 50ms", cfg.TickInterval)
	}
	if cfg.PreloadLookahead != 15*time.Second {
		t.Errorf("PreloadLookahead = %v, want 15s", cfg.PreloadLookahead)
	}
	if cfg.ReadyTimeout != 5*time.Second {
		t.Errorf("ReadyTimeout = %v, want 5s", cfg.ReadyTimeout)
	}
	if cfg.GaplessThreshold != 100*time.Millisecond {
		t.Errorf("GaplessThreshold = %v, want 100ms", cfg.GaplessThreshold)
	}
	if cfg.TargetLoudness != -18.0 {
		t.Errorf("TargetLoudness = %f, want -18.0", cfg.TargetLoudness)
	}
	if cfg.TruePeakLimit != -1.0 {
		t.Errorf("TruePeakLimit = %f, want -1.0", cfg.TruePeakLimit)
	}
	if cfg.CachePath == "" {
		t.Error("CachePath empty, want a default location")
	}
	if cfg.CacheRetention != 30*24*time.Hour {
		t.Errorf("CacheRetention = %v, want 720h", cfg.CacheRetention)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want 'info'", cfg.LogLevel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SEGUE_CROSSFADE_SECONDS", "8")
	t.Setenv("SEGUE_CROSSFADE_CURVE", "s-curve")
	t.Setenv("SEGUE_BEAT_MATCH", "true")
	t.Setenv("SEGUE_TICK_MS", "25")
	t.Setenv("SEGUE_PRELOAD_SECONDS", "30")
	t.Setenv("SEGUE_READY_TIMEOUT_SECONDS", "10")
	t.Setenv("SEGUE_GAPLESS_THRESHOLD_MS", "250")
	t.Setenv("SEGUE_TARGET_LUFS", "-16")
	t.Setenv("SEGUE_TRUE_PEAK_LIMIT", "-2.5")
	t.Setenv("SEGUE_CACHE_PATH", "/tmp/segue.db")
	t.Setenv("SEGUE_CACHE_RETENTION_DAYS", "7")
	t.Setenv("SEGUE_LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.CrossfadeDuration != 8*time.Second {
		t.Errorf("CrossfadeDuration = %v, want 8s", cfg.CrossfadeDuration)
	}
	if cfg.CrossfadeCurve != "s-curve" {
		t.Errorf("CrossfadeCurve = %q, want 's-curve'", cfg.CrossfadeCurve)
	}
	if !cfg.BeatMatch {
		t.Error("BeatMatch = false, want env override")
	}
	if cfg.TickInterval != 25*time.Millisecond {
		t.Errorf("TickInterval = %v, want 25ms", cfg.TickInterval)
	}
	if cfg.PreloadLookahead != 30*time.Second {
		t.Errorf("PreloadLookahead = %v, want 30s", cfg.PreloadLookahead)
	}
	if cfg.ReadyTimeout != 10*time.Second {
		t.Errorf("ReadyTimeout = %v, want 10s", cfg.ReadyTimeout)
	}
	if cfg.GaplessThreshold != 250*time.Millisecond {
		t.Errorf("GaplessThreshold = %v, want 250ms", cfg.GaplessThreshold)
	}
	if cfg.TargetLoudness != -16.0 {
		t.Errorf("TargetLoudness = %f, want -16.0", cfg.TargetLoudness)
	}
	if cfg.TruePeakLimit != -2.5 {
		t.Errorf("TruePeakLimit = %f, want -2.5", cfg.TruePeakLimit)
	}
	if cfg.CachePath != "/tmp/segue.db" {
		t.Errorf("CachePath = %q, want env override", cfg.CachePath)
	}
	if cfg.CacheRetention != 7*24*time.Hour {
		t.Errorf("CacheRetention = %v, want 168h", cfg.CacheRetention)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want 'debug'", cfg.LogLevel)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("SEGUE_TICK_MS", "not-a-number")
	cfg := Load()
	if cfg.TickInterval != 50*time.Millisecond {
		t.Errorf("Invalid int env should fallback to default: got %v, want 50ms", cfg.TickInterval)
	}
}

func TestEnvBoolInvalidFallsBack(t *testing.T) {
	t.Setenv("SEGUE_BEAT_MATCH", "definitely")
	cfg := Load()
	if cfg.BeatMatch {
		t.Error("Invalid bool env should fallback to default false")
	}
}
