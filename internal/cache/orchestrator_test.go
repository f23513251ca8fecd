package cache

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seguefm/segue/internal/analysis"
)

// countingDecoder returns a fixed tone and counts DecodePCM calls.
type countingDecoder struct {
	calls int64
	delay time.Duration
	fail  bool
}

func (d *countingDecoder) DecodePCM(ctx context.Context, locator string) (*analysis.Buffer, error) {
	atomic.AddInt64(&d.calls, 1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.fail {
		return nil, os.ErrNotExist
	}
	sr := 8000
	samples := make([]float64, sr)
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
	}
	return &analysis.Buffer{SampleRate: sr, Channels: [][]float64{samples}}, nil
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestOrchestrator(t *testing.T, dec Decoder) (*Orchestrator, *Store) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewOrchestrator(dec, store, DefaultRetention, zerolog.Nop()), store
}

func TestConcurrentAnalyzeSharesOneComputation(t *testing.T) {
	dec := &countingDecoder{delay: 50 * time.Millisecond}
	o := NewOrchestrator(dec, nil, 0, zerolog.Nop())

	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.wav", 4096)

	const callers = 8
	results := make([]analysis.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Analyze(context.Background(), path)
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt64(&dec.calls); n != 1 {
		t.Errorf("decoder called %d times, want exactly 1", n)
	}
	for i := 1; i < callers; i++ {
		if results[i].Loudness != results[0].Loudness || results[i].ContentHash != results[0].ContentHash {
			t.Errorf("caller %d got a different result", i)
		}
	}
}

func TestAnalyzeDecodeFailureReturnsDefaults(t *testing.T) {
	dec := &countingDecoder{fail: true}
	o, _ := newTestOrchestrator(t, dec)

	path := writeTempFile(t, t.TempDir(), "broken.mp3", 128)
	res := o.Analyze(context.Background(), path)

	if res.ContentHash != "" {
		t.Errorf("ContentHash = %q, want empty on decode failure", res.ContentHash)
	}
	if res.Loudness != analysis.DefaultLoudness() {
		t.Errorf("Loudness = %+v, want default", res.Loudness)
	}
	if res.Beats.BPM != 120 || res.Beats.Confidence != 0 {
		t.Errorf("Beats = %+v, want 120/0 default", res.Beats)
	}
}

func TestAnalyzeMissingFileReturnsDefaults(t *testing.T) {
	o, _ := newTestOrchestrator(t, &countingDecoder{fail: true})
	res := o.Analyze(context.Background(), "/does/not/exist.flac")
	if res.ContentHash != "" {
		t.Errorf("ContentHash = %q, want empty", res.ContentHash)
	}
}

func TestDurableCacheHitSkipsDecode(t *testing.T) {
	dec := &countingDecoder{}
	o, _ := newTestOrchestrator(t, dec)

	path := writeTempFile(t, t.TempDir(), "track.wav", 4096)

	first := o.Analyze(context.Background(), path)
	time.Sleep(inflightGrace + 100*time.Millisecond)
	second := o.Analyze(context.Background(), path)

	if n := atomic.LoadInt64(&dec.calls); n != 1 {
		t.Errorf("decoder called %d times, want 1 (second call should hit cache)", n)
	}
	if first.ContentHash == "" || first.ContentHash != second.ContentHash {
		t.Errorf("hashes differ: %q vs %q", first.ContentHash, second.ContentHash)
	}
}

func TestCacheSurvivesRename(t *testing.T) {
	dec := &countingDecoder{}
	o, _ := newTestOrchestrator(t, dec)

	dir := t.TempDir()
	path := writeTempFile(t, dir, "original.wav", 4096)
	o.Analyze(context.Background(), path)
	time.Sleep(inflightGrace + 100*time.Millisecond)

	moved := filepath.Join(dir, "renamed.wav")
	if err := os.Rename(path, moved); err != nil {
		t.Fatal(err)
	}

	o.Analyze(context.Background(), moved)
	if n := atomic.LoadInt64(&dec.calls); n != 1 {
		t.Errorf("decoder called %d times, want 1 (rename should hit the hash key)", n)
	}
}

func TestEditedFileInvalidatesLocatorKey(t *testing.T) {
	dec := &countingDecoder{}
	o, _ := newTestOrchestrator(t, dec)

	dir := t.TempDir()
	path := writeTempFile(t, dir, "track.wav", 4096)
	o.Analyze(context.Background(), path)
	time.Sleep(inflightGrace + 100*time.Millisecond)

	// Different size: both the locator triple and the content hash change.
	writeTempFile(t, dir, "track.wav", 8192)
	o.Analyze(context.Background(), path)

	if n := atomic.LoadInt64(&dec.calls); n != 2 {
		t.Errorf("decoder called %d times, want 2 after edit", n)
	}
}

func TestClearCacheForcesRecompute(t *testing.T) {
	dec := &countingDecoder{}
	o, _ := newTestOrchestrator(t, dec)

	path := writeTempFile(t, t.TempDir(), "track.wav", 4096)
	o.Analyze(context.Background(), path)
	time.Sleep(inflightGrace + 100*time.Millisecond)

	if err := o.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	o.Analyze(context.Background(), path)

	if n := atomic.LoadInt64(&dec.calls); n != 2 {
		t.Errorf("decoder called %d times, want 2 after clear", n)
	}
}

func TestAnalyzeBatchPreservesOrder(t *testing.T) {
	dec := &countingDecoder{}
	o, _ := newTestOrchestrator(t, dec)

	dir := t.TempDir()
	locators := []string{
		writeTempFile(t, dir, "a.wav", 1024),
		writeTempFile(t, dir, "b.wav", 2048),
		"/missing/c.wav",
		writeTempFile(t, dir, "d.wav", 4096),
	}

	results := o.AnalyzeBatch(context.Background(), locators)
	if len(results) != len(locators) {
		t.Fatalf("got %d results, want %d", len(results), len(locators))
	}
	for i, res := range results {
		if locators[i] == "/missing/c.wav" {
			if res.ContentHash != "" {
				t.Errorf("result %d: want default (empty hash) for missing file", i)
			}
			continue
		}
		if res.ContentHash == "" {
			t.Errorf("result %d: missing content hash", i)
		}
	}
}

func TestStorePrune(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	res := analysis.DefaultResult()
	if err := store.put([]string{"loc:/old"}, res, 1, 1); err != nil {
		t.Fatal(err)
	}
	// Wait until the row ages past a one-second retention window.
	time.Sleep(1100 * time.Millisecond)
	n, err := store.prune(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	if _, ok, _ := store.get("loc:/old"); ok {
		t.Error("row survived prune")
	}
}
