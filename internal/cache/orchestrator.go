package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seguefm/segue/internal/analysis"
)

const (
	// hashPrefixBytes bounds how much of the file feeds the content hash.
	// A prefix is enough to survive moves/renames without rereading whole
	// files on every cache miss.
	hashPrefixBytes = 1 << 20

	// inflightGrace keeps a finished computation joinable briefly so
	// near-simultaneous duplicate calls still share it.
	inflightGrace = 500 * time.Millisecond

	batchWorkers = 4
)

// Decoder is the external decode collaborator: locator in, PCM out.
type Decoder interface {
	DecodePCM(ctx context.Context, locator string) (*analysis.Buffer, error)
}

// Orchestrator answers analysis requests, deduplicating concurrent calls per
// locator and caching results durably. Analysis is best-effort: every path
// returns a fully-populated Result, falling back to analyzer defaults when
// decode or analysis fails.
type Orchestrator struct {
	dec   Decoder
	store *Store
	log   zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result analysis.Result
}

// NewOrchestrator wires the orchestrator to a decode collaborator and an
// optional durable store (nil disables persistence). The store is pruned of
// entries older than retention at startup.
func NewOrchestrator(dec Decoder, store *Store, retention time.Duration, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		dec:      dec,
		store:    store,
		log:      log.With().Str("component", "analysis-cache").Logger(),
		inflight: make(map[string]*inflightCall),
	}
	if store != nil {
		if retention <= 0 {
			retention = DefaultRetention
		}
		if n, err := store.prune(retention); err != nil {
			o.log.Warn().Err(err).Msg("cache prune failed")
		} else if n > 0 {
			o.log.Debug().Int64("removed", n).Msg("pruned stale cache entries")
		}
	}
	return o
}

// Analyze returns the analysis result for one locator. Concurrent calls for
// the same locator share a single computation. Never returns an error:
// failures yield a default Result with an empty content hash.
func (o *Orchestrator) Analyze(ctx context.Context, locator string) analysis.Result {
	o.mu.Lock()
	if call, ok := o.inflight[locator]; ok {
		o.mu.Unlock()
		select {
		case <-call.done:
			return call.result
		case <-ctx.Done():
			return analysis.DefaultResult()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	o.inflight[locator] = call
	o.mu.Unlock()

	call.result = o.compute(ctx, locator)
	close(call.done)

	// Keep the entry joinable for a grace period, then clear it.
	time.AfterFunc(inflightGrace, func() {
		o.mu.Lock()
		if o.inflight[locator] == call {
			delete(o.inflight, locator)
		}
		o.mu.Unlock()
	})

	return call.result
}

// AnalyzeBatch analyzes locators with a bounded worker pool, preserving
// input order in the result slice.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, locators []string) []analysis.Result {
	results := make([]analysis.Result, len(locators))

	var wg sync.WaitGroup
	sem := make(chan struct{}, batchWorkers)
	for i, loc := range locators {
		wg.Add(1)
		go func(i int, loc string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.Analyze(ctx, loc)
		}(i, loc)
	}
	wg.Wait()
	return results
}

// ClearCache drops every persisted result.
func (o *Orchestrator) ClearCache() error {
	if o.store == nil {
		return nil
	}
	return o.store.clear()
}

func (o *Orchestrator) compute(ctx context.Context, locator string) analysis.Result {
	size, mtime, statErr := statLocator(locator)

	// Level 1: locator + size + mtime. Cheap invalidation when the file
	// is edited in place.
	if statErr == nil && o.store != nil {
		if e, ok, err := o.store.get(locatorKey(locator)); err != nil {
			o.log.Warn().Err(err).Str("locator", locator).Msg("cache read failed")
		} else if ok && e.fileSize == size && e.lastModified == mtime {
			return e.result
		}
	}

	// Level 2: content hash over a bounded prefix. Survives moves and
	// renames of identical files.
	var hash string
	if statErr == nil {
		var err error
		if hash, err = hashPrefix(locator); err != nil {
			o.log.Warn().Err(err).Str("locator", locator).Msg("content hash failed")
		}
	}
	if hash != "" && o.store != nil {
		if e, ok, err := o.store.get(hashKey(hash)); err != nil {
			o.log.Warn().Err(err).Str("locator", locator).Msg("cache read failed")
		} else if ok {
			// Re-key under the new locator so the fast path hits next time.
			o.persist(locator, hash, e.result, size, mtime)
			return e.result
		}
	}

	buf, err := o.dec.DecodePCM(ctx, locator)
	if err != nil {
		o.log.Warn().Err(err).Str("locator", locator).Msg("decode failed, using default metrics")
		return analysis.DefaultResult()
	}

	res := o.analyzeBuffer(buf)
	res.ContentHash = hash
	if o.store != nil && statErr == nil {
		o.persist(locator, hash, res, size, mtime)
	}
	return res
}

// analyzeBuffer runs the three analyzers, converting any panic into that
// analyzer's default so playback never inherits an analysis failure.
func (o *Orchestrator) analyzeBuffer(buf *analysis.Buffer) analysis.Result {
	res := analysis.Result{ComputedAt: time.Now()}
	res.Loudness = o.safeLoudness(buf)
	res.Silence = o.safeSilence(buf)
	res.Beats = o.safeTempo(buf)
	return res
}

func (o *Orchestrator) safeLoudness(buf *analysis.Buffer) (m analysis.LoudnessMetrics) {
	defer o.recoverTo("loudness", func() { m = analysis.DefaultLoudness() })
	return analysis.AnalyzeLoudness(buf)
}

func (o *Orchestrator) safeSilence(buf *analysis.Buffer) (m analysis.SilenceMetrics) {
	defer o.recoverTo("silence", func() { m = analysis.DefaultSilence() })
	return analysis.AnalyzeSilence(buf)
}

func (o *Orchestrator) safeTempo(buf *analysis.Buffer) (m analysis.BeatMetrics) {
	defer o.recoverTo("tempo", func() { m = analysis.DefaultBeats() })
	return analysis.AnalyzeTempo(buf)
}

func (o *Orchestrator) recoverTo(name string, fallback func()) {
	if r := recover(); r != nil {
		o.log.Error().Interface("panic", r).Str("analyzer", name).Msg("analyzer panicked, using default")
		fallback()
	}
}

func (o *Orchestrator) persist(locator, hash string, res analysis.Result, size, mtime int64) {
	keys := []string{locatorKey(locator)}
	if hash != "" {
		keys = append(keys, hashKey(hash))
	}
	if err := o.store.put(keys, res, size, mtime); err != nil {
		o.log.Warn().Err(err).Str("locator", locator).Msg("cache write failed")
	}
}

func locatorKey(locator string) string { return "loc:" + locator }
func hashKey(hash string) string       { return "hash:" + hash }

func statLocator(locator string) (size, mtimeUnixNano int64, err error) {
	fi, err := os.Stat(locator)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", locator, err)
	}
	return fi.Size(), fi.ModTime().UnixNano(), nil
}

// hashPrefix hashes up to the first 1 MiB of the file.
func hashPrefix(locator string) (string, error) {
	f, err := os.Open(locator)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", locator, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashPrefixBytes)); err != nil {
		return "", fmt.Errorf("hash %s: %w", locator, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
