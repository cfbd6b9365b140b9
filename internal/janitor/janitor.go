// Package janitor implements the background audit of the story store: it
// sweeps media left behind by interrupted uploads and recounts the capacity
// counter from disk. It operates independently from the request path so
// lifecycle concerns stay isolated from admission logic.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SummarySweptPerCycle is the summary observed once per cycle with the number
// of orphaned media files removed.
const SummarySweptPerCycle = "janitor_swept_per_cycle"

// Service abstracts the store operations the Janitor drives.
type Service interface {
	// SweepOrphans removes media older than grace without metadata.
	SweepOrphans(ctx context.Context, grace time.Duration) (int, error)
	// Recount replaces the capacity counter with the number of metadata records.
	Recount(ctx context.Context) (int, error)
}

// Recorder receives per-cycle observations. Optional.
type Recorder interface {
	Observe(name string, value int64)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Grace    time.Duration // minimum age of swept orphan media
	WatchDir string        // metadata directory to watch; empty disables the watch
	Debounce time.Duration // delay collapsing bursts of watch events into one recount
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Swept               uint64
	Recounts            uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Swept               uint64
	Recounts            uint64
	CycleLastDurationMS int64
}

func (m *Metrics) addSwept(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.Swept += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) addRecount() {
	m.mu.Lock()
	m.Recounts++
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background audit loop.
type Janitor struct {
	svc     Service
	rec     Recorder
	cfg     Config
	metrics *Metrics

	ticker  *time.Ticker
	watcher *fsnotify.Watcher
	kick    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// New constructs but does not start a Janitor. rec may be nil.
func New(svc Service, rec Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		svc:     svc,
		rec:     rec,
		cfg:     cfg,
		metrics: &Metrics{},
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine. When WatchDir is set
// the directory watch is established first; failing to watch is an error and
// the loop is not started.
func (j *Janitor) Start(ctx context.Context) error {
	if j.ticker != nil {
		return nil
	} // already started
	if j.cfg.WatchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := w.Add(j.cfg.WatchDir); err != nil {
			_ = w.Close()
			return err
		}
		j.watcher = w
		go j.watch()
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
	return nil
}

// Stop signals the loop to exit and waits for completion. It must only be
// called after a successful Start.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Swept:               j.metrics.Swept,
		Recounts:            j.metrics.Recounts,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		if j.watcher != nil {
			_ = j.watcher.Close()
		}
		close(j.doneCh)
	}()
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		case <-j.kick:
			if pending == nil {
				pending = time.After(j.cfg.Debounce)
			}
		case <-pending:
			pending = nil
			j.recount(ctx, "watch")
		}
	}
}

// watch forwards removals and renames of metadata records to the loop.
// Bursts collapse into the single buffered kick.
func (j *Janitor) watch() {
	log := j.cfg.Logger.With("domain", "janitor", "action", "watch")
	for {
		select {
		case ev, ok := <-j.watcher.Events:
			if !ok {
				return
			}
			if !isMetaRemoval(ev) {
				continue
			}
			log.Debug("metadata removed", "name", filepath.Base(ev.Name))
			select {
			case j.kick <- struct{}{}:
			default:
			}
		case err, ok := <-j.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func isMetaRemoval(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(ev.Name, ".json")
}

// runCycle performs one full sweep + recount cycle.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	swept, err := j.svc.SweepOrphans(ctx, j.cfg.Grace)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sweep", "error", err)
	}
	j.metrics.addSwept(swept)
	if j.rec != nil {
		j.rec.Observe(SummarySweptPerCycle, int64(swept))
	}
	stored := j.recount(ctx, "cycle")
	j.metrics.recordCycle(time.Since(start))
	log.Info("cycle complete", "swept", swept, "stored", stored, "ms", time.Since(start).Milliseconds())
}

// recount refreshes the capacity counter and returns the new count, or -1
// when the scan failed.
func (j *Janitor) recount(ctx context.Context, reason string) int {
	n, err := j.svc.Recount(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			j.cfg.Logger.Error("recount", "domain", "janitor", "reason", reason, "error", err)
		}
		return -1
	}
	j.metrics.addRecount()
	if reason != "cycle" {
		j.cfg.Logger.Info("recount", "domain", "janitor", "reason", reason, "stored", n)
	}
	return n
}
