package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// BatchDelay is the quiet period after the last change before a re-run.
const BatchDelay = 2 * time.Second

// RunFunc receives the outcome of every re-run triggered by the watcher.
type RunFunc func(res *PipelineResult, err error)

// Watcher re-runs the pipeline whenever an input under root changes.
// Resolution crosses artifacts, so every batch re-analyzes the whole root.
type Watcher struct {
	root    string
	opts    Options
	delay   time.Duration
	onRun   RunFunc
	matcher gitignore.Matcher
}

// NewWatcher creates a watcher for root. onRun may be nil.
func NewWatcher(root string, opts Options, onRun RunFunc) *Watcher {
	return &Watcher{
		root:    root,
		opts:    opts,
		delay:   BatchDelay,
		onRun:   onRun,
		matcher: newMatcher(root, exclude(opts)),
	}
}

// WithDelay overrides BatchDelay.
func (w *Watcher) WithDelay(d time.Duration) *Watcher {
	w.delay = d
	return w
}

func exclude(opts Options) []string {
	if opts.Config == nil {
		return nil
	}
	return opts.Config.Ingestion.Exclude
}

// Watch monitors root and blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	logger := w.logger()
	changed := make(map[string]bool)
	batchTimer := time.NewTimer(w.delay)
	batchTimer.Stop() // Don't start yet

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && w.isWatchedDir(event.Name) {
				if err := w.addTree(fw, event.Name); err != nil {
					logger.Warn("watching new directory", "path", event.Name, "error", err)
				}
				continue
			}
			if !w.shouldWatchFile(event.Name) {
				continue
			}
			rel, _ := filepath.Rel(w.root, event.Name)
			changed[filepath.ToSlash(rel)] = true
			batchTimer.Reset(w.delay)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			logger.Info("inputs changed, re-analyzing", "files", len(changed))
			changed = make(map[string]bool)

			res, err := RunPipeline(ctx, w.root, w.opts)
			if err != nil {
				logger.Error("re-analysis failed", "error", err)
			}
			if w.onRun != nil {
				w.onRun(res, err)
			}
		}
	}
}

func (w *Watcher) logger() *slog.Logger {
	logger := w.opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "watcher")
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.isWatchedDir(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// isWatchedDir reports whether path is a directory outside the ignore rules.
func (w *Watcher) isWatchedDir(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return err == nil
	}
	if filepath.Base(path) == ".git" || w.matcher.Match(splitPath(rel), true) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// shouldWatchFile reports whether a change to path can affect the analysis.
func (w *Watcher) shouldWatchFile(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	if w.matcher.Match(splitPath(rel), false) {
		return false
	}
	// Content is unknown for deletions, so any XML counts.
	_, ok := inputKind(filepath.Base(path), nil)
	return ok
}
