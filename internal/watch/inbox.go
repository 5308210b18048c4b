// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// settleDelay is the quiet period after the last write to a file before
// it is submitted, so a zip still being copied in is not picked up half
// written.
const settleDelay = 2 * time.Second

// Inbox watches a directory for dropped zip files and hands each settled
// file to Submit. Non-zip files are ignored; a failing submission is
// logged and the file left in place.
type Inbox struct {
	// Dir is the watched directory.
	Dir string

	// SettleDelay overrides the default quiet period. Zero means
	// settleDelay.
	SettleDelay time.Duration

	// Submit ingests one dropped archive. Required.
	Submit func(ctx context.Context, zipPath string) error

	logger *log.Logger
}

// NewInbox creates an inbox watcher over dir.
func NewInbox(dir string, submit func(ctx context.Context, zipPath string) error) *Inbox {
	return &Inbox{
		Dir:    dir,
		Submit: submit,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "inbox",
		}),
	}
}

// Run blocks until ctx is cancelled, submitting zip files as they settle.
// Files already present when Run starts are submitted first.
func (i *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(i.Dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", i.Dir, err)
	}

	delay := i.SettleDelay
	if delay <= 0 {
		delay = settleDelay
	}

	// Per-file timers coalesce the write events of a file being copied in.
	var mu sync.Mutex
	timers := map[string]*time.Timer{}
	submit := func(path string) {
		mu.Lock()
		delete(timers, path)
		mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		i.logger.Info("submitting dropped archive", "path", path)
		if err := i.Submit(ctx, path); err != nil {
			i.logger.Warn("submission failed", "path", path, "err", err)
		}
	}

	entries, err := os.ReadDir(i.Dir)
	if err != nil {
		return fmt.Errorf("inbox: read %s: %w", i.Dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isZip(entry.Name()) {
			submit(filepath.Join(i.Dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, timer := range timers {
				timer.Stop()
			}
			mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("inbox: event channel closed unexpectedly")
			}
			if !isZip(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path := event.Name
			mu.Lock()
			if timer, exists := timers[path]; exists {
				timer.Reset(delay)
			} else {
				timers[path] = time.AfterFunc(delay, func() { submit(path) })
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("inbox: error channel closed unexpectedly")
			}
			i.logger.Warn("watch error", "err", err)
		}
	}
}

func isZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}
