// SPDX-License-Identifier: MPL-2.0

// Package watch keeps the catalog current: a sweeper polls each package's
// repository for new commits or tags and enqueues ingestion runs, and an
// inbox watcher picks up zip files dropped into an upload directory.
package watch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/contentvault/contentvault/internal/pipeline"
	"github.com/contentvault/contentvault/internal/store"
	"github.com/contentvault/contentvault/internal/vcs"
)

// defaultRunsPerMinute is the ceiling on repository checks per minute,
// protecting upstream hosting providers from burst polling.
const defaultRunsPerMinute = 60

// breakerTripThreshold is the consecutive-failure count that opens a
// host's circuit.
const breakerTripThreshold = 5

// Sweeper polls package repositories according to their update
// configuration. Hosts that keep failing are skipped via a per-host
// circuit breaker; individual failures are recorded and the sweep moves
// on to the next package.
type Sweeper struct {
	store    *store.Store
	fetcher  *vcs.Fetcher
	pipeline *pipeline.Pipeline

	// RunsPerMinute caps repository checks; zero means the default.
	RunsPerMinute int
	// CloneTimeout bounds remote probes when positive.
	CloneTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker

	logger *log.Logger
}

// NewSweeper creates a sweeper that submits new releases to p.
func NewSweeper(s *store.Store, p *pipeline.Pipeline) *Sweeper {
	return &Sweeper{
		store:    s,
		fetcher:  vcs.NewFetcher(),
		pipeline: p,
		breakers: make(map[string]*circuit.Breaker),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "sweep",
		}),
	}
}

// Run sweeps repeatedly at the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checked, failed, err := s.Sweep(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("sweep complete", "checked", checked, "failed", failed)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep checks every configured package once, pacing checks to the
// per-minute ceiling. It returns how many packages were checked and how
// many failed; a failing package never aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (checked, failed int, err error) {
	var configs []store.UpdateConfig
	err = s.store.DB().Find(&configs).Error
	if err != nil {
		return 0, 0, err
	}

	perMinute := s.RunsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRunsPerMinute
	}
	pace := time.Minute / time.Duration(perMinute)

	for i, cfg := range configs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return checked, failed, ctx.Err()
			case <-time.After(pace):
			}
		}

		var pkg store.Package
		if err := s.store.DB().First(&pkg, cfg.PackageID).Error; err != nil {
			failed++
			s.logger.Warn("update config references missing package",
				"config", cfg.ID, "package", cfg.PackageID)
			continue
		}
		if pkg.Repo == "" {
			continue
		}

		checked++
		if err := s.checkPackage(ctx, &pkg, &cfg); err != nil {
			failed++
			s.logger.Warn("update check failed",
				"package", pkg.Author+"/"+pkg.Name, "repo", pkg.Repo, "err", err)
		}
	}
	return checked, failed, nil
}

// checkPackage probes the package's remote per its trigger and either
// creates a release or marks the package outdated when something new is
// found.
func (s *Sweeper) checkPackage(ctx context.Context, pkg *store.Package, cfg *store.UpdateConfig) error {
	if s.CloneTimeout > 0 {
		s.fetcher.CloneTimeout = s.CloneTimeout
	}
	breaker := s.breakerFor(pkg.Repo)
	if !breaker.Ready() {
		return fmt.Errorf("circuit open for %s", breakerKey(pkg.Repo))
	}

	switch cfg.Trigger {
	case store.TriggerTag:
		var tag *vcs.TagInfo
		err := breaker.Call(func() error {
			return s.withRetry(ctx, func() error {
				var probeErr error
				tag, probeErr = s.fetcher.LatestTag(ctx, pkg.Repo)
				return probeErr
			})
		}, 0)
		if err != nil {
			return err
		}
		if tag == nil || tag.Name == cfg.LastTag {
			return nil
		}
		if err := s.onUpdate(ctx, pkg, cfg, tag.Name, tag.Name); err != nil {
			return err
		}
		return s.store.DB().Model(cfg).Updates(map[string]interface{}{
			"last_tag": tag.Name, "last_commit": tag.Commit,
		}).Error

	default: // TriggerCommit
		var commit string
		err := breaker.Call(func() error {
			return s.withRetry(ctx, func() error {
				var probeErr error
				commit, probeErr = s.fetcher.LatestCommit(ctx, pkg.Repo, cfg.Ref)
				return probeErr
			})
		}, 0)
		if err != nil {
			return err
		}
		if commit == "" || commit == cfg.LastCommit {
			return nil
		}
		title := commit
		if len(title) > 8 {
			title = title[:8]
		}
		if err := s.onUpdate(ctx, pkg, cfg, title, cfg.Ref); err != nil {
			return err
		}
		return s.store.DB().Model(cfg).Update("last_commit", commit).Error
	}
}

// onUpdate reacts to a detected change: create and ingest a release, or
// just mark the package outdated when auto-release is disabled.
func (s *Sweeper) onUpdate(ctx context.Context, pkg *store.Package, cfg *store.UpdateConfig, title, ref string) error {
	if !cfg.MakeRelease {
		now := time.Now()
		return s.store.DB().Model(cfg).Update("outdated_at", &now).Error
	}

	release := &store.Release{PackageID: pkg.ID, Title: title, State: store.ReleasePending}
	if err := s.store.DB().Create(release).Error; err != nil {
		return err
	}
	err := s.pipeline.Run(ctx, release.ID, pipeline.Source{RepoURL: pkg.Repo, Ref: ref})
	if err != nil {
		// The failure is recorded on the release; the sweep goes on.
		s.logger.Warn("auto-release failed",
			"package", pkg.Author+"/"+pkg.Name, "release", release.ID, "err", err)
	}
	return nil
}

// withRetry retries a remote probe with exponential backoff, bounded so
// a dead host cannot stall the sweep.
func (s *Sweeper) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx))
}

func (s *Sweeper) breakerFor(repoURL string) *circuit.Breaker {
	key := breakerKey(repoURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if breaker, ok := s.breakers[key]; ok {
		return breaker
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 30 * time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.Reset()
	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    policy,
		ShouldTrip: circuit.ThresholdTripFunc(breakerTripThreshold),
	})
	s.breakers[key] = breaker
	return breaker
}

// breakerKey groups repositories by host so one failing host does not
// block checks against the others.
func breakerKey(repoURL string) string {
	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.Host == "" {
		return repoURL
	}
	return parsed.Host
}
