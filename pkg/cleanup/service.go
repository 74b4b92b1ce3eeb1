// Package cleanup provides artifact retention and session pruning.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/garagehq/advisor/pkg/store"
)

// Config tunes the retention loop.
type Config struct {
	// ArtifactDir is the directory holding screenshots and PDFs.
	ArtifactDir string
	// ArtifactTTL is how old an artifact may get before deletion.
	ArtifactTTL time.Duration
	// MaxScreenshots caps retained screenshots; oldest are dropped first.
	MaxScreenshots int
	// SessionTTL is how long a chat's last result is kept in the store.
	SessionTTL time.Duration
	// Interval is the loop period.
	Interval time.Duration
}

// Service periodically enforces retention:
//   - Removes artifacts older than the TTL
//   - Caps the screenshot count, oldest first
//   - Prunes stale session-store entries
//
// All passes are idempotent.
type Service struct {
	cfg   Config
	store *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service.
func NewService(cfg Config, st *store.Store) *Service {
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = 24 * time.Hour
	}
	if cfg.MaxScreenshots <= 0 {
		cfg.MaxScreenshots = 100
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Service{cfg: cfg, store: st}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"artifact_dir", s.cfg.ArtifactDir,
		"artifact_ttl", s.cfg.ArtifactTTL,
		"max_screenshots", s.cfg.MaxScreenshots,
		"interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll()
		}
	}
}

func (s *Service) runAll() {
	s.expireArtifacts()
	s.capScreenshots()
	s.pruneSessions()
}

type artifact struct {
	path    string
	modTime time.Time
}

func (s *Service) listArtifacts() []artifact {
	entries, err := os.ReadDir(s.cfg.ArtifactDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Retention: reading artifact dir failed", "error", err)
		}
		return nil
	}
	var out []artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, artifact{
			path:    filepath.Join(s.cfg.ArtifactDir, e.Name()),
			modTime: info.ModTime(),
		})
	}
	return out
}

func (s *Service) expireArtifacts() {
	cutoff := time.Now().Add(-s.cfg.ArtifactTTL)
	count := 0
	for _, a := range s.listArtifacts() {
		if a.modTime.Before(cutoff) {
			if err := os.Remove(a.path); err == nil {
				count++
			}
		}
	}
	if count > 0 {
		slog.Info("Retention: removed expired artifacts", "count", count)
	}
}

// capScreenshots drops the oldest screenshots beyond the cap. Only PNG
// artifacts count; PDFs are governed by the TTL alone.
func (s *Service) capScreenshots() {
	var shots []artifact
	for _, a := range s.listArtifacts() {
		if strings.HasSuffix(a.path, ".png") {
			shots = append(shots, a)
		}
	}
	if len(shots) <= s.cfg.MaxScreenshots {
		return
	}
	sort.Slice(shots, func(i, j int) bool { return shots[i].modTime.Before(shots[j].modTime) })
	count := 0
	for _, a := range shots[:len(shots)-s.cfg.MaxScreenshots] {
		if err := os.Remove(a.path); err == nil {
			count++
		}
	}
	if count > 0 {
		slog.Info("Retention: capped screenshots", "count", count)
	}
}

func (s *Service) pruneSessions() {
	if s.store == nil {
		return
	}
	if count := s.store.PruneOlderThan(s.cfg.SessionTTL); count > 0 {
		slog.Info("Retention: pruned stale sessions", "count", count)
	}
}
