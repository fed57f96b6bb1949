// Package reaper sweeps stale job state out of the shared store and
// orphaned structure files off the local disk.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/metrics"
	"github.com/proteinops/foldy/pkg/models"
)

// scanPageSize is the SCAN COUNT hint per page.
const scanPageSize = 100

// Service periodically enforces retention:
//   - Deletes terminal job state (and its meta) past the stale threshold
//   - Deletes meta hashes whose state hash is gone (orphans)
//   - Reports or deletes structure files with no backing job
//
// Events are left to expire under their own TTL. All sweeps are
// idempotent and safe to run from multiple instances concurrently.
type Service struct {
	cfg           *config.ReaperConfig
	kv            *kv.Client
	structuresDir string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the reaper.
func NewService(cfg *config.ReaperConfig, client *kv.Client, structuresDir string) *Service {
	return &Service{
		cfg:           cfg,
		kv:            client,
		structuresDir: structuresDir,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Reaper started",
		"interval", s.cfg.Interval,
		"stale_terminal_threshold", s.cfg.StaleTerminalThreshold,
		"orphan_meta_threshold", s.cfg.OrphanMetaThreshold,
		"dry_run", s.cfg.DryRun)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.sweepStaleTerminal(ctx)
	s.sweepOrphanMeta(ctx)
	s.sweepOrphanFiles(ctx)
}

// sweepStaleTerminal removes state+meta for terminal jobs whose last
// update is past the stale threshold. Non-terminal state is never
// touched regardless of age.
func (s *Service) sweepStaleTerminal(ctx context.Context) {
	rdb := s.kv.Redis()
	cutoff := time.Now().Add(-s.cfg.StaleTerminalThreshold).UnixMilli()

	var removed int
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, s.kv.StateKeyPattern(), scanPageSize).Result()
		if err != nil {
			slog.Error("Reaper: state scan failed", "error", err)
			return
		}

		for _, key := range keys {
			vals, err := rdb.HMGet(ctx, key, "status", "updated_at").Result()
			if err != nil {
				slog.Warn("Reaper: state read failed", "key", key, "error", err)
				continue
			}
			status, updatedAt, ok := parseStateFields(vals)
			if !ok || !status.IsTerminal() || updatedAt >= cutoff {
				continue
			}

			jobID := s.kv.JobIDFromStateKey(key)
			if jobID == "" {
				continue
			}
			if err := rdb.Del(ctx, key, s.kv.MetaKey(jobID)).Err(); err != nil {
				slog.Warn("Reaper: delete failed", "job_id", jobID, "error", err)
				continue
			}
			removed++
			metrics.ReaperDeletions.WithLabelValues("state").Inc()
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	if removed > 0 {
		slog.Info("Reaper: removed stale terminal jobs", "count", removed)
	}
}

// sweepOrphanMeta removes meta hashes whose state hash no longer exists
// and whose created_at is past the orphan threshold.
func (s *Service) sweepOrphanMeta(ctx context.Context) {
	rdb := s.kv.Redis()
	cutoff := time.Now().Add(-s.cfg.OrphanMetaThreshold).UnixMilli()

	var removed int
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, s.kv.MetaKeyPattern(), scanPageSize).Result()
		if err != nil {
			slog.Error("Reaper: meta scan failed", "error", err)
			return
		}

		for _, key := range keys {
			jobID := s.kv.JobIDFromMetaKey(key)
			if jobID == "" {
				continue
			}
			exists, err := rdb.Exists(ctx, s.kv.StateKey(jobID)).Result()
			if err != nil {
				slog.Warn("Reaper: state existence check failed", "job_id", jobID, "error", err)
				continue
			}
			if exists > 0 {
				continue
			}

			createdRaw, err := rdb.HGet(ctx, key, "created_at").Result()
			if err != nil {
				continue
			}
			createdAt, err := strconv.ParseInt(createdRaw, 10, 64)
			if err != nil || createdAt >= cutoff {
				continue
			}

			if err := rdb.Del(ctx, key).Err(); err != nil {
				slog.Warn("Reaper: meta delete failed", "job_id", jobID, "error", err)
				continue
			}
			removed++
			metrics.ReaperDeletions.WithLabelValues("meta").Inc()
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	if removed > 0 {
		slog.Info("Reaper: removed orphan meta", "count", removed)
	}
}

// sweepOrphanFiles walks the structures dir and removes files whose job
// no longer has a state hash. In dry-run mode orphans are only reported.
func (s *Service) sweepOrphanFiles(ctx context.Context) {
	entries, err := os.ReadDir(s.structuresDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Reaper: structures dir unreadable", "dir", s.structuresDir, "error", err)
		}
		return
	}

	rdb := s.kv.Redis()
	cutoff := time.Now().Add(-s.cfg.OrphanMetaThreshold)

	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		jobID, ok := jobIDFromStructureFile(entry.Name())
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		exists, err := rdb.Exists(ctx, s.kv.StateKey(jobID)).Result()
		if err != nil {
			slog.Warn("Reaper: state existence check failed", "job_id", jobID, "error", err)
			continue
		}
		if exists > 0 {
			continue
		}

		path := filepath.Join(s.structuresDir, entry.Name())
		if s.cfg.DryRun {
			slog.Info("Reaper: orphan structure file (dry run)", "path", path, "job_id", jobID)
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Reaper: file delete failed", "path", path, "error", err)
			continue
		}
		removed++
		metrics.ReaperDeletions.WithLabelValues("file").Inc()
	}
	if removed > 0 {
		slog.Info("Reaper: removed orphan structure files", "count", removed)
	}
}

func parseStateFields(vals []any) (models.JobStatus, int64, bool) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return "", 0, false
	}
	statusRaw, ok := vals[0].(string)
	if !ok {
		return "", 0, false
	}
	updatedRaw, ok := vals[1].(string)
	if !ok {
		return "", 0, false
	}
	updatedAt, err := strconv.ParseInt(updatedRaw, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return models.JobStatus(statusRaw), updatedAt, true
}

// jobIDFromStructureFile parses "<job_id>_<ordinal>.pdb" names.
func jobIDFromStructureFile(name string) (string, bool) {
	base, found := strings.CutSuffix(name, ".pdb")
	if !found {
		return "", false
	}
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return "", false
	}
	jobID := base[:idx]
	if !models.ValidJobID(jobID) {
		return "", false
	}
	if _, err := strconv.Atoi(base[idx+1:]); err != nil {
		return "", false
	}
	return jobID, true
}
