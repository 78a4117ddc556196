// Package reliability runs the daemon's periodic housekeeping against the
// single durable store: integrity checks, WAL checkpoints, disk space
// monitoring, and trade-history pruning (SPEC_FULL.md §4.12).
//
// Grounded on the teacher's internal/reliability/maintenance_jobs.go, which
// drove daily/weekly/monthly jobs across a 7-database architecture (ledger,
// portfolio, history, cache, ...). This daemon has exactly one durable
// store, so the three jobs collapse into one: the per-database health
// checks, WAL-checkpoint loop, and disk-space gate survive unchanged in
// spirit, the backup-verification steps are dropped (no backup service is
// in scope per §1's admin-surface Non-goal), and VACUUM is skipped for the
// same reason the teacher skips it on its ledger database — trade_history
// and enforcement_log are both append-mostly audit trails, not a table
// that benefits from periodic compaction.
package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/aristath/riskguard/internal/scheduler/base"
	"github.com/aristath/riskguard/internal/store"
	"github.com/rs/zerolog"
)

// MaintenanceJob runs the daemon's periodic store housekeeping.
type MaintenanceJob struct {
	base.JobBase
	db          *store.DB
	st          *store.Store
	dataDir     string
	historyDays int
	log         zerolog.Logger
}

// NewMaintenanceJob constructs the job. historyDays is the trade-history
// retention window (§4.12: "pruned to <=7 days on startup").
func NewMaintenanceJob(db *store.DB, st *store.Store, dataDir string, historyDays int, log zerolog.Logger) *MaintenanceJob {
	if historyDays <= 0 {
		historyDays = 7
	}
	return &MaintenanceJob{
		db:          db,
		st:          st,
		dataDir:     dataDir,
		historyDays: historyDays,
		log:         log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler registration.
func (j *MaintenanceJob) Name() string { return "maintenance" }

// Run executes one maintenance pass: integrity check, WAL checkpoint, disk
// space gate, trade-history prune.
func (j *MaintenanceJob) Run() (err error) {
	j.log.Info().Msg("starting maintenance pass")
	start := time.Now()
	defer func() { j.RecordRun(start, time.Since(start), err) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: store integrity check failed")
		return fmt.Errorf("store integrity check failed: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -j.historyDays)
	pruned, err := j.st.PruneTradeHistory(cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("trade history prune failed")
	} else {
		j.log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("trade history pruned")
	}

	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Msg("store size")
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("maintenance pass completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("disk space check")

	if availableGB < 0.5 {
		j.log.Error().Float64("available_gb", availableGB).Msg("CRITICAL: insufficient disk space")
		return fmt.Errorf("only %.2f GB free on %s", availableGB, j.dataDir)
	}
	if availableGB < 5.0 {
		j.log.Warn().Float64("available_gb", availableGB).Msg("disk space running low")
	}
	return nil
}

// RunEvery runs one pass at once (so the trade-history prune happens on
// startup) and then one pass per interval until ctx is cancelled, logging
// (not aborting) on a failed pass so a transient disk hiccup does not kill
// the daemon's housekeeping loop permanently.
func (j *MaintenanceJob) RunEvery(ctx context.Context, interval time.Duration) {
	if err := j.Run(); err != nil {
		j.log.Error().Err(err).Msg("maintenance pass failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(); err != nil {
				j.log.Error().Err(err).Msg("maintenance pass failed")
			}
		}
	}
}
