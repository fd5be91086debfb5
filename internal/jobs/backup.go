package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/token-ledger/internal/config"
	"github.com/openclaw/token-ledger/internal/metrics"
	"github.com/openclaw/token-ledger/internal/model"
	"github.com/openclaw/token-ledger/internal/store"
)

// SnapshotExporter yields a consistent copy of the live ledger.
type SnapshotExporter interface {
	ExportSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// BackupJob periodically copies the live snapshot into a secondary store.
type BackupJob struct {
	source   SnapshotExporter
	target   store.Store
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBackupJob(source SnapshotExporter, target store.Store, interval time.Duration) *BackupJob {
	return &BackupJob{
		source:   source,
		target:   target,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *BackupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("backup job started")
}

// Stop waits for an in-flight backup to finish.
func (j *BackupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("backup job stopped")
	})
}

func (j *BackupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.backup()

	for {
		select {
		case <-j.done:
			j.backup()
			return
		case <-ticker.C:
			j.backup()
		}
	}
}

func (j *BackupJob) backup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.BackupJobTimeout)
	defer cancel()

	if err := j.RunOnce(ctx); err != nil {
		metrics.BackupsTotal.WithLabelValues(metrics.StatusError).Inc()
		log.Error().Err(err).Msg("failed to back up ledger snapshot")
		return
	}
	metrics.BackupsTotal.WithLabelValues(metrics.StatusOK).Inc()
}

// RunOnce performs a single export-and-save pass.
func (j *BackupJob) RunOnce(ctx context.Context) error {
	snap, err := j.source.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := j.target.Save(ctx, snap); err != nil {
		return err
	}

	log.Debug().
		Int("accounts", len(snap.Users)).
		Int("events", len(snap.Logs)).
		Msg("ledger snapshot backed up")
	return nil
}
