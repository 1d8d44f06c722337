package search

import (
	"context"
	"time"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

const retentionBatchSize = 1000

// RetentionConfig tunes the index retention job.
type RetentionConfig struct {
	Days     int           // documents older than this are deleted; 0 disables
	Interval time.Duration // how often the job runs
}

// RetentionConfigFromEnv builds a RetentionConfig from viper keys.
func RetentionConfigFromEnv() RetentionConfig {
	cfg := RetentionConfig{
		Days:     viper.GetInt("RETENTION_DAYS"),
		Interval: viper.GetDuration("RETENTION_INTERVAL"),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return cfg
}

// PurgeOlderThan batch-deletes indexed documents with a message date before
// cutoff. Returns the number of rows deleted.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM emails
			WHERE id IN (
				SELECT id FROM emails WHERE date < $1 ORDER BY date ASC LIMIT $2
			)`, cutoff, retentionBatchSize)
		if err != nil {
			return total, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "retention delete failed", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return total, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "retention rows affected failed", err)
		}
		total += affected

		if affected < retentionBatchSize {
			return total, nil
		}
	}
}

// RunRetention periodically purges indexed documents older than cfg.Days.
// Runs once at startup, then every cfg.Interval, until ctx is cancelled.
// A zero Days disables the job.
func RunRetention(ctx context.Context, cfg RetentionConfig, store *Store, log logger.Logger) {
	if cfg.Days <= 0 {
		return
	}
	log = log.WithComponent("retention")

	run := func() {
		start := time.Now()
		cutoff := start.AddDate(0, 0, -cfg.Days)

		deleted, err := store.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			log.Error("Retention run failed", err, logger.Int64("deleted", deleted))
			return
		}
		if deleted > 0 {
			log.Info("Retention run complete",
				logger.Int64("deleted", deleted),
				logger.Int("retention_days", cfg.Days),
				logger.Duration("duration", time.Since(start)))
		}
	}

	run()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
