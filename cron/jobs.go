package cron

import (
	"context"

	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

// RegisterMaintenanceJobs wires the standing jobs: the sweep deletes
// expired local cache entries, the janitor reports cache footprint and
// prunes dead partition keys. Lazy expiry already guarantees expired
// data is never served; the jobs just reclaim the space sooner.
func RegisterMaintenanceJobs(m *Manager, logger types.Logger, local types.LocalCache, store types.PartitionStore) error {
	cronConfig := m.config.GetConfig().Cron

	if local != nil {
		err := m.Add("localcache-sweep", cronConfig.SweepSchedule, func() {
			removed, err := local.ClearExpired()
			if err != nil {
				logger.Error("local cache sweep failed", zap.Error(err))
				return
			}
			if removed > 0 {
				logger.Info("local cache sweep removed entries", zap.Int("removed", removed))
			}
		})
		if err != nil {
			return err
		}
	}

	err := m.Add("partition-janitor", cronConfig.JanitorSchedule, func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		names, err := store.Partitions(ctx)
		if err != nil {
			logger.Error("partition janitor failed to list partitions", zap.Error(err))
			return
		}

		var total int64
		for _, name := range names {
			if _, err := store.Keys(ctx, name); err != nil {
				logger.Warn("partition janitor key scan failed",
					zap.String("partition", name),
					zap.Error(err))
				continue
			}

			size, err := store.Size(ctx, name)
			if err != nil {
				continue
			}
			total += size
		}

		logger.Info("partition janitor finished",
			zap.Int("partitions", len(names)),
			zap.Int64("total_bytes", total))
	})
	if err != nil {
		return err
	}

	return nil
}
