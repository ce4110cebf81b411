package storage

import (
	"context"
	"time"

	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
)

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// scheduleRollups queues the touched (device, family, name, hour) keys for
// recomputation off the write path.
func (e *Engine) scheduleRollups(keys map[rollupKey]struct{}) {
	if len(keys) == 0 {
		return
	}
	e.rollupMu.Lock()
	for k := range keys {
		e.pendingRollup[k] = struct{}{}
	}
	e.rollupMu.Unlock()

	select {
	case e.rollupSignal <- struct{}{}:
	default:
	}
}

// SyncRollups drains every pending rollup key synchronously. The background
// worker calls it on its own schedule; callers needing rollup quiescence
// (tests, shutdown) may call it directly.
func (e *Engine) SyncRollups(ctx context.Context) {
	e.rollupMu.Lock()
	pending := e.pendingRollup
	e.pendingRollup = make(map[rollupKey]struct{})
	e.rollupMu.Unlock()

	for k := range pending {
		if err := e.recomputeHour(ctx, k); err != nil {
			log.Warn().Err(err).
				Str("device", k.deviceID).
				Str("family", string(k.family)).
				Str("metric", k.name).
				Msg("Hourly rollup recompute failed")
		}
	}
}

// recomputeHour rebuilds one hourly aggregate from scratch over all raw
// points in that hour. The full recompute (rather than an incremental
// update) keeps the record correct under concurrent writers at the cost of
// O(points-in-hour) work.
func (e *Engine) recomputeHour(ctx context.Context, key rollupKey) error {
	points := e.Query(ctx, QueryFilter{
		DeviceIDs: []string{key.deviceID},
		Families:  []models.MetricFamily{key.family},
		Names:     []string{key.name},
		Start:     unixTime(key.hour),
		End:       unixTime(key.hour + 3599),
		Ascending: true,
	})

	var (
		count    int64
		sum      float64
		min, max float64
	)
	for _, p := range points {
		v, ok := p.Value.Numeric()
		if !ok {
			continue
		}
		if count == 0 || v < min {
			min = v
		}
		if count == 0 || v > max {
			max = v
		}
		sum += v
		count++
	}

	if count == 0 {
		// Nothing numeric in the hour; drop any stale record.
		_, err := e.db.ExecContext(ctx, `
			DELETE FROM metrics_hourly
			WHERE device_id = ? AND family = ? AND name = ? AND hour_start = ?
		`, key.deviceID, string(key.family), key.name, key.hour)
		return err
	}

	mean := sum / float64(count)
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO metrics_hourly (device_id, family, name, hour_start,
			min_value, max_value, mean_value, sample_count, sum_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, family, name, hour_start) DO UPDATE SET
			min_value = excluded.min_value,
			max_value = excluded.max_value,
			mean_value = excluded.mean_value,
			sample_count = excluded.sample_count,
			sum_value = excluded.sum_value
	`, key.deviceID, string(key.family), key.name, key.hour, min, max, mean, count, sum)
	return err
}
