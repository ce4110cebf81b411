package storage

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionResult summarizes one cleanup pass.
type RetentionResult struct {
	Deleted    int64                     `json:"deleted"`
	FreedBytes int64                     `json:"freedBytes"`
	PerPolicy  map[RetentionPolicy]int64 `json:"perPolicy"`
}

// ApplyRetention deletes raw points older than each finite policy's horizon
// and, for the families that policy governs, hourly rollup rows older than
// the same cutoff. Permanent rows are never touched, even when the database
// exceeds its size cap. A vacuum runs only when something was deleted.
func (e *Engine) ApplyRetention(ctx context.Context) (RetentionResult, error) {
	start := time.Now()
	result := RetentionResult{PerPolicy: make(map[RetentionPolicy]int64)}

	sizeBefore := e.dbFileSize()

	for _, policy := range FinitePolicies {
		horizon, ok := policy.Horizon()
		if !ok {
			continue
		}
		cutoff := time.Now().Add(-horizon).Unix()

		res, err := e.db.ExecContext(ctx,
			`DELETE FROM metrics WHERE retention_policy = ? AND timestamp < ?`,
			string(policy), cutoff)
		if err != nil {
			log.Warn().Err(err).Str("policy", string(policy)).Msg("Retention delete failed")
			continue
		}
		deleted, _ := res.RowsAffected()
		if deleted > 0 {
			result.PerPolicy[policy] = deleted
			result.Deleted += deleted
		}

		// Hourly rows age out with the same cutoff as their raw points,
		// scoped to the families this policy governs so a short horizon
		// never takes rollups whose raw points are still live. They are
		// not separately counted in the retention log.
		if families := e.familiesWithPolicy(policy); len(families) > 0 {
			args := make([]interface{}, 0, len(families)+1)
			args = append(args, cutoff)
			marks := make([]string, len(families))
			for i, f := range families {
				marks[i] = "?"
				args = append(args, string(f))
			}
			if _, err := e.db.ExecContext(ctx,
				`DELETE FROM metrics_hourly WHERE hour_start < ? AND family IN (`+
					strings.Join(marks, ",")+`)`, args...); err != nil {
				log.Warn().Err(err).Str("policy", string(policy)).Msg("Hourly retention delete failed")
			}
		}

		if deleted > 0 {
			if _, err := e.db.ExecContext(ctx, `
				INSERT INTO retention_log (ran_at, policy, deleted_rows, freed_bytes)
				VALUES (?, ?, ?, 0)
			`, time.Now().Unix(), string(policy), deleted); err != nil {
				log.Warn().Err(err).Msg("Failed to record retention log entry")
			}
		}
	}

	if result.Deleted > 0 {
		if _, err := e.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn().Err(err).Msg("Post-retention vacuum failed")
		}
		result.FreedBytes = sizeBefore - e.dbFileSize()
		if result.FreedBytes < 0 {
			result.FreedBytes = 0
		}
		if _, err := e.db.ExecContext(ctx, `
			UPDATE retention_log SET freed_bytes = ? WHERE id = (SELECT MAX(id) FROM retention_log)
		`, result.FreedBytes); err != nil {
			log.Warn().Err(err).Msg("Failed to update retention log freed bytes")
		}

		log.Info().
			Int64("deleted", result.Deleted).
			Int64("freedBytes", result.FreedBytes).
			Dur("duration", time.Since(start)).
			Msg("Retention cleanup completed")
	}

	return result, nil
}

func (e *Engine) dbFileSize() int64 {
	fi, err := os.Stat(e.cfg.DatabasePath)
	if err != nil {
		return 0
	}
	return fi.Size()
}
