package storage

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
)

// BackupResult describes one snapshot backup.
type BackupResult struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Backup snapshots the store into a timestamped file under the backup
// directory (or the explicit path when given), optionally gzipped.
// Best effort: failures log and return the error without halting the engine.
func (e *Engine) Backup(ctx context.Context, path string) (BackupResult, error) {
	if path == "" {
		name := fmt.Sprintf("metrics_backup_%s.db", time.Now().Format("20060102_150405"))
		path = filepath.Join(e.cfg.BackupDir, name)
	}

	// VACUUM INTO produces a consistent snapshot without blocking readers.
	if _, err := e.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Backup failed")
		return BackupResult{}, err
	}

	if e.cfg.CompressBackups {
		gzPath := path + ".gz"
		if err := gzipFile(path, gzPath); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Backup compression failed")
			return BackupResult{}, err
		}
		os.Remove(path)
		path = gzPath
	}

	fi, err := os.Stat(path)
	if err != nil {
		return BackupResult{}, err
	}

	log.Info().Str("path", path).Int64("size", fi.Size()).Msg("Backup completed")
	return BackupResult{OK: true, Path: path, Size: fi.Size()}, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// OptimizeResult reports one maintenance pass.
type OptimizeResult struct {
	OK         bool  `json:"ok"`
	DurationMS int64 `json:"durationMs"`
}

// Optimize runs analyze, reindex and vacuum.
func (e *Engine) Optimize(ctx context.Context) (OptimizeResult, error) {
	start := time.Now()
	for _, stmt := range []string{"ANALYZE", "REINDEX", "VACUUM"} {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			log.Error().Err(err).Str("statement", stmt).Msg("Optimize step failed")
			return OptimizeResult{DurationMS: time.Since(start).Milliseconds()}, err
		}
	}
	elapsed := time.Since(start)
	log.Info().Dur("duration", elapsed).Msg("Storage optimize completed")
	return OptimizeResult{OK: true, DurationMS: elapsed.Milliseconds()}, nil
}

// Statistics summarizes the store for operators.
type Statistics struct {
	TotalPoints     int64                     `json:"totalPoints"`
	HourlyRows      int64                     `json:"hourlyRows"`
	PerPolicy       map[RetentionPolicy]int64 `json:"perPolicy"`
	DBSizeBytes     int64                     `json:"dbSizeBytes"`
	DiskFreeBytes   uint64                    `json:"diskFreeBytes"`
	CompressedRatio float64                   `json:"compressedRatio"`
	EncryptedRatio  float64                   `json:"encryptedRatio"`
}

// Stats gathers row counts, database size, free disk on the data dir, and
// the share of rows that are compressed/encrypted.
func (e *Engine) Stats(ctx context.Context) Statistics {
	stats := Statistics{PerPolicy: make(map[RetentionPolicy]int64)}

	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics`).Scan(&stats.TotalPoints); err != nil {
		log.Warn().Err(err).Msg("Failed to count metrics rows")
	}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics_hourly`).Scan(&stats.HourlyRows); err != nil {
		log.Warn().Err(err).Msg("Failed to count hourly rows")
	}

	rows, err := e.db.QueryContext(ctx, `SELECT retention_policy, COUNT(*) FROM metrics GROUP BY retention_policy`)
	if err == nil {
		for rows.Next() {
			var policy string
			var count int64
			if err := rows.Scan(&policy, &count); err == nil {
				stats.PerPolicy[RetentionPolicy(policy)] = count
			}
		}
		rows.Close()
	}

	if stats.TotalPoints > 0 {
		var compressed, encrypted int64
		e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics WHERE compression_type != 'none'`).Scan(&compressed)
		e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics WHERE encryption_level != 'none'`).Scan(&encrypted)
		stats.CompressedRatio = float64(compressed) / float64(stats.TotalPoints)
		stats.EncryptedRatio = float64(encrypted) / float64(stats.TotalPoints)
	}

	stats.DBSizeBytes = e.dbFileSize()
	if usage, err := disk.Usage(filepath.Dir(e.cfg.DatabasePath)); err == nil {
		stats.DiskFreeBytes = usage.Free
	}
	return stats
}

// snapshotStats records a statistics row for trend auditing.
func (e *Engine) snapshotStats() {
	stats := e.Stats(context.Background())
	if _, err := e.db.Exec(`
		INSERT INTO storage_stats (taken_at, total_points, hourly_rows, db_size_bytes)
		VALUES (?, ?, ?, ?)
	`, time.Now().Unix(), stats.TotalPoints, stats.HourlyRows, stats.DBSizeBytes); err != nil {
		log.Warn().Err(err).Msg("Failed to record storage stats snapshot")
	}
}
