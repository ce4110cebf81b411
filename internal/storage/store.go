// Package storage is the durable point store: an embedded SQLite database
// holding raw metric points with per-row encoding tags, hourly rollups,
// retention bookkeeping, and background maintenance.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/netwatch-io/netwatch/internal/crypto"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Config holds storage engine tunables.
type Config struct {
	DatabasePath              string
	EncryptionKeyPath         string
	MaxDBSizeMB               int
	CompressionThresholdBytes int
	BatchSize                 int
	VacuumIntervalHours       int
	BackupIntervalHours       int
	BackupDir                 string
	CompressBackups           bool
	EnableEncryption          bool
	EnableCompression         bool
	RetentionPolicies         map[models.MetricFamily]RetentionPolicy
	// MaxConns sizes the connection pool; one connection per worker.
	MaxConns int
}

// DefaultConfig returns sensible defaults rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DatabasePath:              filepath.Join(dataDir, "metrics.db"),
		EncryptionKeyPath:         filepath.Join(dataDir, ".storage_key"),
		MaxDBSizeMB:               1024,
		CompressionThresholdBytes: 1024,
		BatchSize:                 1000,
		VacuumIntervalHours:       24,
		BackupIntervalHours:       6,
		BackupDir:                 dataDir,
		EnableEncryption:          true,
		EnableCompression:         true,
		MaxConns:                  4,
	}
}

// StoreResult reports the outcome of one write batch.
type StoreResult struct {
	Stored int `json:"stored"`
	Errors int `json:"errors"`
	Total  int `json:"total"`
}

// rollupKey identifies one hourly aggregate to recompute.
type rollupKey struct {
	deviceID string
	family   models.MetricFamily
	name     string
	hour     int64 // unix seconds at hour start
}

// Engine owns all durable state of the telemetry core.
type Engine struct {
	cfg    Config
	db     *sql.DB
	crypto *crypto.Manager

	rollupMu      sync.Mutex
	pendingRollup map[rollupKey]struct{}
	rollupSignal  chan struct{}

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New opens (creating if needed) the store and starts its background
// workers. With encryption enabled, a missing key is generated and an
// unreadable or corrupted key file refuses to start.
func New(cfg Config) (*Engine, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("storage: database path required")
	}
	if cfg.CompressionThresholdBytes <= 0 {
		cfg.CompressionThresholdBytes = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Dir(cfg.DatabasePath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}

	var cm *crypto.Manager
	if cfg.EnableEncryption {
		keyPath := cfg.EncryptionKeyPath
		if keyPath == "" {
			keyPath = filepath.Join(filepath.Dir(cfg.DatabasePath), ".storage_key")
		}
		var err error
		cm, err = crypto.NewManager(keyPath)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	// Pragmas in the DSN so every pooled connection is configured.
	dsn := cfg.DatabasePath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"temp_store(MEMORY)",
			"cache_size(-8000)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(0)

	e := &Engine{
		cfg:           cfg,
		db:            db,
		crypto:        cm,
		pendingRollup: make(map[rollupKey]struct{}),
		rollupSignal:  make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}

	go e.backgroundWorker()

	log.Info().
		Str("path", cfg.DatabasePath).
		Bool("encryption", cfg.EnableEncryption).
		Bool("compression", cfg.EnableCompression).
		Msg("Storage engine initialized")
	return e, nil
}

func (e *Engine) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			device_kind TEXT NOT NULL DEFAULT '',
			family TEXT NOT NULL,
			name TEXT NOT NULL,
			value BLOB NOT NULL,
			value_type TEXT NOT NULL,
			compression_type TEXT NOT NULL DEFAULT 'none',
			encryption_level TEXT NOT NULL DEFAULT 'none',
			retention_policy TEXT NOT NULL DEFAULT 'medium',
			unit TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp);
		CREATE INDEX IF NOT EXISTS idx_metrics_device ON metrics(device_id);
		CREATE INDEX IF NOT EXISTS idx_metrics_family ON metrics(family);
		CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(name);
		CREATE INDEX IF NOT EXISTS idx_metrics_retention ON metrics(retention_policy);
		CREATE INDEX IF NOT EXISTS idx_metrics_lookup ON metrics(device_id, family, timestamp);

		CREATE TABLE IF NOT EXISTS metrics_hourly (
			device_id TEXT NOT NULL,
			family TEXT NOT NULL,
			name TEXT NOT NULL,
			hour_start INTEGER NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			mean_value REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			sum_value REAL NOT NULL,
			UNIQUE(device_id, family, name, hour_start)
		);

		CREATE INDEX IF NOT EXISTS idx_hourly_time ON metrics_hourly(hour_start);

		CREATE TABLE IF NOT EXISTS retention_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ran_at INTEGER NOT NULL,
			policy TEXT NOT NULL,
			deleted_rows INTEGER NOT NULL,
			freed_bytes INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS storage_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at INTEGER NOT NULL,
			total_points INTEGER NOT NULL,
			hourly_rows INTEGER NOT NULL,
			db_size_bytes INTEGER NOT NULL
		);
	`
	_, err := e.db.Exec(schema)
	return err
}

// Store persists a batch of points in a single transaction. Per-point
// encoding failures drop just that point; a transaction failure rolls the
// whole batch back and reports every point as an error.
func (e *Engine) Store(ctx context.Context, points []models.MetricPoint) StoreResult {
	result := StoreResult{Total: len(points)}
	if len(points) == 0 {
		return result
	}

	tx, err := e.beginWithRetry(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin metrics transaction")
		result.Errors = result.Total
		return result
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics (device_id, device_name, device_kind, family, name,
			value, value_type, compression_type, encryption_level,
			retention_policy, unit, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare metrics insert")
		result.Errors = result.Total
		return result
	}
	defer stmt.Close()

	touched := make(map[rollupKey]struct{})
	for _, p := range points {
		row, err := e.encodeValue(p)
		if err != nil {
			result.Errors++
			log.Warn().Err(err).Str("device", p.DeviceID).Str("metric", p.Name).
				Msg("Dropping point that failed encoding")
			continue
		}

		var meta []byte
		if len(p.Metadata) > 0 {
			meta, _ = json.Marshal(p.Metadata)
		}

		ts := p.Timestamp.Unix()
		if _, err := stmt.ExecContext(ctx, p.DeviceID, p.DeviceName, string(p.DeviceKind),
			string(p.Family), p.Name, row.payload, string(row.valueType),
			string(row.compression), string(row.encryption), string(row.policy),
			p.Unit, ts, nullableString(meta)); err != nil {
			tx.Rollback()
			log.Error().Err(err).Msg("Metrics batch insert failed, rolling back")
			result.Stored = 0
			result.Errors = result.Total
			return result
		}
		result.Stored++
		touched[rollupKey{
			deviceID: p.DeviceID,
			family:   p.Family,
			name:     p.Name,
			hour:     ts - ts%3600,
		}] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit metrics batch")
		result.Stored = 0
		result.Errors = result.Total
		return result
	}

	e.scheduleRollups(touched)
	return result
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (e *Engine) beginWithRetry(ctx context.Context) (*sql.Tx, error) {
	var tx *sql.Tx
	var err error
	for i := 0; i < 5; i++ {
		tx, err = e.db.BeginTx(ctx, nil)
		if err == nil {
			return tx, nil
		}
		if i < 4 && strings.Contains(err.Error(), "database is locked") {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		break
	}
	return nil, err
}

// QueryFilter selects points. Zero values mean "any".
type QueryFilter struct {
	DeviceIDs []string
	Kinds     []models.DeviceKind
	Families  []models.MetricFamily
	Names     []string
	Start     time.Time
	End       time.Time
	Limit     int
	OrderBy   string // "timestamp" (default) or "device_id"
	Ascending bool
}

// Query composes a parameterized query and returns decoded points. Rows
// that fail decoding are skipped and logged; a query error returns an empty
// slice so callers treat it as "no data".
func (e *Engine) Query(ctx context.Context, filter QueryFilter) []models.MetricPoint {
	var where []string
	var args []interface{}

	appendIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		where = append(where, fmt.Sprintf("%s IN (%s)", column, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}

	appendIn("device_id", filter.DeviceIDs)
	appendIn("name", filter.Names)
	if len(filter.Kinds) > 0 {
		vals := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			vals[i] = string(k)
		}
		appendIn("device_kind", vals)
	}
	if len(filter.Families) > 0 {
		vals := make([]string, len(filter.Families))
		for i, f := range filter.Families {
			vals[i] = string(f)
		}
		appendIn("family", vals)
	}
	if !filter.Start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Start.Unix())
	}
	if !filter.End.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.End.Unix())
	}

	query := `SELECT device_id, device_name, device_kind, family, name,
		value, value_type, compression_type, encryption_level, unit, timestamp, metadata
		FROM metrics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	orderCol := "timestamp"
	if filter.OrderBy == "device_id" {
		orderCol = "device_id"
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", orderCol, direction, direction)

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error().Err(err).Msg("Metrics query failed")
		return nil
	}
	defer rows.Close()

	var points []models.MetricPoint
	for rows.Next() {
		var (
			p           models.MetricPoint
			kind        string
			family      string
			payload     []byte
			valueType   string
			compression string
			encryption  string
			ts          int64
			meta        sql.NullString
		)
		if err := rows.Scan(&p.DeviceID, &p.DeviceName, &kind, &family, &p.Name,
			&payload, &valueType, &compression, &encryption, &p.Unit, &ts, &meta); err != nil {
			log.Warn().Err(err).Msg("Failed to scan metric row, skipping")
			continue
		}

		value, err := e.decodeValue(payload, models.ValueType(valueType),
			CompressionType(compression), EncryptionLevel(encryption))
		if err != nil {
			log.Warn().Err(err).Str("device", p.DeviceID).Str("metric", p.Name).
				Msg("Failed to decode metric row, skipping")
			continue
		}

		p.DeviceKind = models.DeviceKind(kind)
		p.Family = models.MetricFamily(family)
		p.Value = value
		p.Timestamp = time.Unix(ts, 0)
		if meta.Valid && meta.String != "" {
			m := map[string]string{}
			if err := json.Unmarshal([]byte(meta.String), &m); err == nil {
				p.Metadata = m
			}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Metrics query iteration failed")
	}
	return points
}

// AggregatedQuery returns the hourly rollups for one metric over the last
// hoursBack hours, oldest first.
func (e *Engine) AggregatedQuery(ctx context.Context, deviceID string, family models.MetricFamily, name string, hoursBack int) []models.HourlyRecord {
	if hoursBack <= 0 {
		hoursBack = 1
	}
	now := time.Now().Unix()
	cutoff := now - int64(hoursBack)*3600
	cutoff -= cutoff % 3600

	rows, err := e.db.QueryContext(ctx, `
		SELECT hour_start, min_value, max_value, mean_value, sample_count, sum_value
		FROM metrics_hourly
		WHERE device_id = ? AND family = ? AND name = ? AND hour_start >= ?
		ORDER BY hour_start ASC
	`, deviceID, string(family), name, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Hourly query failed")
		return nil
	}
	defer rows.Close()

	var records []models.HourlyRecord
	for rows.Next() {
		r := models.HourlyRecord{DeviceID: deviceID, Family: family, Name: name}
		var hour int64
		if err := rows.Scan(&hour, &r.Min, &r.Max, &r.Mean, &r.Count, &r.Sum); err != nil {
			log.Warn().Err(err).Msg("Failed to scan hourly row, skipping")
			continue
		}
		r.HourStart = time.Unix(hour, 0)
		records = append(records, r)
	}
	return records
}

// backgroundWorker drives rollups, retention, backups and optimization.
// No error propagates out of the loop: each pass catches, logs, continues.
func (e *Engine) backgroundWorker() {
	defer close(e.doneCh)

	retention := time.NewTicker(time.Hour)
	defer retention.Stop()

	backupEvery := time.Duration(e.cfg.BackupIntervalHours) * time.Hour
	if backupEvery <= 0 {
		backupEvery = 6 * time.Hour
	}
	backup := time.NewTicker(backupEvery)
	defer backup.Stop()

	optimizeEvery := time.Duration(e.cfg.VacuumIntervalHours) * time.Hour
	if optimizeEvery <= 0 {
		optimizeEvery = 24 * time.Hour
	}
	optimize := time.NewTicker(optimizeEvery)
	defer optimize.Stop()

	for {
		select {
		case <-e.stopCh:
			// Drain any scheduled rollups before shutting down.
			e.SyncRollups(context.Background())
			return
		case <-e.rollupSignal:
			e.SyncRollups(context.Background())
		case <-retention.C:
			if _, err := e.ApplyRetention(context.Background()); err != nil {
				log.Error().Err(err).Msg("Retention pass failed")
			}
			e.snapshotStats()
		case <-backup.C:
			if _, err := e.Backup(context.Background(), ""); err != nil {
				log.Error().Err(err).Msg("Scheduled backup failed")
			}
		case <-optimize.C:
			if _, err := e.Optimize(context.Background()); err != nil {
				log.Error().Err(err).Msg("Scheduled optimize failed")
			}
		}
	}
}

// Close stops background work and closes the database.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	select {
	case <-e.doneCh:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Storage engine shutdown timed out")
	}
	return e.db.Close()
}
