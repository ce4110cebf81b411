package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/netwatch-io/netwatch/internal/models"
)

// CompressionType tags how a row's value bytes are packed.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
)

// EncryptionLevel tags how a row's value bytes are protected. Levels above
// none all use the same process-wide key today; the tag is persisted so a
// future scheme can treat them differently without a migration.
type EncryptionLevel string

const (
	EncryptionNone      EncryptionLevel = "none"
	EncryptionBasic     EncryptionLevel = "basic"
	EncryptionAdvanced  EncryptionLevel = "advanced"
	EncryptionSensitive EncryptionLevel = "sensitive"
)

// RetentionPolicy names the horizon class assigned to a row.
type RetentionPolicy string

const (
	RetentionRealtime  RetentionPolicy = "realtime"
	RetentionShort     RetentionPolicy = "short"
	RetentionMedium    RetentionPolicy = "medium"
	RetentionLong      RetentionPolicy = "long"
	RetentionArchive   RetentionPolicy = "archive"
	RetentionPermanent RetentionPolicy = "permanent"
)

// FinitePolicies lists every policy with a horizon, in cleanup order.
var FinitePolicies = []RetentionPolicy{
	RetentionRealtime, RetentionShort, RetentionMedium, RetentionLong, RetentionArchive,
}

// Horizon returns the retention horizon for a policy; ok is false for
// permanent, which is never deleted.
func (p RetentionPolicy) Horizon() (time.Duration, bool) {
	switch p {
	case RetentionRealtime:
		return time.Hour, true
	case RetentionShort:
		return 24 * time.Hour, true
	case RetentionMedium:
		return 7 * 24 * time.Hour, true
	case RetentionLong:
		return 30 * 24 * time.Hour, true
	case RetentionArchive:
		return 365 * 24 * time.Hour, true
	}
	return 0, false
}

// encryptionLevelFor selects the protection level by metric family.
func encryptionLevelFor(family models.MetricFamily) EncryptionLevel {
	switch family {
	case models.FamilySecurity, models.FamilySystemResources:
		return EncryptionSensitive
	case models.FamilyDocsis, models.FamilyBandwidth:
		return EncryptionAdvanced
	case models.FamilyPerformance, models.FamilyConnectivity:
		return EncryptionBasic
	}
	return EncryptionNone
}

// defaultPolicyFor selects the retention class by metric family.
func defaultPolicyFor(family models.MetricFamily) RetentionPolicy {
	switch family {
	case models.FamilySecurity:
		return RetentionArchive
	case models.FamilyDocsis, models.FamilySystemResources, models.FamilyBandwidth:
		return RetentionLong
	default:
		return RetentionMedium
	}
}

// encodedRow is the outcome of the write-side encoding pipeline.
type encodedRow struct {
	payload     []byte
	valueType   models.ValueType
	compression CompressionType
	encryption  EncryptionLevel
	policy      RetentionPolicy
}

// encodeValue runs serialize -> compress -> encrypt per the engine config.
// A value whose serialized length equals the threshold is not compressed;
// one byte larger is.
func (e *Engine) encodeValue(point models.MetricPoint) (encodedRow, error) {
	row := encodedRow{
		valueType:   point.Value.Type,
		compression: CompressionNone,
		encryption:  EncryptionNone,
		policy:      e.policyFor(point.Family),
	}

	payload, err := point.Value.Encode()
	if err != nil {
		return row, fmt.Errorf("serialize value: %w", err)
	}

	if e.cfg.EnableCompression && len(payload) > e.cfg.CompressionThresholdBytes {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return row, fmt.Errorf("compress value: %w", err)
		}
		if err := zw.Close(); err != nil {
			return row, fmt.Errorf("compress value: %w", err)
		}
		payload = buf.Bytes()
		row.compression = CompressionGzip
	}

	if level := encryptionLevelFor(point.Family); e.cfg.EnableEncryption && level != EncryptionNone {
		encrypted, err := e.crypto.Encrypt(payload)
		if err != nil {
			return row, fmt.Errorf("encrypt value: %w", err)
		}
		payload = encrypted
		row.encryption = level
	}

	row.payload = payload
	return row, nil
}

// decodeValue inverts the pipeline, selecting decrypt/decompress by the
// row's persisted tags.
func (e *Engine) decodeValue(payload []byte, valueType models.ValueType, compression CompressionType, encryption EncryptionLevel) (models.Value, error) {
	if encryption != EncryptionNone {
		if e.crypto == nil {
			return models.Value{}, fmt.Errorf("row is encrypted but encryption is disabled")
		}
		decrypted, err := e.crypto.Decrypt(payload)
		if err != nil {
			return models.Value{}, fmt.Errorf("decrypt value: %w", err)
		}
		payload = decrypted
	}

	if compression == CompressionGzip {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return models.Value{}, fmt.Errorf("decompress value: %w", err)
		}
		decompressed, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return models.Value{}, fmt.Errorf("decompress value: %w", err)
		}
		payload = decompressed
	}

	return models.DecodeValue(valueType, payload)
}

func (e *Engine) policyFor(family models.MetricFamily) RetentionPolicy {
	if p, ok := e.cfg.RetentionPolicies[family]; ok {
		return p
	}
	return defaultPolicyFor(family)
}

// familiesWithPolicy lists the families a policy currently governs, with
// per-family overrides applied.
func (e *Engine) familiesWithPolicy(policy RetentionPolicy) []models.MetricFamily {
	var out []models.MetricFamily
	for _, f := range models.AllFamilies {
		if e.policyFor(f) == policy {
			out = append(out, f)
		}
	}
	return out
}
