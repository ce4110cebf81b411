package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/netwatch-io/netwatch/internal/collectors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/netwatch-io/netwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NETWATCH_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.CollectionInterval)
	assert.Equal(t, 30*time.Second, cfg.EvaluationTick)
	assert.Equal(t, time.Hour, cfg.BaselineInterval)
	assert.InDelta(t, 2.0, cfg.Sensitivity, 1e-9)
	assert.True(t, cfg.EnableEncryption)
	assert.True(t, cfg.EnableCompression)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NETWATCH_DATA_DIR", t.TempDir())
	t.Setenv("NETWATCH_BATCH_SIZE", "250")
	t.Setenv("NETWATCH_MAX_WORKERS", "4")
	t.Setenv("NETWATCH_SENSITIVITY", "3.5")
	t.Setenv("NETWATCH_ENCRYPTION", "false")
	t.Setenv("NETWATCH_RETENTION", "security:archive, wifi_mesh:long")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.InDelta(t, 3.5, cfg.Sensitivity, 1e-9)
	assert.False(t, cfg.EnableEncryption)
	assert.Equal(t, storage.RetentionArchive, cfg.RetentionOverrides[models.FamilySecurity])
	assert.Equal(t, storage.RetentionLong, cfg.RetentionOverrides[models.FamilyWifiMesh])
}

func TestLoadRejectsBadRetention(t *testing.T) {
	t.Setenv("NETWATCH_DATA_DIR", t.TempDir())
	t.Setenv("NETWATCH_RETENTION", "security=archive")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("NETWATCH_RETENTION", "security:forever")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("NETWATCH_DATA_DIR", t.TempDir())
	t.Setenv("NETWATCH_BATCH_SIZE", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"devices": [
			{"id": "modem", "name": "Cable Modem", "kind": "cable_modem",
			 "address": "192.168.100.1", "pollIntervalSeconds": 60},
			{"id": "nas", "name": "NAS", "kind": "linux_server",
			 "address": "192.168.1.20:22", "credentialRef": "nas-ssh",
			 "families": ["connectivity", "system_resources"]}
		]
	}`), 0644))

	devices, err := LoadDevices(path)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, models.DeviceCableModem, devices[0].Kind)
	assert.Equal(t, time.Minute, devices[0].PollInterval)
	assert.Nil(t, devices[0].Families)

	assert.Equal(t, "nas-ssh", devices[1].CredentialRef)
	assert.True(t, devices[1].FamilyEnabled(models.FamilySystemResources))
	assert.False(t, devices[1].FamilyEnabled(models.FamilyDocsis))
}

func TestLoadDevicesMissingFile(t *testing.T) {
	devices, err := LoadDevices(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, devices)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rules": [
			{"id": "cpu-high", "name": "CPU high", "severity": "warning",
			 "operator": ">", "threshold": 80, "evaluationWindowSeconds": 300,
			 "consecutiveBreaches": 3, "cooldownMinutes": 30,
			 "autoResolve": true, "channels": ["stream", "email"]},
			{"id": "snr-anomaly", "name": "SNR anomaly", "severity": "critical",
			 "operator": "anomaly", "families": ["docsis"],
			 "nameFilter": "downstream_*", "evaluationWindowSeconds": 600,
			 "enabled": false}
		]
	}`), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, alerts.OpGreater, rules[0].Operator)
	assert.Equal(t, 5*time.Minute, rules[0].EvaluationWindow)
	assert.Equal(t, 3, rules[0].ConsecutiveBreaches)
	assert.True(t, rules[0].Enabled, "enabled defaults to true")
	assert.Equal(t, []string{"stream", "email"}, rules[0].Channels)

	assert.Equal(t, alerts.OpAnomaly, rules[1].Operator)
	assert.False(t, rules[1].Enabled)
	assert.Equal(t, 1, rules[1].ConsecutiveBreaches, "consecutive breaches defaults to 1")
	assert.Equal(t, []models.MetricFamily{models.FamilyDocsis}, rules[1].Families)
}

func TestLoadScrapeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrape.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"cableModemStatusPath": "/status2.html",
		"downstreamPowerPattern": "DS Power:\\s*(-?\\d+\\.?\\d*)"
	}`), 0644))

	sc, err := LoadScrapeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/status2.html", sc.CableModemStatusPath)
	assert.Contains(t, sc.DownstreamPowerPattern, "DS Power")
	assert.Empty(t, sc.GatewayUsagePath, "unset fields stay zero so vendor defaults apply")
}

func TestLoadScrapeConfigMissingFile(t *testing.T) {
	sc, err := LoadScrapeConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, collectors.ScrapeConfig{}, sc)
}

func TestApplyRulesRemovesStaleRules(t *testing.T) {
	engine := alerts.NewEngine(alerts.Config{}, nil, nil)

	first := []alerts.Rule{
		{ID: "a", Name: "a", Enabled: true, Operator: alerts.OpGreater,
			EvaluationWindow: time.Minute, ConsecutiveBreaches: 1},
		{ID: "b", Name: "b", Enabled: true, Operator: alerts.OpGreater,
			EvaluationWindow: time.Minute, ConsecutiveBreaches: 1},
	}
	ApplyRules(engine, first)
	assert.Len(t, engine.Rules(), 2)

	second := first[:1]
	ApplyRules(engine, second)
	rules := engine.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "a", rules[0].ID)
}
