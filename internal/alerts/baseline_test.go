package alerts

import (
	"testing"
	"time"

	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() baselineKey {
	return baselineKey{deviceID: "srv1", family: models.FamilySystemResources, name: "cpu_usage"}
}

func TestComputeBaselineStatistics(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var samples []sample
	for i := 1; i <= 100; i++ {
		samples = append(samples, sample{value: float64(i), at: start.Add(time.Duration(i) * time.Hour)})
	}

	b := computeBaseline(testKey(), samples)
	require.NotNil(t, b)
	assert.InDelta(t, 50.5, b.Mean, 1e-9)
	assert.InDelta(t, 1.0, b.Min, 1e-9)
	assert.InDelta(t, 100.0, b.Max, 1e-9)
	assert.InDelta(t, 95.0, b.P95, 1e-9)
	assert.InDelta(t, 99.0, b.P99, 1e-9)
	assert.Equal(t, int64(100), b.Count)
	assert.InDelta(t, 1.0, b.Confidence, 1e-9, "100 samples give full confidence")
	// Sample standard deviation of 1..100.
	assert.InDelta(t, 29.011, b.StdDev, 0.001)
}

func TestComputeBaselineTooSparse(t *testing.T) {
	samples := []sample{
		{value: 1, at: time.Now()},
		{value: 2, at: time.Now()},
		{value: 3, at: time.Now()},
		{value: 4, at: time.Now()},
	}
	assert.Nil(t, computeBaseline(testKey(), samples))
}

func TestConfidenceGrowsWithSamples(t *testing.T) {
	var samples []sample
	for i := 0; i < 20; i++ {
		samples = append(samples, sample{value: float64(i), at: time.Now()})
	}
	b := computeBaseline(testKey(), samples)
	require.NotNil(t, b)
	assert.InDelta(t, 0.2, b.Confidence, 1e-9)
}

func TestZeroSpreadNeverFlags(t *testing.T) {
	var samples []sample
	at := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		samples = append(samples, sample{value: 42.0, at: at.Add(time.Duration(i) * time.Hour)})
	}
	b := computeBaseline(testKey(), samples)
	require.NotNil(t, b)
	assert.Zero(t, b.StdDev)

	score, anomalous := b.Anomalous(9000.0, at, 2.0)
	assert.Zero(t, score)
	assert.False(t, anomalous, "constant series has no anomalies by definition")
}

func TestAnomalyThresholdIsStrict(t *testing.T) {
	b := &Baseline{Mean: 50, StdDev: 10}

	// Exactly at the threshold is not an anomaly.
	score, anomalous := b.Anomalous(70, time.Now(), 2.0)
	assert.InDelta(t, 2.0, score, 1e-9)
	assert.False(t, anomalous)

	_, anomalous = b.Anomalous(70.1, time.Now(), 2.0)
	assert.True(t, anomalous)
}

func TestHourOfDayProfileDominates(t *testing.T) {
	b := &Baseline{Mean: 50, StdDev: 100} // globally anything goes
	at := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	b.HourOfDay[3] = profileSlot{Mean: 5, StdDev: 1, Count: 30}

	// 3am is normally quiet; 40 is unremarkable globally but wild for 3am.
	score, anomalous := b.Anomalous(40, at, 2.0)
	assert.True(t, anomalous)
	assert.InDelta(t, 35.0, score, 1e-9, "worst profile wins")
}

func TestDayOfWeekProfile(t *testing.T) {
	b := &Baseline{Mean: 50, StdDev: 100}
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC) // a Monday
	require.Equal(t, time.Monday, at.Weekday())
	b.DayOfWeek[int(time.Monday)] = profileSlot{Mean: 10, StdDev: 2, Count: 12}

	_, anomalous := b.Anomalous(30, at, 2.0)
	assert.True(t, anomalous)
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 10.0, percentile(sorted, 0.99))
	assert.Equal(t, 10.0, percentile(sorted, 0.95))
	assert.Equal(t, 5.0, percentile(sorted, 0.5))
	assert.Equal(t, 0.0, percentile(nil, 0.95))
}
