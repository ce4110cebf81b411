package alerts

import (
	"math"
	"sort"
	"time"

	"github.com/netwatch-io/netwatch/internal/models"
)

const (
	// baselineLookback is how far back raw points feed a baseline.
	baselineLookback = 7 * 24 * time.Hour
	// baselineMinPoints and baselineMinNumeric gate baseline creation.
	baselineMinPoints  = 10
	baselineMinNumeric = 5
)

// profileSlot holds per-bucket statistics for hour-of-day and day-of-week
// profiles.
type profileSlot struct {
	Mean   float64
	StdDev float64
	Count  int64
}

// Baseline captures learned behavior for one (device, family, name) series.
type Baseline struct {
	DeviceID string
	Family   models.MetricFamily
	Name     string

	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P95    float64
	P99    float64
	Count  int64

	// Confidence grows with sample size, capped at 1.
	Confidence float64

	HourOfDay [24]profileSlot
	DayOfWeek [7]profileSlot

	BuiltAt time.Time
}

type baselineKey struct {
	deviceID string
	family   models.MetricFamily
	name     string
}

type sample struct {
	value float64
	at    time.Time
}

// computeBaseline builds a baseline from raw samples, or returns nil when
// the series is too sparse to learn from.
func computeBaseline(key baselineKey, samples []sample) *Baseline {
	if len(samples) < baselineMinNumeric {
		return nil
	}

	values := make([]float64, 0, len(samples))
	var sum float64
	for _, s := range samples {
		values = append(values, s.value)
		sum += s.value
	}
	n := float64(len(values))
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	// Sample standard deviation; a single point has no spread.
	var stddev float64
	if len(values) > 1 {
		stddev = math.Sqrt(sq / (n - 1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	b := &Baseline{
		DeviceID:   key.deviceID,
		Family:     key.family,
		Name:       key.name,
		Mean:       mean,
		StdDev:     stddev,
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		P95:        percentile(sorted, 0.95),
		P99:        percentile(sorted, 0.99),
		Count:      int64(len(values)),
		Confidence: math.Min(1, n/100),
		BuiltAt:    time.Now(),
	}

	var hourSums, hourSq [24]float64
	var hourN [24]int64
	var daySums, daySq [7]float64
	var dayN [7]int64
	for _, s := range samples {
		h := s.at.Hour()
		hourSums[h] += s.value
		hourN[h]++
		d := int(s.at.Weekday())
		daySums[d] += s.value
		dayN[d]++
	}
	for _, s := range samples {
		h := s.at.Hour()
		dh := s.value - hourSums[h]/float64(hourN[h])
		hourSq[h] += dh * dh
		d := int(s.at.Weekday())
		dd := s.value - daySums[d]/float64(dayN[d])
		daySq[d] += dd * dd
	}
	for h := 0; h < 24; h++ {
		if hourN[h] == 0 {
			continue
		}
		slot := profileSlot{Mean: hourSums[h] / float64(hourN[h]), Count: hourN[h]}
		if hourN[h] > 1 {
			slot.StdDev = math.Sqrt(hourSq[h] / float64(hourN[h]-1))
		}
		b.HourOfDay[h] = slot
	}
	for d := 0; d < 7; d++ {
		if dayN[d] == 0 {
			continue
		}
		slot := profileSlot{Mean: daySums[d] / float64(dayN[d]), Count: dayN[d]}
		if dayN[d] > 1 {
			slot.StdDev = math.Sqrt(daySq[d] / float64(dayN[d]-1))
		}
		b.DayOfWeek[d] = slot
	}

	return b
}

// percentile reads from an ascending-sorted slice using the nearest-rank
// method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// zscore returns |value-mean|/stddev, or 0 when the spread is zero.
func zscore(value, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	return math.Abs(value-mean) / stddev
}

// Anomalous reports whether a value deviates from the baseline by more than
// sensitivity standard deviations. The score is the worst of the global,
// hour-of-day and day-of-week comparisons; buckets without spread never
// flag.
func (b *Baseline) Anomalous(value float64, at time.Time, sensitivity float64) (float64, bool) {
	score := zscore(value, b.Mean, b.StdDev)

	if slot := b.HourOfDay[at.Hour()]; slot.Count > 0 {
		if z := zscore(value, slot.Mean, slot.StdDev); z > score {
			score = z
		}
	}
	if slot := b.DayOfWeek[int(at.Weekday())]; slot.Count > 0 {
		if z := zscore(value, slot.Mean, slot.StdDev); z > score {
			score = z
		}
	}

	return score, score > sensitivity
}
