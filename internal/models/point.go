package models

import "time"

// MetricPoint is a single immutable sample produced by a collector.
// Timestamp is assigned when the underlying probe completes, not when the
// point is enqueued. Storage truncates it to second granularity.
type MetricPoint struct {
	DeviceID   string            `json:"deviceId"`
	DeviceName string            `json:"deviceName"`
	DeviceKind DeviceKind        `json:"deviceKind"`
	Family     MetricFamily      `json:"family"`
	Name       string            `json:"name"`
	Value      Value             `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HourlyRecord is one row of the hourly rollup table.
type HourlyRecord struct {
	DeviceID  string       `json:"deviceId"`
	Family    MetricFamily `json:"family"`
	Name      string       `json:"name"`
	HourStart time.Time    `json:"hourStart"`
	Min       float64      `json:"min"`
	Max       float64      `json:"max"`
	Mean      float64      `json:"mean"`
	Count     int64        `json:"count"`
	Sum       float64      `json:"sum"`
}
