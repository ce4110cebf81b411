// Package models defines the shared data types of the telemetry core:
// devices, metric families, metric points, and the tagged value scalar.
package models

import "time"

// DeviceKind identifies the class of hardware a collector targets.
// The string values are stored on disk; never reorder or reuse them.
type DeviceKind string

const (
	DeviceCableModem    DeviceKind = "cable_modem"
	DeviceMeshRouter    DeviceKind = "mesh_router"
	DeviceMeshSatellite DeviceKind = "mesh_satellite"
	DeviceGateway       DeviceKind = "gateway"
	DeviceLinuxServer   DeviceKind = "linux_server"
	DeviceGeneric       DeviceKind = "generic"
)

// Valid reports whether the kind is one of the known enumeration values.
func (k DeviceKind) Valid() bool {
	switch k {
	case DeviceCableModem, DeviceMeshRouter, DeviceMeshSatellite,
		DeviceGateway, DeviceLinuxServer, DeviceGeneric:
		return true
	}
	return false
}

// MetricFamily is the top-level category of a metric point.
// The string values are stored on disk; never reorder or reuse them.
type MetricFamily string

const (
	FamilyConnectivity    MetricFamily = "connectivity"
	FamilyPerformance     MetricFamily = "performance"
	FamilyLatency         MetricFamily = "latency"
	FamilyDocsis          MetricFamily = "docsis"
	FamilyWifiMesh        MetricFamily = "wifi_mesh"
	FamilyBandwidth       MetricFamily = "bandwidth"
	FamilySystemResources MetricFamily = "system_resources"
	FamilySecurity        MetricFamily = "security"
)

// AllFamilies lists every metric family in declaration order.
var AllFamilies = []MetricFamily{
	FamilyConnectivity,
	FamilyPerformance,
	FamilyLatency,
	FamilyDocsis,
	FamilyWifiMesh,
	FamilyBandwidth,
	FamilySystemResources,
	FamilySecurity,
}

// Device describes one monitored endpoint in the registry.
type Device struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Kind          DeviceKind            `json:"kind"`
	Address       string                `json:"address"`
	CredentialRef string                `json:"credentialRef,omitempty"`
	PollInterval  time.Duration         `json:"pollInterval"`
	Families      map[MetricFamily]bool `json:"enabledFamilies"`
	// Unauthorized marks devices the operator has not cleared for active
	// probing. Collectors may record passive reachability only.
	Unauthorized bool `json:"unauthorized,omitempty"`
}

// FamilyEnabled reports whether points of the given family should be
// collected for this device. An empty set enables everything.
func (d *Device) FamilyEnabled(f MetricFamily) bool {
	if len(d.Families) == 0 {
		return true
	}
	return d.Families[f]
}
