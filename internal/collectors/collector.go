// Package collectors implements the per-device-kind pollers. Each collector
// produces zero or more metric points per invocation and must respect the
// deadline on its context; the coordinator imposes a hard 30 second cap.
package collectors

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/netwatch-io/netwatch/internal/credentials"
	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/netwatch-io/netwatch/internal/probes"
)

// CollectTimeout is the hard per-invocation deadline every collector obeys.
const CollectTimeout = 30 * time.Second

// Collector gathers one round of metric points for a single device.
type Collector interface {
	Collect(ctx context.Context) ([]models.MetricPoint, error)
}

// Deps bundles the collaborators a collector may need. The factory fills in
// defaults for anything left nil.
type Deps struct {
	HTTPClient *http.Client
	Prober     probes.Prober
	Pinger     probes.Pinger
	Resolver   *credentials.Resolver
	Executor   ShellExecutor
	Scrape     ScrapeConfig
}

func (d *Deps) applyDefaults() {
	if d.HTTPClient == nil {
		d.HTTPClient = NewHTTPClient(10 * time.Second)
	}
	if d.Prober == nil || d.Pinger == nil {
		np := probes.NewNetProber()
		if d.Prober == nil {
			d.Prober = np
		}
		if d.Pinger == nil {
			d.Pinger = np
		}
	}
	if d.Executor == nil {
		d.Executor = NewSSHExecutor()
	}
	d.Scrape.applyDefaults()
}

// NewHTTPClient builds the scraping client used against device web UIs,
// dialing through the cached DNS resolver.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         probes.DialContext,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// New selects the collector implementation for the device kind.
// An unsupported kind is a permanent error: the device is skipped until
// reconfiguration.
func New(device models.Device, deps Deps) (Collector, error) {
	deps.applyDefaults()
	base := newBase(device, deps)

	switch device.Kind {
	case models.DeviceCableModem:
		return &CableModemCollector{base: base}, nil
	case models.DeviceMeshRouter:
		return &MeshCollector{base: base, satellite: false}, nil
	case models.DeviceMeshSatellite:
		return &MeshCollector{base: base, satellite: true}, nil
	case models.DeviceGateway:
		return &GatewayCollector{base: base}, nil
	case models.DeviceLinuxServer:
		return &LinuxServerCollector{base: base}, nil
	case models.DeviceGeneric:
		return &GenericCollector{base: base}, nil
	}
	return nil, nwerrors.New(nwerrors.KindValidation, "new_collector", device.ID,
		fmt.Errorf("unsupported device kind %q", device.Kind))
}

// base carries the shared connectivity and performance routines. Kind
// specific collectors embed it by composition rather than inheritance.
type base struct {
	device models.Device
	deps   Deps
}

func newBase(device models.Device, deps Deps) base {
	return base{device: device, deps: deps}
}

// point stamps a metric point with the device identity. The timestamp is
// taken at call time, i.e. when the underlying probe completed.
func (b *base) point(family models.MetricFamily, name string, value models.Value, unit string, meta map[string]string) models.MetricPoint {
	return models.MetricPoint{
		DeviceID:   b.device.ID,
		DeviceName: b.device.Name,
		DeviceKind: b.device.Kind,
		Family:     family,
		Name:       name,
		Value:      value,
		Unit:       unit,
		Timestamp:  time.Now(),
		Metadata:   meta,
	}
}

// errorPoint converts a collection failure into a first-class metric.
func (b *base) errorPoint(family models.MetricFamily, err error) models.MetricPoint {
	return b.point(family, "collection_error",
		models.StringValue(err.Error()), "",
		map[string]string{"error_kind": string(nwerrors.KindOf(err))})
}

// host strips any port from the device address.
func (b *base) host() string {
	if h, _, err := net.SplitHostPort(b.device.Address); err == nil {
		return h
	}
	return b.device.Address
}

// collectConnectivity produces the reachability point and, when the host
// answers, a ping latency point.
func (b *base) collectConnectivity(ctx context.Context) []models.MetricPoint {
	if !b.device.FamilyEnabled(models.FamilyConnectivity) {
		return nil
	}

	rtt, err := b.deps.Pinger.Ping(ctx, b.host())
	reachable := err == nil

	points := []models.MetricPoint{
		b.point(models.FamilyConnectivity, "reachable", models.BoolValue(reachable), "", nil),
	}
	if reachable && b.device.FamilyEnabled(models.FamilyLatency) {
		points = append(points, b.point(models.FamilyLatency, "ping_latency",
			models.FloatValue(float64(rtt.Microseconds())/1000.0), "ms", nil))
	}
	return points
}

// collectPerformance probes the fixed port set. Devices flagged as
// unauthorized are never actively scanned.
func (b *base) collectPerformance(ctx context.Context) []models.MetricPoint {
	if !b.device.FamilyEnabled(models.FamilyPerformance) || b.device.Unauthorized {
		return nil
	}

	host := b.host()
	points := make([]models.MetricPoint, 0, len(probes.DefaultPorts)+1)
	openCount := 0
	for _, port := range probes.DefaultPorts {
		if ctx.Err() != nil {
			break
		}
		open, rtt := b.deps.Prober.ProbePort(ctx, host, port)
		if open {
			openCount++
		}
		points = append(points, b.point(models.FamilyPerformance,
			fmt.Sprintf("tcp_port_%d_open", port), models.BoolValue(open), "",
			map[string]string{"rtt_ms": fmt.Sprintf("%.1f", float64(rtt.Microseconds())/1000.0)}))
	}
	points = append(points, b.point(models.FamilyPerformance, "open_port_count",
		models.IntValue(int64(openCount)), "", nil))
	return points
}

// collectCommon runs the probes every collector variant shares.
func (b *base) collectCommon(ctx context.Context) []models.MetricPoint {
	points := b.collectConnectivity(ctx)
	points = append(points, b.collectPerformance(ctx)...)
	return points
}

// GenericCollector handles devices with no vendor-specific surface.
type GenericCollector struct {
	base
}

// Collect implements Collector.
func (c *GenericCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, CollectTimeout)
	defer cancel()
	return c.collectCommon(ctx), nil
}
