package collectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	rtt time.Duration
	err error
}

func (f *fakePinger) Ping(context.Context, string) (time.Duration, error) {
	return f.rtt, f.err
}

type fakeProber struct {
	open map[int]bool
}

func (f *fakeProber) ProbePort(_ context.Context, _ string, port int) (bool, time.Duration) {
	return f.open[port], 2 * time.Millisecond
}

func testDeps(serverURL string) Deps {
	deps := Deps{
		HTTPClient: http.DefaultClient,
		Pinger:     &fakePinger{rtt: 5 * time.Millisecond},
		Prober:     &fakeProber{open: map[int]bool{80: true, 443: true}},
	}
	deps.Scrape.applyDefaults()
	return deps
}

func hostOf(t *testing.T, serverURL string) string {
	t.Helper()
	return strings.TrimPrefix(serverURL, "http://")
}

func pointByName(points []models.MetricPoint, name string) (models.MetricPoint, bool) {
	for _, p := range points {
		if p.Name == name {
			return p, true
		}
	}
	return models.MetricPoint{}, false
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	_, err := New(models.Device{ID: "d1", Kind: models.DeviceKind("toaster")}, Deps{})
	require.Error(t, err)
	assert.Equal(t, nwerrors.KindValidation, nwerrors.KindOf(err))
	assert.False(t, nwerrors.IsRetryable(err))
}

func TestFactoryDefaultsShellExecutor(t *testing.T) {
	device := models.Device{
		ID:            "nas",
		Kind:          models.DeviceLinuxServer,
		Address:       "192.168.1.20:22",
		CredentialRef: "nas-ssh",
	}
	col, err := New(device, Deps{})
	require.NoError(t, err)

	ls, ok := col.(*LinuxServerCollector)
	require.True(t, ok)
	require.NotNil(t, ls.deps.Executor,
		"a bare Deps must still yield a working shell executor")
	assert.IsType(t, &SSHExecutor{}, ls.deps.Executor)
}

func TestGenericCollectorConnectivity(t *testing.T) {
	device := models.Device{ID: "d1", Name: "printer", Kind: models.DeviceGeneric, Address: "192.168.1.50"}
	col, err := New(device, testDeps(""))
	require.NoError(t, err)

	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	reachable, ok := pointByName(points, "reachable")
	require.True(t, ok)
	assert.Equal(t, models.FamilyConnectivity, reachable.Family)
	assert.True(t, reachable.Value.Equal(models.BoolValue(true)))

	latency, ok := pointByName(points, "ping_latency")
	require.True(t, ok)
	assert.Equal(t, models.FamilyLatency, latency.Family)
	v, numeric := latency.Value.Numeric()
	require.True(t, numeric)
	assert.InDelta(t, 5.0, v, 0.001)

	openCount, ok := pointByName(points, "open_port_count")
	require.True(t, ok)
	assert.True(t, openCount.Value.Equal(models.IntValue(2)))
}

func TestUnreachableHostSkipsLatency(t *testing.T) {
	deps := testDeps("")
	deps.Pinger = &fakePinger{err: errors.New("no route to host")}
	device := models.Device{ID: "d1", Kind: models.DeviceGeneric, Address: "10.0.0.9"}

	col, err := New(device, deps)
	require.NoError(t, err)
	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	reachable, ok := pointByName(points, "reachable")
	require.True(t, ok)
	assert.True(t, reachable.Value.Equal(models.BoolValue(false)))

	_, ok = pointByName(points, "ping_latency")
	assert.False(t, ok, "unreachable host must not emit latency")
}

func TestUnauthorizedDeviceIsNeverPortScanned(t *testing.T) {
	deps := testDeps("")
	device := models.Device{ID: "d1", Kind: models.DeviceGeneric, Address: "10.0.0.9", Unauthorized: true}

	col, err := New(device, deps)
	require.NoError(t, err)
	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	for _, p := range points {
		assert.NotEqual(t, models.FamilyPerformance, p.Family,
			"unauthorized device produced performance point %s", p.Name)
	}
}

func TestCableModemScrape(t *testing.T) {
	page := `<html><body>
		<td>Downstream Power</td><td>-2.5 dBmV</td>
		<td>Upstream Power</td><td>41.0 dBmV</td>
		<td>SNR</td><td>38.9 dB</td>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cmconnectionstatus.html", r.URL.Path)
		w.Write([]byte(page))
	}))
	defer server.Close()

	device := models.Device{ID: "modem", Kind: models.DeviceCableModem, Address: hostOf(t, server.URL)}
	col, err := New(device, testDeps(server.URL))
	require.NoError(t, err)

	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	down, ok := pointByName(points, "downstream_power")
	require.True(t, ok)
	assert.Equal(t, models.FamilyDocsis, down.Family)
	assert.Equal(t, "dBmV", down.Unit)
	assert.True(t, down.Value.Equal(models.FloatValue(-2.5)))

	up, ok := pointByName(points, "upstream_power")
	require.True(t, ok)
	assert.True(t, up.Value.Equal(models.FloatValue(41.0)))

	snr, ok := pointByName(points, "downstream_snr")
	require.True(t, ok)
	assert.True(t, snr.Value.Equal(models.FloatValue(38.9)))

	// The page has no upstream SNR; the field must be dropped silently.
	_, ok = pointByName(points, "upstream_snr")
	assert.False(t, ok)
}

func TestCableModemFetchFailureYieldsErrorPoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	device := models.Device{ID: "modem", Kind: models.DeviceCableModem, Address: hostOf(t, server.URL)}
	col, err := New(device, testDeps(server.URL))
	require.NoError(t, err)

	points, err := col.Collect(context.Background())
	require.NoError(t, err, "transient scrape failures must not fail the collection")

	errPoint, ok := pointByName(points, "collection_error")
	require.True(t, ok)
	assert.Equal(t, models.FamilyDocsis, errPoint.Family)
	assert.Equal(t, string(nwerrors.KindConnection), errPoint.Metadata["error_kind"])
}

func TestMeshCollector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/status", r.URL.Path)
		w.Write([]byte(`{"connectedClients": 17, "meshHealth": "good", "backhaulRssi": -58.5}`))
	}))
	defer server.Close()

	router := models.Device{ID: "router", Kind: models.DeviceMeshRouter, Address: hostOf(t, server.URL)}
	col, err := New(router, testDeps(server.URL))
	require.NoError(t, err)
	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	clients, ok := pointByName(points, "connected_clients")
	require.True(t, ok)
	assert.True(t, clients.Value.Equal(models.IntValue(17)))

	health, ok := pointByName(points, "mesh_health")
	require.True(t, ok)
	assert.True(t, health.Value.Equal(models.StringValue("good")))

	_, ok = pointByName(points, "backhaul_rssi")
	assert.False(t, ok, "routers must not report backhaul signal")

	satellite := models.Device{ID: "sat", Kind: models.DeviceMeshSatellite, Address: hostOf(t, server.URL)}
	col, err = New(satellite, testDeps(server.URL))
	require.NoError(t, err)
	points, err = col.Collect(context.Background())
	require.NoError(t, err)

	rssi, ok := pointByName(points, "backhaul_rssi")
	require.True(t, ok)
	assert.Equal(t, "dBm", rssi.Unit)
	assert.True(t, rssi.Value.Equal(models.FloatValue(-58.5)))
}

func TestMeshParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login required</html>"))
	}))
	defer server.Close()

	device := models.Device{ID: "router", Kind: models.DeviceMeshRouter, Address: hostOf(t, server.URL)}
	col, err := New(device, testDeps(server.URL))
	require.NoError(t, err)

	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	errPoint, ok := pointByName(points, "collection_error")
	require.True(t, ok)
	assert.Equal(t, models.FamilyWifiMesh, errPoint.Family)
	assert.Equal(t, string(nwerrors.KindParse), errPoint.Metadata["error_kind"])
}

func TestGatewayCollector(t *testing.T) {
	page := `<html>
		<tr><td>Monthly Usage</td><td>524288 MB</td></tr>
		<tr><td>Firewall Status</td><td>Enabled</td></tr>
	</html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/usage.html", r.URL.Path)
		w.Write([]byte(page))
	}))
	defer server.Close()

	device := models.Device{ID: "gw", Kind: models.DeviceGateway, Address: hostOf(t, server.URL)}
	col, err := New(device, testDeps(server.URL))
	require.NoError(t, err)
	points, err := col.Collect(context.Background())
	require.NoError(t, err)

	transfer, ok := pointByName(points, "monthly_transfer")
	require.True(t, ok)
	assert.Equal(t, models.FamilyBandwidth, transfer.Family)
	assert.Equal(t, "GB", transfer.Unit)
	v, numeric := transfer.Value.Numeric()
	require.True(t, numeric)
	assert.InDelta(t, 512.0, v, 0.001)

	security, ok := pointByName(points, "security_status")
	require.True(t, ok)
	assert.Equal(t, models.FamilySecurity, security.Family)
}

func TestFamilyFilteringSkipsScrape(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	device := models.Device{
		ID:       "modem",
		Kind:     models.DeviceCableModem,
		Address:  hostOf(t, server.URL),
		Families: map[models.MetricFamily]bool{models.FamilyConnectivity: true},
	}
	col, err := New(device, testDeps(server.URL))
	require.NoError(t, err)

	points, err := col.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, hits, "disabled family must not be scraped")
	for _, p := range points {
		assert.Equal(t, models.FamilyConnectivity, p.Family)
	}
}
