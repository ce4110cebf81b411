package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
)

// MeshCollector polls the JSON status endpoint of a mesh router or
// satellite. Satellites additionally report backhaul signal strength.
type MeshCollector struct {
	base
	satellite bool
}

type meshStatus struct {
	ConnectedClients *int     `json:"connectedClients"`
	MeshHealth       string   `json:"meshHealth"`
	BackhaulRSSI     *float64 `json:"backhaulRssi"`
}

// Collect implements Collector.
func (c *MeshCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, CollectTimeout)
	defer cancel()

	points := c.collectCommon(ctx)
	if !c.device.FamilyEnabled(models.FamilyWifiMesh) {
		return points, nil
	}

	status, err := c.fetchStatus(ctx)
	if err != nil {
		points = append(points, c.errorPoint(models.FamilyWifiMesh, err))
		return points, nil
	}

	if status.ConnectedClients != nil {
		points = append(points, c.point(models.FamilyWifiMesh, "connected_clients",
			models.IntValue(int64(*status.ConnectedClients)), "", nil))
	}
	if status.MeshHealth != "" {
		points = append(points, c.point(models.FamilyWifiMesh, "mesh_health",
			models.StringValue(status.MeshHealth), "", nil))
	}
	if c.satellite && status.BackhaulRSSI != nil {
		points = append(points, c.point(models.FamilyWifiMesh, "backhaul_rssi",
			models.FloatValue(*status.BackhaulRSSI), "dBm", nil))
	}
	return points, nil
}

func (c *MeshCollector) fetchStatus(ctx context.Context) (*meshStatus, error) {
	url := fmt.Sprintf("http://%s%s", c.device.Address, c.deps.Scrape.MeshStatusPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nwerrors.New(nwerrors.KindInternal, "mesh_status", c.device.ID, err)
	}

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, nwerrors.New(nwerrors.KindConnection, "mesh_status", c.device.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nwerrors.New(nwerrors.KindConnection, "mesh_status", c.device.ID,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBody))
	if err != nil {
		return nil, nwerrors.New(nwerrors.KindConnection, "mesh_status", c.device.ID, err)
	}

	var status meshStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, nwerrors.New(nwerrors.KindParse, "mesh_status", c.device.ID, err)
	}
	return &status, nil
}
