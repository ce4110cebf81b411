package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
)

// maxScrapeBody caps how much vendor HTML we buffer per scrape.
const maxScrapeBody = 1 << 20

// CableModemCollector scrapes the modem's fixed HTML status page for DOCSIS
// signal levels. Each extracted field is independent: a regex miss drops
// that field only, never the whole collection.
type CableModemCollector struct {
	base
}

type docsisField struct {
	name    string
	unit    string
	pattern string
}

// Collect implements Collector.
func (c *CableModemCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, CollectTimeout)
	defer cancel()

	points := c.collectCommon(ctx)
	if !c.device.FamilyEnabled(models.FamilyDocsis) {
		return points, nil
	}

	body, err := c.fetchStatusPage(ctx)
	if err != nil {
		points = append(points, c.errorPoint(models.FamilyDocsis, err))
		return points, nil
	}

	fields := []docsisField{
		{"downstream_power", "dBmV", c.deps.Scrape.DownstreamPowerPattern},
		{"upstream_power", "dBmV", c.deps.Scrape.UpstreamPowerPattern},
		{"downstream_snr", "dB", c.deps.Scrape.DownstreamSNRPattern},
		{"upstream_snr", "dB", c.deps.Scrape.UpstreamSNRPattern},
	}
	for _, f := range fields {
		raw, ok := extractFloat(compile(f.pattern), body)
		if !ok {
			log.Debug().Str("device", c.device.ID).Str("field", f.name).
				Msg("Status page field did not match; dropping field")
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		points = append(points, c.point(models.FamilyDocsis, f.name, models.FloatValue(v), f.unit, nil))
	}
	return points, nil
}

func (c *CableModemCollector) fetchStatusPage(ctx context.Context) (string, error) {
	url := fmt.Sprintf("http://%s%s", c.device.Address, c.deps.Scrape.CableModemStatusPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nwerrors.New(nwerrors.KindInternal, "scrape_status_page", c.device.ID, err)
	}

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_status_page", c.device.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_status_page", c.device.ID,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBody))
	if err != nil {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_status_page", c.device.ID, err)
	}
	return string(data), nil
}
