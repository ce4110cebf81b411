package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
)

// GatewayCollector scrapes the gateway usage page for the monthly transfer
// counter and emits a security-status pseudo-metric.
type GatewayCollector struct {
	base
}

// Collect implements Collector.
func (c *GatewayCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, CollectTimeout)
	defer cancel()

	points := c.collectCommon(ctx)

	wantBandwidth := c.device.FamilyEnabled(models.FamilyBandwidth)
	wantSecurity := c.device.FamilyEnabled(models.FamilySecurity)
	if !wantBandwidth && !wantSecurity {
		return points, nil
	}

	body, err := c.fetchUsagePage(ctx)
	if err != nil {
		if wantBandwidth {
			points = append(points, c.errorPoint(models.FamilyBandwidth, err))
		}
		return points, nil
	}

	if wantBandwidth {
		if raw, ok := extractFloat(compile(c.deps.Scrape.MonthlyUsagePattern), body); ok {
			if mb, err := strconv.ParseFloat(raw, 64); err == nil {
				points = append(points, c.point(models.FamilyBandwidth, "monthly_transfer",
					models.FloatValue(mb/1024.0), "GB", nil))
			}
		} else {
			log.Debug().Str("device", c.device.ID).Msg("Usage counter did not match; dropping field")
		}
	}

	if wantSecurity {
		status := "unknown"
		if raw, ok := extractFloat(compile(c.deps.Scrape.SecurityStatusPattern), body); ok {
			status = strings.TrimSpace(raw)
		}
		points = append(points, c.point(models.FamilySecurity, "security_status",
			models.StringValue(status), "", nil))
	}
	return points, nil
}

func (c *GatewayCollector) fetchUsagePage(ctx context.Context) (string, error) {
	url := fmt.Sprintf("http://%s%s", c.device.Address, c.deps.Scrape.GatewayUsagePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nwerrors.New(nwerrors.KindInternal, "scrape_usage_page", c.device.ID, err)
	}

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_usage_page", c.device.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_usage_page", c.device.ID,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBody))
	if err != nil {
		return "", nwerrors.New(nwerrors.KindConnection, "scrape_usage_page", c.device.ID, err)
	}
	return string(data), nil
}
