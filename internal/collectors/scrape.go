package collectors

import "regexp"

// ScrapeConfig carries the vendor HTML patterns and endpoint paths the
// scraping collectors use. They are configuration, not code: a firmware
// update that moves a field means editing the config, not rebuilding.
type ScrapeConfig struct {
	CableModemStatusPath string `json:"cableModemStatusPath"`
	GatewayUsagePath     string `json:"gatewayUsagePath"`
	MeshStatusPath       string `json:"meshStatusPath"`

	// Regexes with a single capture group holding the numeric field.
	DownstreamPowerPattern string `json:"downstreamPowerPattern"`
	UpstreamPowerPattern   string `json:"upstreamPowerPattern"`
	DownstreamSNRPattern   string `json:"downstreamSnrPattern"`
	UpstreamSNRPattern     string `json:"upstreamSnrPattern"`
	MonthlyUsagePattern    string `json:"monthlyUsagePattern"`
	SecurityStatusPattern  string `json:"securityStatusPattern"`
}

func (c *ScrapeConfig) applyDefaults() {
	if c.CableModemStatusPath == "" {
		c.CableModemStatusPath = "/cmconnectionstatus.html"
	}
	if c.GatewayUsagePath == "" {
		c.GatewayUsagePath = "/usage.html"
	}
	if c.MeshStatusPath == "" {
		c.MeshStatusPath = "/api/v1/status"
	}
	if c.DownstreamPowerPattern == "" {
		c.DownstreamPowerPattern = `Downstream\s+Power[^-\d]*(-?\d+(?:\.\d+)?)\s*dBmV`
	}
	if c.UpstreamPowerPattern == "" {
		c.UpstreamPowerPattern = `Upstream\s+Power[^-\d]*(-?\d+(?:\.\d+)?)\s*dBmV`
	}
	if c.DownstreamSNRPattern == "" {
		c.DownstreamSNRPattern = `SNR[^-\d]*(-?\d+(?:\.\d+)?)\s*dB`
	}
	if c.UpstreamSNRPattern == "" {
		c.UpstreamSNRPattern = `Upstream\s+SNR[^-\d]*(-?\d+(?:\.\d+)?)\s*dB`
	}
	if c.MonthlyUsagePattern == "" {
		c.MonthlyUsagePattern = `Monthly\s+Usage[^\d]*(\d+(?:\.\d+)?)\s*MB`
	}
	if c.SecurityStatusPattern == "" {
		c.SecurityStatusPattern = `Firewall\s+Status[^A-Za-z]*([A-Za-z ]+?)\s*<`
	}
}

// compile returns nil when the pattern is invalid so a bad config entry
// drops one field instead of the whole collection.
func compile(pattern string) *regexp.Regexp {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}

// extractFloat applies a single-capture regex to the page and parses the
// captured group. ok is false when the pattern misses.
func extractFloat(re *regexp.Regexp, body string) (string, bool) {
	if re == nil {
		return "", false
	}
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
