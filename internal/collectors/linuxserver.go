package collectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/netwatch-io/netwatch/internal/credentials"
	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
)

// commandTimeout bounds each remote command independently; one slow or
// failing command must not abort the others.
const commandTimeout = 10 * time.Second

// LinuxServerCollector runs a fixed command set over an authenticated shell
// session to sample system resources.
type LinuxServerCollector struct {
	base
}

type serverCommand struct {
	name    string
	unit    string
	command string
	integer bool
}

var serverCommands = []serverCommand{
	{"cpu_usage", "%", `top -bn1 | grep "Cpu(s)" | awk '{print $2+$4}'`, false},
	{"memory_usage", "%", `free | awk '/Mem:/ {printf "%.1f", $3/$2*100}'`, false},
	{"disk_usage", "%", `df -P / | awk 'NR==2 {print $5}' | tr -d '%'`, false},
	{"load_average_1m", "", `awk '{print $1}' /proc/loadavg`, false},
	{"container_count", "", `docker ps -q 2>/dev/null | wc -l`, true},
}

// Collect implements Collector. A missing credential reference is a
// permanent error (no points, device skipped); an unavailable credential
// store is transient and recorded as a collection_error point.
func (c *LinuxServerCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, CollectTimeout)
	defer cancel()

	points := c.collectCommon(ctx)
	if !c.device.FamilyEnabled(models.FamilySystemResources) {
		return points, nil
	}

	if c.deps.Resolver == nil || c.deps.Executor == nil {
		return points, nwerrors.New(nwerrors.KindValidation, "collect_system", c.device.ID,
			fmt.Errorf("linux server collector needs a credential resolver and shell executor"))
	}

	creds, err := c.deps.Resolver.Lookup(ctx, c.device.CredentialRef)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, nwerrors.New(nwerrors.KindAuth, "collect_system", c.device.ID, err)
		}
		points = append(points, c.errorPoint(models.FamilySystemResources,
			nwerrors.New(nwerrors.KindConnection, "collect_system", c.device.ID, err)))
		return points, nil
	}

	for _, cmd := range serverCommands {
		if ctx.Err() != nil {
			break
		}
		res, err := c.deps.Executor.Exec(ctx, c.device.Address, creds, cmd.command, commandTimeout)
		if err != nil {
			points = append(points, c.errorPointNamed(cmd.name, err))
			continue
		}
		if res.ExitCode != 0 {
			points = append(points, c.errorPointNamed(cmd.name,
				nwerrors.New(nwerrors.KindInternal, "collect_system", c.device.ID,
					fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))))
			continue
		}

		raw := strings.TrimSpace(res.Stdout)
		var value models.Value
		if cmd.integer {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Debug().Str("device", c.device.ID).Str("metric", cmd.name).Str("output", raw).
					Msg("Unparseable command output; dropping field")
				continue
			}
			value = models.IntValue(n)
		} else {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				log.Debug().Str("device", c.device.ID).Str("metric", cmd.name).Str("output", raw).
					Msg("Unparseable command output; dropping field")
				continue
			}
			value = models.FloatValue(f)
		}
		points = append(points, c.point(models.FamilySystemResources, cmd.name, value, cmd.unit, nil))
	}
	return points, nil
}

func (c *LinuxServerCollector) errorPointNamed(metric string, err error) models.MetricPoint {
	p := c.errorPoint(models.FamilySystemResources, err)
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata["command"] = metric
	return p
}
