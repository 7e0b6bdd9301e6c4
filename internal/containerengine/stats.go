package containerengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/container"
)

// Stats is the summarized resource snapshot returned for a single
// container: CPU and memory as percentages, network IO totals across
// every interface, and the number of live processes inside the
// container's PID namespace.
type Stats struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsage   uint64
	MemoryLimit   uint64
	RxBytes       uint64
	TxBytes       uint64
	PIDs          uint64
}

// GetStats computes a resource snapshot for the named container. The
// engine's one-shot stats response already carries both the current and
// the immediately preceding CPU sample (cpu_stats and precpu_stats), so
// a single request is enough to derive a CPU percentage without the
// caller needing to poll twice and diff itself.
func (e *Engine) GetStats(ctx context.Context, name string) (Stats, error) {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return Stats{}, err
	}
	if id == "" {
		return Stats{}, fmt.Errorf("containerengine: container %q not found", name)
	}

	resp, err := e.sdk.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return Stats{}, fmt.Errorf("containerengine: stats for %q: %w", name, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, fmt.Errorf("containerengine: decode stats for %q: %w", name, err)
	}

	return Stats{
		CPUPercent:    cpuPercent(raw),
		MemoryPercent: memPercent(raw),
		MemoryUsage:   raw.MemoryStats.Usage,
		MemoryLimit:   raw.MemoryStats.Limit,
		RxBytes:       aggregateRx(raw),
		TxBytes:       aggregateTx(raw),
		PIDs:          raw.PidsStats.Current,
	}, nil
}

func cpuPercent(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(s.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / systemDelta) * onlineCPUs * 100.0
}

func memPercent(s container.StatsResponse) float64 {
	if s.MemoryStats.Limit == 0 {
		return 0
	}
	return (float64(s.MemoryStats.Usage) / float64(s.MemoryStats.Limit)) * 100.0
}

func aggregateRx(s container.StatsResponse) uint64 {
	var total uint64
	for _, iface := range s.Networks {
		total += iface.RxBytes
	}
	return total
}

func aggregateTx(s container.StatsResponse) uint64 {
	var total uint64
	for _, iface := range s.Networks {
		total += iface.TxBytes
	}
	return total
}
