package core

import (
	"bufio"
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// PostgresProbe pings the pool.
func PostgresProbe(db *pgxpool.Pool) Probe {
	return db.Ping
}

// RedisProbe pings the client.
func RedisProbe(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// DependencyStatus is the result of one probe.
type DependencyStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SystemStatus is the aggregated payload of GET /api/admin/system/status.
type SystemStatus struct {
	Dependencies []DependencyStatus `json:"dependencies"`
	Memory       struct {
		UsedBytes  uint64 `json:"used_bytes"`
		TotalBytes uint64 `json:"total_bytes"`
	} `json:"memory"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Healthy reports whether every dependency probe succeeded.
func (s SystemStatus) Healthy() bool {
	for _, d := range s.Dependencies {
		if !d.OK {
			return false
		}
	}
	return true
}

// CollectSystemStatus runs the probes with a per-probe timeout. Probe failures
// are reported in the payload, never returned.
func CollectSystemStatus(ctx context.Context, probes map[string]Probe, startedAt time.Time) SystemStatus {
	var st SystemStatus

	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	st.Dependencies = make([]DependencyStatus, 0, len(names))
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probes[name](pctx)
		cancel()
		ds := DependencyStatus{Name: name, OK: err == nil}
		if err != nil {
			ds.Error = err.Error()
		}
		st.Dependencies = append(st.Dependencies, ds)
	}

	st.Memory.UsedBytes, st.Memory.TotalBytes = readMemInfo()

	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}

// readMemInfo returns used and total bytes from /proc/meminfo, or zeros.
func readMemInfo() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = parseKiBLine(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal == 0 {
		return 0, 0
	}
	if memAvailable <= memTotal {
		used = (memTotal - memAvailable) * 1024
	}
	return used, memTotal * 1024
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
