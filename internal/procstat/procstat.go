// Package procstat samples resource usage of a process.
package procstat

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Stat is a resource snapshot of one process.
type Stat struct {
	Pid        int       `json:"pid"`
	Name       string    `json:"name,omitempty"`
	Cmdline    string    `json:"cmdline,omitempty"`
	RSSBytes   uint64    `json:"rss_bytes"`
	VMSBytes   uint64    `json:"vms_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     string    `json:"uptime"`
}

// Sample reads the current usage of pid. Fields the platform cannot report
// are left zero.
func Sample(ctx context.Context, pid int) (Stat, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Stat{}, fmt.Errorf("process %d: %w", pid, err)
	}
	st := Stat{Pid: pid}
	st.Name, _ = p.NameWithContext(ctx)
	st.Cmdline, _ = p.CmdlineWithContext(ctx)
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
		st.VMSBytes = mem.VMS
	}
	st.CPUPercent, _ = p.CPUPercentWithContext(ctx)
	st.Threads, _ = p.NumThreadsWithContext(ctx)
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		st.StartedAt = time.UnixMilli(ms)
		st.Uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	return st, nil
}
