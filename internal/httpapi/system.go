package httpapi

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemStatus reports process and host resource usage, used by operators to
// eyeball whether the coordinator needs more headroom before it becomes the
// bottleneck the scheduler's contention penalty is working around.
func (h *handlers) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_used_percent"] = vm.UsedPercent
		status["memory_total_bytes"] = vm.Total
	}
	if uptime, err := host.Uptime(); err == nil {
		status["host_uptime_seconds"] = uptime
	}

	projects, err := h.app.Stores.Graph.ListProjects(r.Context())
	if err == nil {
		status["project_count"] = len(projects)
	}

	writeJSON(w, http.StatusOK, status)
}
