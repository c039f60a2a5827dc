package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/metrics"
	"github.com/sommos/sommos/internal/realtime"
	"github.com/sommos/sommos/internal/scheduler"
)

// SystemHandlers serves the operational surface: liveness, system status,
// pairing metrics and manual job triggers.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases map[string]*database.DB
	tracker   *metrics.Tracker
	hub       *realtime.Hub
	sched     *scheduler.Scheduler
	startTime time.Time

	jobsMu sync.RWMutex
	jobs   map[string]scheduler.Job
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	tracker *metrics.Tracker,
	hub *realtime.Hub,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
		tracker:   tracker,
		hub:       hub,
		sched:     sched,
		startTime: time.Now(),
		jobs:      make(map[string]scheduler.Job),
	}
}

// RegisterJob makes a scheduled job triggerable through the API
func (h *SystemHandlers) RegisterJob(job scheduler.Job) {
	h.jobsMu.Lock()
	defer h.jobsMu.Unlock()
	h.jobs[job.Name()] = job
}

// HandleHealth is the aggregate health probe: pings every database,
// reports the pairing health classification and hub occupancy, and
// reports degraded instead of failing when a database is unreachable.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	databases := make(map[string]string, len(h.databases))
	for name, db := range h.databases {
		if err := db.Conn().PingContext(ctx); err != nil {
			databases[name] = "unreachable"
			status = "degraded"
			continue
		}
		databases[name] = "ok"
	}

	payload := map[string]interface{}{
		"status":         status,
		"databases":      databases,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if h.tracker != nil {
		payload["pairing_health"] = h.tracker.Summary().Health
	}
	if h.hub != nil {
		payload["websocket_connections"] = h.hub.ConnectionCount()
	}

	api.WriteJSON(w, h.log, http.StatusOK, payload)
}

// HandleSystemStatus returns host and service health in one payload.
// Each section degrades independently so a gopsutil failure on an odd
// platform never takes the whole endpoint down.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else if len(cpuPercent) > 0 {
		payload["cpu_percent"] = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		payload["memory"] = map[string]interface{}{
			"used_percent": memStat.UsedPercent,
			"total_mb":     memStat.Total / 1024 / 1024,
			"available_mb": memStat.Available / 1024 / 1024,
		}
	}

	if diskStat, err := disk.Usage(h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read disk usage")
	} else {
		payload["disk"] = map[string]interface{}{
			"used_percent": diskStat.UsedPercent,
			"free_mb":      diskStat.Free / 1024 / 1024,
		}
	}

	if h.hub != nil {
		payload["websocket"] = map[string]interface{}{
			"connections": h.hub.ConnectionCount(),
		}
	}
	if h.tracker != nil {
		payload["pairing_health"] = h.tracker.Summary().Health
	}

	api.WriteJSON(w, h.log, http.StatusOK, payload)
}

// HandleMetrics returns the pairing metrics summary
func (h *SystemHandlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, h.log, http.StatusOK, h.tracker.Summary())
}

// HandleDatabaseStats returns file and page statistics per database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(h.databases))
	for name, db := range h.databases {
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
			stats[name] = map[string]interface{}{"error": "unavailable"}
			continue
		}
		stats[name] = map[string]interface{}{
			"size_bytes":     s.SizeBytes,
			"wal_size_bytes": s.WALSizeBytes,
			"page_count":     s.PageCount,
			"page_size":      s.PageSize,
			"freelist_count": s.FreelistCount,
		}
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"databases": stats})
}

// HandleDiskUsage reports the size of the data directory
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	dataMB := dirSizeMB(h.dataDir)
	backupsMB := dirSizeMB(filepath.Join(h.dataDir, "backup-staging"))

	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"data_dir_mb": dataMB,
		"backups_mb":  backupsMB,
		"total_mb":    dataMB + backupsMB,
	})
}

// HandleListJobs lists the jobs registered for manual triggering
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	h.jobsMu.RLock()
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	h.jobsMu.RUnlock()

	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"jobs": names})
}

// HandleTriggerJob runs a registered job immediately. Admin only.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	if err := api.RequireRole(r, "admin"); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	name := chi.URLParam(r, "name")
	h.jobsMu.RLock()
	job, ok := h.jobs[name]
	h.jobsMu.RUnlock()
	if !ok {
		api.WriteError(w, h.log, domain.NotFound("job %q not found", name))
		return
	}

	if err := h.sched.RunNow(job); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusAccepted, map[string]interface{}{
		"job":       name,
		"triggered": true,
	})
}

func dirSizeMB(dirPath string) float64 {
	var totalSize int64
	_ = filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	return float64(totalSize) / 1024 / 1024
}
