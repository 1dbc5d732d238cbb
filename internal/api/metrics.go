package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/smartcat/habitat-core/internal/devicelink"
	"github.com/smartcat/habitat-core/internal/notify"
)

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptimeSeconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	DeviceLink    *devicelink.Metrics `json:"deviceLink,omitempty"`
	Push          *notify.Health      `json:"push,omitempty"`
	Audit         *AuditMetrics       `json:"audit,omitempty"`
	Devices       DeviceMetrics       `json:"devices"`
	Database      DatabaseMetrics     `json:"database"`
}

// RuntimeMetrics are Go runtime figures; memory is in MiB.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memoryAllocMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	NumGC         uint32  `json:"numGc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connectedClients"`
}

// AuditMetrics reports audit entries lost to a full buffer.
type AuditMetrics struct {
	Dropped uint64 `json:"dropped"`
}

// DeviceMetrics counts registered devices and those with a live snapshot.
type DeviceMetrics struct {
	Total        int `json:"total"`
	WithSnapshot int `json:"withSnapshot"`
}

// DatabaseMetrics mirrors sql.DBStats.
type DatabaseMetrics struct {
	OpenConnections int   `json:"openConnections"`
	InUse           int   `json:"inUse"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"waitCount"`
}

func runtimeMetrics() RuntimeMetrics {
	const mib = 1 << 20
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / mib,
		MemoryTotalMB: float64(ms.TotalAlloc) / mib,
		NumGC:         ms.NumGC,
	}
}

func (s *Server) deviceMetrics() DeviceMetrics {
	ids := s.devices.IDs()
	m := DeviceMetrics{Total: len(ids)}
	for _, id := range ids {
		if _, ok := s.snapshots.Latest(id); ok {
			m.WithSnapshot++
		}
	}
	return m
}

// handleMetrics returns process and pipeline statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	db := s.db.Stats()
	out := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       runtimeMetrics(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices:       s.deviceMetrics(),
		Database: DatabaseMetrics{
			OpenConnections: db.OpenConnections,
			InUse:           db.InUse,
			Idle:            db.Idle,
			WaitCount:       db.WaitCount,
		},
	}
	if s.link != nil {
		lm := s.link.Metrics()
		out.DeviceLink = &lm
	}
	if s.push != nil {
		ph := s.push.Health()
		out.Push = &ph
	}
	if s.audit != nil {
		out.Audit = &AuditMetrics{Dropped: s.audit.Dropped()}
	}
	writeJSON(w, http.StatusOK, out)
}
