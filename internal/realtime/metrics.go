package realtime

import (
	"sync/atomic"
	"time"
)

// Metrics tracks hub statistics with atomic counters.
type Metrics struct {
	EventsBroadcast  atomic.Int64
	FramesSent       atomic.Int64
	FramesDropped    atomic.Int64
	Joins            atomic.Int64
	JoinsRejected    atomic.Int64
	StaleReaped      atomic.Int64
	ConnectedClients atomic.Int32
	StartTime        time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

type MetricsSnapshot struct {
	EventsBroadcast  int64   `json:"events_broadcast"`
	FramesSent       int64   `json:"frames_sent"`
	FramesDropped    int64   `json:"frames_dropped"`
	Joins            int64   `json:"joins"`
	JoinsRejected    int64   `json:"joins_rejected"`
	StaleReaped      int64   `json:"stale_reaped"`
	ConnectedClients int32   `json:"connected_clients"`
	Rooms            int     `json:"rooms"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsBroadcast:  m.EventsBroadcast.Load(),
		FramesSent:       m.FramesSent.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		Joins:            m.Joins.Load(),
		JoinsRejected:    m.JoinsRejected.Load(),
		StaleReaped:      m.StaleReaped.Load(),
		ConnectedClients: m.ConnectedClients.Load(),
		UptimeSeconds:    time.Since(m.StartTime).Seconds(),
	}
}
