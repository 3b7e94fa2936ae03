package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NicolasHaas/parley/pkg/router"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time
	router    *router.Router
	registry  *prometheus.Registry

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted, both transports
	ActiveConnections atomic.Int64 // current live sessions
	WSConnections     atomic.Int64 // lifetime websocket upgrades
	FailedConnects    atomic.Int64 // connect commands refused
	TotalDisconnects  atomic.Int64 // total sessions closed (clean + unclean)

	// Frame counters
	FramesIn        atomic.Int64 // frames read from clients
	FramesOut       atomic.Int64 // frames written to clients
	MalformedFrames atomic.Int64 // commands rejected as malformed
}

// NewMetrics creates a new Metrics instance with the start time set to now
// and a private Prometheus registry exporting the counters and r's stats.
func NewMetrics(r *router.Router) *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		router:    r,
		registry:  prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "parley", Name: name, Help: help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "parley", Name: name, Help: help,
		}, f)
	}
	stat := func(pick func(router.Stats) int64) func() float64 {
		return func() float64 { return float64(pick(m.router.Stats())) }
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		gauge("uptime_seconds", "Server uptime in seconds", func() float64 { return time.Since(m.startTime).Seconds() }),
		gauge("active_connections", "Current live sessions", func() float64 { return float64(m.ActiveConnections.Load()) }),
		counter("connections_total", "Total connections accepted", &m.TotalConnections),
		counter("ws_connections_total", "Total websocket upgrades", &m.WSConnections),
		counter("connect_failures_total", "Total refused connect commands", &m.FailedConnects),
		counter("disconnects_total", "Total sessions closed", &m.TotalDisconnects),
		counter("frames_in_total", "Total frames read", &m.FramesIn),
		counter("frames_out_total", "Total frames written", &m.FramesOut),
		counter("malformed_frames_total", "Total malformed commands", &m.MalformedFrames),

		gauge("connected_users", "Users currently connected", stat(func(s router.Stats) int64 { return int64(s.Connected) })),
		gauge("known_users", "User names seen since start", stat(func(s router.Stats) int64 { return int64(s.KnownUsers) })),
		gauge("groups", "Groups including all", stat(func(s router.Stats) int64 { return int64(s.Groups) })),
		gauge("active_polls", "Polls currently open", stat(func(s router.Stats) int64 { return int64(s.ActivePolls) })),
		gauge("pending_messages", "Messages waiting in mailboxes", stat(func(s router.Stats) int64 { return int64(s.PendingMessages) })),
		gauge("messages_routed", "Messages routed since start", stat(func(s router.Stats) int64 { return s.Routed })),
		gauge("messages_delivered", "Messages drained from mailboxes since start", stat(func(s router.Stats) int64 { return s.Delivered })),
		gauge("messages_denied", "Group messages refused for non-members", stat(func(s router.Stats) int64 { return s.Denied })),
		gauge("polls_resolved_by_tally", "Polls closed by a full tally", stat(func(s router.Stats) int64 { return s.PollsByTally })),
		gauge("polls_timed_out", "Polls closed by their deadline", stat(func(s router.Stats) int64 { return s.PollsTimedOut })),
		gauge("votes", "Votes recorded since start", stat(func(s router.Stats) int64 { return s.Votes })),
	)
}

// Handler serves the Prometheus exposition of the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	WSConnections     int64 `json:"ws_connections"`
	FailedConnects    int64 `json:"failed_connects"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	FramesIn        int64 `json:"frames_in"`
	FramesOut       int64 `json:"frames_out"`
	MalformedFrames int64 `json:"malformed_frames"`

	Router router.Stats `json:"router"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		WSConnections:     m.WSConnections.Load(),
		FailedConnects:    m.FailedConnects.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		FramesIn:          m.FramesIn.Load(),
		FramesOut:         m.FramesOut.Load(),
		MalformedFrames:   m.MalformedFrames.Load(),
		Router:            m.router.Stats(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"frames_in", s.FramesIn,
		"frames_out", s.FramesOut,
		"routed", s.Router.Routed,
		"pending", s.Router.PendingMessages,
		"active_polls", s.Router.ActivePolls,
	)
}

// RunPeriodicLog logs metrics every interval until ctx is done.
func (m *Metrics) RunPeriodicLog(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.LogSummary()
		}
	}
}
