package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/NicolasHaas/parley/pkg/crypto"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/router"
	"github.com/NicolasHaas/parley/pkg/version"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Version version.Info       `json:"version"`
	Metrics MetricsSnapshot    `json:"metrics"`
	Groups  []router.GroupInfo `json:"groups"`
}

// Handler returns the HTTP side channel:
//
//	GET  /metrics         Prometheus exposition
//	GET  /healthz         liveness
//	GET  /stats           JSON snapshot of metrics and groups
//	GET  /ws              websocket transport for the frame protocol
//	POST /admin/shutdown  graceful shutdown, bearer token required
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	r.GET("/healthz", s.handleHealthz)
	r.GET("/stats", s.handleStats)
	r.GET("/ws", s.handleWebSocket)
	r.POST("/admin/shutdown", s.handleAdminShutdown)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Version: version.Get(),
		Metrics: s.metrics.Snapshot(),
		Groups:  s.router.Groups(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.metrics.WSConnections.Add(1)
	s.serveConn(protocol.NewWSConn(ws))
}

func (s *Server) handleAdminShutdown(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || s.adminHash == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	valid, err := crypto.VerifyToken(token, s.adminHash)
	if err != nil {
		slog.Error("verify admin token", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !valid {
		slog.Warn("admin shutdown refused", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
		return
	}

	slog.Info("admin shutdown requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	s.requestStop()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}

// checkOrigin admits requests without an Origin header (non-browser
// clients), origins listed in AllowedOrigins, and same-host origins when no
// list is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := normalizeOrigins(s.cfg.AllowedOrigins)
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	_, ok := allowed[normalizeOrigin(origin)]
	if !ok {
		slog.Warn("websocket origin rejected", "origin", origin)
	}
	return ok
}

func normalizeOrigins(origins []string) map[string]struct{} {
	normalized := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if o := normalizeOrigin(origin); o != "" {
			normalized[o] = struct{}{}
		}
	}
	return normalized
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "*" {
		return origin
	}
	origin = strings.TrimSuffix(origin, "/")
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
