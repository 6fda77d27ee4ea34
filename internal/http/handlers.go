package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"solemnsky/server/internal/eventlog"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/replay"
	"solemnsky/server/internal/server"
	"solemnsky/server/internal/telegraph"
)

const (
	// DefaultEventLimit is how many events /api/events returns without a limit.
	DefaultEventLimit = 50
	// MaxEventLimit caps the limit query parameter.
	MaxEventLimit = 500
)

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns the latest executor snapshot.
type StatsFunc func() server.Stats

// EventQuery reads back the indexed event log.
type EventQuery interface {
	Recent(ctx context.Context, limit int) ([]eventlog.Entry, error)
	Dropped() int64
}

// RecordingControl is the live session recorder.
type RecordingControl interface {
	Snapshot() replay.Stats
	Flush() (string, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet. Every source is optional; missing
// sources answer 503 or are left out of the metrics.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Bandwidth   *telegraph.BandwidthRegulator
	Events      EventQuery
	Recording   RecordingControl
	Archive     func() replay.StorageStats
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational endpoints of the server.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	bandwidth   *telegraph.BandwidthRegulator
	events      EventQuery
	recording   RecordingControl
	archive     func() replay.StorageStats
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger.Named(logging.OriginServer, "http"),
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		bandwidth:   opts.Bandwidth,
		events:      opts.Events,
		recording:   opts.Recording,
		archive:     opts.Archive,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/api/stats", h.StatsHandler())
	mux.HandleFunc("/api/events", h.EventsHandler())
	mux.HandleFunc("/api/replay/flush", h.ReplayFlushHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the game loop is serving, with the peer
// and player counts of the last step.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Peers         int     `json:"peers"`
		Players       int     `json:"players"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.stats != nil {
			stats := h.stats()
			resp.Peers = stats.Peers
			resp.Players = len(stats.Players)
		}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			gauge(w, "solemnsky_uptime_seconds", "Process uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
		}
		if h.stats != nil {
			stats := h.stats()
			gauge(w, "solemnsky_peers", "Connected transport peers.", strconv.Itoa(stats.Peers))
			gauge(w, "solemnsky_players", "Joined players.", strconv.Itoa(len(stats.Players)))
			counter(w, "solemnsky_rejected_packets_total", "Inbound packets dropped as undecodable.", strconv.FormatInt(stats.Rejected, 10))
			counter(w, "solemnsky_throttled_messages_total", "Chat and rcon messages refused by the per-peer limiter.", strconv.FormatInt(stats.Throttled, 10))
			gauge(w, "solemnsky_tick_average_seconds", "Average simulation step duration.", fmt.Sprintf("%.6f", stats.Tick.Average.Seconds()))
			gauge(w, "solemnsky_tick_max_seconds", "Slowest simulation step duration.", fmt.Sprintf("%.6f", stats.Tick.Max.Seconds()))
			counter(w, "solemnsky_tick_skipped_total", "Simulation steps skipped to catch up.", strconv.Itoa(stats.Tick.Skipped))
			if len(stats.Players) > 0 {
				fmt.Fprintf(w, "# HELP solemnsky_player_latency_seconds Measured round trip per player.\n")
				fmt.Fprintf(w, "# TYPE solemnsky_player_latency_seconds gauge\n")
				for _, p := range stats.Players {
					fmt.Fprintf(w, "solemnsky_player_latency_seconds{pid=\"%d\",nickname=%q} %.6f\n", p.PID, p.Nickname, p.Latency.Seconds())
				}
			}
		}
		if h.bandwidth != nil {
			usage := h.bandwidth.SnapshotUsage()
			if len(usage) > 0 {
				peers := make([]string, 0, len(usage))
				for id := range usage {
					peers = append(peers, id)
				}
				sort.Strings(peers)
				fmt.Fprintf(w, "# HELP solemnsky_bandwidth_bytes_per_second Observed unreliable bandwidth per peer in bytes per second.\n")
				fmt.Fprintf(w, "# TYPE solemnsky_bandwidth_bytes_per_second gauge\n")
				for _, id := range peers {
					fmt.Fprintf(w, "solemnsky_bandwidth_bytes_per_second{peer=%q} %.2f\n", id, usage[id].BytesPerSecond)
				}
				fmt.Fprintf(w, "# HELP solemnsky_bandwidth_dropped_total Unreliable sends refused per peer.\n")
				fmt.Fprintf(w, "# TYPE solemnsky_bandwidth_dropped_total counter\n")
				for _, id := range peers {
					fmt.Fprintf(w, "solemnsky_bandwidth_dropped_total{peer=%q} %d\n", id, usage[id].Dropped)
				}
			}
		}
		if h.events != nil {
			counter(w, "solemnsky_eventlog_dropped_total", "Events dropped because the index writer fell behind.", strconv.FormatInt(h.events.Dropped(), 10))
		}
		if h.recording != nil {
			stats := h.recording.Snapshot()
			counter(w, "solemnsky_replay_frames_total", "Broadcast frames recorded this session.", strconv.FormatInt(stats.Frames, 10))
			counter(w, "solemnsky_replay_events_total", "Events recorded this session.", strconv.FormatInt(stats.Events, 10))
			counter(w, "solemnsky_replay_bytes_total", "Frame payload bytes recorded this session.", strconv.FormatInt(stats.Bytes, 10))
			counter(w, "solemnsky_replay_failures_total", "Failed replay writes.", strconv.FormatInt(stats.Failures, 10))
		}
		if h.archive != nil {
			stats := h.archive()
			gauge(w, "solemnsky_replay_sessions", "Recorded sessions kept on disk.", strconv.Itoa(stats.Sessions))
			gauge(w, "solemnsky_replay_disk_bytes", "Disk footprint of recorded sessions.", strconv.FormatInt(stats.Bytes, 10))
		}
	}
}

func gauge(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
}

func counter(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %s\n", name, help, name, name, value)
}

// StatsHandler returns the executor snapshot as JSON.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.stats == nil {
			http.Error(w, "stats are unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, h.stats())
	}
}

// EventsHandler returns the most recent indexed events, newest first.
func (h *HandlerSet) EventsHandler() http.HandlerFunc {
	type response struct {
		Events []eventlog.Entry `json:"events"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.events == nil {
			http.Error(w, "event log is not enabled", http.StatusServiceUnavailable)
			return
		}
		limit := DefaultEventLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(value, MaxEventLimit)
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		entries, err := h.events.Recent(r.Context(), limit)
		if err != nil {
			h.logger.Error("event query failed", logging.Error(err))
			http.Error(w, "failed to read events", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []eventlog.Entry{}
		}
		writeJSON(w, http.StatusOK, response{Events: entries})
	}
}

// ReplayFlushHandler authorises and forces the live recording to disk.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay flush denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.recording == nil {
			http.Error(w, "recording is not enabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.recording.Flush()
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush recording", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "flushed", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
