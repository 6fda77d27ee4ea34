package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the HTTP/websocket listen address.
	DefaultAddr = ":4242"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent connections. Zero disables the limit.
	DefaultMaxClients = 32

	// DefaultTickHz is the simulation rate of the server loop.
	DefaultTickHz = 60.0
	// DefaultSkyDeltaInterval is the cadence of DeltaSky broadcasts.
	DefaultSkyDeltaInterval = 33 * time.Millisecond
	// DefaultScoreDeltaInterval is the cadence of DeltaScore broadcasts.
	DefaultScoreDeltaInterval = 500 * time.Millisecond
	// DefaultProtocolPingInterval is the cadence of protocol level Ping packets.
	DefaultProtocolPingInterval = time.Second
	// DefaultLatencyUpdateInterval is the cadence of connection statistics broadcasts.
	DefaultLatencyUpdateInterval = 2 * time.Second

	// DefaultBandwidthBytesPerSecond caps unreliable traffic per peer.
	DefaultBandwidthBytesPerSecond = 64000.0
	// DefaultChatRate is the sustained chat/rcon messages per second per peer.
	DefaultChatRate = 2.0
	// DefaultChatBurst is the chat/rcon burst allowance per peer.
	DefaultChatBurst = 5

	// DefaultMapDir is where environment files are looked up.
	DefaultMapDir = "maps"
	// DefaultSnapshotInterval controls how often the arena snapshot is persisted.
	DefaultSnapshotInterval = 30 * time.Second
	// DefaultRecordMaxSessions bounds how many recorded sessions are kept.
	DefaultRecordMaxSessions = 20
	// DefaultRecordMaxAge drops recorded sessions older than this.
	DefaultRecordMaxAge = 7 * 24 * time.Hour
	// DefaultGRPCCompression names the compressor spectator frames use.
	DefaultGRPCCompression = "zstd"

	// DefaultLogLevel controls log verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "solemnsky.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Address         string
	QUICAddress     string
	GRPCAddress     string
	GRPCSecret      string
	GRPCCompression string
	TLSCertPath     string
	TLSKeyPath      string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int

	TickHz                float64
	SkyDeltaInterval      time.Duration
	ScoreDeltaInterval    time.Duration
	ProtocolPingInterval  time.Duration
	LatencyUpdateInterval time.Duration

	BandwidthBytesPerSecond float64
	ChatRate                float64
	ChatBurst               int
	RConPassword            string
	JoinSecret              string
	AdminToken              string

	ArenaFile         string
	MapDir            string
	RecordDir         string
	RecordMaxSessions int
	RecordMaxAge      time.Duration
	EventDBPath       string
	SnapshotPath      string
	SnapshotInterval  time.Duration

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from SKY_* environment variables,
// applying defaults and reporting every invalid override at once.
func Load() (*Config, error) {
	cfg := &Config{
		Address:                 getString("SKY_ADDR", DefaultAddr),
		QUICAddress:             strings.TrimSpace(os.Getenv("SKY_QUIC_ADDR")),
		GRPCAddress:             strings.TrimSpace(os.Getenv("SKY_GRPC_ADDR")),
		GRPCSecret:              strings.TrimSpace(os.Getenv("SKY_GRPC_SECRET")),
		GRPCCompression:         strings.ToLower(getString("SKY_GRPC_COMPRESSION", DefaultGRPCCompression)),
		TLSCertPath:             strings.TrimSpace(os.Getenv("SKY_TLS_CERT")),
		TLSKeyPath:              strings.TrimSpace(os.Getenv("SKY_TLS_KEY")),
		AllowedOrigins:          parseList(os.Getenv("SKY_ALLOWED_ORIGINS")),
		MaxPayloadBytes:         DefaultMaxPayloadBytes,
		PingInterval:            DefaultPingInterval,
		MaxClients:              DefaultMaxClients,
		TickHz:                  DefaultTickHz,
		SkyDeltaInterval:        DefaultSkyDeltaInterval,
		ScoreDeltaInterval:      DefaultScoreDeltaInterval,
		ProtocolPingInterval:    DefaultProtocolPingInterval,
		LatencyUpdateInterval:   DefaultLatencyUpdateInterval,
		BandwidthBytesPerSecond: DefaultBandwidthBytesPerSecond,
		ChatRate:                DefaultChatRate,
		ChatBurst:               DefaultChatBurst,
		RConPassword:            os.Getenv("SKY_RCON_PASSWORD"),
		JoinSecret:              strings.TrimSpace(os.Getenv("SKY_JOIN_SECRET")),
		AdminToken:              strings.TrimSpace(os.Getenv("SKY_ADMIN_TOKEN")),
		ArenaFile:               strings.TrimSpace(os.Getenv("SKY_ARENA_FILE")),
		MapDir:                  getString("SKY_MAP_DIR", DefaultMapDir),
		RecordDir:               strings.TrimSpace(os.Getenv("SKY_RECORD_DIR")),
		RecordMaxSessions:       DefaultRecordMaxSessions,
		RecordMaxAge:            DefaultRecordMaxAge,
		EventDBPath:             strings.TrimSpace(os.Getenv("SKY_EVENT_DB")),
		SnapshotPath:            strings.TrimSpace(os.Getenv("SKY_SNAPSHOT_PATH")),
		SnapshotInterval:        DefaultSnapshotInterval,
		Logging: LoggingConfig{
			Level:      getString("SKY_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("SKY_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("SKY_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SKY_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	parseDuration(&problems, "SKY_PING_INTERVAL", &cfg.PingInterval)
	parseDuration(&problems, "SKY_SKY_DELTA_INTERVAL", &cfg.SkyDeltaInterval)
	parseDuration(&problems, "SKY_SCORE_DELTA_INTERVAL", &cfg.ScoreDeltaInterval)
	parseDuration(&problems, "SKY_PROTOCOL_PING_INTERVAL", &cfg.ProtocolPingInterval)
	parseDuration(&problems, "SKY_LATENCY_UPDATE_INTERVAL", &cfg.LatencyUpdateInterval)
	parseDuration(&problems, "SKY_SNAPSHOT_INTERVAL", &cfg.SnapshotInterval)
	parseDuration(&problems, "SKY_RECORD_MAX_AGE", &cfg.RecordMaxAge)

	parseInt(&problems, "SKY_MAX_CLIENTS", 0, &cfg.MaxClients)
	parseInt(&problems, "SKY_CHAT_BURST", 1, &cfg.ChatBurst)
	parseInt(&problems, "SKY_RECORD_MAX_SESSIONS", 0, &cfg.RecordMaxSessions)
	parseInt(&problems, "SKY_LOG_MAX_SIZE_MB", 1, &cfg.Logging.MaxSizeMB)
	parseInt(&problems, "SKY_LOG_MAX_BACKUPS", 0, &cfg.Logging.MaxBackups)
	parseInt(&problems, "SKY_LOG_MAX_AGE_DAYS", 0, &cfg.Logging.MaxAgeDays)

	parseFloat(&problems, "SKY_TICK_HZ", &cfg.TickHz)
	parseFloat(&problems, "SKY_BANDWIDTH_BPS", &cfg.BandwidthBytesPerSecond)
	parseFloat(&problems, "SKY_CHAT_RATE", &cfg.ChatRate)

	if raw := strings.TrimSpace(os.Getenv("SKY_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SKY_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "SKY_TLS_CERT and SKY_TLS_KEY must be provided together")
	}
	if cfg.QUICAddress != "" && cfg.TLSCertPath == "" {
		problems = append(problems, "SKY_QUIC_ADDR requires SKY_TLS_CERT and SKY_TLS_KEY")
	}
	if cfg.GRPCAddress != "" && cfg.GRPCSecret == "" {
		problems = append(problems, "SKY_GRPC_ADDR requires SKY_GRPC_SECRET")
	}
	switch cfg.GRPCCompression {
	case "zstd", "snappy", "gzip", "identity", "none":
	default:
		problems = append(problems, fmt.Sprintf("SKY_GRPC_COMPRESSION must be one of zstd, snappy, gzip or none, got %q", cfg.GRPCCompression))
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func parseDuration(problems *[]string, key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func parseInt(problems *[]string, key string, min int, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*dst = value
}

func parseFloat(problems *[]string, key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
