package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SKY_ADDR", "SKY_QUIC_ADDR", "SKY_GRPC_ADDR", "SKY_GRPC_SECRET",
		"SKY_ALLOWED_ORIGINS", "SKY_MAX_PAYLOAD_BYTES", "SKY_PING_INTERVAL",
		"SKY_MAX_CLIENTS", "SKY_TLS_CERT", "SKY_TLS_KEY", "SKY_TICK_HZ",
		"SKY_SKY_DELTA_INTERVAL", "SKY_CHAT_RATE", "SKY_CHAT_BURST",
		"SKY_GRPC_COMPRESSION", "SKY_RECORD_MAX_SESSIONS", "SKY_RECORD_MAX_AGE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.SkyDeltaInterval != DefaultSkyDeltaInterval {
		t.Fatalf("expected sky delta interval %v, got %v", DefaultSkyDeltaInterval, cfg.SkyDeltaInterval)
	}
	if cfg.TickHz != DefaultTickHz {
		t.Fatalf("expected tick rate %v, got %v", DefaultTickHz, cfg.TickHz)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Fatalf("expected default max clients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		t.Fatalf("expected TLS paths to be empty, got cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_ADDR", "127.0.0.1:9000")
	t.Setenv("SKY_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("SKY_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("SKY_SKY_DELTA_INTERVAL", "50ms")
	t.Setenv("SKY_MAX_CLIENTS", "12")
	t.Setenv("SKY_CHAT_RATE", "0.5")
	t.Setenv("SKY_CHAT_BURST", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.SkyDeltaInterval != 50*time.Millisecond {
		t.Fatalf("expected sky delta interval 50ms, got %v", cfg.SkyDeltaInterval)
	}
	if cfg.MaxClients != 12 {
		t.Fatalf("expected max clients 12, got %d", cfg.MaxClients)
	}
	if cfg.ChatRate != 0.5 || cfg.ChatBurst != 2 {
		t.Fatalf("unexpected chat limiter %v/%d", cfg.ChatRate, cfg.ChatBurst)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("SKY_PING_INTERVAL", "abc")
	t.Setenv("SKY_MAX_CLIENTS", "-1")
	t.Setenv("SKY_TICK_HZ", "0")
	t.Setenv("SKY_TLS_CERT", "/tmp/cert.pem")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"SKY_MAX_PAYLOAD_BYTES",
		"SKY_PING_INTERVAL",
		"SKY_MAX_CLIENTS",
		"SKY_TICK_HZ",
		"SKY_TLS_CERT",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadRequiresTLSForQUIC(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_QUIC_ADDR", ":4243")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SKY_QUIC_ADDR") {
		t.Fatalf("expected quic validation error, got %v", err)
	}
}

func TestLoadRequiresSecretForGRPC(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_GRPC_ADDR", ":4244")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SKY_GRPC_SECRET") {
		t.Fatalf("expected grpc validation error, got %v", err)
	}
}

func TestLoadRecordingAndCompression(t *testing.T) {
	clearEnv(t)

	//1.- Defaults keep zstd and a bounded archive.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GRPCCompression != DefaultGRPCCompression || cfg.RecordMaxSessions != DefaultRecordMaxSessions || cfg.RecordMaxAge != DefaultRecordMaxAge {
		t.Fatalf("unexpected defaults %q/%d/%v", cfg.GRPCCompression, cfg.RecordMaxSessions, cfg.RecordMaxAge)
	}

	//2.- Overrides are normalised and validated.
	t.Setenv("SKY_GRPC_COMPRESSION", "Snappy")
	t.Setenv("SKY_RECORD_MAX_SESSIONS", "3")
	t.Setenv("SKY_RECORD_MAX_AGE", "12h")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GRPCCompression != "snappy" || cfg.RecordMaxSessions != 3 || cfg.RecordMaxAge != 12*time.Hour {
		t.Fatalf("unexpected overrides %q/%d/%v", cfg.GRPCCompression, cfg.RecordMaxSessions, cfg.RecordMaxAge)
	}

	t.Setenv("SKY_GRPC_COMPRESSION", "lz4")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SKY_GRPC_COMPRESSION") {
		t.Fatalf("expected compression validation error, got %v", err)
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}

func TestLoadAllowsUnlimitedClients(t *testing.T) {
	clearEnv(t)
	t.Setenv("SKY_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

func TestLoadArenaDefaultsWhenMissing(t *testing.T) {
	arena, err := LoadArena(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadArena: %v", err)
	}
	if arena.NextEnv != "default" || arena.TeamCount != 2 {
		t.Fatalf("unexpected defaults: %+v", arena)
	}
}

func TestLoadArenaMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	body := "name: duel\nmotd: hi\nnext_env: canyon\nteam_count: 0\ntuning:\n  flight.gravityEffect: 0.9\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	arena, err := LoadArena(path)
	if err != nil {
		t.Fatalf("LoadArena: %v", err)
	}
	if arena.Name != "duel" || arena.Motd != "hi" || arena.NextEnv != "canyon" || arena.TeamCount != 0 {
		t.Fatalf("unexpected arena: %+v", arena)
	}
	if arena.Tuning["flight.gravityEffect"] != 0.9 {
		t.Fatalf("tuning override lost: %+v", arena.Tuning)
	}
	if len(arena.ScoreboardFields) != 2 {
		t.Fatalf("expected default scoreboard fields to survive, got %v", arena.ScoreboardFields)
	}
}

func TestLoadArenaRejectsBadTeamCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	if err := os.WriteFile(path, []byte("team_count: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadArena(path); err == nil {
		t.Fatalf("expected team_count validation error")
	}
}
