package main

import (
	"fmt"
	"net"
	"strings"

	configpkg "solemnsky/server/internal/config"
)

// listenerURL returns a human-friendly URL for a listener address.
// 1.- Normalise the configured address so the message always shows a reachable host:port pair.
// 2.- Prefix the scheme the listener speaks and append the path it serves.
func listenerURL(scheme, address, path string) string {
	return fmt.Sprintf("%s://%s%s", scheme, normaliseHostPort(address), path)
}

// advertisedEndpoints names every listener the configuration enables.
func advertisedEndpoints(cfg *configpkg.Config) map[string]string {
	tlsEnabled := cfg.TLSCertPath != ""
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}
	endpoints := map[string]string{
		"websocket": listenerURL(wsScheme, cfg.Address, "/ws"),
		"api":       listenerURL(httpScheme, cfg.Address, "/api/stats"),
	}
	if cfg.QUICAddress != "" {
		endpoints["quic"] = listenerURL("quic", cfg.QUICAddress, "")
	}
	if cfg.GRPCAddress != "" {
		endpoints["grpc"] = normaliseHostPort(cfg.GRPCAddress)
	}
	return endpoints
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	host = strings.TrimSpace(host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
