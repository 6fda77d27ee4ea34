package grpc

import (
	"context"
	"time"
)

// PacketFrame is one encoded ServerPacket broadcast to the clients.
type PacketFrame struct {
	Uptime  time.Duration
	Kind    uint8
	Payload []byte
}

// PacketSource fans broadcast packets out to spectators.
type PacketSource interface {
	// SubscribePackets delivers future broadcasts until cancel is called or
	// ctx ends. Slow subscribers lose frames rather than stall the server.
	SubscribePackets(ctx context.Context) (<-chan PacketFrame, func(), error)
	// Snapshot returns an encoded Init packet describing the arena now.
	Snapshot(ctx context.Context) ([]byte, error)
}
