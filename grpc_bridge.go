package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	grpcstream "solemnsky/server/internal/grpc"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/server"
)

// spectatorBuffer is how many frames a spectator may lag behind before
// frames are dropped.
const spectatorBuffer = 256

// spectatorBridge taps the broadcasts of the executor and fans them out to
// gRPC spectators. Snapshots are taken on the server loop.
type spectatorBridge struct {
	exec *server.Exec
	log  *logging.Logger

	mu          sync.Mutex
	subscribers map[uint64]chan grpcstream.PacketFrame
	nextID      uint64
	dropped     atomic.Int64
}

var (
	_ server.BroadcastTap     = (*spectatorBridge)(nil)
	_ grpcstream.PacketSource = (*spectatorBridge)(nil)
)

func newSpectatorBridge(exec *server.Exec, logger *logging.Logger) *spectatorBridge {
	if logger == nil {
		logger = logging.L()
	}
	return &spectatorBridge{
		exec:        exec,
		log:         logger.Named(logging.OriginServer, "spectators"),
		subscribers: make(map[uint64]chan grpcstream.PacketFrame),
	}
}

// OnBroadcast runs on the server loop and never blocks it.
func (b *spectatorBridge) OnBroadcast(uptime time.Duration, packet protocol.ServerPacket, payload []byte) {
	frame := grpcstream.PacketFrame{Uptime: uptime, Kind: uint8(packet.Kind), Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscribePackets registers a spectator until cancel runs or ctx ends.
func (b *spectatorBridge) SubscribePackets(ctx context.Context) (<-chan grpcstream.PacketFrame, func(), error) {
	if b == nil {
		return nil, func() {}, errors.New("spectator bridge is nil")
	}
	//1.- Allocate a buffered channel so slow spectators drop frames instead of stalling the loop.
	ch := make(chan grpcstream.PacketFrame, spectatorBuffer)

	//2.- Register the subscriber under lock.
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = ch
	count := len(b.subscribers)
	b.mu.Unlock()
	b.log.Info("spectator subscribed", logging.Int("spectators", count))

	var once sync.Once
	cancel := func() {
		//3.- Unsubscribe and close exactly once.
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		//4.- Tie the subscription to the stream context.
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

// Snapshot encodes a spectator Init packet on the server loop.
func (b *spectatorBridge) Snapshot(ctx context.Context) ([]byte, error) {
	result := make(chan []byte, 1)
	err := b.exec.Invoke(ctx, func(s *server.Shared) {
		result <- protocol.EncodeServer(s.SpectatorInit())
	})
	if err != nil {
		return nil, err
	}
	return <-result, nil
}

// Spectators reports the live subscriber count.
func (b *spectatorBridge) Spectators() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped reports how many frames slow spectators lost.
func (b *spectatorBridge) Dropped() int64 { return b.dropped.Load() }
