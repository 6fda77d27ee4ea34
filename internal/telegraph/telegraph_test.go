package telegraph

import (
	"errors"
	"testing"
	"time"

	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/sky"
)

func TestTelegraphCarriesPackets(t *testing.T) {
	serverHost, clientHost := Pipe()
	server := NewServerTelegraph(serverHost, WithLogger(logging.NewTestLogger()))
	client := NewClientTelegraph(clientHost, WithLogger(logging.NewTestLogger()))

	serverPeer := next(t, serverHost).Peer
	clientPeer := next(t, clientHost).Peer

	if err := client.Transmit(clientPeer, protocol.ReqJoin("pilot")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	packet, ok := server.Receive(next(t, serverHost))
	if !ok {
		t.Fatalf("expected packet to decode")
	}
	if packet.Kind != protocol.ClientReqJoin || *packet.Nickname != "pilot" {
		t.Fatalf("unexpected packet %+v", packet)
	}

	if err := server.Transmit(serverPeer, protocol.Broadcast("welcome")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	reply, ok := client.Receive(next(t, clientHost))
	if !ok || reply.Kind != protocol.ServerBroadcast || *reply.Text != "welcome" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestTelegraphDropsInvalidPayloads(t *testing.T) {
	serverHost, clientHost := Pipe()
	server := NewServerTelegraph(serverHost, WithLogger(logging.NewTestLogger()))
	next(t, serverHost)
	clientPeer := next(t, clientHost).Peer

	//1.- Garbage never reaches the application.
	clientPeer.Send([]byte{0xff, 0xff, 0xff}, true)
	if _, ok := server.Receive(next(t, serverHost)); ok {
		t.Fatalf("garbage must not decode")
	}

	//2.- Neither does a chat packet without text.
	clientPeer.Send(protocol.EncodeClient(protocol.ClientPacket{Kind: protocol.ClientChat}), true)
	if _, ok := server.Receive(next(t, serverHost)); ok {
		t.Fatalf("chat without text must be dropped")
	}
	if server.Rejected() != 2 {
		t.Fatalf("expected two rejected payloads, got %d", server.Rejected())
	}

	//3.- Non-receive events carry no packet.
	if _, ok := server.Receive(Event{Kind: EventConnect}); ok {
		t.Fatalf("connect events carry no packet")
	}
}

func TestTelegraphThrottlesUnreliableSends(t *testing.T) {
	serverHost, clientHost := Pipe()
	current := time.Unix(0, 0)
	regulator := NewBandwidthRegulator(4, func() time.Time { return current })
	server := NewServerTelegraph(serverHost, WithLogger(logging.NewTestLogger()), WithRegulator(regulator))
	peer := next(t, serverHost).Peer
	next(t, clientHost)

	delta := protocol.DeltaSky(time.Second, sky.SkyHandleDelta{})
	if err := server.Transmit(peer, delta); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected the oversized sky delta to be throttled, got %v", err)
	}
	if err := server.Transmit(peer, protocol.Broadcast("still delivered")); err != nil {
		t.Fatalf("reliable packets always pass: %v", err)
	}
	if server.Throttled() != 1 {
		t.Fatalf("expected one throttled send, got %d", server.Throttled())
	}
	server.Forget(peer)
	if regulator.SnapshotUsage() != nil {
		t.Fatalf("forget should release the peer bucket")
	}
}
