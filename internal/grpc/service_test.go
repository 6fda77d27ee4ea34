package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"solemnsky/server/internal/logging"
)

type sourceStub struct {
	ch       <-chan PacketFrame
	snapshot []byte
	err      error
}

func (s *sourceStub) SubscribePackets(context.Context) (<-chan PacketFrame, func(), error) {
	if s.err != nil {
		return nil, func() {}, s.err
	}
	return s.ch, func() {}, nil
}

func (s *sourceStub) Snapshot(context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

type packetStreamStub struct {
	ctx    context.Context
	header metadata.MD
	frames []*wrapperspb.BytesValue
}

func (s *packetStreamStub) Send(frame *wrapperspb.BytesValue) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *packetStreamStub) SetHeader(md metadata.MD) error  { s.header = md; return nil }
func (s *packetStreamStub) SendHeader(md metadata.MD) error { s.header = md; return nil }
func (s *packetStreamStub) SetTrailer(metadata.MD)          {}
func (s *packetStreamStub) Context() context.Context        { return s.ctx }
func (s *packetStreamStub) SendMsg(m interface{}) error     { return s.Send(m.(*wrapperspb.BytesValue)) }
func (s *packetStreamStub) RecvMsg(interface{}) error       { return nil }

var _ grpc.ServerStreamingServer[wrapperspb.BytesValue] = (*packetStreamStub)(nil)

func manualTicker(ch chan time.Time) Option {
	return WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} })
}

func TestStreamPacketsBatchesInOrder(t *testing.T) {
	compressor := NewSnappyCompressor()
	frames := make(chan PacketFrame, 3)
	tickCh := make(chan time.Time, 1)
	service := NewService(&sourceStub{ch: frames}, WithCompressor(compressor), manualTicker(tickCh),
		WithLogger(logging.NewTestLogger()))

	//1.- Three packets arrive before the flush; the source then closes.
	for i := byte(1); i <= 3; i++ {
		frames <- PacketFrame{Uptime: time.Duration(i), Kind: 7, Payload: []byte{i, i, i}}
	}
	close(frames)

	stream := &packetStreamStub{ctx: context.Background()}
	done := make(chan error, 1)
	go func() { done <- service.StreamPackets(wrapperspb.String("cam-1"), stream) }()
	go func() {
		time.Sleep(5 * time.Millisecond)
		tickCh <- time.Now()
	}()

	if err := <-done; err != nil {
		t.Fatalf("StreamPackets: %v", err)
	}

	//2.- One flush sends them all, in order, with the encoding advertised.
	if got := stream.header.Get(EncodingMetadataKey); len(got) != 1 || got[0] != "snappy" {
		t.Fatalf("unexpected header %v", stream.header)
	}
	if len(stream.frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(stream.frames))
	}
	for i, frame := range stream.frames {
		decoded, err := compressor.Decompress(frame.GetValue())
		if err != nil {
			t.Fatalf("frame %d decompress: %v", i, err)
		}
		if decoded[0] != byte(i+1) {
			t.Fatalf("frame %d out of order: %v", i, decoded)
		}
	}
}

func TestStreamPacketsErrors(t *testing.T) {
	service := NewService(&sourceStub{err: errors.New("subscribe failed")})
	stream := &packetStreamStub{ctx: context.Background()}
	if err := service.StreamPackets(wrapperspb.String("cam"), stream); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if err := service.StreamPackets(wrapperspb.String("  "), stream); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := NewService(&sourceStub{ch: make(chan PacketFrame)})
	if err := live.StreamPackets(wrapperspb.String("cam"), &packetStreamStub{ctx: ctx}); status.Code(err) != codes.Canceled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestSnapshotOverBufconn(t *testing.T) {
	listener := bufconn.Listen(1 << 16)
	server := grpc.NewServer()
	frames := make(chan PacketFrame, 1)
	frames <- PacketFrame{Kind: 1, Payload: []byte("init")}
	close(frames)
	source := &sourceStub{ch: frames, snapshot: []byte("arena")}
	RegisterSpectatorServer(server, NewService(source, WithLogger(logging.NewTestLogger())))
	go server.Serve(listener)
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := NewSpectatorClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	//1.- The snapshot is zstd by default and says so.
	var header metadata.MD
	snapshot, err := client.Snapshot(ctx, grpc.Header(&header))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := header.Get(EncodingMetadataKey); len(got) != 1 || got[0] != "zstd" {
		t.Fatalf("unexpected snapshot header %v", header)
	}
	decoded, err := NewZstdCompressor().Decompress(snapshot.GetValue())
	if err != nil || string(decoded) != "arena" {
		t.Fatalf("unexpected snapshot %q: %v", decoded, err)
	}

	//2.- The stream delivers the buffered frame and ends with the source.
	stream, err := client.StreamPackets(ctx, "cam-1")
	if err != nil {
		t.Fatalf("StreamPackets: %v", err)
	}
	frame, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if decoded, _ := NewZstdCompressor().Decompress(frame.GetValue()); string(decoded) != "init" {
		t.Fatalf("unexpected frame %q", decoded)
	}

	//3.- Unknown methods are not served.
	err = conn.Invoke(ctx, "/solemnsky.Spectator/Missing", new(emptypb.Empty), new(emptypb.Empty))
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}
