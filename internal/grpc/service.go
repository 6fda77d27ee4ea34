// Package grpc serves the broadcast packet stream to spectators over gRPC.
package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"solemnsky/server/internal/logging"
)

const (
	// EncodingMetadataKey names the compressor in the response header.
	EncodingMetadataKey = "x-solemnsky-encoding"

	streamFlushHz = 20

	serviceName          = "solemnsky.Spectator"
	streamPacketsMethod  = "StreamPackets"
	snapshotMethod       = "Snapshot"
	snapshotFullMethod   = "/" + serviceName + "/" + snapshotMethod
	streamPacketsFullRPC = "/" + serviceName + "/" + streamPacketsMethod
)

// SpectatorServer is the server API of solemnsky.Spectator.
type SpectatorServer interface {
	StreamPackets(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	Snapshot(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// SpectatorServiceDesc describes solemnsky.Spectator with the well-known
// wrapper types as messages, so no generated code is needed.
var SpectatorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SpectatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: snapshotMethod, Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: streamPacketsMethod, Handler: streamPacketsHandler, ServerStreams: true},
	},
	Metadata: "solemnsky/spectator.proto",
}

// RegisterSpectatorServer attaches srv to s.
func RegisterSpectatorServer(s grpc.ServiceRegistrar, srv SpectatorServer) {
	s.RegisterService(&SpectatorServiceDesc, srv)
}

func snapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SpectatorServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SpectatorServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamPacketsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SpectatorServer).StreamPackets(in, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// Option customises the behaviour of the spectator service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default zstd compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger.Named(logging.OriginServer, "spectator")
		}
	}
}

// WithTickerFactory overrides the flush ticker (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Service implements SpectatorServer on top of a PacketSource.
type Service struct {
	source     PacketSource
	compressor Compressor
	log        *logging.Logger
	newTicker  tickerFactory
}

var _ SpectatorServer = (*Service)(nil)

// NewService wires the spectator service to source.
func NewService(source PacketSource, opts ...Option) *Service {
	service := &Service{
		source:     source,
		compressor: NewZstdCompressor(),
		log:        logging.L().Named(logging.OriginServer, "spectator"),
		newTicker:  defaultTickerFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// StreamPackets relays every broadcast packet to one spectator, compressed
// and batched at a fixed flush rate.
func (s *Service) StreamPackets(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	spectator := strings.TrimSpace(req.GetValue())
	if spectator == "" {
		return status.Error(codes.InvalidArgument, "spectator id required")
	}
	ctx := stream.Context()
	frames, cancel, err := s.source.SubscribePackets(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "subscribe packets: %v", err)
	}
	defer cancel()
	if err := stream.SendHeader(metadata.Pairs(EncodingMetadataKey, s.compressor.Name())); err != nil {
		return err
	}
	log := s.log.With(logging.String("spectator", spectator))
	log.Info("spectator attached")

	tickCh, stop := s.newTicker(time.Second / streamFlushHz)
	defer stop()

	var (
		pending []PacketFrame
		closed  bool
		sent    int64
	)
	flush := func() error {
		for _, frame := range pending {
			compressed, err := s.compressor.Compress(frame.Payload)
			if err != nil {
				return status.Errorf(codes.Internal, "compress packet: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(compressed)); err != nil {
				return err
			}
			sent++
		}
		pending = pending[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("spectator detached", logging.Int64("frames", sent))
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case frame, ok := <-frames:
			if !ok {
				closed = true
				frames = nil
				if len(pending) == 0 {
					return nil
				}
				continue
			}
			pending = append(pending, frame)
		case <-tickCh:
			if err := flush(); err != nil {
				return err
			}
			if closed {
				log.Info("packet source closed", logging.Int64("frames", sent))
				return nil
			}
		}
	}
}

// Snapshot returns the compressed Init packet of a non-player view.
func (s *Service) Snapshot(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if s == nil || s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "snapshot unavailable")
	}
	payload, err := s.source.Snapshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, status.FromContextError(ctxErr).Err()
		}
		return nil, status.Errorf(codes.Unavailable, "snapshot: %v", err)
	}
	compressed, err := s.compressor.Compress(payload)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "compress snapshot: %v", err)
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(EncodingMetadataKey, s.compressor.Name()))
	return wrapperspb.Bytes(compressed), nil
}

// SpectatorClient is the client API of solemnsky.Spectator.
type SpectatorClient struct {
	cc grpc.ClientConnInterface
}

func NewSpectatorClient(cc grpc.ClientConnInterface) *SpectatorClient {
	return &SpectatorClient{cc: cc}
}

// StreamPackets opens the packet stream for spectator.
func (c *SpectatorClient) StreamPackets(ctx context.Context, spectator string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &SpectatorServiceDesc.Streams[0], streamPacketsFullRPC, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(spectator)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *SpectatorClient) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, snapshotFullMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
