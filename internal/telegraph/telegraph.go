package telegraph

import (
	"errors"
	"sync/atomic"

	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/protocol"
)

// ErrThrottled is returned when the bandwidth regulator refuses an
// unreliable send.
var ErrThrottled = errors.New("telegraph: send throttled")

// Packet is what a Telegraph can transmit.
type Packet interface {
	Reliable() bool
}

type options struct {
	log       *logging.Logger
	regulator *BandwidthRegulator
}

// Option configures a Telegraph.
type Option func(*options)

// WithLogger routes decode failures to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.log = logger
		}
	}
}

// WithRegulator throttles outbound traffic per peer.
func WithRegulator(regulator *BandwidthRegulator) Option {
	return func(o *options) { o.regulator = regulator }
}

// Telegraph speaks packets over a Host: In is what arrives, Out what is
// sent.
type Telegraph[In any, Out Packet] struct {
	host      Host
	log       *logging.Logger
	regulator *BandwidthRegulator
	encode    func(Out) []byte
	decode    func([]byte) (In, error)

	rejected atomic.Int64
}

// NewServerTelegraph reads client packets and sends server packets.
func NewServerTelegraph(host Host, opts ...Option) *Telegraph[protocol.ClientPacket, protocol.ServerPacket] {
	return newTelegraph(host, logging.OriginServer, protocol.EncodeServer, protocol.DecodeClient, opts)
}

// NewClientTelegraph reads server packets and sends client packets.
func NewClientTelegraph(host Host, opts ...Option) *Telegraph[protocol.ServerPacket, protocol.ClientPacket] {
	return newTelegraph(host, logging.OriginClient, protocol.EncodeClient, protocol.DecodeServer, opts)
}

func newTelegraph[In any, Out Packet](host Host, origin logging.Origin, encode func(Out) []byte, decode func([]byte) (In, error), opts []Option) *Telegraph[In, Out] {
	o := options{log: logging.L()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Telegraph[In, Out]{
		host:      host,
		log:       o.log.Named(origin, "telegraph"),
		regulator: o.regulator,
		encode:    encode,
		decode:    decode,
	}
}

func (t *Telegraph[In, Out]) Host() Host { return t.host }

// Poll returns the next network event without blocking.
func (t *Telegraph[In, Out]) Poll() (Event, bool) { return t.host.Poll() }

// Encode serialises packet once so it can be sent to many peers.
func (t *Telegraph[In, Out]) Encode(packet Out) []byte { return t.encode(packet) }

// Transmit encodes packet and sends it with the packet's reliability.
func (t *Telegraph[In, Out]) Transmit(peer Peer, packet Out) error {
	return t.TransmitEncoded(peer, t.encode(packet), packet.Reliable())
}

// TransmitEncoded sends an already encoded payload.
func (t *Telegraph[In, Out]) TransmitEncoded(peer Peer, payload []byte, reliable bool) error {
	if peer == nil {
		return ErrPeerClosed
	}
	if !t.regulator.Allow(peer.ID(), len(payload), reliable) {
		return ErrThrottled
	}
	return peer.Send(payload, reliable)
}

// Receive decodes the payload of a Receive event. Payloads that fail to
// decode or verify are logged and dropped.
func (t *Telegraph[In, Out]) Receive(ev Event) (In, bool) {
	var zero In
	if ev.Kind != EventReceive {
		return zero, false
	}
	packet, err := t.decode(ev.Payload)
	if err != nil {
		t.rejected.Add(1)
		t.log.Warn("dropping undecodable packet",
			logging.String("peer", ev.Peer.ID()), logging.Int("bytes", len(ev.Payload)), logging.Error(err))
		return zero, false
	}
	return packet, true
}

// Forget releases the per-peer state of a disconnected peer.
func (t *Telegraph[In, Out]) Forget(peer Peer) {
	if peer != nil {
		t.regulator.Forget(peer.ID())
	}
}

// Rejected counts inbound payloads dropped by Receive.
func (t *Telegraph[In, Out]) Rejected() int64 { return t.rejected.Load() }

// Throttled counts outbound payloads refused by the regulator.
func (t *Telegraph[In, Out]) Throttled() int64 { return t.regulator.Dropped() }
