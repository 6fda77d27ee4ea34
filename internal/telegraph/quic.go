package telegraph

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"solemnsky/server/internal/logging"
)

// QUICProtocol is the ALPN identifier both ends must offer.
const QUICProtocol = "solemnsky"

const (
	quicCloseNormal quic.ApplicationErrorCode = 0
	quicCloseError  quic.ApplicationErrorCode = 0x0a
)

// QUICOptions configures a QUICHost.
type QUICOptions struct {
	MaxPayloadBytes int64
	MaxClients      int
	KeepAlive       time.Duration
	SendBuffer      int
	Logger          *logging.Logger
}

func (o *QUICOptions) normalise() {
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
}

func (o QUICOptions) quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: o.KeepAlive,
	}
}

func quicTLS(base *tls.Config) *tls.Config {
	conf := base.Clone()
	if conf == nil {
		conf = &tls.Config{}
	}
	conf.NextProtos = []string{QUICProtocol}
	return conf
}

// QUICHost sends unreliable payloads as datagrams and reliable ones as
// length-prefixed frames on one unidirectional stream per direction, so
// reliable payloads keep their order.
type QUICHost struct {
	*hub
	log      *logging.Logger
	opts     QUICOptions
	listener *quic.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// ListenQUIC starts accepting QUIC connections on addr.
func ListenQUIC(addr string, tlsConf *tls.Config, opts QUICOptions) (*QUICHost, error) {
	opts.normalise()
	listener, err := quic.ListenAddr(addr, quicTLS(tlsConf), opts.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}
	h := newQUICHost(opts, logging.OriginServer)
	h.listener = listener
	go h.acceptLoop()
	h.log.Info("quic host listening", logging.String("addr", listener.Addr().String()))
	return h, nil
}

// DialQUIC connects to a QUIC server and returns a client host whose single
// peer is the server.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, opts QUICOptions) (*QUICHost, error) {
	opts.normalise()
	conn, err := quic.DialAddr(ctx, addr, quicTLS(tlsConf), opts.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	h := newQUICHost(opts, logging.OriginClient)
	h.start(conn)
	return h, nil
}

func newQUICHost(opts QUICOptions, origin logging.Origin) *QUICHost {
	ctx, cancel := context.WithCancel(context.Background())
	return &QUICHost{
		hub:    newHub(0),
		log:    opts.Logger.Named(origin, "quic"),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Addr returns the listening address, or "" for a dialled host.
func (h *QUICHost) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *QUICHost) acceptLoop() {
	for {
		conn, err := h.listener.Accept(h.ctx)
		if err != nil {
			if h.ctx.Err() == nil {
				h.log.Warn("quic accept failed", logging.Error(err))
			}
			return
		}
		if h.opts.MaxClients > 0 && h.count() >= h.opts.MaxClients {
			conn.CloseWithError(quicCloseError, "server full")
			continue
		}
		h.start(conn)
	}
}

func (h *QUICHost) start(conn quic.Connection) {
	peer := &quicPeer{
		id:   NewPeerID(),
		conn: conn,
		host: h,
		send: make(chan quicFrame, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.connect(peer) {
		conn.CloseWithError(quicCloseNormal, "host closed")
		return
	}
	h.log.Info("peer connected", logging.String("peer", peer.id), logging.String("remote_addr", peer.RemoteAddr()))
	go peer.streamPump()
	go peer.datagramPump()
	go peer.writePump()
	go func() {
		<-conn.Context().Done()
		peer.Close("")
		h.disconnect(peer)
	}()
}

// Close disconnects every peer and stops listening.
func (h *QUICHost) Close() error {
	peers, ok := h.shutdown()
	if !ok {
		return nil
	}
	for _, p := range peers {
		p.Close("server shutting down")
	}
	h.cancel()
	if h.listener != nil {
		return h.listener.Close()
	}
	return nil
}

type quicFrame struct {
	payload  []byte
	reliable bool
}

type quicPeer struct {
	id   string
	conn quic.Connection
	host *QUICHost

	send chan quicFrame
	done chan struct{}
	once sync.Once
}

func (p *quicPeer) ID() string         { return p.id }
func (p *quicPeer) RemoteAddr() string { return p.conn.RemoteAddr().String() }

func (p *quicPeer) Send(payload []byte, reliable bool) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- quicFrame{payload: payload, reliable: reliable}:
		return nil
	default:
		if !reliable {
			return nil
		}
		p.Close("send buffer full")
		return ErrPeerClosed
	}
}

func (p *quicPeer) Close(reason string) error {
	p.once.Do(func() {
		close(p.done)
		code := quicCloseNormal
		if reason != "" && reason != "server shutting down" {
			code = quicCloseError
		}
		p.conn.CloseWithError(code, reason)
	})
	return nil
}

// streamPump reads the reliable frames of the remote's stream.
func (p *quicPeer) streamPump() {
	stream, err := p.conn.AcceptUniStream(p.host.ctx)
	if err != nil {
		return
	}
	r := bufio.NewReader(stream)
	var header [4]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				p.host.log.Debug("quic stream closed", logging.String("peer", p.id), logging.Error(err))
			}
			p.Close("")
			return
		}
		size := binary.BigEndian.Uint32(header[:])
		if int64(size) > p.host.opts.MaxPayloadBytes {
			p.host.log.Warn("quic frame too large", logging.String("peer", p.id), logging.Int64("size", int64(size)))
			p.Close("frame too large")
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			p.Close("")
			return
		}
		p.host.receive(p, payload)
	}
}

func (p *quicPeer) datagramPump() {
	for {
		payload, err := p.conn.ReceiveDatagram(p.host.ctx)
		if err != nil {
			return
		}
		p.host.receive(p, payload)
	}
}

func (p *quicPeer) writePump() {
	var stream quic.SendStream
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			//1.- Datagrams that do not fit a packet fall back to the stream.
			if !frame.reliable {
				err := p.conn.SendDatagram(frame.payload)
				var tooLarge *quic.DatagramTooLargeError
				if err == nil {
					continue
				}
				if !errors.As(err, &tooLarge) {
					p.host.log.Debug("quic datagram failed", logging.String("peer", p.id), logging.Error(err))
					continue
				}
			}
			//2.- The reliable stream opens on first use and stays open.
			if stream == nil {
				s, err := p.conn.OpenUniStreamSync(p.host.ctx)
				if err != nil {
					p.Close("")
					return
				}
				stream = s
			}
			frameBytes := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(frame.payload)), uint32(len(frame.payload)))
			frameBytes = append(frameBytes, frame.payload...)
			if _, err := stream.Write(frameBytes); err != nil {
				p.Close("")
				return
			}
		}
	}
}
