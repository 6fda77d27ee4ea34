package telegraph

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solemnsky/server/internal/logging"
)

const (
	// DefaultPingInterval is the keepalive cadence of websocket peers.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes bounds one inbound websocket message.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultSendBuffer is the number of payloads queued per peer before the
	// peer is dropped as too slow.
	DefaultSendBuffer = 256

	writeWait = 10 * time.Second
)

// WebsocketOptions configures a WebsocketHost.
type WebsocketOptions struct {
	// AllowedOrigins lists the browser origins that may connect. Empty
	// allows any origin; requests without an Origin header always pass.
	AllowedOrigins  []string
	MaxPayloadBytes int64
	// MaxClients refuses upgrades beyond this many peers. Zero disables the
	// limit.
	MaxClients   int
	PingInterval time.Duration
	SendBuffer   int
	Logger       *logging.Logger
	// Authenticate vets a request before the upgrade and names the caller.
	// Nil admits everyone.
	Authenticate func(r *http.Request) (string, error)
}

func (o *WebsocketOptions) normalise() {
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
}

// WebsocketHost carries payloads as binary websocket messages. Every send is
// reliable; the TCP stream keeps them ordered.
type WebsocketHost struct {
	*hub
	log      *logging.Logger
	opts     WebsocketOptions
	upgrader websocket.Upgrader
}

// NewWebsocketHost returns a host that accepts peers through ServeHTTP.
func NewWebsocketHost(opts WebsocketOptions) *WebsocketHost {
	opts.normalise()
	h := &WebsocketHost{
		hub:  newHub(0),
		log:  opts.Logger.Named(logging.OriginServer, "websocket"),
		opts: opts,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WebsocketHost) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and registers the new peer.
func (h *WebsocketHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.opts.MaxClients > 0 && h.count() >= h.opts.MaxClients {
		h.log.Warn("refusing websocket peer, server full",
			logging.String("remote_addr", r.RemoteAddr), logging.Int("max_clients", h.opts.MaxClients))
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}
	subject := ""
	if h.opts.Authenticate != nil {
		var err error
		subject, err = h.opts.Authenticate(r)
		if err != nil {
			h.log.Warn("refusing websocket peer, authentication failed",
				logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
		return
	}
	if peer := h.start(conn, r.RemoteAddr); peer != nil && subject != "" {
		h.log.Info("peer authenticated", logging.String("peer", peer.id), logging.String("subject", subject))
	}
}

func (h *WebsocketHost) start(conn *websocket.Conn, remoteAddr string) *wsPeer {
	peer := &wsPeer{
		id:   NewPeerID(),
		addr: remoteAddr,
		conn: conn,
		host: h,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.connect(peer) {
		conn.Close()
		return nil
	}
	h.log.Info("peer connected", logging.String("peer", peer.id), logging.String("remote_addr", remoteAddr))
	go peer.readPump()
	go peer.writePump()
	return peer
}

// Close disconnects every peer.
func (h *WebsocketHost) Close() error {
	peers, ok := h.shutdown()
	if !ok {
		return nil
	}
	for _, p := range peers {
		p.Close("server shutting down")
	}
	return nil
}

// DialWebsocket connects to a websocket server and returns a client host
// whose single peer is the server.
func DialWebsocket(ctx context.Context, url string, opts WebsocketOptions) (*WebsocketHost, error) {
	opts.normalise()
	h := &WebsocketHost{
		hub:  newHub(0),
		log:  opts.Logger.Named(logging.OriginClient, "websocket"),
		opts: opts,
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	h.start(conn, conn.RemoteAddr().String())
	return h, nil
}

type wsPeer struct {
	id   string
	addr string
	conn *websocket.Conn
	host *WebsocketHost

	send chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason string
}

func (p *wsPeer) ID() string         { return p.id }
func (p *wsPeer) RemoteAddr() string { return p.addr }

// Send queues payload for the writer goroutine. A peer whose queue is full
// is disconnected.
func (p *wsPeer) Send(payload []byte, reliable bool) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- payload:
		return nil
	default:
		p.Close("send buffer full")
		return ErrPeerClosed
	}
}

func (p *wsPeer) Close(reason string) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.reason = reason
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

func (p *wsPeer) closeReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *wsPeer) readPump() {
	defer func() {
		p.Close("")
		p.host.disconnect(p)
		p.host.log.Info("peer disconnected", logging.String("peer", p.id))
	}()

	//1.- Bound frame size and expect a pong within two ping periods.
	pongWait := 2 * p.host.opts.PingInterval
	p.conn.SetReadLimit(p.host.opts.MaxPayloadBytes)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.host.log.Debug("websocket read failed", logging.String("peer", p.id), logging.Error(err))
			}
			return
		}
		//2.- Only binary frames carry packets.
		if kind != websocket.BinaryMessage {
			p.host.log.Debug("ignoring non-binary websocket message", logging.String("peer", p.id))
			continue
		}
		p.host.receive(p, payload)
	}
}

func (p *wsPeer) writePump() {
	ticker := time.NewTicker(p.host.opts.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case payload := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				p.Close("")
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.Close("")
				return
			}
		case <-p.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, p.closeReason())
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
