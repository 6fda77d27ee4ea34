package telegraph

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// PipeHost is an in-memory host. Dial connects a new client host to it;
// payloads cross the pipe as copies, always reliably and in order.
type PipeHost struct {
	*hub
	name string
	next atomic.Int64
}

// NewPipeHost returns a listening in-memory host.
func NewPipeHost() *PipeHost {
	return &PipeHost{hub: newHub(0), name: "pipe"}
}

// Pipe returns a server host with one client host dialled into it.
func Pipe() (server, client *PipeHost) {
	server = NewPipeHost()
	return server, server.Dial()
}

// Dial connects a fresh client host. Both ends receive a Connect event.
func (h *PipeHost) Dial() *PipeHost {
	name := "pipe-client-" + strconv.FormatInt(h.next.Add(1), 10)
	client := &PipeHost{hub: newHub(0), name: name}
	link := &pipeLink{}
	serverEnd := &pipePeer{id: NewPeerID(), addr: name, link: link, local: h.hub}
	clientEnd := &pipePeer{id: NewPeerID(), addr: h.name, link: link, local: client.hub}
	serverEnd.remote, clientEnd.remote = clientEnd, serverEnd
	h.connect(serverEnd)
	client.connect(clientEnd)
	return client
}

// Close disconnects every peer and stops delivering events.
func (h *PipeHost) Close() error {
	peers, ok := h.shutdown()
	if !ok {
		return nil
	}
	for _, p := range peers {
		p.Close("host closed")
	}
	return nil
}

type pipeLink struct {
	once   sync.Once
	closed atomic.Bool
}

type pipePeer struct {
	id     string
	addr   string
	link   *pipeLink
	local  *hub
	remote *pipePeer
}

func (p *pipePeer) ID() string         { return p.id }
func (p *pipePeer) RemoteAddr() string { return p.addr }

func (p *pipePeer) Send(payload []byte, reliable bool) error {
	if p.link.closed.Load() {
		return ErrPeerClosed
	}
	p.remote.local.receive(p.remote, append([]byte(nil), payload...))
	return nil
}

func (p *pipePeer) Close(reason string) error {
	p.link.once.Do(func() {
		p.link.closed.Store(true)
		p.local.disconnect(p)
		p.remote.local.disconnect(p.remote)
	})
	return nil
}
