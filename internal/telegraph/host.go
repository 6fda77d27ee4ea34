// Package telegraph moves opaque payloads between the game loop and remote
// peers. Transports deliver connection events onto a channel that the
// single-threaded loop drains with Poll.
package telegraph

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPeerClosed is returned when sending to a peer that has gone away.
	ErrPeerClosed = errors.New("telegraph: peer closed")
	// ErrHostClosed is returned by operations on a closed host.
	ErrHostClosed = errors.New("telegraph: host closed")
)

// DefaultEventBuffer sizes the event queue of every host.
const DefaultEventBuffer = 1024

// EventKind classifies an Event.
type EventKind uint8

const (
	EventConnect EventKind = iota
	EventReceive
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventReceive:
		return "receive"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one thing that happened on the network.
type Event struct {
	Kind    EventKind
	Peer    Peer
	Payload []byte
}

// Peer is one remote end of a connection.
type Peer interface {
	ID() string
	RemoteAddr() string
	// Send queues payload for delivery. Unreliable payloads may be lost or
	// reordered; reliable ones arrive once and in order.
	Send(payload []byte, reliable bool) error
	Close(reason string) error
}

// Host accepts or dials connections and reports their events.
type Host interface {
	// Events is the queue the host writes to.
	Events() <-chan Event
	// Poll returns the next queued event without blocking.
	Poll() (Event, bool)
	// Peers lists the live peers in connection order.
	Peers() []Peer
	Close() error
}

// NewPeerID allocates a peer identifier.
func NewPeerID() string { return uuid.New().String() }

// hub is the event queue and peer registry shared by every host.
type hub struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	peers  []Peer
	closed bool
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &hub{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (h *hub) Events() <-chan Event { return h.events }

func (h *hub) Poll() (Event, bool) {
	select {
	case ev := <-h.events:
		return ev, true
	default:
		return Event{}, false
	}
}

func (h *hub) Peers() []Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Peer(nil), h.peers...)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// connect registers peer and queues its Connect event.
func (h *hub) connect(peer Peer) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.peers = append(h.peers, peer)
	h.mu.Unlock()
	h.emit(Event{Kind: EventConnect, Peer: peer})
	return true
}

// disconnect removes peer and queues its Disconnect event once.
func (h *hub) disconnect(peer Peer) {
	h.mu.Lock()
	found := false
	for i, p := range h.peers {
		if p == peer {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			found = true
			break
		}
	}
	h.mu.Unlock()
	if found {
		h.emit(Event{Kind: EventDisconnect, Peer: peer})
	}
}

func (h *hub) receive(peer Peer, payload []byte) {
	h.emit(Event{Kind: EventReceive, Peer: peer, Payload: payload})
}

// emit blocks while the queue is full so transports push back on their
// readers, and gives up once the host closes.
func (h *hub) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// shutdown marks the hub closed and returns the peers still registered.
func (h *hub) shutdown() ([]Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.closed = true
	close(h.done)
	return append([]Peer(nil), h.peers...), true
}

func (h *hub) isClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
