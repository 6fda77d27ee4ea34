package telegraph

import (
	"errors"
	"sync"
)

// MultiHost serves the peers of several hosts through one event queue, so a
// single loop can accept websocket and QUIC clients alike. Events of one
// host keep their order.
type MultiHost struct {
	hosts  []Host
	events chan Event
	done   chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Merge starts forwarding the events of every host.
func Merge(hosts ...Host) *MultiHost {
	m := &MultiHost{
		events: make(chan Event, DefaultEventBuffer),
		done:   make(chan struct{}),
	}
	for _, h := range hosts {
		if h == nil {
			continue
		}
		m.hosts = append(m.hosts, h)
		m.wg.Add(1)
		go m.forward(h)
	}
	return m
}

func (m *MultiHost) forward(h Host) {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return
			}
			select {
			case m.events <- ev:
			case <-m.done:
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *MultiHost) Events() <-chan Event { return m.events }

func (m *MultiHost) Poll() (Event, bool) {
	select {
	case ev := <-m.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// Peers lists the peers of every host, host by host.
func (m *MultiHost) Peers() []Peer {
	var peers []Peer
	for _, h := range m.hosts {
		peers = append(peers, h.Peers()...)
	}
	return peers
}

// Close stops forwarding and closes every host.
func (m *MultiHost) Close() error {
	var errs []error
	m.once.Do(func() {
		close(m.done)
		for _, h := range m.hosts {
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		m.wg.Wait()
	})
	return errors.Join(errs...)
}
