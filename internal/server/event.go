package server

import (
	"fmt"
	"time"

	"solemnsky/server/internal/arena"
)

// ServerEventKind classifies a ServerEvent.
type ServerEventKind uint8

const (
	ServerEventStart ServerEventKind = iota
	ServerEventStop
	ServerEventConnect
	ServerEventDisconnect
	ServerEventRConIn
	ServerEventRConOut
)

func (k ServerEventKind) String() string {
	switch k {
	case ServerEventStart:
		return "start"
	case ServerEventStop:
		return "stop"
	case ServerEventConnect:
		return "connect"
	case ServerEventDisconnect:
		return "disconnect"
	case ServerEventRConIn:
		return "rcon_in"
	case ServerEventRConOut:
		return "rcon_out"
	default:
		return fmt.Sprintf("server_event(%d)", uint8(k))
	}
}

// ServerEvent is something the server executor did, as opposed to an
// ArenaEvent which the shared engine reports.
type ServerEvent struct {
	Kind ServerEventKind `json:"kind"`
	Name string          `json:"name,omitempty"`
	Addr string          `json:"addr,omitempty"`
	Text string          `json:"text,omitempty"`
}

func StartEvent(name, addr string) ServerEvent {
	return ServerEvent{Kind: ServerEventStart, Name: name, Addr: addr}
}
func StopEvent() ServerEvent { return ServerEvent{Kind: ServerEventStop} }
func ConnectEvent(name, addr string) ServerEvent {
	return ServerEvent{Kind: ServerEventConnect, Name: name, Addr: addr}
}
func DisconnectEvent(name string) ServerEvent {
	return ServerEvent{Kind: ServerEventDisconnect, Name: name}
}
func RConInEvent(command string) ServerEvent  { return ServerEvent{Kind: ServerEventRConIn, Text: command} }
func RConOutEvent(response string) ServerEvent { return ServerEvent{Kind: ServerEventRConOut, Text: response} }

func (e ServerEvent) String() string {
	switch e.Kind {
	case ServerEventStart:
		return fmt.Sprintf("started server %q on %s", e.Name, e.Addr)
	case ServerEventStop:
		return "stopped server"
	case ServerEventConnect:
		return fmt.Sprintf("%s connected from %s", e.Name, e.Addr)
	case ServerEventDisconnect:
		return e.Name + " disconnected"
	case ServerEventRConIn:
		return "rcon> " + e.Text
	case ServerEventRConOut:
		return "rcon< " + e.Text
	default:
		return e.Kind.String()
	}
}

// EventSink stores events outside the process, keyed by arena uptime.
type EventSink interface {
	RecordArena(uptime time.Duration, event arena.ArenaEvent)
	RecordServer(uptime time.Duration, event ServerEvent)
}
