package replay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/server"
)

const (
	SourceArena  = "arena"
	SourceServer = "server"
)

// TuningFrom flattens a plane tuning into dotted parameter names.
func TuningFrom(tuning plane.Tuning) TuningParameters {
	params := make(TuningParameters)
	for _, name := range plane.ParamNames() {
		params[name] = *tuning.Param(name)
	}
	return params
}

// ErrRecorderClosed is returned by Flush after Close.
var ErrRecorderClosed = errors.New("replay: recorder closed")

// Recorder records a running server into a bundle. It taps every broadcast
// packet and receives every arena and server event.
type Recorder struct {
	log    *logging.Logger
	writer *Writer

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Directory string `json:"directory"`
	Frames    int64  `json:"frames"`
	Events    int64  `json:"events"`
	Bytes     int64  `json:"bytes"`
	Failures  int64  `json:"failures"`
}

var (
	_ server.BroadcastTap = (*Recorder)(nil)
	_ server.EventSink    = (*Recorder)(nil)
)

// NewRecorder opens a bundle for sessionID under root.
func NewRecorder(root, sessionID string, logger *logging.Logger, clock func() time.Time) (*Recorder, error) {
	if logger == nil {
		logger = logging.L()
	}
	writer, _, err := NewWriter(root, sessionID, clock)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		log:    logger.Named(logging.OriginServer, "replay"),
		writer: writer,
	}
	r.stats.Directory = writer.Directory()
	r.log.Info("recording session", logging.String("directory", writer.Directory()))
	return r, nil
}

// SetSession records the arena name and the tuning in the bundle header.
func (r *Recorder) SetSession(arenaName string, tuning plane.Tuning) {
	r.writer.SetHeaderMetadata(arenaName, TuningFrom(tuning))
}

func (r *Recorder) OnBroadcast(uptime time.Duration, packet protocol.ServerPacket, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.writer.AppendFrame(uptime, uint8(packet.Kind), payload); err != nil {
		r.failLocked("frame", err)
		return
	}
	r.stats.Frames++
	r.stats.Bytes += int64(len(payload))
}

func (r *Recorder) RecordArena(uptime time.Duration, event arena.ArenaEvent) {
	r.appendEvent(uptime, SourceArena, event.Kind.String(), event.String(), event)
}

func (r *Recorder) RecordServer(uptime time.Duration, event server.ServerEvent) {
	r.appendEvent(uptime, SourceServer, event.Kind.String(), event.String(), event)
}

func (r *Recorder) appendEvent(uptime time.Duration, source, kind, text string, event any) {
	payload, err := json.Marshal(event)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err == nil {
		err = r.writer.AppendEvent(uptime, source, kind, text, payload)
	}
	if err != nil {
		r.failLocked("event", err)
		return
	}
	r.stats.Events++
}

// failLocked counts a write failure and logs the first one.
func (r *Recorder) failLocked(what string, err error) {
	r.stats.Failures++
	if r.stats.Failures == 1 {
		r.log.Warn("replay write failed", logging.String("record", what), logging.Error(err))
	}
}

// Snapshot returns a copy of the counters.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Flush forces buffered frames and events to disk and returns the bundle
// directory.
func (r *Recorder) Flush() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.stats.Directory, ErrRecorderClosed
	}
	if err := r.writer.Flush(); err != nil {
		r.failLocked("flush", err)
		return r.stats.Directory, err
	}
	return r.stats.Directory, nil
}

// Close seals the bundle. Later records are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.writer.Close()
	r.log.Info("closed replay", logging.String("directory", r.stats.Directory),
		logging.Int64("frames", r.stats.Frames), logging.Int64("events", r.stats.Events))
	return err
}
