// Package replayplayer renders a recorded session bundle for inspection.
package replayplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/replay"
)

// Frame is a recorded broadcast, decoded with the wire codec.
type Frame struct {
	UptimeMs   int64                  `json:"uptime_ms"`
	CapturedAt time.Time              `json:"captured_at"`
	Kind       string                 `json:"kind"`
	Packet     *protocol.ServerPacket `json:"packet,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Document is the printable form of a bundle.
type Document struct {
	Manifest replay.Manifest      `json:"manifest"`
	Header   *replay.Header       `json:"header,omitempty"`
	Events   []replay.EventRecord `json:"events"`
	Frames   []Frame              `json:"frames"`
}

// ReplayBundle loads the bundle at path, a bundle directory or its
// manifest.json, and decodes every frame. Frames that fail to decode keep
// their error instead of aborting the load.
func ReplayBundle(path string) (Document, error) {
	if path == "" {
		return Document{}, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	bundle, err := replay.Load(dir)
	if err != nil {
		return Document{}, err
	}
	if bundle.Manifest.Version != 1 {
		return Document{}, fmt.Errorf("unsupported manifest version %d", bundle.Manifest.Version)
	}

	doc := Document{
		Manifest: bundle.Manifest,
		Header:   bundle.Header,
		Events:   bundle.Events,
		Frames:   make([]Frame, 0, len(bundle.Frames)),
	}
	for _, record := range bundle.Frames {
		frame := Frame{
			UptimeMs:   record.Uptime.Milliseconds(),
			CapturedAt: record.CapturedAt,
			Kind:       protocol.ServerPacketKind(record.Kind).String(),
		}
		if packet, err := protocol.DecodeServer(record.Payload); err != nil {
			frame.Error = err.Error()
		} else {
			frame.Packet = &packet
		}
		doc.Frames = append(doc.Frames, frame)
	}
	return doc, nil
}
