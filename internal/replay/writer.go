package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var sessionIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	frameInterval = 200 * time.Millisecond

	// frameHeaderSize is uptime, capture time, packet kind and payload length.
	frameHeaderSize = 8 + 8 + 1 + 4

	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	manifestFile = "manifest.json"
	headerFile   = "header.json"
)

// EventRecord is one line of events.jsonl.sz.
type EventRecord struct {
	UptimeMs   int64           `json:"uptime_ms"`
	CapturedAt string          `json:"captured_at"`
	Source     string          `json:"source"`
	Kind       string          `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Uptime returns the arena uptime the event happened at.
func (r EventRecord) Uptime() time.Duration { return time.Duration(r.UptimeMs) * time.Millisecond }

// FrameRecord is one encoded broadcast packet.
type FrameRecord struct {
	Uptime     time.Duration
	CapturedAt time.Time
	Kind       uint8
	Payload    []byte
}

// Writer streams a session bundle to disk: events as snappy-compressed JSON
// lines, broadcast frames as length-prefixed zstd blocks flushed at a fixed
// cadence.
type Writer struct {
	mu          sync.Mutex
	dir         string
	sessionID   string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []FrameRecord
	lastFlush   time.Time
	frames      int64
	events      int64
	arenaName   string
	tuning      TuningParameters
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	SessionID       string `json:"session_id"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// NewWriter creates <root>/<session>-<timestamp>/ and opens the compressed
// sinks inside it.
func NewWriter(root, sessionID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionIDCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		SessionID:       cleaned,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(frameInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		sessionID:   cleaned,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory is the bundle directory.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes one event line. payload, when set, must be valid JSON.
func (w *Writer) AppendEvent(uptime time.Duration, source, kind, text string, payload json.RawMessage) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	record := EventRecord{
		UptimeMs:   uptime.Milliseconds(),
		CapturedAt: w.now().UTC().Format(time.RFC3339Nano),
		Source:     source,
		Kind:       kind,
		Text:       text,
		Payload:    payload,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.events++
	return w.eventStream.Flush()
}

// AppendFrame stages an encoded packet and flushes the staged batch once
// the cadence interval has passed since the last flush.
func (w *Writer) AppendFrame(uptime time.Duration, kind uint8, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, FrameRecord{Uptime: uptime, CapturedAt: captured, Kind: kind, Payload: clone})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= frameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// SetHeaderMetadata sets what header.json records when the writer closes.
func (w *Writer) SetHeaderMetadata(arenaName string, tuning TuningParameters) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.arenaName = arenaName
	w.tuning = tuning.Clone()
	w.mu.Unlock()
}

// Flush writes staged frames regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes header.json, flushes every stream and releases the files.
// The first failure is returned.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, headerFile), Header{
		SchemaVersion: HeaderSchemaVersion,
		SessionID:     w.sessionID,
		ArenaName:     w.arenaName,
		Tuning:        w.tuning.Clone(),
		Frames:        w.frames,
		Events:        w.events,
		FilePointer:   manifestFile,
	}))
	keep(w.flushLocked())
	keep(w.eventStream.Flush())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes staged frames to the zstd stream; callers hold mu.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], uint64(frame.Uptime))
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		header[16] = frame.Kind
		binary.LittleEndian.PutUint32(header[17:21], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return w.frameStream.Flush()
}
