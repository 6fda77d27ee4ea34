package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// TimelineEntry is one event or frame of a bundle, in replay order.
type TimelineEntry struct {
	Uptime time.Duration
	Event  *EventRecord
	Frame  *FrameRecord
}

// Type names the entry for printing.
func (e TimelineEntry) Type() string {
	if e.Frame != nil {
		return "frame"
	}
	return "event"
}

// Bundle is a session bundle read back from disk.
type Bundle struct {
	Dir      string
	Manifest Manifest
	// Header is nil while the session is still being written.
	Header  *Header
	Events  []EventRecord
	Frames  []FrameRecord
	entries []TimelineEntry
}

// Load reads the bundle in dir.
func Load(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{Dir: dir}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	header, err := ReadHeader(filepath.Join(dir, headerFile))
	switch {
	case err == nil:
		bundle.Header = &header
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	if bundle.Events, err = loadEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if bundle.Frames, err = loadFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return nil, fmt.Errorf("load frames: %w", err)
	}

	entries := make([]TimelineEntry, 0, len(bundle.Events)+len(bundle.Frames))
	for i := range bundle.Events {
		entries = append(entries, TimelineEntry{Uptime: bundle.Events[i].Uptime(), Event: &bundle.Events[i]})
	}
	for i := range bundle.Frames {
		entries = append(entries, TimelineEntry{Uptime: bundle.Frames[i].Uptime, Frame: &bundle.Frames[i]})
	}
	// Events sort ahead of frames sent at the same uptime.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Uptime < entries[j].Uptime })
	bundle.entries = entries
	return bundle, nil
}

func loadEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []EventRecord
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, err
		}
		events = append(events, record)
	}
	return events, scanner.Err()
}

func loadFrames(path string) ([]FrameRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return decodeFrames(data)
}

func decodeFrames(data []byte) ([]FrameRecord, error) {
	var frames []FrameRecord
	for offset := 0; offset < len(data); {
		if len(data)-offset < frameHeaderSize {
			return nil, fmt.Errorf("truncated frame header at %d", offset)
		}
		header := data[offset : offset+frameHeaderSize]
		size := int(binary.LittleEndian.Uint32(header[17:21]))
		offset += frameHeaderSize
		if len(data)-offset < size {
			return nil, fmt.Errorf("truncated frame payload at %d", offset)
		}
		frames = append(frames, FrameRecord{
			Uptime:     time.Duration(binary.LittleEndian.Uint64(header[0:8])),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))).UTC(),
			Kind:       header[16],
			Payload:    append([]byte(nil), data[offset:offset+size]...),
		})
		offset += size
	}
	return frames, nil
}

// Replay calls apply for every entry in uptime order and stops at the first
// error.
func (b *Bundle) Replay(apply func(TimelineEntry) error) error {
	if b == nil {
		return fmt.Errorf("bundle not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range b.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of the timeline.
func (b *Bundle) Entries() []TimelineEntry {
	if b == nil {
		return nil
	}
	out := make([]TimelineEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
