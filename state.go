package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
)

// captureTimeout bounds how long a periodic capture waits for the loop.
const captureTimeout = 2 * time.Second

type snapshotOption func(*ArenaSnapshotter)

// WithSnapshotClock overrides the snapshot time source; primarily used in tests.
func WithSnapshotClock(clock func() time.Time) snapshotOption {
	return func(s *ArenaSnapshotter) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ArenaCapture reads the arena initializer from wherever the arena lives.
type ArenaCapture func(ctx context.Context) (arena.ArenaInit, error)

// ArenaSnapshotter persists the arena initializer so a restarted server
// keeps its name, motd and next environment.
type ArenaSnapshotter struct {
	mu       sync.Mutex
	path     string
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time

	restored *arena.ArenaInit
	latest   *arena.ArenaInit
	dirty    bool
	running  bool

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type arenaSnapshotFile struct {
	SavedAt time.Time       `json:"saved_at"`
	Arena   arena.ArenaInit `json:"arena"`
}

// NewArenaSnapshotter loads any previous snapshot at path. An empty path or
// a non-positive interval disables snapshots and returns nil.
func NewArenaSnapshotter(path string, interval time.Duration, logger *logging.Logger, opts ...snapshotOption) (*ArenaSnapshotter, error) {
	if path == "" || interval <= 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &ArenaSnapshotter{
		path:     path,
		interval: interval,
		log:      logger.Named(logging.OriginServer, "snapshot"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ArenaSnapshotter) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var file arenaSnapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	s.restored = &file.Arena
	s.log.Info("loaded arena snapshot", logging.String("name", file.Arena.Name),
		logging.String("saved_at", file.SavedAt.Format(time.RFC3339)))
	return nil
}

// Restore overlays the persisted identity onto init. It reports whether a
// snapshot was applied.
func (s *ArenaSnapshotter) Restore(init *arena.ArenaInit) bool {
	if s == nil || init == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restored == nil {
		return false
	}
	if s.restored.Name != "" {
		init.Name = s.restored.Name
	}
	init.Motd = s.restored.Motd
	if s.restored.NextEnv != "" {
		init.NextEnv = s.restored.NextEnv
	}
	return true
}

// Start captures and persists the arena every interval until Close.
func (s *ArenaSnapshotter) Start(capture ArenaCapture) {
	if s == nil || capture == nil {
		return
	}
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		go s.loop(capture)
	})
}

func (s *ArenaSnapshotter) loop(capture ArenaCapture) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
			init, err := capture(ctx)
			cancel()
			if err != nil {
				s.log.Warn("arena capture failed", logging.Error(err))
				continue
			}
			s.Record(init)
			s.flush()
		case <-s.stopCh:
			return
		}
	}
}

// Record stores init as the state to persist next.
func (s *ArenaSnapshotter) Record(init arena.ArenaInit) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.latest = &init
	s.dirty = true
	s.mu.Unlock()
}

// Flush immediately persists the recorded state to disk.
func (s *ArenaSnapshotter) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.latest == nil {
		return nil
	}
	data, err := json.MarshalIndent(arenaSnapshotFile{SavedAt: s.now().UTC(), Arena: *s.latest}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *ArenaSnapshotter) flush() {
	if err := s.Flush(); err != nil {
		s.log.Error("failed to persist arena snapshot", logging.Error(err))
	}
}

// Close stops the capture loop and flushes whatever was recorded last.
func (s *ArenaSnapshotter) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() {})
		close(s.stopCh)
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running {
			<-s.doneCh
		}
	})
	return s.Flush()
}
