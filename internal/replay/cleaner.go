package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"solemnsky/server/internal/logging"
)

// RetentionPolicy bounds how many session bundles stay on disk.
type RetentionPolicy struct {
	MaxSessions int
	MaxAge      time.Duration
}

// StorageStats summarises the disk footprint of kept bundles.
type StorageStats struct {
	Sessions  int       `json:"sessions"`
	Sealed    int       `json:"sealed"`
	Bytes     int64     `json:"bytes"`
	LastSweep time.Time `json:"last_sweep"`
}

// Cleaner prunes session bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
	// active is skipped by sweeps.
	active string
}

// NewCleaner constructs a cleaner for the bundles under dir.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{
		dir:    dir,
		policy: policy,
		log:    logger.Named(logging.OriginServer, "replay-cleaner"),
		now:    time.Now,
	}
}

// Protect keeps the bundle being written out of every sweep.
func (c *Cleaner) Protect(bundleDir string) {
	c.mu.Lock()
	c.active = filepath.Clean(bundleDir)
	c.mu.Unlock()
}

// Run sweeps at once and then every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the result of the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleInfo struct {
	name    string
	path    string
	size    int64
	sealed  bool
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()

	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, bundle := range c.collect(entries) {
		if bundle.path != active {
			if remove, reasons := c.shouldRemove(bundle, now, kept); remove {
				if err := os.RemoveAll(bundle.path); err == nil {
					c.log.Info("replay retention removed bundle", logging.String("session", bundle.name),
						logging.String("reason", reasons))
					continue
				} else {
					c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("session", bundle.name))
				}
			}
		}
		kept++
		stats.Sessions++
		stats.Bytes += bundle.size
		if bundle.sealed {
			stats.Sealed++
		}
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect lists the bundle directories newest first. Stray files are not
// bundles and are left alone.
func (c *Cleaner) collect(entries []os.DirEntry) []bundleInfo {
	bundles := make([]bundleInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, manifestFile)); err != nil {
			continue
		}
		size, modTime, err := directoryFootprint(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		_, headerErr := os.Stat(filepath.Join(path, headerFile))
		bundles = append(bundles, bundleInfo{
			name:    entry.Name(),
			path:    filepath.Clean(path),
			size:    size,
			sealed:  headerErr == nil,
			modTime: modTime,
		})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(bundle bundleInfo, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(bundle.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxSessions > 0 && kept >= c.policy.MaxSessions {
		reasons = append(reasons, fmt.Sprintf(">=%d sessions", c.policy.MaxSessions))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

// directoryFootprint sums file sizes and finds the newest modification.
func directoryFootprint(root string) (int64, time.Time, error) {
	var total int64
	var newest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, newest, err
}
