// Package cache is the on-disk audio file cache: download on first access,
// refresh access time on every read, evict least-recently-accessed files
// once the resident count exceeds the ceiling.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const fileExt = ".mp3"

var ErrDownloadFailed = errors.New("audio download failed")

// Downloader fetches the encoded audio for a playable id into destPath.
type Downloader interface {
	Download(ctx context.Context, playableID, destPath string) error
}

type Cache struct {
	dir        string
	maxFiles   int
	downloader Downloader
	group      singleflight.Group
	logger     *log.Logger
}

func New(dir string, maxFiles int, downloader Downloader, logger *log.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &Cache{
		dir:        dir,
		maxFiles:   maxFiles,
		downloader: downloader,
		logger:     logger,
	}, nil
}

func (c *Cache) filePath(playableID string) string {
	return filepath.Join(c.dir, playableID+fileExt)
}

// GetOrFetch returns a stream for the playable id, downloading on miss.
// Concurrent misses for the same id collapse into one download. A zero-byte
// file is treated as corrupt and re-fetched.
func (c *Cache) GetOrFetch(ctx context.Context, playableID string) (io.ReadCloser, error) {
	path := c.filePath(playableID)

	if fi, err := os.Stat(path); err == nil {
		if fi.Size() > 0 {
			now := time.Now()
			// Best effort: a failed touch only skews eviction order.
			_ = os.Chtimes(path, now, now)

			c.logger.Debugf("file cache hit: %s", playableID)
			return os.Open(path)
		}
		c.logger.Warnf("corrupt zero-byte cache entry, re-fetching: %s", playableID)
		_ = os.Remove(path)
	}

	_, err, _ := c.group.Do(playableID, func() (interface{}, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// completed the download while this one queued.
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return nil, nil
		}

		c.logger.Infof("file cache miss, downloading: %s", playableID)
		if err := c.downloader.Download(ctx, playableID, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}

		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: file missing after download", ErrDownloadFailed)
		}
		if fi.Size() == 0 {
			_ = os.Remove(path)
			return nil, fmt.Errorf("%w: empty file after download", ErrDownloadFailed)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	return os.Open(path)
}

// Prefetch warms the cache in the background, so the file is usually on
// disk before the first listener's audio element asks for it.
func (c *Cache) Prefetch(playableID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		rc, err := c.GetOrFetch(ctx, playableID)
		if err != nil {
			c.logger.Warnf("prefetch failed for %s: %v", playableID, err)
			return
		}
		rc.Close()
	}()
}

// Sweep deletes the least-recently-accessed files until the resident count
// is back under the ceiling.
func (c *Cache) Sweep() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache dir: %w", err)
	}

	type fileInfo struct {
		path  string
		atime time.Time
	}

	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:  filepath.Join(c.dir, e.Name()),
			atime: fi.ModTime(),
		})
	}

	if len(files) <= c.maxFiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].atime.Before(files[j].atime)
	})

	toDelete := len(files) - c.maxFiles
	for _, f := range files[:toDelete] {
		if err := os.Remove(f.path); err != nil {
			c.logger.Errorf("failed to evict %s: %v", f.path, err)
			continue
		}
		c.logger.Infof("evicted cached audio: %s", filepath.Base(f.path))
	}

	return nil
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(); err != nil {
				c.logger.Errorf("cache sweep failed: %v", err)
			}
		}
	}
}
