package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

type fakeDownloader struct {
	calls   int32
	delay   time.Duration
	payload []byte
	err     error
}

func (f *fakeDownloader) Download(ctx context.Context, playableID, destPath string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, f.payload, 0o644)
}

func newTestCache(t *testing.T, maxFiles int, d Downloader) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxFiles, d, log.New(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetOrFetchDownloadsOnce(t *testing.T) {
	d := &fakeDownloader{payload: []byte("audio bytes")}
	c := newTestCache(t, 50, d)

	for i := 0; i < 3; i++ {
		rc, err := c.GetOrFetch(context.Background(), "vid1")
		if err != nil {
			t.Fatalf("GetOrFetch #%d: %v", i, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != "audio bytes" {
			t.Errorf("unexpected content %q", data)
		}
	}

	if n := atomic.LoadInt32(&d.calls); n != 1 {
		t.Errorf("expected 1 download, got %d", n)
	}
}

func TestGetOrFetchCollapsesConcurrentMisses(t *testing.T) {
	d := &fakeDownloader{payload: []byte("x"), delay: 30 * time.Millisecond}
	c := newTestCache(t, 50, d)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc, err := c.GetOrFetch(context.Background(), "vid1")
			if err != nil {
				errs <- err
				return
			}
			rc.Close()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent fetch: %v", err)
	}

	if n := atomic.LoadInt32(&d.calls); n != 1 {
		t.Errorf("expected concurrent misses to collapse into 1 download, got %d", n)
	}
}

func TestGetOrFetchRefetchesZeroByteFile(t *testing.T) {
	d := &fakeDownloader{payload: []byte("good")}
	c := newTestCache(t, 50, d)

	// A crashed earlier download left an empty file behind.
	if err := os.WriteFile(c.filePath("vid1"), nil, 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	rc, err := c.GetOrFetch(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()

	if string(data) != "good" {
		t.Errorf("corrupt entry served: %q", data)
	}
	if n := atomic.LoadInt32(&d.calls); n != 1 {
		t.Errorf("expected 1 re-download, got %d", n)
	}
}

func TestGetOrFetchDownloadError(t *testing.T) {
	d := &fakeDownloader{err: errors.New("network down")}
	c := newTestCache(t, 50, d)

	_, err := c.GetOrFetch(context.Background(), "vid1")
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if _, err := os.Stat(c.filePath("vid1")); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}
}

func TestGetOrFetchEmptyDownloadRejected(t *testing.T) {
	d := &fakeDownloader{payload: nil}
	c := newTestCache(t, 50, d)

	_, err := c.GetOrFetch(context.Background(), "vid1")
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed on empty download, got %v", err)
	}
	if _, err := os.Stat(c.filePath("vid1")); !os.IsNotExist(err) {
		t.Error("empty download left a file behind")
	}
}

func TestSweepEvictsOldestBeyondCeiling(t *testing.T) {
	c := newTestCache(t, 3, &fakeDownloader{})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		path := c.filePath(fmt.Sprintf("vid%d", i))
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
		// Stagger access times so vid0 and vid1 are the coldest.
		at := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, at, at); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if err := c.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := os.Stat(c.filePath(fmt.Sprintf("vid%d", i)))
		if i < 2 && !os.IsNotExist(err) {
			t.Errorf("expected vid%d evicted", i)
		}
		if i >= 2 && err != nil {
			t.Errorf("expected vid%d kept: %v", i, err)
		}
	}
}

func TestSweepUnderCeilingIsNoop(t *testing.T) {
	c := newTestCache(t, 3, &fakeDownloader{})

	for i := 0; i < 2; i++ {
		if err := os.WriteFile(c.filePath(fmt.Sprintf("vid%d", i)), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Foreign files in the directory are not the cache's business.
	if err := os.WriteFile(filepath.Join(c.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := os.Stat(c.filePath(fmt.Sprintf("vid%d", i))); err != nil {
			t.Errorf("vid%d evicted below ceiling: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(c.dir, "notes.txt")); err != nil {
		t.Errorf("foreign file touched: %v", err)
	}
}

func TestHitRefreshesAccessTime(t *testing.T) {
	d := &fakeDownloader{payload: []byte("x")}
	c := newTestCache(t, 1, d)

	rc, err := c.GetOrFetch(context.Background(), "hot")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	rc.Close()

	// Age the file, then read it again: the hit must reset its position in
	// the eviction order.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(c.filePath("hot"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	rc, err = c.GetOrFetch(context.Background(), "hot")
	if err != nil {
		t.Fatalf("GetOrFetch hit: %v", err)
	}
	rc.Close()

	cold := time.Now().Add(-time.Hour)
	if err := os.WriteFile(c.filePath("cold"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Chtimes(c.filePath("cold"), cold, cold); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := c.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(c.filePath("hot")); err != nil {
		t.Errorf("recently read file evicted: %v", err)
	}
	if _, err := os.Stat(c.filePath("cold")); !os.IsNotExist(err) {
		t.Error("expected cold file evicted")
	}
}
