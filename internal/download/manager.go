package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/cache"
	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
)

// ChunkSize is the read size of the streaming loop.
const ChunkSize = 32 * 1024

// ErrStalled is returned when a transfer receives no data for longer than
// the manager's IdleTimeout.
var ErrStalled = errors.New("transfer stalled")

// IntegrityError is returned when a downloaded artifact does not match its
// expected digest. The partial file has already been removed.
type IntegrityError struct {
	Filename string
	Algo     string
	Expected []string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s digest mismatch: expected %s, got %s",
		e.Filename, e.Algo, strings.Join(e.Expected, " or "), e.Actual)
}

// DownloadError reports a failed artifact of the sequential download loop.
type DownloadError struct {
	Index       int
	Requirement string
	Err         error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s (#%d): %v", e.Requirement, e.Index+1, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ProgressFunc receives throttled progress reports.
type ProgressFunc func(Snapshot)

// Manager streams artifacts into a cache directory.
type Manager struct {
	client *http.Client
	index  *cache.Index
	// IdleTimeout aborts a transfer that waits longer than this for the
	// response headers or the next chunk. Zero disables it.
	IdleTimeout time.Duration
}

// NewManager returns a manager using client. index may be nil, in which case
// nothing is reused between runs.
func NewManager(client *http.Client, index *cache.Index) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{client: client, index: index}
}

// Fetch downloads target into destDir and returns the final path. The body is
// written to a unique "<name>.*.part" file and only renamed into place once
// verified.
func (m *Manager) Fetch(ctx context.Context, target pkgindex.DownloadTarget, destDir string, onProgress ProgressFunc) (string, error) {
	log := logger.Logger()

	if onProgress == nil {
		onProgress = func(Snapshot) {}
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, target.Filename)

	if m.reusable(target, destDir) {
		log.Debugf("using cached %s", target.Filename)
		stats := NewStats(target.Filename, 0)
		stats.Finish()
		onProgress(stats.Snapshot())
		return dest, nil
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	touch := func() {}
	if m.IdleTimeout > 0 {
		stalled := fmt.Errorf("%w: no data for %s", ErrStalled, m.IdleTimeout)
		idle := time.AfterFunc(m.IdleTimeout, func() { cancel(stalled) })
		defer idle.Stop()
		touch = func() { idle.Reset(m.IdleTimeout) }
	}
	// stallCause replaces the bare cancellation error of a stalled transfer.
	stallCause := func(err error) error {
		if cause := context.Cause(reqCtx); errors.Is(cause, ErrStalled) {
			return cause
		}
		return err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", target.URL, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", target.URL, stallCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: bad status: %s", target.URL, resp.Status)
	}

	algo := "sha256"
	if target.Verifiable() {
		algo = target.Algo
	}
	hasher, err := cache.NewHash(algo)
	if err != nil {
		return "", err
	}

	out, err := os.CreateTemp(destDir, target.Filename+".*.part")
	if err != nil {
		return "", fmt.Errorf("creating part file for %s: %w", target.Filename, err)
	}
	part := out.Name()
	keep := false
	defer func() {
		if !keep {
			out.Close()
			os.Remove(part)
		}
	}()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	stats := NewStats(target.Filename, total)
	w := io.MultiWriter(out, hasher)
	buf := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			touch()
			if _, err := w.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("writing %s: %w", part, err)
			}
			stats.Update(n)
			if stats.OutOfTick() {
				onProgress(stats.Snapshot())
				stats.NextTick()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("reading %s: %w", target.URL, stallCause(rerr))
		}
	}
	stats.Finish()
	onProgress(stats.Snapshot())

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", part, err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if target.Verifiable() && !target.Accepts(digest) {
		if m.indexed(destDir) {
			if err := m.index.Remove(target.Filename); err != nil {
				log.Warnf("failed to drop cache record for %s: %v", target.Filename, err)
			}
		}
		return "", &IntegrityError{Filename: target.Filename, Algo: algo, Expected: target.Digests, Actual: digest}
	}

	if err := os.Rename(part, dest); err != nil {
		return "", fmt.Errorf("moving %s into place: %w", target.Filename, err)
	}
	keep = true

	if m.indexed(destDir) {
		err := m.index.Record(cache.Entry{
			Filename: target.Filename,
			Name:     target.Name,
			Version:  target.Version,
			URL:      target.URL,
			Algo:     algo,
			Digest:   digest,
			Size:     stats.Downloaded(),
		})
		if err != nil {
			log.Warnf("failed to record %s in cache index: %v", target.Filename, err)
		}
	}

	log.Debugf("downloaded %s (%s in %s)", target.Filename, FormatBytes(float64(stats.Downloaded())), stats.Elapsed())
	return dest, nil
}

// reusable reports whether the cache already holds an intact copy of target.
func (m *Manager) reusable(target pkgindex.DownloadTarget, destDir string) bool {
	if !m.indexed(destDir) {
		return false
	}
	entry, found, err := m.index.Lookup(target.Filename)
	if err != nil || !found {
		return false
	}
	if target.Verifiable() {
		if entry.Algo != target.Algo || !target.Accepts(entry.Digest) {
			return false
		}
	} else if entry.URL != target.URL {
		return false
	}
	ok, err := m.index.Verify(entry)
	if err != nil {
		logger.Logger().Debugf("cache verification of %s failed: %v", target.Filename, err)
		return false
	}
	return ok
}

// indexed reports whether destDir is the directory the cache index describes.
func (m *Manager) indexed(destDir string) bool {
	return m.index != nil && filepath.Clean(destDir) == filepath.Clean(m.index.Dir())
}
