package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/cache"
	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"go.uber.org/multierr"
)

func init() {
	ProgressOutput = io.Discard
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestStatsPercentage(t *testing.T) {
	clock := newFakeClock()

	s := newStatsWithClock("numpy", 0, clock.now)
	s.Update(500)
	if s.Percentage() != 0 {
		t.Errorf("Percentage with unknown total = %v, want 0", s.Percentage())
	}

	s = newStatsWithClock("numpy", 1000, clock.now)
	s.Update(250)
	if !approx(s.Percentage(), 25) {
		t.Errorf("Percentage = %v, want 25", s.Percentage())
	}
	s.Update(750)
	if !approx(s.Percentage(), 100) {
		t.Errorf("Percentage = %v, want 100", s.Percentage())
	}
	if s.Count != 2 || s.Downloaded() != 1000 {
		t.Errorf("Count = %d, Downloaded = %d", s.Count, s.Downloaded())
	}
}

func TestStatsSpeedAndTick(t *testing.T) {
	clock := newFakeClock()
	s := newStatsWithClock("numpy", 4096, clock.now)

	if s.Speed() != 0 {
		t.Errorf("Speed before any time passed = %v, want 0", s.Speed())
	}

	clock.advance(250 * time.Millisecond)
	s.Update(1024)
	if s.OutOfTick() {
		t.Error("0.25s should still be within the tick")
	}
	if !approx(s.Speed(), 4096) {
		t.Errorf("Speed = %v, want 4096", s.Speed())
	}

	clock.advance(500 * time.Millisecond)
	s.Update(1024)
	if !s.OutOfTick() {
		t.Error("0.75s should be out of tick")
	}
	s.NextTick()
	if s.OutOfTick() {
		t.Error("NextTick should reset the window")
	}
	if s.Speed() != 0 {
		t.Errorf("Speed right after NextTick = %v, want 0", s.Speed())
	}

	clock.advance(time.Second)
	s.Update(2048)
	if !approx(s.Speed(), 2048) {
		t.Errorf("windowed Speed = %v, want 2048", s.Speed())
	}
}

func TestStatsFinishAndETA(t *testing.T) {
	clock := newFakeClock()
	s := newStatsWithClock("numpy", 1000, clock.now)

	clock.advance(2 * time.Second)
	s.Update(500)
	if eta := s.ETA(); eta != 2*time.Second {
		t.Errorf("ETA = %v, want 2s", eta)
	}

	clock.advance(2 * time.Second)
	s.Update(500)
	s.NextTick()
	clock.advance(time.Second)
	s.Update(0)
	if !approx(s.Speed(), 0) {
		t.Errorf("windowed Speed = %v, want 0", s.Speed())
	}

	s.Finish()
	clock.advance(time.Minute)
	if s.Elapsed() != 5*time.Second {
		t.Errorf("Elapsed after Finish = %v, want 5s", s.Elapsed())
	}
	if !approx(s.Speed(), 200) {
		t.Errorf("Speed after Finish = %v, want the 200 B/s average", s.Speed())
	}

	snap := s.Snapshot()
	if snap.Title != "numpy" || snap.Downloaded != 1000 || !approx(snap.Percentage, 100) || !approx(snap.Speed, 200) {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[float64]string{
		0:           "0 B",
		1023:        "1023 B",
		1536:        "1.50 KiB",
		5 * 1 << 20: "5.00 MiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%v) = %q, want %q", in, got, want)
		}
	}
}

func artifactServer(t *testing.T, files map[string]string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	body := strings.Repeat("wheel-bytes-", 10000)
	var hits int32
	srv := artifactServer(t, map[string]string{"six-1.16.0-py2.py3-none-any.whl": body}, &hits)

	target := pkgindex.DownloadTarget{
		Name:     "six",
		Filename: "six-1.16.0-py2.py3-none-any.whl",
		URL:      srv.URL + "/six-1.16.0-py2.py3-none-any.whl",
		Algo:     "sha256",
		Digests:  []string{sha256Hex(body)},
	}

	t.Run("success", func(t *testing.T) {
		dir := t.TempDir()
		var last Snapshot
		path, err := NewManager(srv.Client(), nil).Fetch(context.Background(), target, dir, func(s Snapshot) { last = s })
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != body {
			t.Fatalf("unexpected file content (err %v)", err)
		}
		if parts, _ := filepath.Glob(filepath.Join(dir, "*.part")); len(parts) != 0 {
			t.Errorf("part files left behind: %v", parts)
		}
		if last.Downloaded != int64(len(body)) {
			t.Errorf("final snapshot Downloaded = %d, want %d", last.Downloaded, len(body))
		}
	})

	t.Run("integrity mismatch", func(t *testing.T) {
		dir := t.TempDir()
		bad := target
		bad.Digests = []string{strings.Repeat("0", 64)}
		_, err := NewManager(srv.Client(), nil).Fetch(context.Background(), bad, dir, nil)
		var ie *IntegrityError
		if !errors.As(err, &ie) {
			t.Fatalf("expected *IntegrityError, got %v", err)
		}
		if ie.Actual != sha256Hex(body) {
			t.Errorf("Actual = %s", ie.Actual)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected empty dir after mismatch, found %d entries", len(entries))
		}
	})

	t.Run("not found", func(t *testing.T) {
		missing := target
		missing.URL = srv.URL + "/missing.whl"
		_, err := NewManager(srv.Client(), nil).Fetch(context.Background(), missing, t.TempDir(), nil)
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Errorf("expected 404 error, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		dir := t.TempDir()
		_, err := NewManager(srv.Client(), nil).Fetch(ctx, target, dir, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if _, statErr := os.Stat(filepath.Join(dir, target.Filename)); !os.IsNotExist(statErr) {
			t.Error("cancelled download left a file behind")
		}
	})
}

func TestFetchReusesCachedArtifact(t *testing.T) {
	body := "sdist body"
	var hits int32
	srv := artifactServer(t, map[string]string{"six-1.16.0.tar.gz": body}, &hits)

	dir := t.TempDir()
	idx, err := cache.Open(dir)
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer idx.Close()

	target := pkgindex.DownloadTarget{
		Name:     "six",
		Filename: "six-1.16.0.tar.gz",
		URL:      srv.URL + "/six-1.16.0.tar.gz",
		Algo:     "sha256",
		Digests:  []string{sha256Hex(body)},
	}
	m := NewManager(srv.Client(), idx)

	for i := 0; i < 2; i++ {
		if _, err := m.Fetch(context.Background(), target, dir, nil); err != nil {
			t.Fatalf("Fetch #%d failed: %v", i+1, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}

	// A tampered copy is fetched again.
	if err := os.WriteFile(filepath.Join(dir, target.Filename), []byte("tampered!!"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Fetch(context.Background(), target, dir, nil); err != nil {
		t.Fatalf("Fetch after tamper failed: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("server hit %d times, want 2", got)
	}
}

func TestFetchAll(t *testing.T) {
	files := map[string]string{
		"a-1.0.tar.gz": "aaa",
		"b-1.0.tar.gz": "bbb",
		"c-1.0.tar.gz": "ccc",
	}
	var hits int32
	srv := artifactServer(t, files, &hits)

	var targets []pkgindex.DownloadTarget
	for _, name := range []string{"a-1.0.tar.gz", "b-1.0.tar.gz", "missing-1.0.tar.gz", "c-1.0.tar.gz"} {
		targets = append(targets, pkgindex.DownloadTarget{
			Name:     strings.Split(name, "-")[0],
			Filename: name,
			URL:      srv.URL + "/" + name,
		})
	}

	dir := t.TempDir()
	err := NewManager(srv.Client(), nil).FetchAll(context.Background(), targets, dir, 2)
	errs := multierr.Errors(err)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one failure, got %v", err)
	}
	var de *DownloadError
	if !errors.As(errs[0], &de) || de.Index != 2 || de.Requirement != "missing" {
		t.Errorf("unexpected failure %v", errs[0])
	}
	for name, want := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || string(data) != want {
			t.Errorf("%s: content %q, err %v", name, data, err)
		}
	}
}

func TestFetchAllSharedFilename(t *testing.T) {
	body := strings.Repeat("setuptools", 4096)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	target := pkgindex.DownloadTarget{
		Name:     "setuptools",
		Filename: "setuptools-69.0.0-py3-none-any.whl",
		URL:      srv.URL + "/setuptools-69.0.0-py3-none-any.whl",
		Algo:     "sha256",
		Digests:  []string{sha256Hex(body)},
	}

	dir := t.TempDir()
	if err := NewManager(srv.Client(), nil).FetchAll(context.Background(), []pkgindex.DownloadTarget{target, target}, dir, 2); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, target.Filename))
	if err != nil || string(data) != body {
		t.Errorf("unexpected content (err %v)", err)
	}
}

func TestFetchConcurrentSameTarget(t *testing.T) {
	body := strings.Repeat("wheel", 8192)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	target := pkgindex.DownloadTarget{
		Name:     "wheel",
		Filename: "wheel-0.42.0-py3-none-any.whl",
		URL:      srv.URL + "/wheel-0.42.0-py3-none-any.whl",
		Algo:     "sha256",
		Digests:  []string{sha256Hex(body)},
	}

	dir := t.TempDir()
	m := NewManager(srv.Client(), nil)
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := m.Fetch(context.Background(), target, dir, nil)
			errs <- err
		}()
	}
	for range 2 {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Fetch failed: %v", err)
		}
	}
	if parts, _ := filepath.Glob(filepath.Join(dir, "*.part")); len(parts) != 0 {
		t.Errorf("part files left behind: %v", parts)
	}
}

// stallingServer sends the headers and the first chunk, then goes quiet
// until the client gives up.
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, strings.Repeat("x", 1024))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchIdleTimeout(t *testing.T) {
	srv := stallingServer(t)
	target := pkgindex.DownloadTarget{
		Name:     "torch",
		Filename: "torch-2.1.0-cp311-cp311-win_amd64.whl",
		URL:      srv.URL + "/torch-2.1.0-cp311-cp311-win_amd64.whl",
	}

	m := NewManager(srv.Client(), nil)
	m.IdleTimeout = 100 * time.Millisecond

	dir := t.TempDir()
	start := time.Now()
	_, err := m.Fetch(context.Background(), target, dir, nil)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("stall detected after %s", elapsed)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("stalled download left %d entries behind", len(entries))
	}
}

func TestFetchIdleTimeoutAllowsSlowSteadyTransfer(t *testing.T) {
	chunks := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < chunks; i++ {
			io.WriteString(w, "chunk")
			w.(http.Flusher).Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)

	m := NewManager(srv.Client(), nil)
	m.IdleTimeout = 150 * time.Millisecond
	target := pkgindex.DownloadTarget{Name: "slow", Filename: "slow-1.0.tar.gz", URL: srv.URL + "/slow-1.0.tar.gz"}
	path, err := m.Fetch(context.Background(), target, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != strings.Repeat("chunk", chunks) {
		t.Errorf("content = %q", data)
	}
}
