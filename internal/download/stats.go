package download

import (
	"fmt"
	"math"
	"time"
)

// TickInterval is the minimum spacing between progress reports.
const TickInterval = 500 * time.Millisecond

// Stats tracks the progress of a single artifact download. Speed is measured
// over the window since the last reported checkpoint until Finish.
type Stats struct {
	Title     string
	TotalSize int64 // 0 when the server sent no length
	Count     int   // chunks received

	downloaded     int64
	created        time.Time
	lastUpdate     time.Time
	prevUpdate     time.Time
	prevDownloaded int64
	elapsed        time.Duration
	finished       bool

	now func() time.Time
}

// NewStats starts tracking a download of totalSize bytes.
func NewStats(title string, totalSize int64) *Stats {
	return newStatsWithClock(title, totalSize, time.Now)
}

func newStatsWithClock(title string, totalSize int64, now func() time.Time) *Stats {
	t := now()
	return &Stats{
		Title:      title,
		TotalSize:  totalSize,
		created:    t,
		lastUpdate: t,
		prevUpdate: t,
		now:        now,
	}
}

// Downloaded returns the bytes received so far.
func (s *Stats) Downloaded() int64 {
	return s.downloaded
}

// Update records n more bytes.
func (s *Stats) Update(n int) {
	s.Count++
	s.downloaded += int64(n)
	s.lastUpdate = s.now()
}

// OutOfTick reports whether more than TickInterval passed between the last
// reported checkpoint and the latest update.
func (s *Stats) OutOfTick() bool {
	return s.lastUpdate.Sub(s.prevUpdate) > TickInterval
}

// NextTick moves the checkpoint to the latest update.
func (s *Stats) NextTick() {
	s.prevUpdate = s.lastUpdate
	s.prevDownloaded = s.downloaded
}

// Percentage returns 0..100, or 0 when the total size is unknown.
func (s *Stats) Percentage() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.downloaded) / float64(s.TotalSize) * 100
}

// Speed returns bytes per second since the last checkpoint, or the average
// over the whole transfer once finished.
func (s *Stats) Speed() float64 {
	if s.finished {
		secs := s.elapsed.Seconds()
		if math.Abs(secs) < 1e-10 {
			return 0
		}
		return float64(s.downloaded) / secs
	}
	elapsed := s.lastUpdate.Sub(s.prevUpdate).Seconds()
	if math.Abs(elapsed) < 1e-10 {
		return 0
	}
	return float64(s.downloaded-s.prevDownloaded) / elapsed
}

// Finish freezes the elapsed time.
func (s *Stats) Finish() {
	s.elapsed = s.now().Sub(s.created)
	s.finished = true
}

// Elapsed returns the time since the download started, frozen by Finish.
func (s *Stats) Elapsed() time.Duration {
	if s.finished {
		return s.elapsed
	}
	return s.now().Sub(s.created)
}

// ETA estimates the remaining time from the average rate so far.
// It is zero when the total is unknown or nothing has been received.
func (s *Stats) ETA() time.Duration {
	if s.TotalSize == 0 || s.downloaded == 0 || s.downloaded >= s.TotalSize {
		return 0
	}
	rate := float64(s.downloaded) / s.Elapsed().Seconds()
	if rate <= 0 || math.IsInf(rate, 0) {
		return 0
	}
	remaining := float64(s.TotalSize-s.downloaded) / rate
	return time.Duration(remaining * float64(time.Second))
}

// Snapshot is an immutable progress report handed to status observers.
type Snapshot struct {
	Title      string
	TotalSize  int64
	Downloaded int64
	Percentage float64
	Speed      float64
	ETA        time.Duration
	// Index and Total place the artifact within the whole download run.
	Index int
	Total int
}

// Snapshot captures the current progress.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Title:      s.Title,
		TotalSize:  s.TotalSize,
		Downloaded: s.downloaded,
		Percentage: s.Percentage(),
		Speed:      s.Speed(),
		ETA:        s.ETA(),
	}
}

// FormatBytes renders n with a binary unit, e.g. "1.50 MiB".
func FormatBytes(n float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for n >= 1024 && i < len(units)-1 {
		n /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", n, units[i])
	}
	return fmt.Sprintf("%.2f %s", n, units[i])
}
