package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/download"
	"github.com/open-edge-platform/pyenv-composer/internal/provision"
	"github.com/schollz/progressbar/v3"
)

// barStatus draws one progress bar per artifact and prints phase messages
// between them.
type barStatus struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	title string
}

func newBarStatus(out io.Writer) *barStatus {
	return &barStatus{out: out}
}

func (b *barStatus) Message(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finishBar()
	fmt.Fprintln(b.out, text)
}

func (b *barStatus) UpdateDownloading(s download.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil || b.title != s.Title {
		b.finishBar()
		total := s.TotalSize
		if total < s.Downloaded {
			total = s.Downloaded
		}
		if total < 1 {
			total = 1
		}
		b.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		b.title = s.Title
	}
	b.bar.Describe(describeSnapshot(s))
	_ = b.bar.Set64(s.Downloaded)
}

func (b *barStatus) finishBar() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	fmt.Fprintln(b.out)
	b.bar = nil
	b.title = ""
}

// describeSnapshot renders the title, size and windowed speed of a transfer,
// prefixed with its position in the run when known.
func describeSnapshot(s download.Snapshot) string {
	desc := fmt.Sprintf("%s, %s, %s/s", s.Title,
		download.FormatBytes(float64(s.TotalSize)), download.FormatBytes(s.Speed))
	if s.Total > 0 {
		desc = fmt.Sprintf("[%d/%d] %s", s.Index+1, s.Total, desc)
	}
	return desc
}

// promptDecider asks on the terminal whether to retry a failed step.
// The first autoRetries failures are retried without asking.
type promptDecider struct {
	in          *bufio.Reader
	out         io.Writer
	autoRetries int
}

func newPromptDecider(in io.Reader, out io.Writer, autoRetries int) *promptDecider {
	return &promptDecider{in: bufio.NewReader(in), out: out, autoRetries: autoRetries}
}

func (d *promptDecider) Decide(ctx context.Context, f provision.Failure) provision.Decision {
	fmt.Fprintf(d.out, "\n%s\n", f)
	if ctx.Err() != nil {
		return provision.Abandon
	}
	if d.autoRetries > 0 {
		d.autoRetries--
		fmt.Fprintf(d.out, "Retrying (%d automatic retries left)\n", d.autoRetries)
		return provision.Retry
	}

	fmt.Fprint(d.out, "Retry? [y/N]: ")
	answer, err := d.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(d.out)
		return provision.Abandon
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "r", "retry":
		return provision.Retry
	default:
		return provision.Abandon
	}
}
