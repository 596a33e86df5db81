package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ProgressOutput is where FetchAll draws its progress bar.
var ProgressOutput io.Writer = os.Stderr

// FetchAll downloads targets into destDir using at most workers concurrent
// transfers. Targets sharing a filename are fetched once. A single progress bar tracks files completed vs total. Failures
// do not stop the other transfers; they are returned together.
func (m *Manager) FetchAll(ctx context.Context, targets []pkgindex.DownloadTarget, destDir string, workers int) error {
	log := logger.Logger()

	if workers < 1 {
		workers = 1
	}
	keep := uniqueTargets(targets)

	bar := progressbar.NewOptions(len(keep),
		progressbar.OptionSetWriter(ProgressOutput),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	var (
		mu   sync.Mutex
		errs error
	)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, i := range keep {
		target := targets[i]
		g.Go(func() error {
			bar.Describe(fmt.Sprintf("downloading %s", target.Filename))

			if _, err := m.Fetch(ctx, target, destDir, nil); err != nil {
				log.Errorf("downloading %s failed: %v", target.URL, err)
				mu.Lock()
				errs = multierr.Append(errs, &DownloadError{Index: i, Requirement: target.Name, Err: err})
				mu.Unlock()
			}
			bar.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	bar.Finish()
	return errs
}

// uniqueTargets returns the indexes of targets whose filename was not seen
// earlier in the list.
func uniqueTargets(targets []pkgindex.DownloadTarget) []int {
	seen := make(map[string]bool, len(targets))
	keep := make([]int, 0, len(targets))
	for i, t := range targets {
		if seen[t.Filename] {
			logger.Logger().Debugf("skipping duplicate target %s", t.Filename)
			continue
		}
		seen[t.Filename] = true
		keep = append(keep, i)
	}
	return keep
}
