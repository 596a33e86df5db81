package pkgindex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"go.uber.org/multierr"
)

var errProjectNotFound = errors.New("project not found")

// DownloadTarget is a resolved artifact ready to be fetched.
type DownloadTarget struct {
	Name     string // canonical project name
	Version  string
	Filename string
	URL      string
	Mirror   string
	// Algo and Digests describe the accepted content digests. Digests is
	// empty when neither the index nor the requirement carries one.
	Algo    string
	Digests []string
}

// Verifiable reports whether the artifact content can be checked.
func (t DownloadTarget) Verifiable() bool {
	return t.Algo != "" && len(t.Digests) > 0
}

// Accepts reports whether hexDigest is one of the expected digests.
func (t DownloadTarget) Accepts(hexDigest string) bool {
	return slices.Contains(t.Digests, strings.ToLower(hexDigest))
}

// ResolutionError is returned when no mirror offers a compatible artifact.
type ResolutionError struct {
	Requirement string
	Err         error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no compatible artifact for %s: %v", e.Requirement, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Client queries PEP 503 simple repositories.
type Client struct {
	http   *http.Client
	target Target
	// InterpreterVersion is the full version checked against
	// data-requires-python. Falls back to the target's x.y.
	InterpreterVersion string
	// Timeout bounds each project page request. Zero means no limit.
	Timeout time.Duration
}

// NewClient returns a client selecting artifacts for target.
func NewClient(httpClient *http.Client, target Target) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, target: target}
}

// Resolve finds the best artifact for req, trying mirrors in order.
func (c *Client) Resolve(ctx context.Context, req requirement.Requirement, mirrors []config.Mirror) (DownloadTarget, error) {
	log := logger.Logger()

	if req.URL != "" {
		return c.directTarget(req)
	}

	name := req.CanonicalName()
	var errs error
	for _, m := range mirrors {
		files, err := c.Listing(ctx, m, name)
		if err != nil {
			if ctx.Err() != nil {
				return DownloadTarget{}, ctx.Err()
			}
			log.Debugf("mirror %s: %v", m.Name, err)
			errs = multierr.Append(errs, fmt.Errorf("mirror %s: %w", m.Name, err))
			continue
		}

		target, err := c.Select(files, req)
		if err != nil {
			log.Debugf("mirror %s: %v", m.Name, err)
			errs = multierr.Append(errs, fmt.Errorf("mirror %s: %w", m.Name, err))
			continue
		}
		target.Mirror = m.Name
		log.Debugf("resolved %s to %s from %s", req.String(), target.Filename, m.Name)
		return target, nil
	}

	if errs == nil {
		errs = errors.New("no mirrors configured")
	}
	return DownloadTarget{}, &ResolutionError{Requirement: req.String(), Err: errs}
}

// Listing fetches and parses the project page of name on mirror.
func (c *Client) Listing(ctx context.Context, mirror config.Mirror, name string) ([]File, error) {
	pageURL := mirror.PackageURL(name)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", pageURL, err)
	}
	httpReq.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", pageURL, errProjectNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("GET %s: bad status: %s", pageURL, resp.Status)
	}

	// Redirects change the base for relative links.
	return ParseListing(resp.Body, resp.Request.URL.String())
}

type candidate struct {
	file  File
	dist  Dist
	score int
}

// Select picks the best file for req: wheels before sdists, then the highest
// version, then the most specific wheel tags. Pre-releases are considered
// only when the specifiers name one or nothing else matches.
func (c *Client) Select(files []File, req requirement.Requirement) (DownloadTarget, error) {
	name := req.CanonicalName()
	_, pinned := req.Pinned()

	var final, pre []candidate
	var skipped int
	for _, f := range files {
		dist, err := ParseFilename(f.Filename, name)
		if err != nil {
			skipped++
			continue
		}
		if f.Yanked && !pinned {
			continue
		}
		if !req.Specifiers.Contains(dist.Version) {
			continue
		}
		if !c.pythonCompatible(f.RequiresPython) {
			continue
		}
		score := c.target.Score(dist)
		if score == 0 {
			continue
		}
		if !hashesAllow(req.Hashes, f) {
			continue
		}
		cand := candidate{file: f, dist: dist, score: score}
		if dist.Version.IsPrerelease() && !req.Specifiers.AllowsPrereleases() {
			pre = append(pre, cand)
		} else {
			final = append(final, cand)
		}
	}
	if len(final) == 0 {
		final = pre
	}
	if len(final) == 0 {
		return DownloadTarget{}, fmt.Errorf("none of %d files for %s match %s on %s/%s (%d unrecognized)",
			len(files), name, req.Specifiers.String(), c.target.PythonVersion, c.target.PlatformTag, skipped)
	}

	best := final[0]
	for _, cand := range final[1:] {
		if better(cand, best) {
			best = cand
		}
	}
	return targetFor(best, req), nil
}

func better(a, b candidate) bool {
	if a.dist.Wheel != b.dist.Wheel {
		return a.dist.Wheel
	}
	if c := a.dist.Version.Compare(b.dist.Version); c != 0 {
		return c > 0
	}
	return a.score > b.score
}

func targetFor(c candidate, req requirement.Requirement) DownloadTarget {
	t := DownloadTarget{
		Name:     c.dist.Name,
		Version:  c.dist.Version.String(),
		Filename: c.file.Filename,
		URL:      c.file.URL,
	}
	if c.file.Digest != "" {
		t.Algo = c.file.Algo
		t.Digests = []string{c.file.Digest}
		return t
	}
	t.Algo, t.Digests = requirementDigests(req.Hashes)
	return t
}

func (c *Client) directTarget(req requirement.Requirement) (DownloadTarget, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return DownloadTarget{}, &ResolutionError{Requirement: req.String(), Err: err}
	}
	t := DownloadTarget{
		Name:     req.CanonicalName(),
		Filename: path.Base(u.Path),
		Mirror:   u.Host,
	}
	if algo, digest, ok := strings.Cut(u.Fragment, "="); ok && digest != "" {
		t.Algo, t.Digests = strings.ToLower(algo), []string{strings.ToLower(digest)}
	} else {
		t.Algo, t.Digests = requirementDigests(req.Hashes)
	}
	u.Fragment = ""
	t.URL = u.String()
	return t, nil
}

// requirementDigests returns the algorithm of the first --hash and every
// value given for it.
func requirementDigests(hashes []requirement.Hash) (string, []string) {
	if len(hashes) == 0 {
		return "", nil
	}
	algo := hashes[0].Algo
	var digests []string
	for _, h := range hashes {
		if h.Algo == algo {
			digests = append(digests, h.Value)
		}
	}
	return algo, digests
}

// hashesAllow drops files whose index digest contradicts the --hash values.
func hashesAllow(hashes []requirement.Hash, f File) bool {
	if f.Digest == "" {
		return true
	}
	var sameAlgo bool
	for _, h := range hashes {
		if h.Algo != f.Algo {
			continue
		}
		sameAlgo = true
		if h.Value == f.Digest {
			return true
		}
	}
	return !sameAlgo
}

func (c *Client) pythonCompatible(requiresPython string) bool {
	if requiresPython == "" {
		return true
	}
	set, err := requirement.ParseSpecifierSet(requiresPython)
	if err != nil {
		logger.Logger().Debugf("ignoring unparseable requires-python %q", requiresPython)
		return true
	}
	ver := c.InterpreterVersion
	if ver == "" {
		ver = c.target.PythonVersion
	}
	v, err := requirement.ParseVersion(ver)
	if err != nil {
		return true
	}
	return set.Contains(v)
}
