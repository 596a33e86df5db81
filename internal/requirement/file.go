package requirement

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"go.uber.org/multierr"
)

// bootstrapSpecs are installed into every environment regardless of the pinned file.
var bootstrapSpecs = []string{"setuptools>=68.0.0", "wheel>=0.38.0"}

// Global pip options that may appear in a pinned file and do not name a package.
var ignoredOptions = []string{
	"-i", "--index-url", "--extra-index-url", "-f", "--find-links",
	"--trusted-host", "--no-binary", "--only-binary", "--prefer-binary", "--pre",
}

// LineError is one unparseable line.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("Line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseError aggregates every bad line of one source.
type ParseError struct {
	Source string
	Lines  []*LineError
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		msgs[i] = l.Error()
	}
	return fmt.Sprintf("errors in parsing requirements %s:\n%s", e.Source, strings.Join(msgs, "\n"))
}

// ExtractRequirements reads a pinned requirements file. Every line is parsed;
// failures are collected and returned together as a *ParseError.
func ExtractRequirements(path string) ([]Requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file: %w", err)
	}
	defer f.Close()

	return ParseLines(f, path)
}

// ParseLines parses requirements from r. Blank lines and comments are skipped,
// a trailing backslash continues a line and errors report the first line number.
func ParseLines(r io.Reader, source string) ([]Requirement, error) {
	log := logger.Logger()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		reqs      []Requirement
		errs      error
		lineNo    int
		startLine int
		pending   strings.Builder
	)

	flush := func() {
		text := stripComment(pending.String())
		pending.Reset()
		if strings.TrimSpace(text) == "" {
			return
		}
		if isIgnoredOption(text) {
			log.Debugf("%s:%d: ignoring option %q", source, startLine, strings.TrimSpace(text))
			return
		}
		req, err := Parse(text)
		if err != nil {
			errs = multierr.Append(errs, &LineError{Line: startLine, Text: strings.TrimSpace(text), Err: err})
			return
		}
		req.Line = startLine
		reqs = append(reqs, req)
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if pending.Len() == 0 {
			startLine = lineNo
		}
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		flush()
	}
	if pending.Len() > 0 {
		flush()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements %s: %w", source, err)
	}

	if errs != nil {
		return nil, toParseError(source, errs)
	}
	return reqs, nil
}

// BootstrapPackages parses the bootstrap packages with the same accumulate-then-check
// discipline as a requirements file.
func BootstrapPackages() ([]Requirement, error) {
	return parseSpecs("bootstrap packages", bootstrapSpecs)
}

// PipRequirement pins pip to version.
func PipRequirement(version string) (Requirement, error) {
	reqs, err := parseSpecs("pip pin", []string{"pip==" + version})
	if err != nil {
		return Requirement{}, err
	}
	return reqs[0], nil
}

func parseSpecs(source string, specs []string) ([]Requirement, error) {
	var (
		reqs []Requirement
		errs error
	)
	for i, spec := range specs {
		req, err := Parse(spec)
		if err != nil {
			errs = multierr.Append(errs, &LineError{Line: i + 1, Text: spec, Err: err})
			continue
		}
		req.Line = i + 1
		reqs = append(reqs, req)
	}
	if errs != nil {
		return nil, toParseError(source, errs)
	}
	return reqs, nil
}

func toParseError(source string, errs error) *ParseError {
	pe := &ParseError{Source: source}
	for _, err := range multierr.Errors(errs) {
		var le *LineError
		if errors.As(err, &le) {
			pe.Lines = append(pe.Lines, le)
		}
	}
	return pe
}

func stripComment(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}
	if idx := strings.Index(line, " #"); idx >= 0 {
		return line[:idx]
	}
	if idx := strings.Index(line, "\t#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

func isIgnoredOption(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	opt, _, _ := strings.Cut(fields[0], "=")
	for _, o := range ignoredOptions {
		if opt == o {
			return true
		}
	}
	return false
}
