package requirement

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nameRe      = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	extraRe     = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?$`)
	canonicalRe = regexp.MustCompile(`[-_.]+`)
	hashRe      = regexp.MustCompile(`^(sha256|sha384|sha512|md5):([0-9a-fA-F]+)$`)
)

// CanonicalName normalizes a project name: lowercase with runs of "-", "_"
// and "." collapsed to a single "-".
func CanonicalName(name string) string {
	return canonicalRe.ReplaceAllString(strings.ToLower(name), "-")
}

// Hash is an expected artifact digest given with --hash.
type Hash struct {
	Algo  string
	Value string
}

func (h Hash) String() string {
	return h.Algo + ":" + h.Value
}

// Requirement is one parsed dependency line.
type Requirement struct {
	Name       string
	Extras     []string
	Specifiers SpecifierSet
	URL        string
	Marker     string
	Hashes     []Hash
	Line       int
}

// CanonicalName returns the normalized project name.
func (r Requirement) CanonicalName() string {
	return CanonicalName(r.Name)
}

// Pinned returns the version of a single "==X" clause without wildcard.
func (r Requirement) Pinned() (string, bool) {
	if len(r.Specifiers) != 1 {
		return "", false
	}
	s := r.Specifiers[0]
	if (s.Op == "==" || s.Op == "===") && !strings.HasSuffix(s.Version, ".*") {
		return s.Version, true
	}
	return "", false
}

// String renders the requirement without --hash options, as accepted by pip.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		b.WriteString(" @ " + r.URL)
	} else {
		b.WriteString(r.Specifiers.String())
	}
	if r.Marker != "" {
		if r.URL != "" {
			b.WriteString(" ")
		}
		b.WriteString("; " + r.Marker)
	}
	return b.String()
}

// Parse parses one PEP 508 requirement, optionally followed by pip
// "--hash=algo:hex" options.
func Parse(line string) (Requirement, error) {
	var req Requirement

	body, hashes, err := splitOptions(line)
	if err != nil {
		return req, err
	}
	req.Hashes = hashes

	body = strings.TrimSpace(body)
	if body == "" {
		return req, fmt.Errorf("empty requirement")
	}

	m := nameRe.FindString(body)
	if m == "" {
		return req, fmt.Errorf("expected package name at start of %q", body)
	}
	req.Name = m
	rest := strings.TrimLeft(body[len(m):], " \t")

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return req, fmt.Errorf("unterminated extras in %q", body)
		}
		for _, e := range strings.Split(rest[1:end], ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			if !extraRe.MatchString(e) {
				return req, fmt.Errorf("invalid extra %q", e)
			}
			req.Extras = append(req.Extras, e)
		}
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}

	if strings.HasPrefix(rest, "@") {
		urlPart := strings.TrimSpace(rest[1:])
		// A marker after a URL must be separated by whitespace.
		if idx := strings.Index(urlPart, " ;"); idx >= 0 {
			req.Marker = strings.TrimSpace(urlPart[idx+2:])
			urlPart = strings.TrimSpace(urlPart[:idx])
		}
		if urlPart == "" || !strings.Contains(urlPart, "://") {
			return req, fmt.Errorf("invalid URL %q", urlPart)
		}
		req.URL = urlPart
		return req, validateMarker(req.Marker)
	}

	specPart := rest
	if idx := strings.Index(rest, ";"); idx >= 0 {
		req.Marker = strings.TrimSpace(rest[idx+1:])
		specPart = rest[:idx]
	}
	specPart = strings.TrimSpace(specPart)
	if strings.HasPrefix(specPart, "(") {
		if !strings.HasSuffix(specPart, ")") {
			return req, fmt.Errorf("unbalanced parenthesis in %q", specPart)
		}
		specPart = specPart[1 : len(specPart)-1]
	}

	specs, err := ParseSpecifierSet(specPart)
	if err != nil {
		return req, err
	}
	req.Specifiers = specs
	return req, validateMarker(req.Marker)
}

func validateMarker(marker string) error {
	if marker == "" {
		return nil
	}
	_, err := parseMarker(marker)
	return err
}

// splitOptions separates pip per-requirement options from the requirement body.
func splitOptions(line string) (string, []Hash, error) {
	idx := strings.Index(line, " --")
	if idx < 0 {
		if strings.HasPrefix(strings.TrimSpace(line), "-") {
			return "", nil, fmt.Errorf("unsupported option line %q", strings.TrimSpace(line))
		}
		return line, nil, nil
	}

	var hashes []Hash
	fields := strings.Fields(line[idx:])
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		var value string
		switch {
		case strings.HasPrefix(f, "--hash="):
			value = strings.TrimPrefix(f, "--hash=")
		case f == "--hash" && i+1 < len(fields):
			i++
			value = fields[i]
		default:
			return "", nil, fmt.Errorf("unsupported option %q", f)
		}
		hm := hashRe.FindStringSubmatch(value)
		if hm == nil {
			return "", nil, fmt.Errorf("invalid hash %q", value)
		}
		hashes = append(hashes, Hash{Algo: hm[1], Value: strings.ToLower(hm[2])})
	}
	return line[:idx], hashes, nil
}
