package requirement

import (
	"fmt"
	"strings"
)

var operators = []string{"===", "~=", "==", "!=", "<=", ">=", "<", ">"}

// Specifier is one version clause such as ">=68.0.0" or "==1.4.*".
type Specifier struct {
	Op      string
	Version string
}

func (s Specifier) String() string {
	return s.Op + s.Version
}

// SpecifierSet is a comma separated list of clauses, all of which must hold.
type SpecifierSet []Specifier

func (ss SpecifierSet) String() string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// ParseSpecifierSet parses ">=1.0, <2" into clauses and validates each version.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out SpecifierSet
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return nil, fmt.Errorf("empty version clause in %q", s)
		}

		var op string
		for _, candidate := range operators {
			if strings.HasPrefix(clause, candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, fmt.Errorf("missing comparison operator in %q", clause)
		}

		ver := strings.TrimSpace(clause[len(op):])
		if ver == "" {
			return nil, fmt.Errorf("missing version after %q", op)
		}
		if err := validateSpecVersion(op, ver); err != nil {
			return nil, err
		}
		out = append(out, Specifier{Op: op, Version: ver})
	}
	return out, nil
}

func validateSpecVersion(op, ver string) error {
	switch op {
	case "===":
		return nil
	case "==", "!=":
		ver = strings.TrimSuffix(ver, ".*")
	case "~=":
		v, err := ParseVersion(ver)
		if err != nil {
			return err
		}
		if len(v.Release) < 2 {
			return fmt.Errorf("~= requires at least two release segments, got %q", ver)
		}
		return nil
	}
	_, err := ParseVersion(ver)
	return err
}

// AllowsPrereleases reports whether any clause names a pre-release explicitly.
func (ss SpecifierSet) AllowsPrereleases() bool {
	for _, s := range ss {
		if v, err := ParseVersion(strings.TrimSuffix(s.Version, ".*")); err == nil && v.IsPrerelease() {
			return true
		}
	}
	return false
}

// Contains reports whether v satisfies every clause.
func (ss SpecifierSet) Contains(v Version) bool {
	for _, s := range ss {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Contains reports whether v satisfies this clause.
func (s Specifier) Contains(v Version) bool {
	if s.Op == "===" {
		return strings.EqualFold(v.Raw(), s.Version)
	}

	if s.Op == "==" || s.Op == "!=" {
		var match bool
		if prefix, ok := strings.CutSuffix(s.Version, ".*"); ok {
			match = prefixMatch(v, prefix)
		} else {
			match = exactMatch(v, s.Version)
		}
		if s.Op == "==" {
			return match
		}
		return !match
	}

	want, err := ParseVersion(s.Version)
	if err != nil {
		return false
	}
	c := v.Compare(want)

	switch s.Op {
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	case ">":
		// 1.7.post1 does not satisfy >1.7.
		return c > 0 && !(v.Post >= 0 && want.Post < 0 && compareRelease(v.Release, want.Release) == 0)
	case "<":
		// 2.0rc1 does not satisfy <2.0 unless the bound is itself a pre-release.
		return c < 0 && !(v.IsPrerelease() && !want.IsPrerelease() && compareRelease(v.Release, want.Release) == 0)
	case "~=":
		prefix := want.Release[:len(want.Release)-1]
		return c >= 0 && releaseHasPrefix(v.Release, prefix)
	}
	return false
}

func exactMatch(v Version, spec string) bool {
	want, err := ParseVersion(spec)
	if err != nil {
		return false
	}
	if want.Local == "" {
		v.Local = ""
	}
	return v.Compare(want) == 0
}

func prefixMatch(v Version, spec string) bool {
	want, err := ParseVersion(spec)
	if err != nil {
		return false
	}
	if v.Epoch != want.Epoch {
		return false
	}
	return releaseHasPrefix(v.Release, want.Release)
}

func releaseHasPrefix(release, prefix []int) bool {
	for i, n := range prefix {
		var x int
		if i < len(release) {
			x = release[i]
		}
		if x != n {
			return false
		}
	}
	return true
}
