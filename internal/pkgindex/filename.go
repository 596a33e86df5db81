package pkgindex

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
)

var sdistSuffixes = []string{".tar.gz", ".zip", ".tar.bz2", ".tgz"}

// Dist describes what a distribution filename encodes.
type Dist struct {
	Name    string // canonical
	Version requirement.Version
	Wheel   bool
	PyTags  []string
	ABITags []string
	Plats   []string
}

// ParseFilename decodes a wheel ({name}-{ver}[-{build}]-{py}-{abi}-{plat}.whl)
// or source distribution ({name}-{ver}.tar.gz) filename for the given project.
func ParseFilename(filename, canonicalName string) (Dist, error) {
	if base, ok := strings.CutSuffix(filename, ".whl"); ok {
		parts := strings.Split(base, "-")
		if len(parts) != 5 && len(parts) != 6 {
			return Dist{}, fmt.Errorf("malformed wheel filename %q", filename)
		}
		if requirement.CanonicalName(parts[0]) != canonicalName {
			return Dist{}, fmt.Errorf("wheel %q does not belong to %s", filename, canonicalName)
		}
		v, err := requirement.ParseVersion(parts[1])
		if err != nil {
			return Dist{}, err
		}
		n := len(parts)
		return Dist{
			Name:    canonicalName,
			Version: v,
			Wheel:   true,
			PyTags:  strings.Split(parts[n-3], "."),
			ABITags: strings.Split(parts[n-2], "."),
			Plats:   strings.Split(parts[n-1], "."),
		}, nil
	}

	for _, suffix := range sdistSuffixes {
		base, ok := strings.CutSuffix(filename, suffix)
		if !ok {
			continue
		}
		// Project names may contain '-', so try every split point.
		for i := len(base) - 1; i > 0; i-- {
			if base[i] != '-' || requirement.CanonicalName(base[:i]) != canonicalName {
				continue
			}
			v, err := requirement.ParseVersion(base[i+1:])
			if err != nil {
				return Dist{}, err
			}
			return Dist{Name: canonicalName, Version: v}, nil
		}
		return Dist{}, fmt.Errorf("sdist %q does not belong to %s", filename, canonicalName)
	}
	return Dist{}, fmt.Errorf("unsupported distribution format %q", filename)
}

// Target is the interpreter a distribution must run on.
type Target struct {
	PythonVersion string // "3.11"
	PlatformTag   string // "win_amd64"
}

func (t Target) nodot() (int, int, string) {
	major, minor, _ := strings.Cut(t.PythonVersion, ".")
	ma, _ := strconv.Atoi(major)
	mi, _ := strconv.Atoi(minor)
	return ma, mi, major + minor
}

// Score ranks how well d fits t. Zero means incompatible; an sdist scores 1
// and any compatible wheel scores higher, more specific tags scoring more.
func (t Target) Score(d Dist) int {
	if !d.Wheel {
		return 1
	}
	best := 0
	for _, py := range d.PyTags {
		for _, abi := range d.ABITags {
			pyScore := t.pythonScore(py, abi)
			if pyScore == 0 {
				continue
			}
			for _, plat := range d.Plats {
				platScore := t.platformScore(plat)
				if platScore == 0 {
					continue
				}
				if s := 1 + pyScore + platScore; s > best {
					best = s
				}
			}
		}
	}
	return best
}

func (t Target) pythonScore(py, abi string) int {
	major, minor, nodot := t.nodot()
	cp := "cp" + nodot

	switch abi {
	case "none":
		switch py {
		case "py" + strconv.Itoa(major), "py" + nodot:
			return 1
		case cp:
			return 2
		}
	case "abi3":
		// Stable ABI wheels built for an older CPython 3.x load on newer ones.
		if v, ok := strings.CutPrefix(py, "cp"+strconv.Itoa(major)); ok {
			if built, err := strconv.Atoi(v); err == nil && built <= minor {
				return 3
			}
		}
	case cp, cp + "m":
		if py == cp {
			return 4
		}
	}
	return 0
}

func (t Target) platformScore(plat string) int {
	if plat == "any" {
		return 1
	}
	if plat == t.PlatformTag {
		return 2
	}
	osName, arch, _ := strings.Cut(t.PlatformTag, "_")
	switch osName {
	case "linux":
		if strings.HasPrefix(plat, "manylinux") && strings.HasSuffix(plat, "_"+arch) {
			return 2
		}
	case "macosx":
		if strings.HasPrefix(plat, "macosx_") &&
			(strings.HasSuffix(plat, "_"+arch) || strings.HasSuffix(plat, "_universal2")) {
			return 2
		}
	}
	return 0
}
