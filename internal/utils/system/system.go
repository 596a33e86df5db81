package system

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
)

// ErrPlatformDetection wraps every failure to read the host OS version.
var ErrPlatformDetection = errors.New("platform detection failed")

// Supported interpreter version tags.
const (
	PythonModern = "3.11"
	PythonLegacy = "3.8"
)

// PlatformInfo describes the host as far as artifact selection cares.
type PlatformInfo struct {
	OSName        string
	OSMajor       int
	Arch          string
	PythonVersion string
	PlatformTag   string
}

// PythonVersionFor maps a host OS major version to an interpreter tag.
// Hosts newer than major 7 get 3.11, everything else stays on 3.8.
func PythonVersionFor(major int) string {
	if major > 7 {
		return PythonModern
	}
	return PythonLegacy
}

// PlatformTag returns the wheel platform tag for a GOOS/GOARCH pair.
func PlatformTag(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		switch goarch {
		case "amd64":
			return "win_amd64", nil
		case "386":
			return "win32", nil
		case "arm64":
			return "win_arm64", nil
		}
	case "linux":
		switch goarch {
		case "amd64":
			return "linux_x86_64", nil
		case "arm64":
			return "linux_aarch64", nil
		}
	case "darwin":
		switch goarch {
		case "amd64":
			return "macosx_x86_64", nil
		case "arm64":
			return "macosx_arm64", nil
		}
	}
	return "", fmt.Errorf("unsupported platform %s/%s", goos, goarch)
}

// Detect probes the host OS version and derives the interpreter version tag
// and platform tag used to pick the pinned requirements file.
func Detect() (PlatformInfo, error) {
	log := logger.Logger()

	name, major, err := hostMajorVersion()
	if err != nil {
		log.Errorf("Failed to detect host OS version: %v", err)
		return PlatformInfo{}, fmt.Errorf("%w: %v", ErrPlatformDetection, err)
	}

	tag, err := PlatformTag(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return PlatformInfo{}, fmt.Errorf("%w: %v", ErrPlatformDetection, err)
	}

	info := PlatformInfo{
		OSName:        name,
		OSMajor:       major,
		Arch:          runtime.GOARCH,
		PythonVersion: PythonVersionFor(major),
		PlatformTag:   tag,
	}
	log.Infof("Detected host: %s (major %d, %s) -> python %s, platform %s",
		info.OSName, info.OSMajor, info.Arch, info.PythonVersion, info.PlatformTag)
	return info, nil
}

// parseMajor returns the leading integer of a version string like "22.04" or "6.1.0-13-amd64".
func parseMajor(version string) (int, error) {
	version = strings.Trim(strings.TrimSpace(version), "\"")
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("no numeric major version in %q", version)
	}
	return strconv.Atoi(version[:end])
}
