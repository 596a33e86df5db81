//go:build !windows

package system

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/shell"
)

// OsReleaseFile is read first; tests point it at a fixture.
var OsReleaseFile = "/etc/os-release"

func hostMajorVersion() (string, int, error) {
	log := logger.Logger()

	name, version, err := readOsRelease(OsReleaseFile)
	if err == nil && version != "" {
		major, err := parseMajor(version)
		if err == nil {
			return name, major, nil
		}
		log.Warnf("Unparseable VERSION_ID %q in %s: %v", version, OsReleaseFile, err)
	}

	output, err := shell.ExecCmd("uname -r")
	if err != nil {
		return "", 0, fmt.Errorf("failed to get kernel release: %w", err)
	}
	major, err := parseMajor(output)
	if err != nil {
		return "", 0, err
	}

	sysname, err := shell.ExecCmd("uname -s")
	if err != nil || strings.TrimSpace(sysname) == "" {
		sysname = "unknown"
	}
	return strings.TrimSpace(sysname), major, nil
}

func readOsRelease(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	var name, version string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")
		switch strings.TrimSpace(key) {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("error reading %s: %w", path, err)
	}
	return name, version, nil
}
