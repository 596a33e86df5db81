//go:build windows

package system

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// hostMajorVersion uses RtlGetVersion, which is not subject to the
// manifest-based version lie of GetVersionEx. Windows 7 reports 6, 10 and 11 report 10.
func hostMajorVersion() (string, int, error) {
	info := windows.RtlGetVersion()
	if info == nil || info.MajorVersion == 0 {
		return "", 0, fmt.Errorf("RtlGetVersion returned no version")
	}
	name := fmt.Sprintf("Windows %d.%d build %d", info.MajorVersion, info.MinorVersion, info.BuildNumber)
	return name, int(info.MajorVersion), nil
}
