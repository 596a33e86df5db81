package interpreter

import (
	"path/filepath"
	"runtime"
)

// Layout locates the well-known files of a virtual environment.
type Layout struct {
	Root    string
	Windows bool
}

// VenvLayout returns the layout of venvDir for goos. An empty goos means the host.
func VenvLayout(venvDir, goos string) Layout {
	if goos == "" {
		goos = runtime.GOOS
	}
	return Layout{Root: venvDir, Windows: goos == "windows"}
}

// ScriptsDir holds the interpreter and activation scripts.
func (l Layout) ScriptsDir() string {
	if l.Windows {
		return filepath.Join(l.Root, "Scripts")
	}
	return filepath.Join(l.Root, "bin")
}

// Python is the environment's interpreter executable.
func (l Layout) Python() string {
	if l.Windows {
		return filepath.Join(l.ScriptsDir(), "python.exe")
	}
	return filepath.Join(l.ScriptsDir(), "python")
}

// ActivateScript is the shell activation script patched with the prompt.
func (l Layout) ActivateScript() string {
	if l.Windows {
		return filepath.Join(l.ScriptsDir(), "activate.bat")
	}
	return filepath.Join(l.ScriptsDir(), "activate")
}

// SitePackages is where installed distributions live.
func (l Layout) SitePackages(pythonVersion string) string {
	if l.Windows {
		return filepath.Join(l.Root, "Lib", "site-packages")
	}
	return filepath.Join(l.Root, "lib", "python"+pythonVersion, "site-packages")
}

// EtcDir holds data files such as jupyter configuration.
func (l Layout) EtcDir() string {
	return filepath.Join(l.Root, "etc")
}

// BaseInterpreter returns the executable of an extracted standalone
// distribution ("python/python.exe" on Windows, "python/bin/python3" elsewhere).
func BaseInterpreter(installDir, goos string) string {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return filepath.Join(installDir, "python", "python.exe")
	}
	return filepath.Join(installDir, "python", "bin", "python3")
}
