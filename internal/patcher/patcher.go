package patcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/interpreter"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"go.uber.org/multierr"
)

// SansSerifFonts is the ordered fallback list written to matplotlibrc so CJK
// glyphs render out of the box.
var SansSerifFonts = []string{
	"Noto Sans CJK SC",
	"Microsoft YaHei",
	"SimHei",
	"DejaVu Sans",
	"Lucida Sans Unicode",
	"Arial",
	"Helvetica",
	"sans-serif",
}

// DisabledLabExtensions are switched off in the generated JupyterLab page config.
var DisabledLabExtensions = []string{
	"@jupyterlab/cell-toolbar-extension",
	"@jupyterlab/debugger-extension",
}

var (
	batPromptRe    = regexp.MustCompile(`^(\s*set "?PROMPT=).*(%PROMPT%"?)\s*$`)
	batEnvPromptRe = regexp.MustCompile(`^(\s*set "?VIRTUAL_ENV_PROMPT=).*?("?)\s*$`)
	shPS1Re        = regexp.MustCompile(`^(\s*PS1=").*(\$\{PS1:-\}")\s*$`)
	shEnvPromptRe  = regexp.MustCompile(`^(\s*VIRTUAL_ENV_PROMPT=).*$`)
	fontFamilyRe   = regexp.MustCompile(`^#?\s*(font\.family\s*:.*)$`)
	sansSerifRe    = regexp.MustCompile(`^#?\s*(font\.sans-serif\s*:).*$`)
)

// PatchError reports a patch pass that could not update its file.
type PatchError struct {
	File string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patching %s: %v", e.File, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Patcher applies the post-install customizations to a virtual environment.
// Every pass is idempotent.
type Patcher struct {
	Prompt        string
	PythonVersion string
	// GOOS selects the venv layout; empty means the host.
	GOOS string
}

// Apply runs all passes. A failing pass does not prevent the others; the
// failures are returned together.
func (p *Patcher) Apply(venvDir string) error {
	return multierr.Combine(
		p.PatchActivate(venvDir),
		p.PatchMatplotlib(venvDir),
		p.PatchLabConfig(venvDir),
	)
}

// PatchActivate rewrites the prompt set by the activation script.
func (p *Patcher) PatchActivate(venvDir string) error {
	layout := interpreter.VenvLayout(venvDir, p.GOOS)
	script := layout.ActivateScript()

	var rewrite func(string) string
	if layout.Windows {
		rewrite = func(line string) string {
			if m := batPromptRe.FindStringSubmatch(line); m != nil {
				return m[1] + p.Prompt + m[2]
			}
			if m := batEnvPromptRe.FindStringSubmatch(line); m != nil {
				return m[1] + p.Prompt + m[2]
			}
			return line
		}
	} else {
		rewrite = func(line string) string {
			if m := shPS1Re.FindStringSubmatch(line); m != nil {
				return m[1] + shellEscape(p.Prompt) + m[2]
			}
			if m := shEnvPromptRe.FindStringSubmatch(line); m != nil {
				return m[1] + `"` + shellEscape(p.Prompt) + `"`
			}
			return line
		}
	}
	return rewriteLines(script, rewrite)
}

// PatchMatplotlib enables font.family and sets the sans-serif fallback list.
// Environments without matplotlib are left alone; an installed matplotlib
// without its matplotlibrc is an error.
func (p *Patcher) PatchMatplotlib(venvDir string) error {
	layout := interpreter.VenvLayout(venvDir, p.GOOS)
	pkg := filepath.Join(layout.SitePackages(p.PythonVersion), "matplotlib")
	rc := filepath.Join(pkg, "mpl-data", "matplotlibrc")
	if _, err := os.Stat(rc); errors.Is(err, os.ErrNotExist) {
		if _, pkgErr := os.Stat(pkg); errors.Is(pkgErr, os.ErrNotExist) {
			logger.Logger().Infof("matplotlib not installed, skipping %s", rc)
			return nil
		}
		return &PatchError{File: rc, Err: err}
	}

	fonts := strings.Join(SansSerifFonts, ", ")
	return rewriteLines(rc, func(line string) string {
		if m := fontFamilyRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if m := sansSerifRe.FindStringSubmatch(line); m != nil {
			return m[1] + " " + fonts
		}
		return line
	})
}

// PatchLabConfig disables the configured JupyterLab extensions, keeping any
// other settings already present in page_config.json.
func (p *Patcher) PatchLabConfig(venvDir string) error {
	layout := interpreter.VenvLayout(venvDir, p.GOOS)
	dir := filepath.Join(layout.EtcDir(), "jupyter", "labconfig")
	file := filepath.Join(dir, "page_config.json")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PatchError{File: file, Err: err}
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(file); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return &PatchError{File: file, Err: fmt.Errorf("existing config is not valid JSON: %w", err)}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &PatchError{File: file, Err: err}
	}

	disabled, _ := doc["disabledExtensions"].(map[string]any)
	if disabled == nil {
		disabled = map[string]any{}
	}
	for _, ext := range DisabledLabExtensions {
		disabled[ext] = true
	}
	doc["disabledExtensions"] = disabled

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PatchError{File: file, Err: err}
	}
	if err := os.WriteFile(file, append(out, '\n'), 0644); err != nil {
		return &PatchError{File: file, Err: err}
	}
	logger.Logger().Debugf("wrote %s", file)
	return nil
}

// rewriteLines applies fn to every line of path, keeping CRLF endings, and
// writes the file back only when something changed.
func rewriteLines(path string, fn func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &PatchError{File: path, Err: err}
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		body, cr := strings.CutSuffix(line, "\r")
		body = fn(body)
		if cr {
			body += "\r"
		}
		lines[i] = body
	}
	out := []byte(strings.Join(lines, "\n"))
	if bytes.Equal(out, data) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return &PatchError{File: path, Err: err}
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return &PatchError{File: path, Err: err}
	}
	logger.Logger().Debugf("patched %s", path)
	return nil
}

func shellEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return r.Replace(s)
}
