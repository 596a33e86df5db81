package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/pyenv-composer/internal/download"
	"github.com/open-edge-platform/pyenv-composer/internal/provision"
	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/system"
	"github.com/spf13/cobra"
)

func runExecute(t *testing.T, fn func(*cobra.Command, []string) error, args []string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetContext(context.Background())

	err := fn(cmd, args)
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeDetect(t *testing.T) {
	t.Helper()
	orig := detectPlatform
	t.Cleanup(func() { detectPlatform = orig })
	detectPlatform = func() (system.PlatformInfo, error) {
		return system.PlatformInfo{OSName: "windows", OSMajor: 10, Arch: "amd64", PythonVersion: "3.11", PlatformTag: "win_amd64"}, nil
	}
}

func TestCheckCommand(t *testing.T) {
	good := writeTemp(t, "good.txt", "numpy==1.26.4\n# comment\nrequests>=2.31\n")
	out, err := runExecute(t, executeCheck, []string{good})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(out, "2 requirements OK (1 not pinned)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "good.txt:3: requests is not pinned") {
		t.Errorf("unpinned line not reported:\n%s", out)
	}

	bad := writeTemp(t, "bad.txt", "numpy==1.26.4\n==broken\npandas==2.2.1\nscipy=1.0\n")
	out, err = runExecute(t, executeCheck, []string{bad})
	if err == nil || !strings.Contains(err.Error(), "2 malformed lines") {
		t.Fatalf("expected 2 malformed lines, got %v", err)
	}
	if !strings.Contains(out, "bad.txt:2:") || !strings.Contains(out, "bad.txt:4:") {
		t.Errorf("line numbers missing:\n%s", out)
	}

	if _, err := runExecute(t, executeCheck, []string{filepath.Join(t.TempDir(), "missing.txt")}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestProbeCommand(t *testing.T) {
	fakeDetect(t)

	out, err := runExecute(t, executeProbe, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{"windows 10 (amd64)", "Python:            3.11", "requirements-3.11-win_amd64.txt", "Interpreter:       3.11."} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestUnsupportedHostReported(t *testing.T) {
	orig := detectPlatform
	t.Cleanup(func() { detectPlatform = orig })
	detectPlatform = func() (system.PlatformInfo, error) {
		return system.PlatformInfo{OSName: "ubuntu", OSMajor: 22, Arch: "amd64", PythonVersion: "3.11", PlatformTag: "linux_x86_64"}, nil
	}

	out, err := runExecute(t, executeProbe, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(out, "unsupported host") || !strings.Contains(out, "linux_x86_64") {
		t.Errorf("unsupported host not reported:\n%s", out)
	}
}

func TestProbeCommandDetectionError(t *testing.T) {
	orig := detectPlatform
	t.Cleanup(func() { detectPlatform = orig })
	detectPlatform = func() (system.PlatformInfo, error) {
		return system.PlatformInfo{}, fmt.Errorf("%w: unreadable", system.ErrPlatformDetection)
	}

	if _, err := runExecute(t, executeProbe, nil); !errors.Is(err, system.ErrPlatformDetection) {
		t.Fatalf("expected ErrPlatformDetection, got %v", err)
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := runExecute(t, executeConfig, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{"settings:", "workers:", "provisioner:", "pip_version:", "mirrors:", "python_version:"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFetchCommand(t *testing.T) {
	withoutBootstrap(t)
	prevOutput := download.ProgressOutput
	t.Cleanup(func() { download.ProgressOutput = prevOutput })

	// Every project offers 1.0 and 23.3.1 as pure-Python wheels.
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		project := strings.Trim(strings.TrimPrefix(r.URL.Path, "/simple/"), "/")
		stem := strings.ReplaceAll(project, "-", "_")
		fmt.Fprintf(w, `<html><body>
<a href="/files/%[1]s-1.0-py3-none-any.whl">%[1]s-1.0-py3-none-any.whl</a>
<a href="/files/%[1]s-23.3.1-py3-none-any.whl">%[1]s-23.3.1-py3-none-any.whl</a>
</body></html>`, stem)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.TrimPrefix(r.URL.Path, "/files/"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cacheDir := t.TempDir()
	setFetchFlags(t, writeTemp(t, "reqs.txt", "demo-pkg==1.0\nother==1.0\npywin32==1.0 ; sys_platform == \"win32\"\n"), cacheDir, srv.URL+"/simple")

	out, err := runExecute(t, executeFetch, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(out, "Fetched 3 artifacts into "+cacheDir) {
		t.Errorf("unexpected output: %s", out)
	}
	for _, name := range []string{"demo_pkg-1.0-py3-none-any.whl", "other-1.0-py3-none-any.whl", "pip-23.3.1-py3-none-any.whl"} {
		data, err := os.ReadFile(filepath.Join(cacheDir, name))
		if err != nil || string(data) != name {
			t.Errorf("%s: %q, %v", name, data, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "logs", "fetched-3_11-linux_x86_64.txt")); err != nil {
		t.Errorf("fetch report missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "pywin32-1.0-py3-none-any.whl")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("windows-only requirement fetched for linux: %v", err)
	}
}

func TestFetchCommandUnresolvable(t *testing.T) {
	withoutBootstrap(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	setFetchFlags(t, writeTemp(t, "reqs.txt", "demo==1.0\n"), t.TempDir(), srv.URL+"/simple")

	_, err := runExecute(t, executeFetch, nil)
	if err == nil || !strings.Contains(err.Error(), "demo") || !strings.Contains(err.Error(), "pip") {
		t.Fatalf("expected both requirements unresolved, got %v", err)
	}
}

func withoutBootstrap(t *testing.T) {
	t.Helper()
	prev := bootstrapPackages
	bootstrapPackages = func() ([]requirement.Requirement, error) { return nil, nil }
	t.Cleanup(func() { bootstrapPackages = prev })
}

func setFetchFlags(t *testing.T, requirements, cacheDir, mirror string) {
	t.Helper()
	prev := []any{fetchRequirements, fetchCacheDir, fetchJobs, fetchPython, fetchPlatform, fetchMirrors}
	t.Cleanup(func() {
		fetchRequirements = prev[0].(string)
		fetchCacheDir = prev[1].(string)
		fetchJobs = prev[2].(int)
		fetchPython = prev[3].(string)
		fetchPlatform = prev[4].(string)
		fetchMirrors = prev[5].([]string)
	})
	fetchRequirements = requirements
	fetchCacheDir = cacheDir
	fetchJobs = 2
	fetchPython = "3.11"
	fetchPlatform = "linux_x86_64"
	fetchMirrors = []string{mirror}
}

func TestInstallCommand(t *testing.T) {
	orig := runProvisioner
	t.Cleanup(func() { runProvisioner = orig })
	prevTarget := installTarget
	t.Cleanup(func() { installTarget = prevTarget })
	installTarget = t.TempDir()

	var got provision.Session
	runProvisioner = func(cmd *cobra.Command, p *provision.Provisioner, s provision.Session) (provision.Session, error) {
		got = s
		if p.Config == nil || p.Status == nil || p.Decider == nil || p.HTTP == nil {
			t.Errorf("provisioner not wired: %+v", p)
		}
		s.Phase = provision.PhaseDone
		return s, nil
	}

	out, err := runExecute(t, executeInstall, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.TargetDir != installTarget || got.VenvDir != filepath.Join(installTarget, "venv") {
		t.Errorf("session = %+v", got)
	}
	if !strings.Contains(out, "Activate with:") || !strings.Contains(out, "activate") {
		t.Errorf("unexpected output: %s", out)
	}

	runProvisioner = func(cmd *cobra.Command, p *provision.Provisioner, s provision.Session) (provision.Session, error) {
		s.Phase = provision.PhaseFailed
		return s, &download.DownloadError{Index: 1, Requirement: "numpy==1.26.4", Err: errors.New("timeout")}
	}
	_, err = runExecute(t, executeInstall, nil)
	var de *download.DownloadError
	if !errors.As(err, &de) || !strings.Contains(err.Error(), "numpy==1.26.4") {
		t.Fatalf("expected wrapped DownloadError, got %v", err)
	}
}

func TestPromptDecider(t *testing.T) {
	failure := provision.Failure{Phase: provision.PhaseDownloading, Index: 1, Total: 3, Requirement: "numpy==1.26.4", Err: errors.New("timeout")}

	tests := []struct {
		name  string
		input string
		auto  int
		want  []provision.Decision
	}{
		{"yes", "y\n", 0, []provision.Decision{provision.Retry}},
		{"retry word", "Retry\n", 0, []provision.Decision{provision.Retry}},
		{"default", "\n", 0, []provision.Decision{provision.Abandon}},
		{"no", "n\n", 0, []provision.Decision{provision.Abandon}},
		{"eof", "", 0, []provision.Decision{provision.Abandon}},
		{"automatic then ask", "no\n", 1, []provision.Decision{provision.Retry, provision.Abandon}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			d := newPromptDecider(strings.NewReader(tt.input), out, tt.auto)
			for i, want := range tt.want {
				if got := d.Decide(context.Background(), failure); got != want {
					t.Errorf("decision %d = %s, want %s", i, got, want)
				}
			}
			if !strings.Contains(out.String(), "numpy==1.26.4") {
				t.Errorf("failure not shown: %s", out)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := newPromptDecider(strings.NewReader("y\n"), io.Discard, 0).Decide(ctx, failure); got != provision.Abandon {
		t.Errorf("cancelled context must abandon, got %s", got)
	}
}

func TestDescribeSnapshot(t *testing.T) {
	s := download.Snapshot{Title: "numpy-1.26.4-cp311-cp311-win_amd64.whl", TotalSize: 15 * 1024 * 1024, Speed: 2048, Index: 0, Total: 3}
	got := describeSnapshot(s)
	want := "[1/3] numpy-1.26.4-cp311-cp311-win_amd64.whl, " + download.FormatBytes(15*1024*1024) + ", " + download.FormatBytes(2048) + "/s"
	if got != want {
		t.Errorf("describeSnapshot = %q, want %q", got, want)
	}

	s.Total = 0
	if strings.HasPrefix(describeSnapshot(s), "[") {
		t.Error("interpreter downloads have no position")
	}
}

func TestBarStatus(t *testing.T) {
	out := &bytes.Buffer{}
	b := newBarStatus(out)
	b.Message("Detecting platform")
	b.UpdateDownloading(download.Snapshot{Title: "a.whl", TotalSize: 100, Downloaded: 50})
	b.UpdateDownloading(download.Snapshot{Title: "a.whl", TotalSize: 100, Downloaded: 100})
	b.UpdateDownloading(download.Snapshot{Title: "b.whl", TotalSize: 0, Downloaded: 0})
	b.Message("Installing packages")

	if b.bar != nil {
		t.Error("bar left open after a message")
	}
	text := out.String()
	if !strings.HasPrefix(text, "Detecting platform\n") || !strings.HasSuffix(text, "Installing packages\n") {
		t.Errorf("unexpected output: %q", text)
	}
}
