package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kolkov/cycleprof/cmd/cycprof/instrument"
)

// newTestApp returns an app writing to buffers, with the go tool stubbed by
// a recorder.
func newTestApp(t *testing.T) (*app, *bytes.Buffer, *goRecorder) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	rec := &goRecorder{}
	a.goCmd = rec.run
	return a, &out, rec
}

// goRecorder records go tool invocations instead of running them.
type goRecorder struct {
	calls [][]string
	dirs  []string
	gomod string
	fail  map[string]error
}

func (r *goRecorder) run(dir string, args ...string) error {
	r.calls = append(r.calls, args)
	r.dirs = append(r.dirs, dir)
	if len(args) > 0 && args[0] == "mod" {
		if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
			r.gomod = string(data)
		}
	}
	if len(args) > 0 {
		return r.fail[args[0]]
	}
	return nil
}

// writeSources creates files under a fresh temp directory.
func writeSources(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

const mainSrc = `package main

import "fmt"

func main() {
	fmt.Println(work(3))
}
`

const workSrc = `package main

func work(n int) int {
	return n * 2
}
`

func TestGoFlags_Args(t *testing.T) {
	g := &goFlags{tags: "netgo,osusergo", ldflags: "-s -w", trimpath: true}
	got := strings.Join(g.args(), " ")
	want := "-tags=netgo,osusergo -ldflags=-s -w -trimpath"
	if got != want {
		t.Errorf("args() = %q, want %q", got, want)
	}

	if args := (&goFlags{}).args(); len(args) != 0 {
		t.Errorf("empty flags produced %v", args)
	}
}

func TestBuildConfig_Finish(t *testing.T) {
	cfg := &buildConfig{}
	if err := cfg.finish(nil, nil); err != nil {
		t.Fatalf("finish() error: %v", err)
	}
	if len(cfg.sourceFiles) != 1 || cfg.sourceFiles[0] != "." {
		t.Errorf("sourceFiles = %v, want [.]", cfg.sourceFiles)
	}
	if cfg.workDir == "" {
		t.Error("workDir not set")
	}
}

func TestWorkspace_BuildArgs(t *testing.T) {
	w := &workspace{dir: "/tmp/w", srcDir: "/tmp/w/src"}

	tests := []struct {
		name string
		cfg  *buildConfig
		want string
	}{
		{
			name: "no output",
			cfg:  &buildConfig{workDir: "/home/u/app"},
			want: "build .",
		},
		{
			name: "relative output",
			cfg:  &buildConfig{workDir: "/home/u/app", outputFile: "bin/app"},
			want: "build -o " + filepath.Join("/home/u/app", "bin/app") + " .",
		},
		{
			name: "absolute output with flags",
			cfg:  &buildConfig{workDir: "/home/u/app", outputFile: "/opt/app", buildFlags: []string{"-race", "-tags=x"}},
			want: "build -o /opt/app -race -tags=x .",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(w.buildArgs(tt.cfg), " "); got != tt.want {
				t.Errorf("buildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateWorkspace(t *testing.T) {
	w, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}

	if info, err := os.Stat(w.srcDir); err != nil || !info.IsDir() {
		t.Errorf("src directory missing: %v", err)
	}

	w.cleanup()
	if _, err := os.Stat(w.dir); !os.IsNotExist(err) {
		t.Errorf("workspace not removed: %v", err)
	}
}

func TestCollectGoFiles(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"main.go":      mainSrc,
		"work.go":      workSrc,
		"work_test.go": "package main\n",
		"README.md":    "# app\n",
		"sub/x.go":     "package sub\n",
	})

	files, err := collectGoFiles([]string{"."}, dir)
	if err != nil {
		t.Fatalf("collectGoFiles() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "main.go" || filepath.Base(files[1]) != "work.go" {
		t.Errorf("files = %v, want sorted main.go, work.go", files)
	}

	single, err := collectGoFiles([]string{filepath.Join(dir, "work.go"), "README.md"}, dir)
	if err != nil {
		t.Fatalf("collectGoFiles() error: %v", err)
	}
	if len(single) != 1 {
		t.Errorf("explicit non-.go file must be ignored, got %v", single)
	}

	if _, err := collectGoFiles([]string{"missing.go"}, dir); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCheckFlatten(t *testing.T) {
	if err := checkFlatten([]string{"/a/main.go", "/a/work.go"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := checkFlatten([]string{"/a/main.go", "/b/main.go"}); err == nil {
		t.Error("expected collision error")
	}
}

func TestInstrumentSources(t *testing.T) {
	a, _, _ := newTestApp(t)
	dir := writeSources(t, map[string]string{"main.go": mainSrc, "work.go": workSrc})

	w, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer w.cleanup()

	cfg := &buildConfig{sourceFiles: []string{"."}, workDir: dir}
	sourceDir, err := a.instrumentSources(cfg, w)
	if err != nil {
		t.Fatalf("instrumentSources() error: %v", err)
	}
	if sourceDir != dir {
		t.Errorf("sourceDir = %q, want %q", sourceDir, dir)
	}

	for _, name := range []string{"main.go", "work.go"} {
		data, err := os.ReadFile(filepath.Join(w.srcDir, name))
		if err != nil {
			t.Fatalf("instrumented %s missing: %v", name, err)
		}
		if !strings.Contains(string(data), "defer prof.Exit(prof.Enter())") {
			t.Errorf("%s not instrumented:\n%s", name, data)
		}
		if !strings.Contains(string(data), instrument.ProfImportPath) {
			t.Errorf("%s missing import:\n%s", name, data)
		}
	}
}

func TestInstrumentSources_AggregatesErrors(t *testing.T) {
	a, _, _ := newTestApp(t)
	dir := writeSources(t, map[string]string{
		"bad1.go": "package main\nfunc {",
		"bad2.go": "package main\nvar = ",
		"ok.go":   workSrc,
	})

	w, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer w.cleanup()

	_, err = a.instrumentSources(&buildConfig{sourceFiles: []string{"."}, workDir: dir}, w)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "bad1.go") || !strings.Contains(msg, "bad2.go") {
		t.Errorf("both failures must be reported, got: %v", msg)
	}
	if _, statErr := os.Stat(filepath.Join(w.srcDir, "ok.go")); statErr != nil {
		t.Errorf("valid file must still be written: %v", statErr)
	}
}

func TestInstrumentSources_MixedPackages(t *testing.T) {
	a, _, _ := newTestApp(t)
	dir := writeSources(t, map[string]string{
		"a.go": "package main\n\nfunc a() {}\n",
		"b.go": "package lib\n\nfunc b() {}\n",
	})

	w, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer w.cleanup()

	_, err = a.instrumentSources(&buildConfig{sourceFiles: []string{"."}, workDir: dir}, w)
	if err == nil || !strings.Contains(err.Error(), "package lib") {
		t.Errorf("expected package mismatch error, got %v", err)
	}
}

func TestInstrumentSources_NoFiles(t *testing.T) {
	a, _, _ := newTestApp(t)
	dir := t.TempDir()

	w, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer w.cleanup()

	if _, err := a.instrumentSources(&buildConfig{sourceFiles: []string{"."}, workDir: dir}, w); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestBuildCommand_RunsGoTool(t *testing.T) {
	a, _, rec := newTestApp(t)
	dir := writeSources(t, map[string]string{"main.go": mainSrc, "work.go": workSrc})
	out := filepath.Join(t.TempDir(), "app")

	root := a.rootCmd()
	root.SetArgs([]string{"build", "-o", out, "--tags", "demo", dir, "--", "-race"})
	if err := root.Execute(); err != nil {
		t.Fatalf("build error: %v", err)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("go invoked %d times, want 2: %v", len(rec.calls), rec.calls)
	}
	if got := strings.Join(rec.calls[0], " "); got != "mod tidy" {
		t.Errorf("first call = %q, want mod tidy", got)
	}
	if !strings.Contains(rec.gomod, "module instrumented") {
		t.Errorf("workspace go.mod:\n%s", rec.gomod)
	}

	build := strings.Join(rec.calls[1], " ")
	want := "build -o " + out + " -tags=demo -race ."
	if build != want {
		t.Errorf("build call = %q, want %q", build, want)
	}
	if filepath.Base(rec.dirs[1]) != "src" {
		t.Errorf("build ran in %q, want the workspace src dir", rec.dirs[1])
	}
	if _, err := os.Stat(filepath.Dir(rec.dirs[1])); !os.IsNotExist(err) {
		t.Errorf("workspace not cleaned up")
	}
}

func TestBuildCommand_GoFailure(t *testing.T) {
	a, _, rec := newTestApp(t)
	rec.fail = map[string]error{"build": os.ErrInvalid}
	dir := writeSources(t, map[string]string{"main.go": mainSrc, "work.go": workSrc})

	root := a.rootCmd()
	root.SetArgs([]string{"build", dir})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "go build") {
		t.Errorf("expected go build error, got %v", err)
	}
}
