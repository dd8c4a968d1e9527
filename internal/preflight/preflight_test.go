package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"snowline/internal/config"
	"snowline/internal/provider/mirror"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("volume", dir, 0); !result.Passed || !strings.HasSuffix(result.Detail, "free") {
		t.Fatalf("expected pass with zero minimum, got: %+v", result)
	}
	if result := CheckFreeSpace("volume", dir, 1<<62); result.Passed {
		t.Fatalf("expected failure for impossible minimum, got: %+v", result)
	}
	if result := CheckFreeSpace("volume", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckMirror(t *testing.T) {
	dir := t.TempDir()
	if result := CheckMirror(context.Background(), dir); result.Passed {
		t.Fatal("expected failure without an index")
	}
	if err := os.WriteFile(filepath.Join(dir, mirror.IndexFile), []byte(`{"type":"FeatureCollection","features":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckMirror(context.Background(), dir); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckMirror(context.Background(), ""); result.Passed {
		t.Fatal("expected failure for unset directory")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		0:         "0 B",
		1023:      "1023 B",
		1024:      "1.0 KiB",
		1536:      "1.5 KiB",
		512 << 20: "512.0 MiB",
		3 << 30:   "3.0 GiB",
	}
	for n, want := range cases {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MirrorConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Provider.Kind = "mirror"
	cfg.Provider.MirrorDir = t.TempDir()

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	err := Failures(results)
	if err == nil || !strings.Contains(err.Error(), "Mirror catalog") {
		t.Fatalf("expected only the mirror check to fail, got %v", err)
	}
	for _, r := range results[:2] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestFailuresNilWhenAllPass(t *testing.T) {
	if err := Failures([]Result{{Name: "a", Passed: true}}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
