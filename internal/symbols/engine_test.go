package symbols

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/opencode-ai/opencode/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := types.SymbolsConfig{
		MicrosoftPublicSymbolServer: "https://msdl.microsoft.com/download/symbols",
		GlobalCacheDir:              filepath.Join(dir, "global-cache"),
		DenylistGlobs:               []string{"/mnt/**"},
	}
	return New(dir, cfg), dir
}

func TestConfigure_OrdersSearchPaths(t *testing.T) {
	e, dir := newTestEngine(t)
	extraDir := filepath.Join(dir, "local-symbols")
	if err := os.MkdirAll(extraDir, 0755); err != nil {
		t.Fatal(err)
	}

	policy, err := e.Configure(context.Background(), "user1", "dump1", []string{extraDir})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	want := []string{
		"https://msdl.microsoft.com/download/symbols",
		filepath.Join(dir, "user1", ".symbols_dump1", "extracted"),
		filepath.Join(dir, "user1", ".symbols_dump1", "datadog"),
		extraDir,
		filepath.Join(dir, "global-cache"),
	}
	if len(policy.SearchPaths) != len(want) {
		t.Fatalf("expected %d paths, got %d: %v", len(want), len(policy.SearchPaths), policy.SearchPaths)
	}
	for i, p := range want {
		if policy.SearchPaths[i] != p {
			t.Errorf("path[%d] = %q, want %q", i, policy.SearchPaths[i], p)
		}
	}
}

func TestConfigure_CreatesPerDumpDirectories(t *testing.T) {
	e, dir := newTestEngine(t)
	if _, err := e.Configure(context.Background(), "user1", "dump1", nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	for _, sub := range []string{"extracted", "datadog"} {
		p := filepath.Join(dir, "user1", ".symbols_dump1", sub)
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", p)
		}
	}
}

func TestConfigure_FiltersDenylistedExtraDirs(t *testing.T) {
	e, _ := newTestEngine(t)
	denied := "/mnt/network-share/symbols"

	policy, err := e.Configure(context.Background(), "user1", "dump1", []string{denied})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for _, p := range policy.SearchPaths {
		if p == denied {
			t.Errorf("expected denylisted path %q to be filtered out", denied)
		}
	}
	if len(policy.ExtraDirs) != 0 {
		t.Errorf("expected ExtraDirs empty after denylist filtering, got %v", policy.ExtraDirs)
	}
}

func TestClearDumpCache_RemovesDirectory(t *testing.T) {
	e, dir := newTestEngine(t)
	if _, err := e.Configure(context.Background(), "user1", "dump1", nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if err := e.ClearDumpCache(context.Background(), "user1", "dump1"); err != nil {
		t.Fatalf("ClearDumpCache: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "user1", ".symbols_dump1")); !os.IsNotExist(err) {
		t.Errorf("expected symbols dir to be removed, stat err = %v", err)
	}
}

func TestBuildDebuggerPath_LLDBUsesPlatformSeparator(t *testing.T) {
	policy := types.SymbolPolicy{SearchPaths: []string{"/a", "/b"}}
	got := BuildDebuggerPath(PathKindLLDB, policy)
	want := "/a:/b"
	if runtime.GOOS == "windows" {
		want = "/a;/b"
	}
	if got != want {
		t.Errorf("BuildDebuggerPath(lldb) = %q, want %q", got, want)
	}
}

func TestBuildDebuggerPath_CDBAlwaysSemicolons(t *testing.T) {
	policy := types.SymbolPolicy{SearchPaths: []string{"C:\\a", "C:\\b"}}
	got := BuildDebuggerPath(PathKindCDB, policy)
	want := "C:\\a;C:\\b"
	if got != want {
		t.Errorf("BuildDebuggerPath(cdb) = %q, want %q", got, want)
	}
}
