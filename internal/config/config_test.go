package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	os.Setenv("WEBBRIDGE_TEST_DIR", "/tmp/wb-test")
	defer os.Unsetenv("WEBBRIDGE_TEST_DIR")

	c, err := LoadFromBytes([]byte("dataDir: ${WEBBRIDGE_TEST_DIR}\nport: 9000\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if c.DataDir != "/tmp/wb-test" {
		t.Errorf("DataDir = %q, want expanded env value", c.DataDir)
	}
	if c.Port != 9000 {
		t.Errorf("Port = %d, want 9000", c.Port)
	}
}

func TestResolveDefaults(t *testing.T) {
	r, err := Resolve(Config{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if r.Host != "127.0.0.1" {
		t.Errorf("Host = %q", r.Host)
	}
	if r.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", r.Port, DefaultPort)
	}
	if !r.Headless {
		t.Error("Headless should default to true")
	}
	if r.ProfileDir != "auto" {
		t.Errorf("ProfileDir = %q, want auto", r.ProfileDir)
	}
	if r.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v", r.IdleTimeout)
	}
	if r.ReapTimeout != 2*DefaultIdleTimeout {
		t.Errorf("ReapTimeout = %v, want double the idle timeout", r.ReapTimeout)
	}
	if r.CallTimeout != DefaultCallTimeout {
		t.Errorf("CallTimeout = %v", r.CallTimeout)
	}
	if len(r.AllowedTools) != len(DefaultTools) {
		t.Errorf("AllowedTools = %v, want all default tools", r.AllowedTools)
	}
	if r.HistoryPath != filepath.Join(r.DataDir, "history.db") {
		t.Errorf("HistoryPath = %q", r.HistoryPath)
	}
}

func TestResolveHeadlessOverride(t *testing.T) {
	headless := false
	r, err := Resolve(Config{Headless: &headless})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Headless {
		t.Error("explicit headless=false lost during resolve")
	}
}

func TestResolveDurations(t *testing.T) {
	r, err := Resolve(Config{IdleTimeout: "90s", CallTimeout: "10s"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", r.IdleTimeout)
	}
	if r.ReapTimeout != 3*time.Minute {
		t.Errorf("ReapTimeout = %v, want 2x idle", r.ReapTimeout)
	}
	if r.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v", r.CallTimeout)
	}
}

func TestResolveRejectsBadDurations(t *testing.T) {
	if _, err := Resolve(Config{IdleTimeout: "soon"}); err == nil {
		t.Error("unparseable duration accepted")
	}
	if _, err := Resolve(Config{CallTimeout: "-5s"}); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestNormalizeTools(t *testing.T) {
	got := normalizeTools([]string{"browser_click", "no_such_tool", "browser_navigate"})
	want := []string{"browser_navigate", "browser_click"}
	if len(got) != len(want) {
		t.Fatalf("normalizeTools = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeTools[%d] = %q, want %q (registration order)", i, got[i], want[i])
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webbridge.yaml")
	if err := os.WriteFile(path, []byte("port: 7777\nallowedTools:\n  - browser_snapshot\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	r, err := Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Port != 7777 {
		t.Errorf("Port = %d", r.Port)
	}
	if len(r.AllowedTools) != 1 || r.AllowedTools[0] != "browser_snapshot" {
		t.Errorf("AllowedTools = %v", r.AllowedTools)
	}
}
