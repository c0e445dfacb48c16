package environment

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigName)
	body := "store_dir: /tmp/store\nnum_cores: 4\nrpc_address: 127.0.0.1:1234\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDir != "/tmp/store" {
		t.Fatalf("got StoreDir %q", cfg.StoreDir)
	}
	if cfg.NumCores != 4 {
		t.Fatalf("got NumCores %d", cfg.NumCores)
	}
	if cfg.RPCAddress != "127.0.0.1:1234" {
		t.Fatalf("got RPCAddress %q", cfg.RPCAddress)
	}
}

func TestLoadAutoLoadsSiblingEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigName)
	if err := os.WriteFile(path, []byte("num_cores: 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EVALFORGE_TEST_VAR=hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFile .env: %v", err)
	}
	os.Unsetenv("EVALFORGE_TEST_VAR")

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("EVALFORGE_TEST_VAR"); got != "hello" {
		t.Fatalf("expected .env to be loaded, got %q", got)
	}
}

func TestFindLocatesConfigUpTree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigName), []byte("num_cores: 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	found, err := Find(nested, root)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := filepath.Join(root, ConfigName)
	if found != want {
		t.Fatalf("got %q, want %q", found, want)
	}
}

func TestFindReturnsErrorWhenMissing(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if _, err := Find(nested, root); err == nil {
		t.Fatal("expected an error when no config file exists in the search range")
	}
}
