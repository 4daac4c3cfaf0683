package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/codeintel/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"KEY_A": "val_a", "KEY_B": "val_b"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	if got := v.Get("KEY_A"); got != "val_a" {
		t.Fatalf("expected 'val_a', got %q", got)
	}
	if got := v.Get("KEY_B"); got != "val_b" {
		t.Fatalf("expected 'val_b', got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_GetMissingKey(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"EXIST": "yes"}, nil
	})
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestVault_Reload(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{"TOKEN": "old"}, nil
		}
		return map[string]string{"TOKEN": "new"}, nil
	})

	if got := v.Get("TOKEN"); got != "old" {
		t.Fatalf("expected 'old', got %q", got)
	}

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := v.Get("TOKEN"); got != "new" {
		t.Fatalf("expected 'new' after reload, got %q", got)
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("vault unavailable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}

	// Original values must be preserved.
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("expected 'original' after failed reload, got %q", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"K": "V"}, nil
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redacted(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{
			"API_KEY": "sk-abcdef123456",
			"SHORT":   "ab",
		}, nil
	})

	// Long secret: shows first 2 chars + ****
	got := v.Redacted("API_KEY")
	if got != "sk****" {
		t.Errorf("expected 'sk****', got %q", got)
	}

	// Short secret (<=4 chars): fully masked
	got = v.Redacted("SHORT")
	if got != "****" {
		t.Errorf("expected '****', got %q", got)
	}

	// Missing key: empty string
	got = v.Redacted("MISSING")
	if got != "" {
		t.Errorf("expected empty string for missing key, got %q", got)
	}
}

func TestVault_Keys(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"B": "2", "A": "1"}, nil
	})

	keys := v.Keys()
	if len(keys) != 2 || keys[0] != "A" || keys[1] != "B" {
		t.Errorf("expected sorted keys [A B], got %v", keys)
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("CODEINTEL_TEST_SECRET", "mysecret")
	loader := secrets.EnvLoader("CODEINTEL_TEST_SECRET", "CODEINTEL_MISSING_SECRET")

	vals, err := loader()
	if err != nil {
		t.Fatalf("EnvLoader failed: %v", err)
	}
	if vals["CODEINTEL_TEST_SECRET"] != "mysecret" {
		t.Fatalf("expected 'mysecret', got %q", vals["CODEINTEL_TEST_SECRET"])
	}
	if _, ok := vals["CODEINTEL_MISSING_SECRET"]; ok {
		t.Fatal("expected missing env var to be omitted")
	}
}

func TestVault_Getter(t *testing.T) {
	current := "first"
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.MCPAPIKey: current}, nil
	})
	get := v.Getter(secrets.MCPAPIKey)
	if got := get(); got != "first" {
		t.Fatalf("expected 'first', got %q", got)
	}
	current = "second"
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := get(); got != "second" {
		t.Fatalf("getter must see reloaded values, got %q", got)
	}
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	data := "# codeintel\n\nCODEINTEL_MCP_API_KEY = \"k-123\"\nOTHER=x=y\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	vals, err := secrets.FileLoader(path)()
	if err != nil {
		t.Fatalf("FileLoader failed: %v", err)
	}
	if vals[secrets.MCPAPIKey] != "k-123" {
		t.Errorf("expected 'k-123', got %q", vals[secrets.MCPAPIKey])
	}
	if vals["OTHER"] != "x=y" {
		t.Errorf("values may contain '=', got %q", vals["OTHER"])
	}
}

func TestFileLoaderMissingAndMalformed(t *testing.T) {
	vals, err := secrets.FileLoader(filepath.Join(t.TempDir(), "absent"))()
	if err != nil || len(vals) != 0 {
		t.Fatalf("missing file should yield no values, got %v, %v", vals, err)
	}

	path := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(path, []byte("NOEQUALS\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := secrets.FileLoader(path)(); err == nil {
		t.Fatal("expected an error for a line without '='")
	}
}

func TestChainOverrides(t *testing.T) {
	first := func() (map[string]string, error) { return map[string]string{"A": "file", "B": "file"}, nil }
	second := func() (map[string]string, error) { return map[string]string{"A": "env"}, nil }

	vals, err := secrets.Chain(first, second)()
	if err != nil {
		t.Fatal(err)
	}
	if vals["A"] != "env" || vals["B"] != "file" {
		t.Errorf("unexpected merge %v", vals)
	}

	failing := func() (map[string]string, error) { return nil, errors.New("boom") }
	if _, err := secrets.Chain(first, failing)(); err == nil {
		t.Fatal("expected the loader error to propagate")
	}
}
