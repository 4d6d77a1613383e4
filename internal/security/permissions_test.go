package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	changed, err := CheckFilePermissions(path, SecretFileMode)
	if err != nil || !changed {
		t.Fatalf("CheckFilePermissions() = %v, %v, want changed", changed, err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != SecretFileMode {
		t.Errorf("mode = %o, want %o", info.Mode().Perm(), SecretFileMode)
	}

	changed, err = CheckFilePermissions(path, SecretFileMode)
	if err != nil || changed {
		t.Errorf("second call = %v, %v, want unchanged", changed, err)
	}

	changed, err = CheckFilePermissions(filepath.Join(dir, "missing"), SecretFileMode)
	if err != nil || changed {
		t.Errorf("missing file = %v, %v", changed, err)
	}
}

func TestEnsureSecurePermissions(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.json")
	db := filepath.Join(dir, "portfolio.db")
	for _, p := range []string{cfg, db, db + "-wal"} {
		if err := os.WriteFile(p, nil, 0666); err != nil {
			t.Fatal(err)
		}
	}

	EnsureSecurePermissions(cfg, db)

	for _, p := range []string{cfg, db, db + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != SecretFileMode {
			t.Errorf("%s mode = %o", filepath.Base(p), info.Mode().Perm())
		}
	}
}
