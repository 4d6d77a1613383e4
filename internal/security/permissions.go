// Package security keeps secrets on disk readable by their owner only.
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// SecretFileMode is the mode for config and database files
const SecretFileMode os.FileMode = 0600

// CheckFilePermissions tightens path to perm if it is looser. A missing file
// is not an error. It returns whether the mode was changed.
func CheckFilePermissions(path string, perm os.FileMode) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file permissions: %w", err)
	}

	actual := info.Mode().Perm()
	if actual == perm {
		return false, nil
	}

	zap.L().Warn("Insecure file permissions, fixing",
		zap.String("path", path),
		zap.String("mode", fmt.Sprintf("%o", actual)),
		zap.String("want", fmt.Sprintf("%o", perm)))

	if err := os.Chmod(path, perm); err != nil {
		return false, fmt.Errorf("failed to set permissions: %w", err)
	}
	return true, nil
}

// EnsureSecurePermissions locks down the config file and the SQLite files,
// including its WAL and shared-memory companions
func EnsureSecurePermissions(configPath, dbPath string) {
	paths := []string{configPath}
	if dbPath != "" && dbPath != ":memory:" {
		paths = append(paths, dbPath, dbPath+"-wal", dbPath+"-shm")
	}

	for _, p := range paths {
		if _, err := CheckFilePermissions(p, SecretFileMode); err != nil {
			zap.L().Warn("Could not secure file permissions", zap.String("path", p), zap.Error(err))
		}
	}
}
