package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the on-disk .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// Lock computes the config file's hash and writes a .checksums manifest next
// to it. When dryRun is true the hash is computed and returned without
// writing anything.
func Lock(configPath string, dryRun bool) (string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return "", err
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	if dryRun {
		return hash, nil
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest is the tamper baseline.
	if err := os.WriteFile(checksumPath(absPath), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return hash, nil
}

// Verify checks the config file against its .checksums manifest. It is an
// error for the manifest to be missing; use verifyIfLocked for the lenient
// variant applied during Load.
func Verify(configPath string) error {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}

	manifest, err := loadChecksums(absPath)
	if err != nil {
		return err
	}
	return verifyAgainst(absPath, manifest)
}

// verifyIfLocked verifies the config file only when a manifest exists.
// An unlocked config loads without integrity enforcement.
func verifyIfLocked(absPath string) error {
	if _, err := os.Stat(checksumPath(absPath)); os.IsNotExist(err) {
		return nil
	}

	manifest, err := loadChecksums(absPath)
	if err != nil {
		return err
	}
	return verifyAgainst(absPath, manifest)
}

func verifyAgainst(absPath string, manifest *ChecksumManifest) error {
	expectedHash, ok := manifest.Hashes[filepath.Base(absPath)]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums (run 'deploygate config lock')", filepath.Base(absPath))
	}

	if err := VerifyFileHash(absPath, expectedHash); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: deploygate config lock", err)
	}
	return nil
}

func loadChecksums(absPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(checksumPath(absPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'deploygate config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

func checksumPath(absConfigPath string) string {
	return filepath.Join(filepath.Dir(absConfigPath), ".checksums")
}
