package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// fingerprintPrefix marks the hash algorithm in stored fingerprints.
const fingerprintPrefix = "blake3:"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// FileFingerprint returns "blake3:<hex>" for a file. Used to identify which
// wallet or config file is in effect without printing its contents.
func FileFingerprint(filePath string) (string, error) {
	h, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return "", err
	}
	return fingerprintPrefix + h, nil
}

// Fingerprint returns "blake3:<hex>" for a byte slice.
func Fingerprint(data []byte) string {
	hash := blake3.Sum256(data)
	return fingerprintPrefix + hex.EncodeToString(hash[:])
}

// ShortFingerprint trims a fingerprint to its first 12 hex characters for display.
func ShortFingerprint(fp string) string {
	if len(fp) <= len(fingerprintPrefix)+12 {
		return fp
	}
	return fp[:len(fingerprintPrefix)+12]
}
