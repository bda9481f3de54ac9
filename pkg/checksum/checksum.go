package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns the hex sha256 of b. Document dedup keys on it.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func ContentHashReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to copy content to hasher: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Key64 maps an arbitrary string onto a signed 64-bit key, the shape
// pg_advisory_lock expects.
func Key64(s string) int64 {
	return int64(xxhash.Sum64String(s))
}
