package download

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseChecksum extracts the hex SHA-256 digest from a sidecar body.
// The expected format is "<hex digest>  <file name>", as written by
// sha256sum; only the first field is used.
func ParseChecksum(body []byte) (string, error) {
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return "", ErrMalformedChecksum
	}
	digest := strings.ToLower(fields[0])
	if len(digest) != 64 {
		return "", fmt.Errorf("%w: digest has %d characters", ErrMalformedChecksum, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedChecksum, err)
	}
	return digest, nil
}
