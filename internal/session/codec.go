package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/DrayChou/gaccode-statusline/internal/platform"
)

// The codec hides a platform id inside the first two characters of an
// otherwise random session UUID. The prefix codes are hex digits, so the
// result is still a syntactically valid UUID and survives any UUID-aware
// consumer between the launcher and the status line.

// Encode generates a fresh session UUID carrying the platform's prefix
// code. The randomness does not need to be cryptographic; collisions
// within one operator's session volume are the only concern.
func Encode(platformID string) (string, error) {
	desc, ok := platform.ByID(platformID)
	if !ok {
		return "", fmt.Errorf("unknown platform %q", platformID)
	}
	id := uuid.NewString()
	return desc.PrefixCode + id[2:], nil
}

// Decode recovers the platform id from a session UUID produced by
// Encode. It returns ok=false for anything else: non-UUID strings,
// UUIDs with an unregistered prefix, or malformed input. That is the
// expected case for externally assigned session ids, and the caller
// falls through to the next detection signal.
func Decode(sessionID string) (string, bool) {
	if !isCanonicalUUID(sessionID) {
		return "", false
	}
	desc, ok := platform.ByPrefix(strings.ToLower(sessionID[:2]))
	if !ok {
		return "", false
	}
	return desc.ID, true
}

// isCanonicalUUID checks the 8-4-4-4-12 layout without allocating.
func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < 36; i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(c) {
				return false
			}
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
