package utils

import (
	"strings"
)

// NormalizeAddress lowercases a hex address so map keys and store writes
// compare equal regardless of the checksum casing the upstream API returns.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
