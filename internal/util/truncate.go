// Package util holds small helpers shared by the provider adapters.
package util

import (
	"fmt"
	"strings"
)

// maxBodyLen caps how much of a provider response body is embedded in a
// failure message. Full bodies can be multi-kilobyte HTML error pages.
const maxBodyLen = 1024

// TruncateBody prepares a raw provider response body for inclusion in a
// failure message: whitespace trimmed, length capped.
func TruncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxBodyLen {
		return s
	}
	return s[:maxBodyLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
