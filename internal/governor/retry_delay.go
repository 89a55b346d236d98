package governor

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// retryBody matches the structured rate-limit error bodies some providers
// attach to 429 responses.
type retryBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// ParseRetryDelay extracts a retry duration from a 429 response. The
// standard Retry-After header wins; otherwise the JSON body is inspected.
// Returns 0 when no retry information is present. The response body is
// restored after reading so callers can still consume it.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			return time.Until(t)
		}
	}

	if resp.Body == nil {
		return 0
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var body retryBody
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return 0
	}

	if body.RetryAfterSeconds > 0 {
		return time.Duration(body.RetryAfterSeconds) * time.Second
	}
	for _, detail := range body.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}
