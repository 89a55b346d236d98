package util

import (
	"strings"
	"testing"
)

func TestTruncateBody_ShortBodyUntouched(t *testing.T) {
	if got := TruncateBody([]byte("  {\"error\":\"bad\"}\n")); got != `{"error":"bad"}` {
		t.Errorf("got %q", got)
	}
}

func TestTruncateBody_LongBodyCapped(t *testing.T) {
	body := []byte(strings.Repeat("x", 5000))
	got := TruncateBody(body)
	if len(got) >= 5000 {
		t.Fatalf("body not truncated, len %d", len(got))
	}
	if !strings.Contains(got, "truncated, 5000 bytes total") {
		t.Errorf("missing truncation marker: %q", got)
	}
}

func TestTruncateBody_Empty(t *testing.T) {
	if got := TruncateBody(nil); got != "" {
		t.Errorf("got %q", got)
	}
}
