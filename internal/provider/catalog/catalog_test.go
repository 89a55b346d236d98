package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/questlog/questlog/internal/provider"
)

func writeCatalogFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_ProviderPolicies(t *testing.T) {
	c := Default()

	steam := c.Policy(provider.Steam)
	if steam.GraceMargin != time.Hour || steam.Strategy != StrategyReplace {
		t.Errorf("steam policy: %+v", steam)
	}
	if steam.Concurrency != ConcurrencyBatched || steam.BatchSize != 15 {
		t.Errorf("steam concurrency: %+v", steam)
	}

	psn := c.Policy(provider.PlayStation)
	if psn.GraceMargin != 24*time.Hour || psn.Concurrency != ConcurrencySequential {
		t.Errorf("playstation policy: %+v", psn)
	}

	xbox := c.Policy(provider.Xbox)
	if xbox.Strategy != StrategyConditional || xbox.BatchSize != 10 {
		t.Errorf("xbox policy: %+v", xbox)
	}

	epic := c.Policy(provider.Epic)
	if epic.Strategy != StrategyConditional || epic.Concurrency != ConcurrencyBatched {
		t.Errorf("epic policy: %+v", epic)
	}

	riot := c.Policy(provider.Riot)
	if riot.Strategy != StrategyReplace || riot.Concurrency != ConcurrencySequential {
		t.Errorf("riot policy: %+v", riot)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Policy(provider.Steam).BatchSize != 15 {
		t.Error("defaults not returned for empty path")
	}
}

func TestLoad_OverridesSelectedFields(t *testing.T) {
	path := writeCatalogFile(t, `
providers:
  - id: steam
    grace_margin: 30m
    batch_size: 5
  - id: playstation
    achievement_strategy: conditional
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	steam := c.Policy(provider.Steam)
	if steam.GraceMargin != 30*time.Minute || steam.BatchSize != 5 {
		t.Errorf("steam override not applied: %+v", steam)
	}
	// Untouched fields keep their defaults.
	if steam.Strategy != StrategyReplace || steam.Concurrency != ConcurrencyBatched {
		t.Errorf("steam defaults clobbered: %+v", steam)
	}

	psn := c.Policy(provider.PlayStation)
	if psn.Strategy != StrategyConditional {
		t.Errorf("playstation override not applied: %+v", psn)
	}
	if psn.GraceMargin != 24*time.Hour {
		t.Errorf("playstation defaults clobbered: %+v", psn)
	}

	// Providers absent from the file are untouched.
	if c.Policy(provider.Xbox).BatchSize != 10 {
		t.Error("xbox policy changed without an override")
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	path := writeCatalogFile(t, `
providers:
  - id: origin
    grace_margin: 1h
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"strategy", "providers:\n  - id: steam\n    achievement_strategy: upsert\n"},
		{"concurrency", "providers:\n  - id: steam\n    concurrency: parallel\n"},
		{"grace_margin", "providers:\n  - id: steam\n    grace_margin: soon\n"},
		{"batch_pause", "providers:\n  - id: steam\n    batch_pause: briefly\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeCatalogFile(t, tc.yaml)); err == nil {
				t.Fatalf("expected error for bad %s", tc.name)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPolicy_UnknownProviderFallback(t *testing.T) {
	p := Default().Policy(provider.ID("gog"))
	if p.Strategy != StrategyReplace || p.Concurrency != ConcurrencySequential {
		t.Errorf("fallback policy: %+v", p)
	}
	if p.GraceMargin != time.Hour {
		t.Errorf("fallback grace margin: %v", p.GraceMargin)
	}
}
