// Package catalog holds the static per-provider sync policy: display names,
// incremental-sync grace margins, achievement persistence strategy, and the
// per-provider concurrency policy for achievement fetches. Defaults are
// compiled in; operators may override individual fields from a YAML file.
package catalog

import (
	"fmt"
	"os"
	"time"

	"github.com/questlog/questlog/internal/provider"
	"gopkg.in/yaml.v3"
)

// Strategy selects how reconciled achievement rows are persisted.
type Strategy string

const (
	// StrategyReplace deletes and recreates a game's achievement rows on
	// every sync.
	StrategyReplace Strategy = "replace"
	// StrategyConditional rewrites rows only when the unlocked count
	// changed since the last sync.
	StrategyConditional Strategy = "conditional"
)

// Concurrency selects how a provider's per-game achievement fetches run.
type Concurrency string

const (
	// ConcurrencySequential runs one game at a time, for quota-limited
	// providers.
	ConcurrencySequential Concurrency = "sequential"
	// ConcurrencyBatched runs fixed-size concurrent batches with a pause
	// between batches.
	ConcurrencyBatched Concurrency = "batched"
)

// Policy is one provider's sync policy.
type Policy struct {
	ID          provider.ID `yaml:"id"`
	DisplayName string      `yaml:"display_name"`
	// GraceMargin widens the incremental window to compensate for clock
	// skew and provider reporting lag.
	GraceMargin time.Duration `yaml:"grace_margin"`
	Strategy    Strategy      `yaml:"achievement_strategy"`
	Concurrency Concurrency   `yaml:"concurrency"`
	BatchSize   int           `yaml:"batch_size"`
	BatchPause  time.Duration `yaml:"batch_pause"`
}

// Catalog maps provider IDs to policies.
type Catalog struct {
	policies map[provider.ID]Policy
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{policies: make(map[provider.ID]Policy)}
	for _, p := range []Policy{
		{
			ID:          provider.Steam,
			DisplayName: "Steam",
			GraceMargin: time.Hour,
			Strategy:    StrategyReplace,
			Concurrency: ConcurrencyBatched,
			BatchSize:   15,
			BatchPause:  time.Second,
		},
		{
			ID:          provider.PlayStation,
			DisplayName: "PlayStation Network",
			GraceMargin: 24 * time.Hour,
			Strategy:    StrategyReplace,
			Concurrency: ConcurrencySequential,
		},
		{
			ID:          provider.Xbox,
			DisplayName: "Xbox Live",
			GraceMargin: time.Hour,
			Strategy:    StrategyConditional,
			Concurrency: ConcurrencyBatched,
			BatchSize:   10,
			BatchPause:  time.Second,
		},
		{
			ID:          provider.Epic,
			DisplayName: "Epic Games",
			GraceMargin: time.Hour,
			Strategy:    StrategyConditional,
			Concurrency: ConcurrencyBatched,
			BatchSize:   10,
			BatchPause:  time.Second,
		},
		{
			ID:          provider.Riot,
			DisplayName: "Riot Games",
			GraceMargin: time.Hour,
			Strategy:    StrategyReplace,
			Concurrency: ConcurrencySequential,
		},
	} {
		c.policies[p.ID] = p
	}
	return c
}

// overrideFile is the YAML shape operators can supply. Omitted fields keep
// their defaults.
type overrideFile struct {
	Providers []struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		GraceMargin string `yaml:"grace_margin"`
		Strategy    string `yaml:"achievement_strategy"`
		Concurrency string `yaml:"concurrency"`
		BatchSize   int    `yaml:"batch_size"`
		BatchPause  string `yaml:"batch_pause"`
	} `yaml:"providers"`
}

// Load returns the default catalog with overrides applied from the given
// YAML file. An empty path returns the defaults untouched.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	for _, o := range file.Providers {
		if !provider.Valid(o.ID) {
			return nil, fmt.Errorf("catalog override names unknown provider %q", o.ID)
		}
		p := c.policies[provider.ID(o.ID)]
		if o.DisplayName != "" {
			p.DisplayName = o.DisplayName
		}
		if o.GraceMargin != "" {
			d, err := time.ParseDuration(o.GraceMargin)
			if err != nil {
				return nil, fmt.Errorf("catalog grace_margin for %s: %w", o.ID, err)
			}
			p.GraceMargin = d
		}
		if o.Strategy != "" {
			switch Strategy(o.Strategy) {
			case StrategyReplace, StrategyConditional:
				p.Strategy = Strategy(o.Strategy)
			default:
				return nil, fmt.Errorf("catalog achievement_strategy for %s: unknown value %q", o.ID, o.Strategy)
			}
		}
		if o.Concurrency != "" {
			switch Concurrency(o.Concurrency) {
			case ConcurrencySequential, ConcurrencyBatched:
				p.Concurrency = Concurrency(o.Concurrency)
			default:
				return nil, fmt.Errorf("catalog concurrency for %s: unknown value %q", o.ID, o.Concurrency)
			}
		}
		if o.BatchSize > 0 {
			p.BatchSize = o.BatchSize
		}
		if o.BatchPause != "" {
			d, err := time.ParseDuration(o.BatchPause)
			if err != nil {
				return nil, fmt.Errorf("catalog batch_pause for %s: %w", o.ID, err)
			}
			p.BatchPause = d
		}
		c.policies[provider.ID(o.ID)] = p
	}
	return c, nil
}

// Policy returns the policy for a provider; unknown providers get a safe
// sequential default.
func (c *Catalog) Policy(id provider.ID) Policy {
	if p, ok := c.policies[id]; ok {
		return p
	}
	return Policy{
		ID:          id,
		DisplayName: string(id),
		GraceMargin: time.Hour,
		Strategy:    StrategyReplace,
		Concurrency: ConcurrencySequential,
	}
}
