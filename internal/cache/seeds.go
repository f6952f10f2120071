package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"intent-trader/internal/models"
)

type seedFile struct {
	Seeds []struct {
		Text   string         `yaml:"text"`
		Intent map[string]any `yaml:"intent"`
	} `yaml:"seeds"`
}

// LoadSeeds reads warm-up pairs from a YAML file of the form
//
//	seeds:
//	  - text: buy $100 of AAPL
//	    intent: {action: buy, symbol: AAPL, amount_type: dollars, amount: 100}
//
// Every intent must validate.
func LoadSeeds(path string) ([]Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeeds(raw)
}

// ParseSeeds decodes seed YAML.
func ParseSeeds(raw []byte) ([]Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	seeds := make([]Seed, 0, len(f.Seeds))
	for i, s := range f.Seeds {
		if s.Text == "" {
			return nil, fmt.Errorf("seed %d: missing text", i)
		}
		if s.Intent == nil {
			return nil, fmt.Errorf("seed %d (%q): missing intent", i, s.Text)
		}
		if _, ok := s.Intent[models.KeyConfidence]; !ok {
			s.Intent[models.KeyConfidence] = 1.0
		}
		intent, err := models.IntentFromData(s.Intent)
		if err != nil {
			return nil, fmt.Errorf("seed %d (%q): %w", i, s.Text, err)
		}
		if err := intent.Validate(); err != nil {
			return nil, fmt.Errorf("seed %d (%q): %w", i, s.Text, err)
		}
		seeds = append(seeds, Seed{Text: s.Text, Intent: intent})
	}
	return seeds, nil
}
