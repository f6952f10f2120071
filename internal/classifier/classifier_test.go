package classifier

import (
	"testing"

	"intent-trader/internal/models"
)

func TestClassifyStrategies(t *testing.T) {
	c := New(DefaultConfig())

	tests := []struct {
		name     string
		input    string
		strategy models.Strategy
	}{
		{"short dollar buy", "buy $100 of AAPL", models.StrategyDeterministic},
		{"sell all", "sell all TSLA", models.StrategyDeterministic},
		{"share count", "buy 10 shares of MSFT", models.StrategyDeterministic},
		{"account query", "what is my balance", models.StrategyDeterministic},
		{"hedge goes to model", "hedge my LULU position", models.StrategyModel},
		{"conditional multi symbol", "if AAPL drops below $150 sell MSFT and buy NVDA", models.StrategyModel},
		{"longer trade with quote", "please buy 100 shares of AAPL at the current market price", models.StrategyCache},
		{"ambiguous", "do something clever with my money today", models.StrategyModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			if got.Strategy != tt.strategy {
				t.Errorf("Classify(%q) strategy = %s, want %s (complex=%.2f simple=%.2f)",
					tt.input, got.Strategy, tt.strategy, got.ComplexScore, got.SimpleScore)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("confidence out of range: %f", got.Confidence)
			}
		})
	}
}

func TestAmbiguousConfidence(t *testing.T) {
	c := New(DefaultConfig())
	got := c.Classify("do something clever with my money today")
	if got.Strategy != models.StrategyModel || got.Confidence != 0.3 {
		t.Errorf("ambiguous input = %+v, want model/0.3", got)
	}
}

func TestComplexScoreBonuses(t *testing.T) {
	c := New(DefaultConfig())

	base := c.ComplexScore("buy AAPL")
	withVerbs := c.ComplexScore("buy AAPL sell")
	if withVerbs-base < 0.3-1e-9 {
		t.Errorf("multi-verb bonus missing: base=%.2f withVerbs=%.2f", base, withVerbs)
	}

	cond := c.ComplexScore("buy AAPL if")
	// conditional pattern (1/7) plus the conditional bonus
	if cond-base < 0.4+1.0/7-1e-9 {
		t.Errorf("conditional bonus missing: base=%.2f cond=%.2f", base, cond)
	}

	if s := c.ComplexScore("if when unless hedge analyze recommend options puts AAPL MSFT institutional buy sell and more words here"); s != 1 {
		t.Errorf("score must clamp at 1, got %f", s)
	}
}

func TestConfigurableThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimpleThreshold = 1.5 // unreachable
	c := New(cfg)

	got := c.Classify("buy $100 of AAPL")
	if got.Strategy == models.StrategyDeterministic {
		t.Error("raised simple threshold should keep short trades off the deterministic path")
	}
}

func TestMatches(t *testing.T) {
	c := New(DefaultConfig())
	complexMatches, simpleMatches := c.Matches("hedge AAPL and MSFT options")
	want := map[string]bool{"hedging": true, "multi_symbol": true, "derivatives": true}
	if len(complexMatches) != len(want) {
		t.Fatalf("complex matches = %v", complexMatches)
	}
	for _, m := range complexMatches {
		if !want[m] {
			t.Errorf("unexpected complex match %s", m)
		}
	}
	if len(simpleMatches) != 0 {
		t.Errorf("unexpected simple matches %v", simpleMatches)
	}
}
