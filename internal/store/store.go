// Package store persists trading results for history queries.
package store

import (
	"context"
	"time"

	"intent-trader/internal/models"
)

// ResultStore records finished trading results and queries them back.
type ResultStore interface {
	RecordResult(ctx context.Context, result *models.TradingResult) error
	Get(ctx context.Context, requestID string) (*models.TradingResult, error)
	History(ctx context.Context, filter HistoryFilter) ([]*models.TradingResult, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	Close() error
}

// HistoryFilter represents filters for querying results.
type HistoryFilter struct {
	Symbol   string
	Kind     models.IntentKind
	Success  *bool
	Strategy models.Strategy
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Stats aggregates stored results.
type Stats struct {
	Total        int                     `json:"total"`
	Succeeded    int                     `json:"succeeded"`
	Failed       int                     `json:"failed"`
	TimedOut     int                     `json:"timed_out"`
	ByStrategy   map[models.Strategy]int `json:"by_strategy"`
	ResolverCost float64                 `json:"resolver_cost"`
	BrokerCost   float64                 `json:"broker_cost"`
	AvgLatency   time.Duration           `json:"avg_latency"`
}

// SuccessRate is Succeeded/Total, or 0 with no results.
func (s *Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}
