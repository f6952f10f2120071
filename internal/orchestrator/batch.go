package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
	"intent-trader/internal/resilience"
)

// BatchProcess runs requests concurrently, at most BatchConcurrency at a
// time. Results keep input order and every request gets one; a failing or
// panicking request becomes a success:false entry and never cancels its
// siblings. The first contract error is returned once every request has
// finished.
func (o *Orchestrator) BatchProcess(ctx context.Context, reqs []models.TradingRequest) ([]*models.TradingResult, error) {
	results := make([]*models.TradingResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for i := range reqs {
		req := reqs[i]
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		g.Go(func() error {
			res, err := o.processSafely(ctx, req)
			if err != nil {
				errs[i] = err
				res = failedResult(req, err.Error())
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (o *Orchestrator) processSafely(ctx context.Context, req models.TradingRequest) (res *models.TradingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("request_id", req.ID).Interface("panic", r).Msg("Request panicked")
			res, err = failedResult(req, fmt.Sprintf("panic: %v", r)), nil
		}
	}()
	res, err = o.Process(ctx, req)
	if err != nil && !apperrors.IsContractError(err) {
		return failedResult(req, err.Error()), nil
	}
	return res, err
}

func failedResult(req models.TradingRequest, reason string) *models.TradingResult {
	return &models.TradingResult{
		RequestID: req.ID,
		Success:   false,
		Error:     reason,
		Metadata:  models.ResultMetadata{Steps: []string{}},
		CreatedAt: time.Now(),
	}
}

// HealthCheck probes the resolver and broker independently. A probe that
// errors, panics or times out counts as unhealthy; HealthCheck never fails.
// With no resolver configured only the broker decides.
func (o *Orchestrator) HealthCheck(ctx context.Context) models.HealthReport {
	report, _ := o.HealthDetails(ctx)
	return report
}

// HealthDetails is HealthCheck plus the per-component probe results.
func (o *Orchestrator) HealthDetails(ctx context.Context) (models.HealthReport, map[string]resilience.ComponentHealth) {
	checks := map[string]resilience.HealthCheck{"broker": o.broker.Health}
	if o.resolver != nil {
		checks["resolver"] = o.resolver.Health
	}
	components := resilience.CheckAll(ctx, o.cfg.HealthTimeout, checks)

	report := models.HealthReport{CheckedAt: time.Now()}
	report.Services.Broker = components["broker"].Healthy()
	report.Services.Resolver = o.resolver == nil || components["resolver"].Healthy()
	report.Healthy = report.Services.Broker && report.Services.Resolver

	event := o.logger.Info()
	if !report.Healthy {
		event = o.logger.Warn()
	}
	for name, c := range components {
		event = event.Str(name, string(c.Status))
	}
	event.Bool("healthy", report.Healthy).Msg("Health check")
	return report, components
}
