// Package registry dispatches free text to intent plugins and turns the
// structured data they accept into canonical trade intents.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
	"intent-trader/internal/models"
	"intent-trader/internal/resolution"
	"intent-trader/internal/router"
)

// Fallback strategies applied when no plugin can handle an input.
const (
	FallbackBestEffort = "best_effort"
	FallbackDefault    = "default"
)

// BestEffortType is the plugin type reported for stub intents.
const BestEffortType = "best_effort"

const stubConfidence = 0.1

// Config holds registry settings.
type Config struct {
	FallbackStrategy string
	DefaultPlugin    string
	BatchSize        int
}

// DefaultConfig returns the standard registry settings.
func DefaultConfig() Config {
	return Config{
		FallbackStrategy: FallbackBestEffort,
		DefaultPlugin:    TypeTrade,
		BatchSize:        5,
	}
}

// Registry holds the plugins and the resolution pipeline they share.
type Registry struct {
	cfg      Config
	pipeline *resolution.Pipeline
	logger   zerolog.Logger

	mu      sync.RWMutex
	plugins map[string]Plugin
}

// New creates an empty registry.
func New(cfg Config, pipeline *resolution.Pipeline, logger zerolog.Logger) *Registry {
	if cfg.FallbackStrategy == "" {
		cfg.FallbackStrategy = FallbackBestEffort
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Registry{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logging.WithComponent(logger, "registry"),
		plugins:  make(map[string]Plugin),
	}
}

// NewWithBuiltins creates a registry with the built-in plugins registered.
func NewWithBuiltins(cfg Config, pipeline *resolution.Pipeline, logger zerolog.Logger) (*Registry, error) {
	r := New(cfg, pipeline, logger)
	plugins, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin. Types are unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Type()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Type())
	}
	r.plugins[p.Type()] = p
	return nil
}

// Plugin returns the plugin registered for typ.
func (r *Registry) Plugin(typ string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[typ]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrPluginNotRegistered, "%s", typ)
	}
	return p, nil
}

// Plugins lists the registered plugins by descending priority.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Type() < out[j].Type()
	})
	return out
}

// Select picks the plugin for text: handlers only, highest priority first,
// lower complexity on ties.
func (r *Registry) Select(text string) (Plugin, bool) {
	type candidate struct {
		p          Plugin
		complexity float64
	}
	var cands []candidate
	for _, p := range r.Plugins() {
		if p.CanHandle(text) {
			cands = append(cands, candidate{p: p, complexity: p.Complexity(text)})
		}
	}
	if len(cands) == 0 {
		return nil, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].p.Priority() != cands[j].p.Priority() {
			return cands[i].p.Priority() > cands[j].p.Priority()
		}
		return cands[i].complexity < cands[j].complexity
	})
	return cands[0].p, true
}

// Process resolves text through the selected plugin. When nothing can
// handle the input the configured fallback applies. The returned intent has
// passed the plugin schema and the intent invariants, except best-effort
// stubs, which are marked by PluginType and never validate.
func (r *Registry) Process(ctx context.Context, text string, reqCtx map[string]any) (*models.ProcessedIntent, error) {
	start := time.Now()
	requestID := models.StringField(reqCtx, "request_id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := logging.WithRequestID(r.logger, requestID)

	normalized := r.pipeline.Normalize(text)
	plugin, ok := r.Select(normalized)
	if !ok {
		switch r.cfg.FallbackStrategy {
		case FallbackDefault:
			p, err := r.Plugin(r.cfg.DefaultPlugin)
			if err != nil {
				return nil, err
			}
			plugin = p
		default:
			log.Info().Str("input", text).Msg("No plugin matched, returning best-effort stub")
			return &models.ProcessedIntent{
				Intent:         stubIntent(requestID, text),
				Confidence:     stubConfidence,
				ProcessingTime: time.Since(start),
				PluginType:     BestEffortType,
			}, nil
		}
	}

	res, err := r.pipeline.Resolve(ctx, resolution.Request{
		ID:          requestID,
		Text:        text,
		Schema:      plugin.Schema(),
		Kinds:       plugin.Kinds(),
		Context:     reqCtx,
		Constraints: constraintsFrom(reqCtx),
	})
	if err != nil {
		return nil, err
	}

	data := Sanitize(res.Data)
	verdict := plugin.Validate(data)
	if !verdict.IsValid {
		return nil, apperrors.NewValidationFailure(
			fmt.Sprintf("%s plugin rejected resolved data", plugin.Type()), verdict.Errors, verdict.Warnings)
	}

	intent, err := plugin.Transform(data)
	if err != nil {
		return nil, apperrors.NewValidationFailure(
			fmt.Sprintf("%s plugin transform failed", plugin.Type()), []string{err.Error()}, nil)
	}
	if intent.ID == "" {
		intent.ID = requestID
	}
	intent.Confidence = models.ClampConfidence(res.Confidence)
	if intent.Metadata == nil {
		intent.Metadata = make(map[string]any)
	}
	intent.Metadata["strategy"] = string(res.Strategy)
	intent.Metadata["plugin"] = plugin.Type()
	if len(verdict.Warnings) > 0 {
		intent.Metadata["warnings"] = verdict.Warnings
	}
	if res.Rule != "" {
		intent.Metadata["rule"] = res.Rule
	}

	if err := intent.Validate(); err != nil {
		return nil, apperrors.NewValidationFailure("resolved intent is invalid", []string{err.Error()}, nil)
	}

	if _, err := r.pipeline.Commit(ctx, res, intent); err != nil {
		log.Warn().Err(err).Msg("Resolved intent not cached")
	}

	return &models.ProcessedIntent{
		Intent:         intent,
		Confidence:     intent.Confidence,
		ProcessingTime: time.Since(start),
		PluginType:     plugin.Type(),
		Model:          res.Model,
		Strategy:       res.Strategy,
		TokensUsed:     res.TokensUsed(),
		Cost:           res.Cost,
	}, nil
}

func stubIntent(id, text string) *models.TradeIntent {
	return &models.TradeIntent{
		ID:         id,
		Kind:       models.IntentCustom,
		Symbol:     models.UnknownSymbol,
		Confidence: stubConfidence,
		Metadata:   map[string]any{"fallback": BestEffortType},
		Custom: &models.CustomSpec{
			Action: "unresolved",
			Params: map[string]any{"input": text},
		},
	}
}

// constraintsFrom reads optional tier constraints from the request context.
func constraintsFrom(reqCtx map[string]any) *router.Constraints {
	var c router.Constraints
	if v, ok := models.NumberField(reqCtx, "max_latency_ms"); ok {
		c.MaxLatencyMs = int(v)
	}
	if v, ok := models.NumberField(reqCtx, "max_cost"); ok {
		c.MaxCost = v
	}
	c.Preference = router.Preference(models.StringField(reqCtx, "preference"))
	if c == (router.Constraints{}) {
		return nil
	}
	return &c
}

// BatchItem is one entry of a batch result, in input order.
type BatchItem struct {
	Input  string                  `json:"input"`
	Intent *models.ProcessedIntent `json:"intent,omitempty"`
	Err    error                   `json:"-"`
}

// BatchProcess processes texts in windows of BatchSize. Items inside a
// window run concurrently; a failing item never affects its siblings.
// A contract error stops the batch after its window: later items keep
// their input and carry apperrors.ErrBatchAborted.
func (r *Registry) BatchProcess(ctx context.Context, texts []string, reqCtx map[string]any) ([]BatchItem, error) {
	items := make([]BatchItem, len(texts))
	for start := 0; start < len(texts); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				items[i] = r.processItem(ctx, texts[i], reqCtx)
				if apperrors.IsContractError(items[i].Err) {
					return items[i].Err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			for i := end; i < len(texts); i++ {
				items[i] = BatchItem{Input: texts[i], Err: apperrors.ErrBatchAborted}
			}
			return items, err
		}
	}
	return items, nil
}

func (r *Registry) processItem(ctx context.Context, text string, reqCtx map[string]any) (item BatchItem) {
	item.Input = text
	defer func() {
		if rec := recover(); rec != nil {
			item.Err = fmt.Errorf("panic processing %q: %v", text, rec)
		}
	}()
	item.Intent, item.Err = r.Process(ctx, text, itemContext(reqCtx))
	return item
}

// itemContext gives every batch item its own request id.
func itemContext(reqCtx map[string]any) map[string]any {
	out := make(map[string]any, len(reqCtx)+1)
	for k, v := range reqCtx {
		out[k] = v
	}
	out["request_id"] = uuid.NewString()
	return out
}
