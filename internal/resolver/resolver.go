// Package resolver turns free text into structured intent data with a
// language model. Implementations are interchangeable; which one runs is
// decided by configuration.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

// Request is one resolution call.
type Request struct {
	ID      string              `json:"id"`
	Text    string              `json:"text"`
	Schema  json.RawMessage     `json:"schema,omitempty"`
	Kinds   []models.IntentKind `json:"kinds,omitempty"`
	Context map[string]any      `json:"context,omitempty"`
	Model   string              `json:"model,omitempty"`
}

// Response is the structured data produced for a request.
type Response struct {
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	Model      string         `json:"model"`
	TokensIn   int            `json:"tokens_in"`
	TokensOut  int            `json:"tokens_out"`
}

// TokensUsed is the total token count.
func (r *Response) TokensUsed() int {
	return r.TokensIn + r.TokensOut
}

// CostRate is a price per thousand tokens.
type CostRate struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

// Cost prices a token count.
func (c CostRate) Cost(tokensIn, tokensOut int) float64 {
	k := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(tokensIn)).Div(k).Mul(decimal.NewFromFloat(c.In))
	out := decimal.NewFromInt(int64(tokensOut)).Div(k).Mul(decimal.NewFromFloat(c.Out))
	return in.Add(out).Round(8).InexactFloat64()
}

// Resolver is the language-model collaborator.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Response, error)
	Health(ctx context.Context) (bool, error)
	CostPerKTokens() CostRate
	Name() string
}

// defaultConfidence is used when the model omits its own estimate.
const defaultConfidence = 0.6

// ParseModelOutput extracts the intent object and confidence from raw model
// text. It tolerates code fences, an "intent" wrapper and quoted numbers.
func ParseModelOutput(raw string) (map[string]any, float64, error) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, 0, apperrors.Wrap(apperrors.ErrResolutionFailed, "empty model output")
	}
	if !gjson.Valid(raw) {
		return nil, 0, apperrors.Wrap(apperrors.ErrResolutionFailed, "model output is not valid JSON")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, 0, apperrors.Wrap(apperrors.ErrResolutionFailed, "model output must be a JSON object")
	}

	node := parsed
	if inner := parsed.Get("intent"); inner.IsObject() {
		node = inner
	}

	action := strings.ToLower(strings.TrimSpace(node.Get(models.KeyAction).String()))
	if action == "" || action == "unknown" || action == "none" {
		return nil, 0, apperrors.Wrap(apperrors.ErrResolutionFailed, "model could not resolve an action")
	}

	data, ok := node.Value().(map[string]any)
	if !ok {
		return nil, 0, apperrors.Wrap(apperrors.ErrResolutionFailed, "model output has no intent object")
	}

	confidence := defaultConfidence
	for _, c := range []gjson.Result{node.Get(models.KeyConfidence), parsed.Get(models.KeyConfidence)} {
		if c.Exists() {
			confidence = models.ClampConfidence(c.Float())
			break
		}
	}
	data[models.KeyConfidence] = confidence
	return data, confidence, nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// SystemPrompt builds the instruction block sent with every request.
func SystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You convert a trading command into one JSON object. Reply with JSON only.\n")
	b.WriteString("Fields: action (one of the allowed kinds), symbol (1-5 uppercase letters, the ticker), confidence (0 to 1).\n")
	b.WriteString("Orders use amount_type (dollars|shares), amount (number, -1 means all holdings), order_type (market|limit), limit_price.\n")
	b.WriteString("Analysis uses analysis_type and timeframe. Hedges use hedge_strategy, hedge_ratio (0-1), instruments.\n")
	b.WriteString("Recommendations use criteria, risk_tolerance, count. Anything else is custom with custom_action and params.\n")
	b.WriteString("If the command cannot be understood, reply {\"action\":\"unknown\",\"confidence\":0}.\n")
	if len(req.Kinds) > 0 {
		kinds := make([]string, len(req.Kinds))
		for i, k := range req.Kinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&b, "Allowed kinds: %s.\n", strings.Join(kinds, ", "))
	}
	if len(req.Schema) > 0 {
		fmt.Fprintf(&b, "The object must satisfy this JSON schema:\n%s\n", req.Schema)
	}
	if len(req.Context) > 0 {
		if ctxJSON, err := json.Marshal(req.Context); err == nil {
			fmt.Fprintf(&b, "Context: %s\n", ctxJSON)
		}
	}
	return b.String()
}
