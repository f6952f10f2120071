package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"intent-trader/internal/models"
	"intent-trader/internal/router"
)

// Plugin validates and transforms structured data for one family of intents.
type Plugin interface {
	Type() string
	Priority() int
	CanHandle(text string) bool
	// Complexity is a relative cost estimate; lower wins priority ties.
	Complexity(text string) float64
	Kinds() []models.IntentKind
	Schema() json.RawMessage
	Validate(data map[string]any) ValidationResult
	Transform(data map[string]any) (*models.TradeIntent, error)
}

// ValidationResult is a plugin's verdict on structured data.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (v *ValidationResult) fail(format string, args ...any) {
	v.IsValid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// spec describes a schema-backed plugin.
type spec struct {
	typ      string
	priority int
	kinds    []models.IntentKind
	handles  *regexp.Regexp
	rejects  *regexp.Regexp
	baseCost float64
	schema   string
	check    func(intent *models.TradeIntent, v *ValidationResult)
	defaults func(intent *models.TradeIntent)
}

// schemaPlugin is a Plugin driven by a JSON schema plus semantic checks.
type schemaPlugin struct {
	spec
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

func newSchemaPlugin(s spec) (*schemaPlugin, error) {
	compiled, err := compileSchema(s.typ, s.schema)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", s.typ, err)
	}
	return &schemaPlugin{spec: s, raw: json.RawMessage(s.schema), compiled: compiled}, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func (p *schemaPlugin) Type() string               { return p.typ }
func (p *schemaPlugin) Priority() int              { return p.priority }
func (p *schemaPlugin) Kinds() []models.IntentKind { return p.kinds }
func (p *schemaPlugin) Schema() json.RawMessage    { return p.raw }

func (p *schemaPlugin) CanHandle(text string) bool {
	if !p.handles.MatchString(text) {
		return false
	}
	return p.rejects == nil || !p.rejects.MatchString(text)
}

func (p *schemaPlugin) Complexity(text string) float64 {
	return models.ClampConfidence(p.baseCost + 0.3*router.HeuristicComplexity(text))
}

// Validate checks the schema first and the intent invariants second.
func (p *schemaPlugin) Validate(data map[string]any) ValidationResult {
	v := ValidationResult{IsValid: true}

	doc, err := toJSONValue(data)
	if err != nil {
		v.fail("data is not JSON-encodable: %v", err)
		return v
	}
	if err := p.compiled.Validate(doc); err != nil {
		for _, msg := range schemaErrors(err) {
			v.fail("%s", msg)
		}
		return v
	}

	intent, err := p.build(data)
	if err != nil {
		v.fail("%v", err)
		return v
	}
	if err := intent.Validate(); err != nil {
		v.fail("%v", err)
		return v
	}
	if p.check != nil {
		p.check(intent, &v)
	}
	return v
}

// Transform builds the canonical intent, filling plugin defaults.
func (p *schemaPlugin) Transform(data map[string]any) (*models.TradeIntent, error) {
	return p.build(data)
}

func (p *schemaPlugin) build(data map[string]any) (*models.TradeIntent, error) {
	intent, err := models.IntentFromData(data)
	if err != nil {
		return nil, err
	}
	if !p.accepts(intent.Kind) {
		return nil, fmt.Errorf("%s plugin does not handle %s intents", p.typ, intent.Kind)
	}
	if p.defaults != nil {
		p.defaults(intent)
	}
	return intent, nil
}

func (p *schemaPlugin) accepts(k models.IntentKind) bool {
	for _, want := range p.kinds {
		if want == k {
			return true
		}
	}
	return false
}

// toJSONValue round-trips data through encoding/json so the validator sees
// plain JSON types.
func toJSONValue(data map[string]any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func schemaErrors(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// Sanitize coerces model output into the shape the schemas expect:
// numeric strings become numbers, action is lowercased and symbol
// uppercased. The input map is not modified.
func Sanitize(data map[string]any) map[string]any {
	out, _ := sanitize(data).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	if s, ok := out[models.KeyAction].(string); ok {
		out[models.KeyAction] = strings.ToLower(strings.TrimSpace(s))
	}
	if s, ok := out[models.KeySymbol].(string); ok {
		out[models.KeySymbol] = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	}
	return out
}

var numericRe = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)

func sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitize(child)
		}
		return out
	case string:
		s := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(val), ",", ""), "$")
		if !numericRe.MatchString(s) {
			return val
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return val
	default:
		return v
	}
}
