// Package normalize canonicalizes free-text trading commands before they
// are classified and parsed.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"intent-trader/internal/symbols"
)

// Passes are repeated until the text stops changing, which makes
// Normalize idempotent even when a late step (typo correction) exposes
// input for an earlier one.
const maxPasses = 5

type step struct {
	name  string
	apply func(string) string
}

// Normalizer applies a fixed sequence of rewriting steps. It is pure and
// safe for concurrent use.
type Normalizer struct {
	steps []step
}

// New creates a normalizer with the standard step order.
func New() *Normalizer {
	return &Normalizer{
		steps: []step{
			{"whitespace", collapseWhitespace},
			{"contractions", expandContractions},
			{"action_synonyms", foldActionWords},
			{"quantity_words", foldQuantityWords},
			{"number_words", convertNumberWords},
			{"currency", normalizeCurrency},
			{"typos", correctTypos},
			{"tickers", normalizeTickers},
		},
	}
}

// Normalize returns the canonical form of text.
func (n *Normalizer) Normalize(text string) string {
	out := text
	for i := 0; i < maxPasses; i++ {
		next := n.pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// Steps returns the step names in application order.
func (n *Normalizer) Steps() []string {
	names := make([]string, len(n.steps))
	for i, s := range n.steps {
		names[i] = s.name
	}
	return names
}

func (n *Normalizer) pass(text string) string {
	for _, s := range n.steps {
		text = s.apply(text)
	}
	return text
}

type rewrite struct {
	re   *regexp.Regexp
	repl string
}

func applyRewrites(text string, rules []rewrite) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

// collapseWhitespace trims, collapses runs of whitespace, drops trailing
// sentence punctuation and lowercases every token that is not already a
// ticker.
func collapseWhitespace(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if !symbols.IsTicker(f) {
			fields[i] = strings.ToLower(f)
		}
	}
	return strings.TrimRight(strings.Join(fields, " "), ".!?;, ")
}

var contractionRules = []rewrite{
	{regexp.MustCompile(`\bcan't\b`), "cannot"},
	{regexp.MustCompile(`\bwon't\b`), "will not"},
	{regexp.MustCompile(`\b(\w+)n't\b`), "$1 not"},
	{regexp.MustCompile(`\bi'm\b`), "i am"},
	{regexp.MustCompile(`\blet's\b`), "let us"},
	{regexp.MustCompile(`\b(it|what|that|how|there|who|where)'s\b`), "$1 is"},
	{regexp.MustCompile(`\b(\w+)'re\b`), "$1 are"},
	{regexp.MustCompile(`\b(\w+)'ve\b`), "$1 have"},
	{regexp.MustCompile(`\b(\w+)'ll\b`), "$1 will"},
	{regexp.MustCompile(`\b(\w+)'d\b`), "$1 would"},
}

func expandContractions(text string) string {
	text = strings.ReplaceAll(text, "’", "'")
	return applyRewrites(text, contractionRules)
}

var actionRules = []rewrite{
	{regexp.MustCompile(`\b(?:purchase|purchased|acquire|pick up|scoop up|load up on|grab)\b`), "buy"},
	{regexp.MustCompile(`\b(?:dump|offload|unload|liquidate|get rid of|cash out of|exit)\b`), "sell"},
	{regexp.MustCompile(`\b(?:protect|insure)\b`), "hedge"},
	{regexp.MustCompile(`\b(?:analyse|evaluate|assess)\b`), "analyze"},
	{regexp.MustCompile(`\b(?:suggest)\b`), "recommend"},
}

func foldActionWords(text string) string {
	return applyRewrites(text, actionRules)
}

var quantityRules = []rewrite{
	{regexp.MustCompile(`\b(?:stocks|shs|shrs)\b`), "shares"},
}

func foldQuantityWords(text string) string {
	return applyRewrites(text, quantityRules)
}

var fractionRules = []rewrite{
	{regexp.MustCompile(`\b(?:(?:a|one)\s+)?half\s+(?:of\s+)?(?:a\s+)?(shares?)\b`), "0.5 $1"},
	{regexp.MustCompile(`\b(?:(?:a|one)\s+)?quarter\s+(?:of\s+)?(?:a\s+)?(shares?)\b`), "0.25 $1"},
}

var digitToken = regexp.MustCompile(`^\$?\d+(?:\.\d+)?$`)

// convertNumberWords replaces spelled-out quantities with digits.
func convertNumberWords(text string) string {
	text = applyRewrites(text, fractionRules)

	toks := strings.Fields(text)
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		end, value, ok := numberRun(toks, i)
		if !ok {
			out = append(out, toks[i])
			i++
			continue
		}
		prefix := ""
		if strings.HasPrefix(toks[i], "$") {
			prefix = "$"
		}
		last := toks[end-1]
		suffix := last[len(strings.TrimRight(last, ".,!?;:")):]
		out = append(out, prefix+value.String()+suffix)
		i = end
	}
	return strings.Join(out, " ")
}

// numberRun finds the longest number phrase starting at toks[i].
func numberRun(toks []string, i int) (int, decimal.Decimal, bool) {
	first := strings.TrimRight(toks[i], ".,!?;:")
	startsRun := isNumberToken(first) ||
		((first == "a" || first == "an") && i+1 < len(toks) && isScaleWord(strings.TrimRight(toks[i+1], ".,!?;:"))) ||
		(digitToken.MatchString(first) && i+1 < len(toks) && isScaleWord(strings.TrimRight(toks[i+1], ".,!?;:")))
	if !startsRun {
		return 0, decimal.Zero, false
	}

	end := i + 1
	for end < len(toks) {
		if toks[end-1] != strings.TrimRight(toks[end-1], ".,!?;:") {
			break
		}
		w := strings.TrimRight(toks[end], ".,!?;:")
		if isNumberToken(w) {
			end++
			continue
		}
		if w == "and" && end+1 < len(toks) && isNumberToken(strings.TrimRight(toks[end+1], ".,!?;:")) {
			end++
			continue
		}
		break
	}

	for ; end > i; end-- {
		words := make([]string, 0, end-i)
		for k := i; k < end; k++ {
			w := strings.TrimRight(toks[k], ".,!?;:")
			if k == i {
				w = strings.TrimPrefix(w, "$")
			}
			words = append(words, w)
		}
		if v, ok := wordsToDecimal(words); ok {
			return end, v, true
		}
	}
	return 0, decimal.Zero, false
}

var (
	dollarGap       = regexp.MustCompile(`\$\s+(\d)`)
	thousandsComma  = regexp.MustCompile(`(\d),(\d{3})\b`)
	scaleSuffix     = regexp.MustCompile(`(^|[\s(])(\$?)(\d+(?:\.\d+)?)\s?([kmb])\b`)
	currencyWords   = regexp.MustCompile(`(^|\s)\$?(\d+(?:\.\d+)?)\s+(?:dollars?|bucks|usd)\b`)
	currencyPrefix  = regexp.MustCompile(`\busd\s+(\d+(?:\.\d+)?)\b`)
	worthPhrase     = regexp.MustCompile(`(\$\d+(?:\.\d+)?)\s+worth\b`)
	scaleMultiplier = map[string]int64{"k": 1_000, "m": 1_000_000, "b": 1_000_000_000}
)

// normalizeCurrency canonicalizes money amounts to "$N".
func normalizeCurrency(text string) string {
	text = dollarGap.ReplaceAllString(text, "$$$1")
	for {
		next := thousandsComma.ReplaceAllString(text, "$1$2")
		if next == text {
			break
		}
		text = next
	}

	text = expandScaleSuffixes(text)
	text = currencyWords.ReplaceAllString(text, "${1}$$${2}")
	text = currencyPrefix.ReplaceAllString(text, "$$$1")
	return worthPhrase.ReplaceAllString(text, "$1")
}

// expandScaleSuffixes multiplies out k/m/b, attached or after one space.
// A scaled amount is money unless it is followed by "shares", so "2k"
// becomes "$2000" and "2k shares" becomes "2000 shares".
func expandScaleSuffixes(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range scaleSuffix.FindAllStringSubmatchIndex(text, -1) {
		n, err := decimal.NewFromString(text[m[6]:m[7]])
		if err != nil {
			continue
		}
		dollar := text[m[4]:m[5]]
		if dollar != "" && m[7] != m[8] {
			// "$5000 k" may be an expansion from an earlier pass.
			continue
		}
		value := n.Mul(decimal.NewFromInt(scaleMultiplier[text[m[8]:m[9]]])).String()
		if dollar == "" && !sharesFollow(text[m[1]:]) {
			dollar = "$"
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(text[m[2]:m[3]])
		b.WriteString(dollar + value)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func sharesFollow(rest string) bool {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return false
	}
	w := strings.TrimRight(fields[0], ".,!?:")
	if fixed, ok := typoCorrections[w]; ok {
		w = fixed
	}
	return w == "share" || w == "shares"
}

// Corrections map straight to canonical words that no earlier step rewrites.
var typoCorrections = map[string]string{
	"biy": "buy", "buyy": "buy", "bby": "buy", "purchse": "buy", "purchace": "buy",
	"sel": "sell", "selll": "sell",
	"shaers": "shares", "sahres": "shares", "shres": "shares", "shars": "shares",
	"shrae": "share", "sahre": "share",
	"qoute": "quote", "quoet": "quote",
	"hegde": "hedge", "hedg": "hedge",
	"anaylze": "analyze", "analize": "analyze",
	"portfolo": "portfolio", "protfolio": "portfolio", "portfollio": "portfolio",
	"postion": "position", "positon": "position",
	"limt": "limit", "lmit": "limit",
	"pirce": "price", "prcie": "price",
	"balanace": "balance", "balnce": "balance",
	"recomend": "recommend", "reccomend": "recommend",
}

func correctTypos(text string) string {
	toks := strings.Fields(text)
	for i, tok := range toks {
		core := strings.TrimRight(tok, ".,!?:")
		if fixed, ok := typoCorrections[core]; ok {
			toks[i] = fixed + tok[len(core):]
		}
	}
	return strings.Join(toks, " ")
}

// Common company names mapped to their tickers.
var companyTickers = map[string]string{
	"apple": "AAPL", "microsoft": "MSFT", "tesla": "TSLA", "nvidia": "NVDA",
	"amazon": "AMZN", "google": "GOOGL", "alphabet": "GOOGL", "meta": "META",
	"facebook": "META", "netflix": "NFLX", "lululemon": "LULU", "walmart": "WMT",
	"disney": "DIS", "intel": "INTC", "coinbase": "COIN", "palantir": "PLTR",
}

// Words after which a lowercase token is read as a ticker.
var tickerContext = map[string]bool{
	"of": true, "in": true, "buy": true, "sell": true, "all": true, "my": true,
	"shares": true, "share": true, "hedge": true, "analyze": true, "quote": true,
	"for": true, "on": true, "short": true, "bought": true, "sold": true,
}

var lettersOnly = regexp.MustCompile(`^[A-Za-z]+$`)

// normalizeTickers uppercases tokens in ticker position and strips cashtags.
func normalizeTickers(text string) string {
	toks := strings.Fields(text)
	for i, tok := range toks {
		core := symbols.Core(tok)
		if core == "" {
			continue
		}
		start := strings.Index(tok, core)

		if ticker, ok := companyTickers[core]; ok {
			toks[i] = tok[:start] + ticker + tok[start+len(core):]
			continue
		}

		if strings.HasPrefix(tok, "$") && lettersOnly.MatchString(core) {
			if symbols.IsCandidate(core) {
				toks[i] = strings.ToUpper(core) + tok[start+len(core):]
			}
			continue
		}

		if core != strings.ToLower(core) || !lettersOnly.MatchString(core) || i == 0 {
			continue
		}
		prev := strings.ToLower(symbols.Core(toks[i-1]))
		if digitToken.MatchString(prev) && scaleMultiplier[core] != 0 {
			continue
		}
		if (tickerContext[prev] || digitToken.MatchString(prev)) && symbols.IsCandidate(core) {
			toks[i] = tok[:start] + strings.ToUpper(core) + tok[start+len(core):]
		}
	}
	return strings.Join(toks, " ")
}
