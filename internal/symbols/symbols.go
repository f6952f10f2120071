// Package symbols holds the ticker heuristic shared by the normalizer,
// the classifier and the parser. Every component that needs to decide
// whether a token is a ticker goes through this package.
package symbols

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "intent-trader/internal/errors"
)

// Symbol pattern: 1-5 uppercase letters.
var symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// stopWords are uppercase 1-5 letter tokens that read as English, not tickers.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		A AN THE I ME MY WE US OUR YOU IT ITS THIS THAT THESE THOSE
		AND OR BUT NOR NOT NO YES SO IF WHEN THEN ELSE UNTIL WHILE
		OF IN ON AT TO FOR BY UP FROM WITH INTO OVER UNDER ABOUT AFTER
		IS AM ARE WAS WERE BE BEEN HAS HAVE HAD DO DOES DID CAN COULD
		WILL SHALL MAY MIGHT MUST SHOW TELL GIVE GET GOT MAKE LET
		WHAT WHICH WHO WHOM WHY HOW WHERE MUCH MANY SOME ANY EACH EVERY
		ALL BOTH FEW MORE MOST LESS LEAST HALF FULL ONLY JUST ALSO VERY
		BUY SELL HOLD SHORT LONG COVER HEDGE TRADE ORDER LIMIT STOP
		PUT PUTS CALL CALLS STOCK SHARE PRICE QUOTE CASH MONEY FUNDS
		WORTH VALUE TOTAL RISK LOSS GAIN GAINS STUFF THING
		NOW TODAY OPEN CLOSE HIGH LOW NEXT LAST WEEK MONTH YEAR DAY DAYS
		USD EUR INR ETF ETFS IPO CEO CFO EPS PE OK OKAY PLEASE THANK THANKS
		NEW TOP BEST GOOD BAD SAFE LIKE WANT NEED THINK
		ONE TWO THREE FOUR FIVE SIX SEVEN EIGHT NINE TEN
	`) {
		stopWords[w] = struct{}{}
	}
}

// Validate checks the ticker format and wraps ErrInvalidSymbol on failure.
func Validate(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q must be 1-5 uppercase letters", apperrors.ErrInvalidSymbol, symbol)
	}
	return nil
}

// Valid is Validate as a predicate.
func Valid(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// IsStopWord reports whether the uppercase form of w is a common English word.
func IsStopWord(w string) bool {
	_, ok := stopWords[strings.ToUpper(w)]
	return ok
}

// Core strips a leading cashtag marker and surrounding punctuation from a token.
func Core(token string) string {
	token = strings.TrimLeft(token, "$(\"'")
	return strings.TrimRight(token, ".,!?;:)\"'")
}

// IsTicker reports whether token, as written, looks like a ticker: 1-5
// uppercase letters that are not a stop word. A leading "$" is allowed.
func IsTicker(token string) bool {
	core := Core(token)
	return symbolPattern.MatchString(core) && !IsStopWord(core)
}

// IsCandidate reports whether a lowercase or mixed-case token would be a
// ticker once uppercased.
func IsCandidate(token string) bool {
	return IsTicker(strings.ToUpper(Core(token)))
}

// Extract returns the distinct tickers in text in order of first appearance.
func Extract(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		if !IsTicker(tok) {
			continue
		}
		core := Core(tok)
		if _, dup := seen[core]; dup {
			continue
		}
		seen[core] = struct{}{}
		out = append(out, core)
	}
	return out
}
