package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

var unitWords = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]int64{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// Multipliers applied to the group being built ("two hundred", "a dozen").
var groupScales = map[string]int64{
	"hundred": 100,
	"dozen":   12,
}

// Multipliers that close a group ("five thousand", "1.5 million").
var magnitudeScales = map[string]int64{
	"thousand": 1_000,
	"million":  1_000_000,
	"billion":  1_000_000_000,
}

func isNumberWord(w string) bool {
	_, u := unitWords[w]
	_, t := tensWords[w]
	return u || t || isScaleWord(w)
}

func isNumberToken(w string) bool {
	if isNumberWord(w) {
		return true
	}
	_, ok := splitHyphenated(w)
	return ok
}

func isScaleWord(w string) bool {
	_, g := groupScales[w]
	_, m := magnitudeScales[w]
	return g || m
}

// splitHyphenated turns "twenty-five" into ["twenty", "five"] when every
// part is a number word.
func splitHyphenated(w string) ([]string, bool) {
	if !strings.Contains(w, "-") {
		return nil, false
	}
	parts := strings.Split(w, "-")
	for _, p := range parts {
		if !isNumberWord(p) {
			return nil, false
		}
	}
	return parts, true
}

// WordsToNumber converts an English number phrase into its value:
// "two hundred fifty" = 250, "a thousand" = 1000, "1.5 million" = 1500000,
// "twenty-five" = 25. A leading digit group may be followed by scale words.
// It reports false when the phrase is not a number.
func WordsToNumber(phrase string) (float64, bool) {
	d, ok := wordsToDecimal(strings.Fields(strings.ToLower(phrase)))
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func wordsToDecimal(words []string) (decimal.Decimal, bool) {
	var expanded []string
	for _, w := range words {
		if parts, ok := splitHyphenated(w); ok {
			expanded = append(expanded, parts...)
			continue
		}
		expanded = append(expanded, w)
	}

	total := decimal.Zero
	current := decimal.Zero
	seen := false

	for i, w := range expanded {
		switch {
		case w == "and":
			if !seen || i == len(expanded)-1 {
				return decimal.Zero, false
			}
		case w == "a" || w == "an":
			if i != 0 || i+1 >= len(expanded) || !isScaleWord(expanded[i+1]) {
				return decimal.Zero, false
			}
			current = decimal.NewFromInt(1)
		case unitWords[w] > 0 || w == "zero":
			current = current.Add(decimal.NewFromInt(unitWords[w]))
			seen = true
		case tensWords[w] > 0:
			current = current.Add(decimal.NewFromInt(tensWords[w]))
			seen = true
		case groupScales[w] > 0:
			if current.IsZero() {
				current = decimal.NewFromInt(1)
			}
			current = current.Mul(decimal.NewFromInt(groupScales[w]))
			seen = true
		case magnitudeScales[w] > 0:
			if current.IsZero() {
				current = decimal.NewFromInt(1)
			}
			total = total.Add(current.Mul(decimal.NewFromInt(magnitudeScales[w])))
			current = decimal.Zero
			seen = true
		default:
			// A digit group is only allowed in front of scale words.
			d, err := decimal.NewFromString(w)
			if err != nil || i != 0 || i+1 >= len(expanded) || !isScaleWord(expanded[i+1]) {
				return decimal.Zero, false
			}
			current = d
			seen = true
		}
	}
	if !seen {
		return decimal.Zero, false
	}
	return total.Add(current), true
}
