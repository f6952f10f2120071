// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatCurrency formats a dollar amount with thousands separators.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatConfidence formats a [0,1] confidence as a percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// FormatShares prints whole share counts without decimals.
func FormatShares(shares float64) string {
	if shares == float64(int64(shares)) {
		return groupThousands(fmt.Sprintf("%d", int64(shares)))
	}
	return fmt.Sprintf("%.4f", shares)
}

// FormatCost formats a model cost, keeping sub-cent precision.
func FormatCost(cost float64) string {
	if cost != 0 && cost < 0.01 {
		return fmt.Sprintf("$%.6f", cost)
	}
	return FormatCurrency(cost)
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

// FormatCompact formats large amounts as K/M/B.
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", amount/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", amount/1e6)
	case abs >= 1e4:
		return fmt.Sprintf("$%.1fK", amount/1e3)
	}
	return FormatCurrency(amount)
}
