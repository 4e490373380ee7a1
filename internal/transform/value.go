package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Characters stripped before separator disambiguation: currency symbols,
// regular/non-breaking/narrow spaces.
var valueCleaner = strings.NewReplacer(
	"₸", "",
	"₽", "",
	"$", "",
	"€", "",
	" ", "",
	" ", "",
	" ", "",
	"KZT", "",
	"USD", "",
)

var daysLeftRe = regexp.MustCompile(`(\d+)`)

// ParseMonetaryValue parses amounts written with either US ("1,234.56") or
// European ("1.234,56") separator conventions. The separator that appears
// last is the decimal candidate; it is accepted as decimal only when at most
// two digits follow it, otherwise it is a thousands separator.
func ParseMonetaryValue(raw string) (float64, error) {
	clean := strings.TrimSpace(valueCleaner.Replace(raw))
	if clean == "" {
		return 0, fmt.Errorf("empty monetary value %q", raw)
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			// US convention: commas group thousands, the dot is decimal.
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			// European convention: dots group thousands, the comma is decimal.
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case lastComma >= 0:
		clean = resolveSingleSeparator(clean, ",")
	case lastDot >= 0:
		clean = resolveSingleSeparator(clean, ".")
	}

	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse monetary value %q: %w", raw, err)
	}
	return value, nil
}

// resolveSingleSeparator decides decimal vs thousands for a value containing
// only one kind of separator.
func resolveSingleSeparator(s, sep string) string {
	last := strings.LastIndex(s, sep)
	trailing := len(s) - last - 1
	single := strings.Count(s, sep) == 1

	if single && trailing <= 2 {
		// "1234,56" or "99.5": decimal separator.
		return strings.Replace(s, sep, ".", 1)
	}
	// "1,234,567" / "1.234.567" / "1,234": thousands grouping.
	return strings.ReplaceAll(s, sep, "")
}

// ParseDaysLeft extracts the integer from strings like "13 дней" or "6 дня".
// Returns false when no digits are present (e.g. "N/A").
func ParseDaysLeft(raw string) (int, bool) {
	m := daysLeftRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
