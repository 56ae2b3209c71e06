package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reAmount       = regexp.MustCompile(`-?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|-?\d+(?:\.\d{1,2})?`)
	reCurrencyCode = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|JPY)\b`)
)

// ParseCents extracts an amount from free text; "$1,042.50" yields 104250, "USD".
func ParseCents(input string) (int64, string, bool) {
	currency := ""
	if m := reCurrencyCode.FindString(strings.ToUpper(input)); m != "" {
		currency = m
	} else if strings.ContainsAny(input, "$") {
		currency = "USD"
	}

	token := reAmount.FindString(input)
	if token == "" {
		return 0, currency, false
	}
	token = strings.ReplaceAll(token, ",", "")

	neg := strings.HasPrefix(token, "-")
	token = strings.TrimPrefix(token, "-")

	whole := token
	frac := ""
	if i := strings.IndexByte(token, '.'); i >= 0 {
		whole = token[:i]
		frac = token[i+1:]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, currency, false
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, currency, false
	}

	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, currency, true
}

func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
