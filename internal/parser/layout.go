package parser

import (
	"regexp"
	"strconv"
	"strings"

	"tcgledger/internal"
	"tcgledger/internal/util"
)

const (
	LayoutBodyItems   = "tcgplayer_body_items"
	LayoutSubjectOnly = "tcgplayer_subject"
)

var (
	reOrderID    = regexp.MustCompile(`(?i)Order:\s*([A-Z0-9-]+)`)
	reOrderTotal = regexp.MustCompile(`(?i)Order\s*Total:\s*[$]?\s*([\d,]+(?:\.\d{1,2})?)`)
	reOrderDate  = regexp.MustCompile(`(?i)order date of\s+(\d{1,2}/\d{1,2}/\d{4})`)

	reQtyOnly    = regexp.MustCompile(`^\d{1,2}$`)
	reCardSuffix = regexp.MustCompile(`^(.+?)\s+-\s+([A-Za-z]{0,3}\d{1,4}/[A-Za-z]{0,3}\d{1,4})$`)

	// "1 Mew ex - 151/165/Near Mint Holofoil"
	reInlineNumbered = regexp.MustCompile(`^(\d{1,2})\s+(.+?)\s+-\s+([A-Za-z]{0,3}\d{1,4}/[A-Za-z]{0,3}\d{1,4})/(.+)$`)
	// "1 Dragonite V/Near Mint Holofoil"
	reInlinePlain = regexp.MustCompile(`^(\d{1,2})\s+(.+)/([^/]+)$`)

	reSubjectItem = regexp.MustCompile(`(?i)items of\s+(.+?)\s+-\s+([A-Za-z]{0,3}\d{1,4}/[A-Za-z]{0,3}\d{1,4})\s+have sold`)

	reDateOnly = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`)
	reHasWord  = regexp.MustCompile(`[A-Za-z]{2,}`)
)

type layout struct {
	id      string
	anchors func(subject, body string) bool
	extract func(subject string, lines []string) []internal.ParsedLineItem
}

// Ordered; the first layout yielding items wins.
var layouts = []layout{
	{
		id: LayoutBodyItems,
		anchors: func(subject, body string) bool {
			return strings.Contains(strings.ToLower(subject), "have sold") ||
				strings.Contains(strings.ToLower(body), "order total")
		},
		extract: extractBodyItems,
	},
	{
		id: LayoutSubjectOnly,
		anchors: func(subject, body string) bool {
			return reSubjectItem.MatchString(subject)
		},
		extract: extractSubjectItem,
	},
}

// Parse runs one raw message through the layout table. An unrecognized body
// is an outcome, not an error.
func Parse(msg internal.RawMessage, defaultCurrency string) (internal.ParsedNotification, error) {
	subject, text, err := ExtractBody(msg.Raw)
	if err != nil {
		return internal.ParsedNotification{MessageID: msg.MessageID}, err
	}
	if strings.TrimSpace(subject) == "" {
		subject = msg.Subject
	}

	notif := internal.ParsedNotification{
		MessageID: msg.MessageID,
		Currency:  defaultCurrency,
	}

	notif.OrderID = firstGroup(reOrderID, text)
	notif.OrderDate = firstGroup(reOrderDate, text)
	if m := reOrderTotal.FindStringSubmatch(text); m != nil {
		if cents, currency, ok := util.ParseCents(m[0]); ok {
			notif.OrderTotalCents = cents
			if currency != "" {
				notif.Currency = currency
			}
		}
	}

	lines := SplitLines(text)
	for _, l := range layouts {
		if !l.anchors(subject, text) {
			continue
		}
		items := l.extract(subject, lines)
		if len(items) == 0 {
			continue
		}
		for i := range items {
			items[i].OrderID = notif.OrderID
			items[i].Currency = notif.Currency
		}
		notif.LayoutID = l.id
		notif.Items = items
		return notif, nil
	}

	return notif, nil
}

func extractBodyItems(subject string, lines []string) []internal.ParsedLineItem {
	out := []internal.ParsedLineItem{}
	seen := map[string]bool{}

	add := func(qty int, productPart, condition string) {
		productPart = strings.TrimSpace(productPart)
		condition = strings.TrimSpace(condition)
		baseName := productPart
		cardNumber := ""
		if m := reCardSuffix.FindStringSubmatch(productPart); m != nil {
			baseName = strings.TrimSpace(m[1])
			cardNumber = m[2]
		}
		name := util.DisplayName(baseName, cardNumber)
		if seen[name] {
			return
		}
		seen[name] = true
		if qty <= 0 {
			qty = 1
		}
		out = append(out, internal.ParsedLineItem{
			ProductName: name,
			CardNumber:  cardNumber,
			Condition:   condition,
			Quantity:    qty,
		})
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		// Bare quantity line followed by "Product Name - 123/165/Condition".
		if reQtyOnly.MatchString(line) && i+1 < len(lines) {
			next := lines[i+1]
			if idx := strings.LastIndex(next, "/"); idx > 0 && looksLikeProductLine(next) {
				qty, _ := strconv.Atoi(line)
				add(qty, next[:idx], next[idx+1:])
				i++
				continue
			}
		}

		if m := reInlineNumbered.FindStringSubmatch(line); m != nil {
			qty, _ := strconv.Atoi(m[1])
			add(qty, m[2]+" - "+m[3], m[4])
			continue
		}
		if m := reInlinePlain.FindStringSubmatch(line); m != nil {
			if !looksLikeProductLine(line) {
				continue
			}
			qty, _ := strconv.Atoi(m[1])
			add(qty, m[2], m[3])
			continue
		}
	}

	return out
}

func extractSubjectItem(subject string, lines []string) []internal.ParsedLineItem {
	m := reSubjectItem.FindStringSubmatch(subject)
	if m == nil {
		return nil
	}
	name := util.DisplayName(strings.TrimSpace(m[1]), m[2])
	return []internal.ParsedLineItem{{
		ProductName: name,
		CardNumber:  m[2],
		Quantity:    1,
	}}
}

// Rejects dates, URLs and boilerplate that happen to contain a slash.
func looksLikeProductLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "http") || strings.Contains(lower, "@") {
		return false
	}
	if reDateOnly.MatchString(strings.TrimSpace(line)) {
		return false
	}
	return reHasWord.MatchString(line)
}

func firstGroup(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
