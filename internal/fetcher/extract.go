package fetcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

var (
	priceRe    = regexp.MustCompile(`([0-9][\d,]*(?:\.\d{1,2})?)`)
	percentRe  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)
	lotRe      = regexp.MustCompile(`(?i)\bLOT\b(?:\s*No\.)?\s*#?\s*([A-Za-z0-9-]*[0-9][A-Za-z0-9-]*)\b`)
	lotTokenRe = regexp.MustCompile(`^[A-Za-z0-9-]*[0-9][A-Za-z0-9-]*$`)
	bidsRe     = regexp.MustCompile(`(?i)\b([0-9]+)\s*bids?\b`)
	currencyRe = regexp.MustCompile(`\b(USD|GBP|EUR|CAD|AUD)\b`)
	labelRe    = regexp.MustCompile(`(?i)(?:current|asking)\s+bid\s*:?\s*(?:[A-Z]{3}\s*)?[$£€]?\s*([0-9][\d,]*(?:\.\d{1,2})?)`)
)

// labelWindow is how far after a label PercentNearLabel looks for a percentage
const labelWindow = 60

// maxLabelOccurrences bounds how many label hits PercentNearLabel inspects
const maxLabelOccurrences = 3

// ParsePrice extracts the first amount in text, dropping currency symbols and
// thousands separators, rounded to cents.
func ParsePrice(text string) (decimal.Decimal, bool) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// priceNearLabel finds an amount following "Current bid" or "Asking bid"
func priceNearLabel(text string) (decimal.Decimal, bool) {
	m := labelRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	return ParsePrice(m[1])
}

// PercentNearLabel looks at up to three case-insensitive occurrences of label
// in text and returns the first "<number>%" found within the 60 characters
// after one of them. It returns zero when none match.
func PercentNearLabel(text, label string) decimal.Decimal {
	if label == "" {
		return decimal.Zero
	}

	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label))
	for _, loc := range re.FindAllStringIndex(text, maxLabelOccurrences) {
		end := loc[1] + labelWindow
		if end > len(text) {
			end = len(text)
		}
		if m := percentRe.FindStringSubmatch(text[loc[1]:end]); m != nil {
			if d, err := decimal.NewFromString(m[1]); err == nil {
				return d
			}
		}
	}
	return decimal.Zero
}

// lotNumber applies the lot pattern to text. A lot number always carries at
// least one digit, so prose such as "parking lot behind" does not match.
func lotNumber(text string) (string, bool) {
	m := lotRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// bareLotNumber accepts text that is itself a lot number, e.g. "10020"
func bareLotNumber(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !lotTokenRe.MatchString(text) {
		return "", false
	}
	return text, true
}

// bidCount reads a bid count from text: either a bare integer or "<n> bid(s)"
func bidCount(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if n, err := strconv.Atoi(text); err == nil && n >= 0 {
		return n, true
	}
	m := bidsRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// currency returns the first currency code or symbol in text
func currency(text string) (string, bool) {
	if m := currencyRe.FindString(text); m != "" {
		return m, true
	}
	switch {
	case strings.Contains(text, "£"):
		return "GBP", true
	case strings.Contains(text, "€"):
		return "EUR", true
	}
	return "", false
}

// visibleText joins every text node outside script, style and noscript with
// single spaces.
func visibleText(root *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}
