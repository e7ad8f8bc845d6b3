package fetcher

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// DefaultFetchTimeout bounds one page retrieval
const DefaultFetchTimeout = 30 * time.Second

var (
	asi3TitleSelectors = []string{"h1.lot-title", ".lot-title h1", "h1[itemprop='name']"}
	asi3LotSelectors   = []string{".lot-number", ".lot__number", `span:contains("Lot")`}
	asi3PriceSelectors = []string{".current-bid", ".asking-bid", ".lot-bid span"}
	asi3BidsSelectors  = []string{".bid-count", ".bidding-history-count", `span:contains("bids")`}
)

// ASI3 reads timed-lot pages from ASI3 / BidSpotter style auction sites
type ASI3 struct {
	Base

	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*resty.Client // keyed by proxy URL, "" for direct
}

// NewASI3 creates the fetcher; timeout <= 0 uses DefaultFetchTimeout
func NewASI3(timeout time.Duration) *ASI3 {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ASI3{
		timeout: timeout,
		now:     time.Now,
		clients: make(map[string]*resty.Client),
	}
}

// Site implements Fetcher
func (f *ASI3) Site() types.SiteCode { return types.SiteASI3 }

// Fetch implements Fetcher
func (f *ASI3) Fetch(ctx context.Context, itemURL string, opts RequestOptions) (*models.BidSnapshot, error) {
	resp, err := f.client(opts.Proxy).R().
		SetContext(ctx).
		SetHeaders(opts.Headers).
		Get(itemURL)
	if err != nil {
		return nil, errors.NewNetworkFailure(itemURL, 0, err)
	}
	if !resp.IsSuccess() {
		return nil, errors.NewNetworkFailure(itemURL, resp.StatusCode(), nil)
	}

	return ParseASI3(itemURL, resp.Body(), f.now())
}

// client returns the resty client for proxy, creating it on first use
func (f *ASI3) client(proxy string) *resty.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxy]; ok {
		return c
	}

	c := resty.New().
		SetTimeout(f.timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if proxy != "" {
		c.SetProxy(proxy)
	}
	f.clients[proxy] = c
	return c
}

// ParseASI3 extracts a snapshot from an ASI3 lot page captured at now
func ParseASI3(itemURL string, body []byte, now time.Time) (*models.BidSnapshot, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewParseFailure(itemURL, []string{"document"})
	}
	doc := goquery.NewDocumentFromNode(root)
	text := visibleText(root)

	var missing []string

	title := firstText(doc, asi3TitleSelectors)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		missing = append(missing, "item_title")
	}

	lot := ""
	if raw := firstText(doc, asi3LotSelectors); raw != "" {
		if n, ok := lotNumber(raw); ok {
			lot = n
		} else if n, ok := bareLotNumber(raw); ok {
			lot = n
		}
	}
	if lot == "" {
		lot, _ = lotNumber(text)
	}
	if lot == "" {
		missing = append(missing, "lot_number")
	}

	priceText := firstText(doc, asi3PriceSelectors)
	price, ok := ParsePrice(priceText)
	if !ok {
		price, ok = priceNearLabel(text)
	}
	if !ok {
		missing = append(missing, "current_price")
	}

	if len(missing) > 0 {
		return nil, errors.NewParseFailure(itemURL, missing)
	}

	cur, ok := currency(priceText)
	if !ok {
		if cur, ok = currency(text); !ok {
			cur = "USD"
		}
	}

	bids, ok := bidCount(firstText(doc, asi3BidsSelectors))
	if !ok {
		bids, _ = bidCount(text)
	}

	return &models.BidSnapshot{
		Timestamp:     now.UTC().Truncate(time.Microsecond),
		ItemTitle:     title,
		LotNumber:     lot,
		Currency:      cur,
		CurrentPrice:  price,
		SalesTax:      PercentNearLabel(text, "Sales tax"),
		BuyersPremium: PercentNearLabel(text, "Buyer's premium"),
		TotalBids:     bids,
	}, nil
}

// firstText returns the whitespace-normalised text of the first selector that
// matches a non-empty node.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if s := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); s != "" {
			return s
		}
	}
	return ""
}
