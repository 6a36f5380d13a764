package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fortresshq/fortress-api/internal/signature"
)

// Page is one fetched page: the URL plus the text content handed to the model.
type Page struct {
	URL   string
	Title string
	Text  string
}

// maxPageText caps how much page text is sent to the model per page.
const maxPageText = 12000

// Discoverer crawls a domain and collects page text for analysis.
type Discoverer struct {
	userAgent   string
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewDiscoverer creates a page discoverer.
func NewDiscoverer(userAgent string, parallelism int, timeout time.Duration, logger *slog.Logger) *Discoverer {
	if parallelism <= 0 {
		parallelism = 2
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		userAgent:   userAgent,
		parallelism: parallelism,
		timeout:     timeout,
		logger:      logger,
	}
}

// Discover crawls the domain breadth-first from its root, same-host only,
// and returns up to maxPages pages deduplicated by normalized path.
func (d *Discoverer) Discover(ctx context.Context, domain string, maxPages int) ([]Page, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	seed, err := url.Parse(domain)
	if err != nil || seed.Host == "" {
		return nil, NewValidationError(fmt.Sprintf("cannot crawl %q: not a valid origin", domain))
	}

	var mu sync.Mutex
	var pages []Page
	seen := make(map[string]bool)
	var fetchErr error

	c := colly.NewCollector(
		colly.MaxDepth(3),
		colly.Async(true),
		colly.UserAgent(d.userAgent),
	)
	c.AllowedDomains = []string{seed.Host}
	c.SetRequestTimeout(d.timeout)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: d.parallelism,
		Delay:       200 * time.Millisecond,
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pageURL := e.Request.URL.String()
		key := signature.NormalizePath(pageURL)

		mu.Lock()
		defer mu.Unlock()
		if seen[key] || len(pages) >= maxPages {
			return
		}
		seen[key] = true

		text := extractText(e)
		pages = append(pages, Page{
			URL:   pageURL,
			Title: strings.TrimSpace(e.DOM.Find("title").First().Text()),
			Text:  text,
		})
		d.logger.Debug("page collected", "url", pageURL, "pages", len(pages))
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		mu.Lock()
		full := len(pages) >= maxPages
		mu.Unlock()
		if full {
			return
		}

		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		_ = e.Request.Visit(link)
	})

	c.OnError(func(r *colly.Response, err error) {
		d.logger.Warn("page fetch failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
		mu.Lock()
		defer mu.Unlock()
		// Only a total failure matters; partial fetch errors are tolerated
		if len(pages) == 0 && fetchErr == nil {
			if r.StatusCode > 0 {
				fetchErr = fmt.Errorf("fetching %s: status %d: %w", r.Request.URL, r.StatusCode, err)
			} else {
				fetchErr = fmt.Errorf("fetching %s: %w", r.Request.URL, err)
			}
		}
	})

	if err := c.Visit(domain + "/"); err != nil {
		return nil, Classify(err)
	}
	c.Wait()

	if len(pages) == 0 {
		if fetchErr != nil {
			return nil, Classify(fetchErr)
		}
		return nil, Classify(fmt.Errorf("no pages could be fetched from %s", domain))
	}

	return pages, nil
}

// extractText pulls the visible text of a page, stripping script and style
// content, capped at maxPageText.
func extractText(e *colly.HTMLElement) string {
	doc := e.DOM.Clone()
	doc.Find("script, style, noscript, svg").Remove()

	text := doc.Text()
	fields := strings.Fields(text)
	text = strings.Join(fields, " ")
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	return text
}
