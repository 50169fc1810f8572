package sources

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/scanner"
)

var arxivIDExpr = regexp.MustCompile(`(\d{4}\.\d{4,5})`)

// AlphaXivSource scrapes the trending-papers page and normalizes every
// linked paper to its canonical arxiv.org/abs URL.
type AlphaXivSource struct {
	trendingURL string
	client      *http.Client
}

var _ scanner.Source = (*AlphaXivSource)(nil)

// NewAlphaXivSource wires an HTTP client; nil defaults to a 20s timeout
// client.
func NewAlphaXivSource(trendingURL string, client *http.Client) *AlphaXivSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &AlphaXivSource{trendingURL: trendingURL, client: client}
}

// Name identifies the strategy inside the registry.
func (a *AlphaXivSource) Name() string {
	return "alphaxiv"
}

// FetchRecent scrapes the trending page once. The page carries no
// timestamps, so since is not applied here; the dedup ledger keeps
// re-listed papers from being reprocessed.
func (a *AlphaXivSource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	doc, err := a.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}

	var signals []domain.Signal
	seen := map[string]struct{}{}
	now := time.Now().UTC()

	doc.Find(`a[href*="arxiv.org/abs/"], a[href*="alphaxiv.org/abs/"]`).Each(func(i int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		match := arxivIDExpr.FindString(href)
		if match == "" {
			return
		}
		url := "https://arxiv.org/abs/" + match
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}

		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = "arXiv:" + match
		}

		signals = append(signals, domain.Signal{
			Source:     domain.SourceAlphaXiv,
			ExternalID: url,
			Title:      title,
			CreatedAt:  now,
			Metadata:   map[string]string{"arxiv_id": match},
		})
	})

	return signals, nil
}

func (a *AlphaXivSource) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.trendingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "SignalScanner/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request trending page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trending page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}
