package titles

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	fetchTimeout   = 10 * time.Second
	maxRedirects   = 5
	maxBodyBytes   = 1 << 20
	maxSuggestions = 6
	minTitleLength = 3
	maxTitleLength = 100

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	untitledLink = "Untitled Link"
)

// Fetcher produces candidate titles for a destination page. It is a
// best-effort side component: fetches are bounded by a hard timeout and a
// redirect cap, and every failure path degrades to titles derived from the
// URL itself instead of an error.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Suggest fetches the page at rawURL and extracts candidate titles from it,
// in priority order: title tag, Open Graph title, Twitter card title, the
// first headings, a truncated meta description and a domain-derived label.
// It always returns a non-empty list and never fails.
func (f *Fetcher) Suggest(ctx context.Context, rawURL string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fallbackTitles(rawURL)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("failed to fetch page for title suggestions", slog.String("url", rawURL), slog.Any("err", err))
		return fallbackTitles(rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fallbackTitles(rawURL)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return fallbackTitles(rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.logger.Warn("failed to parse page for title suggestions", slog.String("url", rawURL), slog.Any("err", err))
		return fallbackTitles(rawURL)
	}

	return cleanTitles(collectCandidates(doc, rawURL))
}

func collectCandidates(doc *goquery.Document, rawURL string) []string {
	var candidates []string

	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if pageTitle != "" {
		candidates = append(candidates, pageTitle)
	}

	if ogTitle, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(ogTitle) != "" {
		candidates = append(candidates, strings.TrimSpace(ogTitle))
	}

	if twitterTitle, ok := doc.Find(`meta[name="twitter:title"]`).Attr("content"); ok && strings.TrimSpace(twitterTitle) != "" {
		candidates = append(candidates, strings.TrimSpace(twitterTitle))
	}

	doc.Find("h1").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= 3 {
			return false
		}
		if heading := strings.TrimSpace(sel.Text()); heading != "" && utf8.RuneCountInString(heading) <= maxTitleLength {
			candidates = append(candidates, heading)
		}
		return true
	})

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		desc = strings.TrimSpace(desc)
		if desc != "" {
			if utf8.RuneCountInString(desc) > 60 {
				desc = truncateRunes(desc, 60) + "..."
			}
			candidates = append(candidates, desc)
		}
	}

	if domainTitle := domainTitle(rawURL, pageTitle); domainTitle != "" {
		candidates = append(candidates, domainTitle)
	}

	return candidates
}

// domainTitle builds a "host - first words of the page title" label.
func domainTitle(rawURL, pageTitle string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	suffix := "Link"
	if pageTitle != "" {
		words := strings.Fields(pageTitle)
		if len(words) > 4 {
			words = words[:4]
		}
		suffix = strings.Join(words, " ")
	}

	return strings.TrimPrefix(u.Hostname(), "www.") + " - " + suffix
}

// cleanTitles normalizes whitespace, clamps length, drops too-short entries
// and duplicates, and caps the result at maxSuggestions.
func cleanTitles(candidates []string) []string {
	cleaned := make([]string, 0, maxSuggestions)
	seen := make(map[string]struct{}, len(candidates))

	for _, title := range candidates {
		if len(cleaned) == maxSuggestions {
			break
		}

		title = strings.Join(strings.Fields(title), " ")
		if utf8.RuneCountInString(title) > maxTitleLength {
			title = truncateRunes(title, maxTitleLength)
		}
		if utf8.RuneCountInString(title) < minTitleLength {
			continue
		}

		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}

		cleaned = append(cleaned, title)
	}

	if len(cleaned) == 0 {
		cleaned = append(cleaned, untitledLink)
	}

	return cleaned
}

// truncateRunes cuts s after n runes, never mid-rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// fallbackTitles derives candidates purely from the URL, for when the page
// cannot be fetched or parsed.
func fallbackTitles(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return []string{untitledLink, "Saved Link"}
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")

	page := "Page"
	if segments := strings.Split(strings.Trim(u.Path, "/"), "/"); segments[len(segments)-1] != "" {
		page = segments[len(segments)-1]
	}

	return []string{
		host,
		"Link from " + host,
		host + " - " + page,
		"Saved Link",
	}
}
