package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

const (
	defaultDuckDuckGoBase = "https://duckduckgo.com"
	defaultGoogleBase     = "https://www.google.com"
	userAgent             = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	minImageSide          = 300
)

var (
	vqdPattern       = regexp.MustCompile(`vqd=["']?([\d-]+)["']?`)
	embeddedImageURL = regexp.MustCompile(`"(https?://[^"]+\.(?:jpg|jpeg|png|webp)[^"]*)"`)
	packSizeNoise    = regexp.MustCompile(`(?i)\b\d+\s*(?:tabs?|tablets?|caps?|capsules?|pcs)\b`)
)

// ImageScraper finds product photos on public image search pages. It is the
// fallback searcher when no image-search service is configured or it fails.
type ImageScraper struct {
	client     *http.Client
	ddgBase    string
	googleBase string
	maxResults int
}

func NewImageScraper() *ImageScraper {
	return &ImageScraper{
		client:     &http.Client{Timeout: 20 * time.Second},
		ddgBase:    defaultDuckDuckGoBase,
		googleBase: defaultGoogleBase,
		maxResults: 6,
	}
}

// WithBaseURLs points the scraper at alternative hosts.
func (s *ImageScraper) WithBaseURLs(duckDuckGo, google string) *ImageScraper {
	if duckDuckGo != "" {
		s.ddgBase = strings.TrimRight(duckDuckGo, "/")
	}
	if google != "" {
		s.googleBase = strings.TrimRight(google, "/")
	}
	return s
}

// Search implements domain.ImageSearcher. DuckDuckGo is tried first, Google Images second.
func (s *ImageScraper) Search(ctx context.Context, productName string) ([]string, error) {
	query := BuildQuery(productName)
	if query == "" {
		return nil, fmt.Errorf("empty image query")
	}

	images, err := s.searchDuckDuckGo(ctx, query)
	if err == nil && len(images) > 0 {
		log.Debug().Str("query", query).Int("found", len(images)).Msg("images found on duckduckgo")
		return images, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Warn().Err(err).Str("query", query).Msg("duckduckgo image search failed, trying google")

	images, err = s.searchGoogleImages(ctx, query)
	if err == nil && len(images) > 0 {
		log.Debug().Str("query", query).Int("found", len(images)).Msg("images found on google")
		return images, nil
	}
	if err == nil {
		err = fmt.Errorf("no results")
	}
	return nil, fmt.Errorf("image scrape %q: %w", query, err)
}

// BuildQuery turns a sheet product name into an image search query: pack
// counts are dropped and "pharmacy" is appended to bias toward packshots.
func BuildQuery(productName string) string {
	name := packSizeNoise.ReplaceAllString(productName, " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	return name + " pharmacy"
}

func (s *ImageScraper) get(ctx context.Context, rawURL, referer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,ar;q=0.8")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("status code: %d", resp.StatusCode)
	}
	return resp, nil
}

// searchDuckDuckGo needs the vqd token of the results page before the JSON endpoint answers.
func (s *ImageScraper) searchDuckDuckGo(ctx context.Context, query string) ([]string, error) {
	pageURL := fmt.Sprintf("%s/?q=%s&iax=images&ia=images", s.ddgBase, url.QueryEscape(query))
	resp, err := s.get(ctx, pageURL, "")
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	m := vqdPattern.FindStringSubmatch(string(body))
	if len(m) < 2 {
		return nil, fmt.Errorf("vqd token not found")
	}

	jsURL := fmt.Sprintf("%s/i.js?q=%s&vqd=%s&o=json&p=1&s=0", s.ddgBase, url.QueryEscape(query), url.QueryEscape(m[1]))
	resp, err = s.get(ctx, jsURL, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Results []struct {
			Image     string `json:"image"`
			Thumbnail string `json:"thumbnail"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode duckduckgo results: %w", err)
	}

	images := []string{}
	for _, img := range result.Results {
		if img.Width < minImageSide || img.Height < minImageSide {
			continue
		}
		u := img.Image
		if u == "" {
			u = img.Thumbnail
		}
		if strings.HasPrefix(u, "http") {
			images = append(images, u)
			if len(images) >= s.maxResults {
				break
			}
		}
	}
	return images, nil
}

func (s *ImageScraper) searchGoogleImages(ctx context.Context, query string) ([]string, error) {
	pageURL := fmt.Sprintf("%s/search?tbm=isch&q=%s&safe=active", s.googleBase, url.QueryEscape(query))
	resp, err := s.get(ctx, pageURL, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	images := []string{}
	add := func(u string) {
		if len(images) >= s.maxResults || seen[u] || !usable(u) {
			return
		}
		seen[u] = true
		images = append(images, u)
	}

	doc.Find("img[data-src], img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("data-src"); ok && strings.HasPrefix(src, "http") {
			add(src)
			return
		}
		if src, ok := sel.Attr("src"); ok && strings.HasPrefix(src, "http") {
			add(src)
		}
	})
	// full-size URLs also live in the page's inline JSON
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		for _, m := range embeddedImageURL.FindAllStringSubmatch(sel.Text(), -1) {
			add(m[1])
		}
	})
	return images, nil
}

func usable(u string) bool {
	l := strings.ToLower(u)
	return !strings.Contains(l, "logo") && !strings.Contains(l, "icon") && !strings.Contains(l, "gstatic.com")
}
