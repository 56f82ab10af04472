// Package fetcher retrieves file bytes over HTTP with the user's session,
// recovering once from interstitial pages that wrap the real download.
package fetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"bulk-downloader/config"
	"bulk-downloader/utils"
)

var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrNetwork          = errors.New("network error")
	ErrWrongContentType = errors.New("received HTML page instead of file")
	ErrEmptyPayload     = errors.New("received empty payload")
)

var rawDownloadHref = regexp.MustCompile(`href="([^"]*uc[^"]*export=download[^"]*)"`)

type Options struct {
	Timeout       time.Duration
	RateLimit     int
	UserAgent     string
	SessionCookie string
}

type Fetcher struct {
	client        *http.Client
	limiter       *rate.Limiter
	userAgent     string
	sessionCookie string
}

func New(opts Options) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "BulkDownloader/1.0"
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:       rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit*2),
		userAgent:     opts.UserAgent,
		sessionCookie: opts.SessionCookie,
	}, nil
}

func FromConfig(cfg *config.Config) (*Fetcher, error) {
	return New(Options{
		Timeout:       cfg.Timeout(),
		RateLimit:     cfg.RateLimit,
		UserAgent:     cfg.UserAgent,
		SessionCookie: cfg.SessionCookie,
	})
}

// Jar holds the cookies the session picked up, for other clients acting for
// the same user.
func (f *Fetcher) Jar() http.CookieJar {
	return f.client.Jar
}

// SessionCookie is the configured Cookie header, empty when none is set.
func (f *Fetcher) SessionCookie() string {
	return f.sessionCookie
}

// Fetch returns the bytes behind rawURL. An HTML response is searched for an
// embedded direct-download link which is tried once.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := f.fetch(ctx, rawURL, true)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", rawURL).Int("bytes", len(data)).Msg("fetched file")
	return data, nil
}

// FetchBlob is Fetch with the payload base64-encoded for message transport.
func (f *Fetcher) FetchBlob(ctx context.Context, rawURL string) (string, error) {
	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FetchDocument loads an HTML page, such as a collection page to scan.
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := f.do(ctx, rawURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}
	doc.Url = resp.Request.URL
	return doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, recoverHTML bool) ([]byte, error) {
	resp, err := f.do(ctx, rawURL, "*/*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNetwork, rawURL, err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if recoverHTML {
			if next := findDownloadLink(body, resp.Request.URL); next != "" {
				log.Debug().Str("url", rawURL).Str("retry", next).Msg("interstitial page, following download link")
				return f.fetch(ctx, next, false)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrWrongContentType, rawURL)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPayload, rawURL)
	}
	return body, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if !utils.IsValidURL(rawURL) {
		return nil, fmt.Errorf("%w: invalid url %q", ErrNetwork, rawURL)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Cache-Control", "no-cache")
	if f.sessionCookie != "" {
		req.Header.Set("Cookie", f.sessionCookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrAuthRequired, resp.StatusCode, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrNetwork, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// findDownloadLink looks for the confirm link an interstitial page carries,
// first through the parsed document and then through the raw markup.
func findDownloadLink(body []byte, base *url.URL) string {
	var found string

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find(`a[href*="export=download"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if strings.Contains(href, "uc") {
				found = href
				return false
			}
			return true
		})

		if found == "" {
			found = formTarget(doc.Find(`form#download-form, form[action*="download"]`).First())
		}
	}

	if found == "" {
		if m := rawDownloadHref.FindSubmatch(body); m != nil {
			found = strings.ReplaceAll(string(m[1]), "&amp;", "&")
		}
	}
	if found == "" {
		return ""
	}

	ref, err := url.Parse(found)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String()
}

// formTarget turns a confirmation form into the GET URL it would submit.
func formTarget(form *goquery.Selection) string {
	if form.Length() == 0 {
		return ""
	}
	action, _ := form.Attr("action")
	if action == "" {
		return ""
	}

	values := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(i int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := input.Attr("value")
		values.Set(name, value)
	})
	if len(values) == 0 {
		return action
	}

	sep := "?"
	if strings.Contains(action, "?") {
		sep = "&"
	}
	return action + sep + values.Encode()
}
