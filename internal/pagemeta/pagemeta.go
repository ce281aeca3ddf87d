// Package pagemeta looks up page titles for tabs saved without one.
package pagemeta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/lotas/tabgrouper/internal/applog"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var skipPrefixes = []string{"about:", "moz-extension:", "file:", "chrome:", "resource:", "data:"}

// Fetcher fetches pages over HTTP.
type Fetcher struct {
	Client *http.Client
}

// New returns a Fetcher with a 15 second timeout.
func New() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 15 * time.Second}}
}

// Title fetches url and returns its readable title.
func (f *Fetcher) Title(ctx context.Context, url string) (string, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return "", fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, nil)
	if err != nil {
		return "", fmt.Errorf("extract readable content from %s: %w", url, err)
	}
	title := strings.TrimSpace(article.Title)
	if title == "" {
		return "", fmt.Errorf("no title in %s", url)
	}
	return title, nil
}

// TitleOrURL returns the page title, or url itself when it cannot be
// fetched.
func (f *Fetcher) TitleOrURL(ctx context.Context, url string) string {
	title, err := f.Title(ctx, url)
	if err != nil {
		applog.Warn("pagemeta.title", "url", url, "err", err.Error())
		return url
	}
	return title
}
