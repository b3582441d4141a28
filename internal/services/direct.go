package services

import (
	"context"
	"time"

	"resty.dev/v3"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// PageClient issues plain HTTP requests for the B3 page, no script execution
type PageClient struct {
	client *resty.Client
}

// NewPageClient creates a client with a fixed per-request timeout and
// browser-like headers. It does not retry: the fallback chain is the retry.
func NewPageClient(timeout time.Duration) *PageClient {
	client := resty.New().
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"User-Agent":                defaultUserAgents[0],
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language":           "pt-BR,pt;q=0.9,en;q=0.8",
			"Connection":                "keep-alive",
			"Upgrade-Insecure-Requests": "1",
		})

	return &PageClient{client: client}
}

// Get fetches pageURL with the given query parameters and returns the body
func (p *PageClient) Get(ctx context.Context, pageURL string, params map[string]string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(pageURL)
	if err != nil {
		return "", ClassifyRequestError(err)
	}

	if !resp.IsSuccess() {
		return "", NewStatusError(resp.StatusCode())
	}

	body := resp.String()
	if body == "" {
		return "", NewEmptyError("empty response body")
	}
	return body, nil
}

// Close releases the underlying HTTP client
func (p *PageClient) Close() error {
	return p.client.Close()
}
