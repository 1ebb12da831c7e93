package connectivity

import (
	"context"
	"net/http"
	"time"
)

// HTTPProber probes reachability of the remote store's health endpoint.
type HTTPProber struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProber creates an HTTPProber for the given URL. The timeout
// bounds each probe; it defaults to 5 seconds.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Probe implements Prober. Any completed HTTP exchange below the server
// error range counts as online; transport errors count as offline.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
