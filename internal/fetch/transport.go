package fetch

import (
	"net/http"

	"github.com/filerskeepers/bookwatch/internal/ratelimit"
)

// throttledTransport paces every outbound request through one shared
// token bucket. Crawl and detection workers all serialize here, so the
// source site never sees more than the configured request rate no
// matter how wide the callers fan out.
type throttledTransport struct {
	http.RoundTripper
	pacer *ratelimit.Pacer
}

func (t *throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.pacer.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}

// headerTransport stamps the crawler identity on every request.
type headerTransport struct {
	http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.userAgent)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return t.RoundTripper.RoundTrip(r)
}
