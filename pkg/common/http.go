package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// UserAgent is sent on every outgoing request.
func UserAgent() string {
	return "Dispatcher/" + strings.TrimSpace(version)
}

type apiTransport struct {
	transport http.RoundTripper
	token     string
}

// RoundTrip implements http.RoundTripper.
func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a client for a JSON API. Requests identify the
// dispatcher and carry token as a bearer credential when it is set.
func HTTPClient(timeout time.Duration, token string) *http.Client {
	return &http.Client{
		Transport: &apiTransport{
			transport: http.DefaultTransport,
			token:     token,
		},
		Timeout: timeout,
	}
}
