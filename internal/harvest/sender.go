package harvest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// retryStatuses are the collector responses that ask for a resend.
var retryStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusServiceUnavailable:  true, // 503
}

// ShouldRetry reports whether a collector status asks for a resend.
func ShouldRetry(status int) bool {
	return retryStatuses[status]
}

// NewHTTPClient builds the harvest HTTP client with HTTP/2 enabled on TLS
// connections.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		IdleConnTimeout: 90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// HTTPSender posts payloads as the form value "e".
type HTTPSender struct {
	client     *http.Client
	endpoint   string
	licenseKey string
	version    string
}

// NewHTTPSender creates a sender posting to endpoint. version is sent as
// the "v" query parameter, licenseKey as "a".
func NewHTTPSender(client *http.Client, endpoint, licenseKey, version string) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{client: client, endpoint: endpoint, licenseKey: licenseKey, version: version}
}

// Send implements Sender. A transport error yields Sent=false.
func (h *HTTPSender) Send(ctx context.Context, p Payload) (Result, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("parse harvest endpoint: %w", err)
	}
	q := u.Query()
	q.Set("a", h.licenseKey)
	q.Set("v", h.version)
	u.RawQuery = q.Encode()

	body := url.Values{"e": {p.Body}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build harvest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send harvest: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{
		Sent:       true,
		Retry:      ShouldRetry(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}, nil
}
