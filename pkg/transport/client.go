// Package transport performs single HTTP GET exchanges against the API and
// classifies their failures. It never throttles and never retries on its
// own; callers layer those on top.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/rs/zerolog"
)

// DefaultAcceptEncoding is advertised on every request. Bodies are returned
// still encoded; pagination decodes them.
const DefaultAcceptEncoding = "gzip, deflate"

// Config holds the transport configuration.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for response headers and reading the body.
	ReadTimeout time.Duration

	// ProxyURL routes requests through an HTTP proxy when set.
	ProxyURL string

	// AcceptEncoding overrides DefaultAcceptEncoding.
	AcceptEncoding string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		AcceptEncoding: DefaultAcceptEncoding,
	}
}

// UserAgentFor derives the default user agent from an application key.
func UserAgentFor(version, key string) string {
	if key == "" {
		return "stackcache/" + version
	}
	return "stackcache/" + version + " (+" + key + ")"
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode      int
	Header          http.Header
	Body            []byte
	ContentEncoding string
	Duration        time.Duration
}

// Client executes Descriptors over HTTP.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.ConnectTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be positive (connect %v, read %v)", cfg.ConnectTimeout, cfg.ReadTimeout)
	}
	if cfg.AcceptEncoding == "" {
		cfg.AcceptEncoding = DefaultAcceptEncoding
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		// keep the body encoded so Content-Encoding stays visible to the caller
		DisableCompression: true,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		config: cfg,
		logger: logger.With().Str("component", "transport").Logger(),
	}, nil
}

// Do sends the GET request described by d and reads the whole body.
// Non-2xx responses return an *Error of class client, server or rate_limit;
// failures below HTTP return an *Error of class network. For non-2xx
// responses the read Response is returned alongside the error.
func (c *Client) Do(ctx context.Context, d request.Descriptor) (*Response, error) {
	resource := d.Resource
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", c.config.AcceptEncoding)

	c.logger.Debug().
		Str("resource", resource).
		Str("url", d.URL).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.networkFailure(resource, d.URL, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.networkFailure(resource, d.URL, "read body", err)
	}

	out := &Response{
		StatusCode:      resp.StatusCode,
		Header:          resp.Header,
		Body:            body,
		ContentEncoding: resp.Header.Get("Content-Encoding"),
		Duration:        time.Since(start),
	}
	requestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := ClassifyStatus(resp.StatusCode)
		if class == "" {
			// 1xx/3xx are not followed through here
			class = ErrorClassClient
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("resource", resource).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")
		return out, &Error{
			StatusCode:      resp.StatusCode,
			Class:           class,
			Message:         resp.Status,
			URL:             d.URL,
			Body:            body,
			ContentEncoding: out.ContentEncoding,
		}
	}

	return out, nil
}

func (c *Client) networkFailure(resource, rawURL, message string, err error) error {
	if errors.Is(err, context.Canceled) {
		// caller gave up; not a network fault
		return err
	}
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	requestsTotal.WithLabelValues(resource, "network_error").Inc()
	c.logger.Error().Err(err).Str("resource", resource).Msg("HTTP request failed")
	e := NetworkError(message, err)
	e.URL = rawURL
	return e
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
