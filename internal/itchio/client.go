// Package itchio wraps HTTP access to the itch.io site and API.
package itchio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Well-known itch.io endpoints.
const (
	BaseHost = "itch.io"
	BaseURL  = "https://" + BaseHost
	APIURL   = "https://api." + BaseHost
)

// APITimeout bounds API calls. File transfers carry no timeout; payloads
// can be arbitrarily large.
const APITimeout = 15 * time.Second

// RequestOptions tune a single Get call.
type RequestOptions struct {
	// Params are appended to the request URL as query parameters.
	Params url.Values
	// Timeout bounds the whole request when > 0.
	Timeout time.Duration
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// FinalURL is the request URL after redirects.
	FinalURL string
}

// Client issues retrying GET requests against itch.io.
type Client struct {
	apiKey    string
	userAgent string
	baseURL   string
	http      *http.Client
	retry     *retryPolicy
	logger    *zap.Logger
}

// NewClient builds a Client. Relative endpoints resolve against the
// itch.io API; absolute URLs are fetched as given.
func NewClient(apiKey, userAgent string, logger *zap.Logger) *Client {
	return &Client{
		apiKey:    apiKey,
		userAgent: userAgent,
		baseURL:   APIURL,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		retry:  newRetryPolicy(),
		logger: logger,
	}
}

// SetBaseURL overrides the API base the client resolves relative
// endpoints against. Tests point it at a local server.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// SetHTTPClient swaps the underlying http.Client. Tests install
// transports that reroute absolute URLs to a local server.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// Get fetches endpoint, buffering the whole body. Non-2xx statuses are
// returned to the caller, not turned into errors; only exhausted transport
// retries produce an error. When attachKey is set and an API key is
// available it is appended as the api_key query parameter.
func (c *Client) Get(ctx context.Context, endpoint string, attachKey bool, opts *RequestOptions) (*Response, error) {
	resp, err := c.do(ctx, endpoint, attachKey, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body for %s: %w", endpoint, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// GetJSON fetches endpoint with the API timeout and decodes the body.
// A non-2xx status is an error here: JSON endpoints are expected to answer.
func (c *Client) GetJSON(ctx context.Context, endpoint string, attachKey bool, params url.Values, out any) error {
	resp, err := c.Get(ctx, endpoint, attachKey, &RequestOptions{Params: params, Timeout: APITimeout})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", endpoint, resp.Status)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Stream fetches endpoint without a timeout and hands the caller the open
// response. The caller owns closing the body.
func (c *Client) Stream(ctx context.Context, endpoint string, attachKey bool, params url.Values) (*http.Response, error) {
	return c.do(ctx, endpoint, attachKey, &RequestOptions{Params: params})
}

func (c *Client) do(ctx context.Context, endpoint string, attachKey bool, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	target, err := c.buildURL(endpoint, attachKey, opts.Params)
	if err != nil {
		return nil, err
	}
	reqCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(reqCtx, target)
		if err == nil {
			if c.retry.shouldRetryStatus(resp.StatusCode, attempt) {
				c.logger.Debug("retrying request",
					zap.String("url", endpoint),
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt+1))
				resp.Body.Close() //nolint:errcheck
				lastErr = fmt.Errorf("GET %s: %s", endpoint, resp.Status)
			} else {
				if cancel != nil {
					// Tie cancellation to body closure so streaming
					// callers keep a live context.
					resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
				}
				return resp, nil
			}
		} else {
			if !c.retry.shouldRetryError(err, attempt) {
				if cancel != nil {
					cancel()
				}
				return nil, fmt.Errorf("GET %s: %w", endpoint, err)
			}
			c.logger.Debug("retrying request",
				zap.String("url", endpoint),
				zap.Error(err),
				zap.Int("attempt", attempt+1))
			lastErr = err
		}
		if attempt+1 >= c.retry.maxAttempts {
			if cancel != nil {
				cancel()
			}
			return nil, fmt.Errorf("GET %s: retries exhausted: %w", endpoint, lastErr)
		}
		select {
		case <-reqCtx.Done():
			if cancel != nil {
				cancel()
			}
			return nil, fmt.Errorf("GET %s: %w", endpoint, reqCtx.Err())
		case <-time.After(c.retry.backoff(attempt)):
		}
	}
}

func (c *Client) attempt(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return c.http.Do(req)
}

func (c *Client) buildURL(endpoint string, attachKey bool, params url.Values) (string, error) {
	raw := endpoint
	if !strings.HasPrefix(raw, "http") {
		raw = c.baseURL + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", endpoint, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	if attachKey && c.apiKey != "" && q.Get("api_key") == "" {
		q.Set("api_key", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
