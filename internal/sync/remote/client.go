// Package remote implements the sync backend over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	fsync "github.com/kimhsiao/fitsync/internal/sync"
)

const (
	pushPath = "/v1/sync/push"
	pullPath = "/v1/sync/pull"

	maxErrorBody = 4 << 10
)

// Config holds backend connection configuration.
type Config struct {
	BaseURL string
	Token   string
	// RetryMax bounds transport-level retries of a single request.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client implements fsync.Remote against the FitSync HTTP API.
type Client struct {
	config     Config
	base       *url.URL
	httpClient *retryablehttp.Client
}

type pushRequest struct {
	Items []fsync.PushItem `json:"items"`
}

type pushResponse struct {
	Results []fsync.PushResult `json:"results"`
}

// NewClient creates a new Client.
func NewClient(config Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid sync base url %q", config.BaseURL)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.Logger = leveledLogger{}
	rc.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		rc.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		rc.RetryWaitMax = config.RetryWaitMax
	}
	// Keep the final response so status codes can be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{config: config, base: base, httpClient: rc}, nil
}

// Push sends one batch of dirty records.
func (c *Client) Push(ctx context.Context, items []fsync.PushItem) ([]fsync.PushResult, error) {
	body, err := json.Marshal(pushRequest{Items: items})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode push batch", err)
	}

	var resp pushResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(pushPath, nil), body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pull fetches one page of changes after cursor.
func (c *Client) Pull(ctx context.Context, collection, cursor string, limit int) (*fsync.PullPage, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("cursor", cursor)
	q.Set("limit", strconv.Itoa(limit))

	var page fsync.PullPage
	if err := c.do(ctx, http.MethodGet, c.endpoint(pullPath, q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var payload interface{}
	if body != nil {
		payload = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return classifyTransport(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to decode "+method+" response", err)
	}
	return nil
}

// classifyTransport maps transport failures to connectivity errors. Context
// cancellation is passed through untouched.
func classifyTransport(method string, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.ErrConnectivity, method+" request failed", err)
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return apperrors.Wrap(apperrors.ErrConnectivity, method+" request failed", err)
	}
	return apperrors.Wrap(apperrors.ErrSyncFailed, method+" request failed", err)
}

func statusError(method string, code int, body string) error {
	msg := fmt.Sprintf("%s failed with status %d", method, code)
	if body != "" {
		msg += ": " + body
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.New(apperrors.ErrConnectivity, msg)
	}
	return apperrors.New(apperrors.ErrSyncFailed, msg)
}

// leveledLogger routes retryablehttp logs through the app logger.
type leveledLogger struct{}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.Warn(msg, kvFields(keysAndValues))
}

func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug(msg, kvFields(keysAndValues))
}

func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.Debug(msg, kvFields(keysAndValues))
}

func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.Warn(msg, kvFields(keysAndValues))
}
