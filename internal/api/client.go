package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

const (
	listPath   = "/admin/orders-for-deletion"
	deletePath = "/admin/order/files/"

	defaultMaxRetries     = 3
	defaultInitialBackoff = 250 * time.Millisecond
	maxBackoff            = 5 * time.Second
	maxErrorBody          = 64 << 10
	userAgent             = "opsconsole/1"
)

// Options configures a Client. Zero values use defaults.
type Options struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	Logger         core.Logger
	MaxRetries     int
	InitialBackoff time.Duration
}

// Client talks to the backend's cleanup endpoints. Listing is retried on
// transient failures; deletion is sent exactly once.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         core.Logger
	maxRetries     uint64
	initialBackoff time.Duration
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.Timeout > 0 {
		clone := *hc
		clone.Timeout = opts.Timeout
		hc = &clone
	}
	logger := opts.Logger
	if logger == nil {
		logger = mtlog.New()
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}

	return &Client{
		baseURL:        u.String(),
		httpClient:     hc,
		logger:         logger,
		maxRetries:     uint64(retries),
		initialBackoff: initial,
	}, nil
}

// ListOrdersForDeletion fetches one page of orders whose files can be
// cleaned up.
func (c *Client) ListOrdersForDeletion(ctx context.Context, q model.ListQuery) (model.OrderPage, error) {
	endpoint := c.baseURL + listPath + "?" + q.Values().Encode()

	var page model.OrderPage
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.do(ctx, http.MethodGet, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("api: list canceled: %w", ctx.Err()))
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := readError(resp)
			if isRetryable(resp.StatusCode) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		var p model.OrderPage
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return backoff.Permanent(fmt.Errorf("api: decode order page: %w", err))
		}
		page = p.Normalize()
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warning("Retrying order list after {Error} (attempt {Attempt}, waiting {Wait})", err, attempt, wait)
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return model.OrderPage{}, err
	}
	return page, nil
}

// DeleteOrderFiles removes the stored files of one order. It is never
// retried: a request that timed out may still have succeeded.
func (c *Client) DeleteOrderFiles(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("api: delete files: %w", ErrBadRequest)
	}
	endpoint := c.baseURL + deletePath + url.PathEscape(orderID)

	resp, err := c.do(ctx, http.MethodDelete, endpoint)
	if err != nil {
		return fmt.Errorf("api: delete files for %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("{Method} {Endpoint} failed after {Elapsed}: {Error}", method, endpoint, time.Since(start), err)
		return nil, err
	}
	c.logger.Debug("{Method} {Endpoint} -> {Status} in {Elapsed} ({RequestID})", method, endpoint, resp.StatusCode, time.Since(start), reqID)
	return resp, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxInterval = maxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
}

type errorBody struct {
	Message string `json:"message"`
}

// readError turns a non-2xx response into an *Error, keeping the backend's
// message when the body carries one.
func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorBody
	msg := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		msg = body.Message
	}

	return &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    msg,
		Err:        classifyStatus(resp.StatusCode),
	}
}
