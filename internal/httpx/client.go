package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/version"
)

// Client issues JSON requests to price APIs and private relays. Transient
// failures (network, 429, 5xx) are retried with backoff. A 429 Retry-After
// of up to 5s stretches the wait.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	limiter    *rate.Limiter
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  version.CLIName + "/" + version.CLIVersion,
	}
}

// WithRateLimit paces requests to perSecond with the given burst.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return c
}

type attemptResult struct {
	header    http.Header
	err       error
	retryable bool
	wait      time.Duration
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var last attemptResult
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			if last.wait > wait {
				wait = last.wait
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, clierr.Wrap(clierr.CodeRateLimited, "wait for request budget", err)
			}
		}
		last = c.attempt(ctx, req, out)
		if last.err == nil || !last.retryable {
			return last.header, last.err
		}
	}
	return last.header, last.err
}

func (c *Client) attempt(ctx context.Context, req *http.Request, out any) attemptResult {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return attemptResult{err: clierr.Wrap(clierr.CodeInternal, "clone request body", err)}
		}
		cloneReq.Body = body
	}

	resp, err := c.httpClient.Do(cloneReq)
	if err != nil {
		return attemptResult{err: mapNetError(err), retryable: true}
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	res := attemptResult{header: resp.Header}
	if readErr != nil {
		res.err = clierr.Wrap(clierr.CodeUnavailable, "read response", readErr)
		return res
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		res.err = clierr.New(clierr.CodeRateLimited, "endpoint rate limited request")
		res.retryable = true
		res.wait = retryAfter(resp.Header)
		return res
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		res.err = clierr.New(clierr.CodeAuth, fmt.Sprintf("endpoint rejected credentials (status %d)", code))
		return res
	case code >= http.StatusInternalServerError:
		res.err = clierr.New(clierr.CodeUnavailable, fmt.Sprintf("endpoint unavailable (status %d)", code))
		res.retryable = true
		return res
	case code < 200 || code >= 300:
		res.err = clierr.New(clierr.CodeUnsupported, fmt.Sprintf("endpoint returned unexpected status %d", code))
		return res
	}

	if out == nil {
		return res
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		res.err = clierr.New(clierr.CodeUnavailable, "endpoint returned empty response")
		return res
	}
	if err := json.Unmarshal(buf, out); err != nil {
		res.err = clierr.Wrap(clierr.CodeUnavailable, "decode JSON response", err)
	}
	return res
}

// retryAfter reads a delay-seconds Retry-After header, capped at 5s.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error object returned by a relay or node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// EncodeJSONRPC builds the request body for a single JSON-RPC call. Callers
// that sign the exact body (relay auth headers) encode it first.
func EncodeJSONRPC(method string, params ...any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}
	return json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
}

// DoJSONRPC posts an encoded JSON-RPC body and decodes the result into out.
// A JSON-RPC error object is returned as *RPCError wrapped with CodeUnavailable.
func DoJSONRPC(ctx context.Context, c *Client, url string, body []byte, headers map[string]string, out any) error {
	var resp rpcResponse
	if _, err := DoBodyJSON(ctx, c, http.MethodPost, url, body, headers, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "json-rpc call failed", resp.Error)
	}
	if out == nil {
		return nil
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return clierr.New(clierr.CodeUnavailable, "json-rpc response has no result")
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode json-rpc result", err)
	}
	return nil
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "request timed out", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
