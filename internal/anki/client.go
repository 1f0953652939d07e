package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURL     = "http://localhost:8765"
	DefaultTimeout = 10 * time.Second
	apiVersion     = 6
)

// Client AnkiConnect 的同步请求/响应封装
// Client is a synchronous request/response wrapper over the AnkiConnect API.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

type Options struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	url := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if url == "" {
		url = DefaultURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{url: url, httpClient: httpClient, timeout: timeout, logger: logger}
}

func (c *Client) URL() string { return c.url }

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// call performs one AnkiConnect action and decodes result into out (when non-nil).
func (c *Client) call(ctx context.Context, action string, params any, out any) error {
	raw, err := c.do(ctx, action, params)
	if err != nil {
		return err
	}
	if raw.Error != nil && *raw.Error != "" {
		return &Error{Kind: KindRemote, Action: action, Msg: *raw.Error}
	}
	if out == nil || len(raw.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Result, out); err != nil {
		return &Error{Kind: KindProtocol, Action: action, Msg: "decode result: " + err.Error(), Err: err}
	}
	return nil
}

// do returns the undecoded envelope so callers like addNotes can read partial results
// even when the error field is set.
func (c *Client) do(ctx context.Context, action string, params any) (response, error) {
	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return response{}, &Error{Kind: KindValidation, Action: action, Msg: "marshal params: " + err.Error(), Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return response{}, &Error{Kind: KindValidation, Action: action, Msg: "new request: " + err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return response{}, ctxErr
		}
		return response{}, c.transportErr(action, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("anki request", "action", action, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return response{}, &Error{Kind: KindProtocol, Action: action, Msg: fmt.Sprintf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return response{}, &Error{Kind: KindProtocol, Action: action, Msg: "decode response: " + err.Error(), Err: err}
	}
	return out, nil
}

func (c *Client) transportErr(action string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{
			Kind:   KindUnreachable,
			Action: action,
			Msg:    fmt.Sprintf("Anki is not responding (timed out after %s). Anki may be busy or frozen.", c.timeout),
			Err:    err,
		}
	}
	return &Error{
		Kind:   KindUnreachable,
		Action: action,
		Msg:    "Cannot connect to Anki. Make sure Anki is running with AnkiConnect installed.",
		Err:    err,
	}
}

// Ping returns the AnkiConnect API version.
func (c *Client) Ping(ctx context.Context) (int, error) {
	var version int
	if err := c.call(ctx, "version", nil, &version); err != nil {
		return 0, err
	}
	return version, nil
}

// Sync triggers AnkiWeb synchronization. It carries no payload.
func (c *Client) Sync(ctx context.Context) error {
	return c.call(ctx, "sync", nil, nil)
}
