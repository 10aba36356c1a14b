// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the swenc proxy client.
//
// A Client fetches URLs through a swenc proxy.  The request is encoded,
// sealed under a passphrase derived key and posted to the proxy, which
// replies with a stream of sealed frames.  Redirects reported by the
// proxy are followed by the client, never by the HTTP transport, since
// the true target travels in the X-Location header.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swenc/client/config"
	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/core/log"
)

const (
	// ProbeMarker must appear in the Location header returned by the
	// proxy root.
	ProbeMarker = "swenc-proxy"

	checkPath = "/swenc-proxy/check"
	proxyPath = "/swenc-proxy/proxy/"

	// maxDrain bounds how much of an unused body is read so the
	// connection can be reused.
	maxDrain = 64 << 10

	maxErrorMessage = 512
)

// Client is a session with one proxy under one key.  It holds no state
// that changes between fetches and is safe for concurrent use.
type Client struct {
	base         *url.URL
	key          *key.Key
	fingerprint  string
	format       codec.Format
	userAgent    string
	maxRedirects int
	maxRequest   int64

	httpClient *http.Client
	closeFn    func() error

	log *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient makes the Client use hc for every exchange.  Redirect
// following is disabled on a copy of hc; hc itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		cp.CheckRedirect = noRedirect
		c.httpClient = &cp
		c.closeFn = nil
	}
}

// WithLogBackend sets the log backend.  The default discards everything.
func WithLogBackend(b *log.Backend) Option {
	return func(c *Client) {
		c.log = b.GetLogger("client")
	}
}

// WithMaxRedirects overrides the configured redirect budget.
func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// New creates a Client for the proxy described by cfg using the key k.
func New(cfg *config.Config, k *key.Key, opts ...Option) (*Client, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, errors.New("client: no configuration")
	}
	if k == nil {
		return nil, errors.New("client: no key")
	}
	base, err := url.Parse(cfg.Server.URL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid server URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	format, err := codec.ParseFormat(cfg.Server.Codec)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		base:         base,
		key:          k,
		fingerprint:  k.Fingerprint(),
		format:       format,
		userAgent:    cfg.Server.UserAgent,
		maxRedirects: config.DefaultMaxRedirects,
		maxRequest:   cfg.Server.MaxRequestSize,
		log:          log.Discard().GetLogger("client"),
	}
	if c.userAgent == "" {
		c.userAgent = config.DefaultUserAgent
	}
	if cfg.Server.MaxRedirects != nil {
		c.maxRedirects = *cfg.Server.MaxRedirects
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRedirects < 0 {
		return nil, fmt.Errorf("client: invalid redirect limit %d", c.maxRedirects)
	}
	if c.httpClient == nil {
		transport := cfg.Transport
		if transport == nil {
			transport = &config.Transport{}
		}
		c.httpClient, c.closeFn, err = newHTTPClient(transport)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Fingerprint returns the fingerprint of the session key.
func (c *Client) Fingerprint() string {
	return c.fingerprint
}

// MaxRequestSize returns the largest sealed request the Client sends, or
// 0 if there is no limit.
func (c *Client) MaxRequestSize() int64 {
	return c.maxRequest
}

// Close releases transport resources held by the Client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// Probe verifies that the server is a swenc proxy before any key
// material is used.  The root must redirect to a location naming the
// proxy.
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.get(ctx, c.endpoint("/", nil))
	if err != nil {
		return &ServerIdentityError{Reason: "unreachable", Err: err}
	}
	defer drainAndClose(resp.Body)

	loc := resp.Header.Get("Location")
	if resp.StatusCode >= http.StatusBadRequest {
		return &ServerIdentityError{Reason: "error status", StatusCode: resp.StatusCode, Location: loc}
	}
	if !strings.Contains(loc, ProbeMarker) {
		return &ServerIdentityError{Reason: "missing proxy marker", StatusCode: resp.StatusCode, Location: loc}
	}
	c.log.Debugf("Probe: %s is a swenc proxy", c.base.Host)
	return nil
}

// Check asks the proxy whether it recognizes the key fingerprint.  A
// rejection is final.
func (c *Client) Check(ctx context.Context) error {
	c.log.Debugf("Checking key %s", c.fingerprint)
	resp, err := c.get(ctx, c.endpoint(checkPath, url.Values{"key": {c.fingerprint}}))
	if err != nil {
		return fmt.Errorf("client: key check failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrKeyRejected, resp.Status)
	}
	return nil
}

// exchange seals req and posts it to the proxy.  The returned response
// body is the raw chunk stream.  Errors raised by the proxy itself are
// returned as a *ProxyError.
func (c *Client) exchange(ctx context.Context, req *codec.Request) (*http.Response, error) {
	body, err := BuildOutbound(req, c.key, c.format)
	if err != nil {
		return nil, err
	}
	if c.maxRequest > 0 && int64(len(body)) > c.maxRequest {
		return nil, fmt.Errorf("%w: %d bytes sealed, limit %d", ErrRequestTooLarge, len(body), c.maxRequest)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(proxyPath, url.Values{"key": {c.fingerprint}}), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("client: proxy request failed: %w", err)
	}
	if reason := resp.Header.Get(HeaderProxyError); reason != "" {
		defer drainAndClose(resp.Body)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorMessage))
		err := &ProxyError{
			StatusCode: resp.StatusCode,
			Reason:     reason,
			Message:    strings.TrimSpace(string(msg)),
		}
		c.log.Debugf("%v", err)
		return nil, err
	}
	return resp, nil
}

// Fetch executes req through the proxy and follows up to the configured
// number of redirects.  Each redirect becomes a GET for the new target
// that keeps the headers of the previous request except those that
// describe a body.  The caller must Close the returned Response.
func (c *Client) Fetch(ctx context.Context, req *codec.Request) (*Response, error) {
	cur := cloneRequest(req)
	for remaining := c.maxRedirects; ; remaining-- {
		resp, err := c.exchange(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp) {
			return newResponse(resp, c.key)
		}

		target := resp.Header.Get(HeaderLocation)
		status := resp.Status
		drainAndClose(resp.Body)
		if target == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingRedirectTarget, status)
		}
		next, err := resolveRedirect(cur.URL, target)
		if err != nil {
			return nil, fmt.Errorf("client: invalid redirect target: %w", err)
		}
		if remaining == 0 {
			return nil, &RedirectLimitError{Limit: c.maxRedirects, URL: next}
		}
		c.log.Debugf("Following redirect %d of %d (%s)", c.maxRedirects-remaining+1, c.maxRedirects, status)
		cur = redirectRequest(cur, next)
	}
}

// FetchURL fetches u with a GET carrying only the session User-Agent.
func (c *Client) FetchURL(ctx context.Context, u string) (*Response, error) {
	req := &codec.Request{URL: u, Method: http.MethodGet}
	req.Add("User-Agent", c.userAgent)
	return c.Fetch(ctx, req)
}

// RoundTrip performs a single exchange without following redirects and
// materializes the decrypted body.  Redirects are returned to the caller
// with the target in the Location header.
func (c *Client) RoundTrip(ctx context.Context, req *codec.Request) (*InboundResponse, error) {
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: reading proxy response: %w", err)
	}
	return DecodeInbound(resp.StatusCode, resp.Header, body, c.key)
}

// isRedirect reports whether the proxy relayed a redirect.  304 carries
// no target and is a regular response.
func isRedirect(resp *http.Response) bool {
	return resp.StatusCode/100 == 3 && resp.StatusCode != http.StatusNotModified
}

func resolveRedirect(current, target string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func cloneRequest(req *codec.Request) *codec.Request {
	out := *req
	out.Headers = append([]codec.Header(nil), req.Headers...)
	return &out
}

func redirectRequest(prev *codec.Request, target string) *codec.Request {
	next := &codec.Request{URL: target, Method: http.MethodGet}
	for _, h := range prev.Headers {
		if isBodyHeader(h.Name) {
			continue
		}
		next.Headers = append(next.Headers, h)
	}
	return next
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, maxDrain)
	_ = body.Close()
}
