// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package httpproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swenc/client"
	"github.com/katzenpost/swenc/client/config"
	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/core/log"
	"github.com/katzenpost/swenc/server"
	sConfig "github.com/katzenpost/swenc/server/config"
)

type fakeRoundTripper struct {
	req  *codec.Request
	resp *client.InboundResponse
	err  error
}

func (f *fakeRoundTripper) RoundTrip(ctx context.Context, req *codec.Request) (*client.InboundResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestServeHTTP(t *testing.T) {
	require := require.New(t)

	rt := &fakeRoundTripper{resp: &client.InboundResponse{
		StatusCode: http.StatusCreated,
		Header: http.Header{
			"Content-Type":   {"text/plain"},
			"Content-Length": {"999"},
			"Connection":     {"close"},
			"Set-Cookie":     {"a=1", "b=2"},
		},
		Body: []byte("created"),
	}}
	h := New(rt, nil)

	r := httptest.NewRequest(http.MethodPost, "http://example.com/items?x=1", strings.NewReader("payload"))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Proxy-Authorization", "Basic Zm9vOmJhcg==")
	r.Header.Set("Connection", "X-Private")
	r.Header.Set("X-Private", "secret")
	r.Header.Add("Accept", "a")
	r.Header.Add("Accept", "b")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal("http://example.com/items?x=1", rt.req.URL)
	require.Equal(http.MethodPost, rt.req.Method)
	require.Equal([]byte("payload"), rt.req.Body)
	require.Equal([]codec.Header{
		{Name: "Accept", Value: "a"},
		{Name: "Accept", Value: "b"},
		{Name: "Content-Type", Value: "application/json"},
	}, rt.req.Headers)

	res := w.Result()
	require.Equal(http.StatusCreated, res.StatusCode)
	require.Equal("text/plain", res.Header.Get("Content-Type"))
	require.Equal([]string{"a=1", "b=2"}, res.Header.Values("Set-Cookie"))
	require.Empty(res.Header.Get("Connection"))
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal("created", string(body))
}

func TestServeHTTPErrors(t *testing.T) {
	t.Run("Connect", func(t *testing.T) {
		h := New(&fakeRoundTripper{}, log.Discard())
		r := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Host: "example.com:443"},
			Host:   "example.com:443",
			Header: make(http.Header),
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("NotProxyForm", func(t *testing.T) {
		h := New(&fakeRoundTripper{}, log.Discard())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/relative", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Exchange", func(t *testing.T) {
		h := New(&fakeRoundTripper{err: errors.New("boom")}, log.Discard())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
		require.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("ProxyRefused", func(t *testing.T) {
		err := &client.ProxyError{StatusCode: http.StatusForbidden, Reason: "forbidden"}
		h := New(&fakeRoundTripper{err: err}, log.Discard())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
		require.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		rt := &fakeRoundTripper{}
		h := New(rt, log.Discard(), WithMaxBodySize(4))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example.com/", strings.NewReader("too long")))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Nil(t, rt.req)
	})

	t.Run("SealedTooLarge", func(t *testing.T) {
		err := &client.ProxyError{StatusCode: http.StatusRequestEntityTooLarge, Reason: "too_large"}
		h := New(&fakeRoundTripper{err: err}, log.Discard())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example.com/", strings.NewReader("x")))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestThroughProxy(t *testing.T) {
	require := require.New(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		io.WriteString(w, "hello world")
	}))
	defer upstream.Close()

	const passphrase = "correct horse"
	sCfg := &sConfig.Config{
		Server: &sConfig.Server{Address: "127.0.0.1:0"},
		KeyDB: &sConfig.KeyDB{
			Users: []*sConfig.User{{Name: "alice", Passphrase: passphrase}},
		},
		Debug: &sConfig.Debug{ReplayFilterSize: 16},
	}
	require.NoError(sCfg.FixupAndValidate())
	s, err := server.New(sCfg, nil, log.Discard())
	require.NoError(err)
	defer s.Shutdown()
	proxy := httptest.NewServer(s.Handler())
	defer proxy.Close()

	cfg, err := config.New(proxy.URL)
	require.NoError(err)
	c, err := client.New(cfg, key.Derive(passphrase))
	require.NoError(err)
	defer c.Close()

	local := httptest.NewServer(New(c, log.Discard()))
	defer local.Close()
	localURL, err := url.Parse(local.URL)
	require.NoError(err)

	browser := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(localURL)},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := browser.Get(upstream.URL + "/page")
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal("hello world", string(body))

	// Redirects reach the browser with the real target.
	resp, err = browser.Get(upstream.URL + "/old")
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusMovedPermanently, resp.StatusCode)
	require.Equal("/new", resp.Header.Get("Location"))
}
