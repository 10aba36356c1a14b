// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/core/log"
	"github.com/katzenpost/swenc/server/config"
)

const testPassphrase = "correct horse"

func testConfig() *config.Config {
	cfg := &config.Config{
		Server: &config.Server{Address: "127.0.0.1:0", ChunkSize: 4},
		KeyDB: &config.KeyDB{
			Users: []*config.User{{Name: "alice", Passphrase: testPassphrase}},
		},
		Debug: &config.Debug{ReplayFilterSize: 16},
	}
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(testConfig(), nil, log.Discard())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown()
	})
	return s, ts
}

func sealRequest(t *testing.T, k *key.Key, req *codec.Request) []byte {
	t.Helper()

	b, err := codec.Encode(req)
	require.NoError(t, err)
	sealed, err := frame.Seal(b, k)
	require.NoError(t, err)
	return sealed
}

func post(t *testing.T, ts *httptest.Server, fp string, body []byte) *http.Response {
	t.Helper()

	resp, err := http.Post(ts.URL+proxyPath+"?key="+fp, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRootRedirect(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := hc.Get(ts.URL + "/")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	require.Contains(resp.Header.Get("Location"), "swenc-proxy")

	resp, err = http.Get(ts.URL + "/anything")
	require.NoError(err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(banner, string(b))
}

func TestCheck(t *testing.T) {
	_, ts := newTestServer(t)

	for name, tc := range map[string]struct {
		fp     string
		status int
	}{
		"registered": {key.Derive(testPassphrase).Fingerprint(), http.StatusOK},
		"unknown":    {key.Derive("wrong").Fingerprint(), http.StatusForbidden},
		"malformed":  {"abc", http.StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + checkPath + "?key=" + tc.fp)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestProxyStreamsFrames(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "swenc-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "a=1", r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Add("Set-Cookie", "sid=1; Domain=example.com; Path=/")
		w.Header().Set("Content-Length", "11")
		io.WriteString(w, "hello world")
	}))
	defer upstream.Close()

	k := key.Derive(testPassphrase)
	req := &codec.Request{URL: upstream.URL + "/x", Method: http.MethodGet}
	req.Add("User-Agent", "swenc-test")
	req.Add("Cookie", "a=1")

	resp := post(t, ts, k.Fingerprint(), sealRequest(t, k, req))
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal("11", resp.Header.Get("X-Content-Length"))
	require.Equal("text/plain", resp.Header.Get("Content-Type"))
	require.Empty(resp.Header.Get("Content-Security-Policy"))
	require.Empty(resp.Header.Get("X-Frame-Options"))
	require.Empty(resp.Header.Get(errorHeader))
	require.Equal("sid=1; Domain=127.0.0.1; Path=/", resp.Header.Get("Set-Cookie"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	chunks, err := frame.Open(body, k)
	require.NoError(err)

	// ChunkSize is 4 in tests, so the body spans several frames.
	require.Greater(len(chunks), 1)
	require.Equal("hello world", string(bytes.Join(chunks, nil)))
}

func TestProxyRedirectSmuggled(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer upstream.Close()

	k := key.Derive(testPassphrase)
	req := &codec.Request{URL: upstream.URL + "/", Method: http.MethodGet}

	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := hc.Post(ts.URL+proxyPath+"?key="+k.Fingerprint(), "application/octet-stream", bytes.NewReader(sealRequest(t, k, req)))
	require.NoError(err)
	defer resp.Body.Close()

	require.Equal(http.StatusFound, resp.StatusCode)
	require.Empty(resp.Header.Get("Location"))
	require.Equal("/next", resp.Header.Get("X-Location"))
}

func TestProxyFilenameRoute(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "file")
	}))
	defer upstream.Close()

	k := key.Derive(testPassphrase)
	sealed := sealRequest(t, k, &codec.Request{URL: upstream.URL, Method: http.MethodGet})
	resp, err := http.Post(ts.URL+proxyPath+"report.pdf?key="+k.Fingerprint(), "application/octet-stream", bytes.NewReader(sealed))
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
}

func TestProxyCBORRequest(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(bytes.ToUpper(b))
	}))
	defer upstream.Close()

	k := key.Derive(testPassphrase)
	b, err := codec.EncodeFormat(codec.CBOR, &codec.Request{
		URL:    upstream.URL,
		Method: http.MethodPost,
		Body:   []byte("abc"),
	})
	require.NoError(err)
	sealed, err := frame.Seal(b, k)
	require.NoError(err)

	resp := post(t, ts, k.Fingerprint(), sealed)
	require.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	chunks, err := frame.Open(body, k)
	require.NoError(err)
	require.Equal("ABC", string(bytes.Join(chunks, nil)))
}

func TestProxyErrors(t *testing.T) {
	_, ts := newTestServer(t)

	k := key.Derive(testPassphrase)
	valid := &codec.Request{URL: "http://127.0.0.1:1/", Method: http.MethodGet}

	t.Run("UnknownKey", func(t *testing.T) {
		other := key.Derive("wrong")
		resp := post(t, ts, other.Fingerprint(), sealRequest(t, other, valid))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, resultForbidden, resp.Header.Get(errorHeader))
	})

	t.Run("WrongKey", func(t *testing.T) {
		resp := post(t, ts, k.Fingerprint(), sealRequest(t, key.Derive("wrong"), valid))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, resultBadRequest, resp.Header.Get(errorHeader))
	})

	t.Run("TwoFrames", func(t *testing.T) {
		sealed := append(sealRequest(t, k, valid), sealRequest(t, k, valid)...)
		resp := post(t, ts, k.Fingerprint(), sealed)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		resp := post(t, ts, k.Fingerprint(), sealRequest(t, k, &codec.Request{URL: "/relative", Method: "GET"}))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Replay", func(t *testing.T) {
		sealed := sealRequest(t, k, valid)
		resp := post(t, ts, k.Fingerprint(), sealed)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp = post(t, ts, k.Fingerprint(), sealed)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		require.Equal(t, resultReplay, resp.Header.Get(errorHeader))
	})

	t.Run("Upstream", func(t *testing.T) {
		resp := post(t, ts, k.Fingerprint(), sealRequest(t, k, valid))
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, resultUpstream, resp.Header.Get(errorHeader))
	})
}

func TestProxyTooLarge(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.Server.MaxRequestSize = 64
	s, err := New(cfg, nil, log.Discard())
	require.NoError(err)
	defer s.Shutdown()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	k := key.Derive(testPassphrase)
	resp := post(t, ts, k.Fingerprint(), make([]byte, 128))
	require.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(resultTooLarge, resp.Header.Get(errorHeader))
}

func TestProxyUpstreamAbort(t *testing.T) {
	require := require.New(t)
	_, ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		io.WriteString(w, "partial")
		// Closing with a short body makes the upstream read fail.
	}))
	defer upstream.Close()

	k := key.Derive(testPassphrase)
	sealed := sealRequest(t, k, &codec.Request{URL: upstream.URL, Method: http.MethodGet})
	resp := post(t, ts, k.Fingerprint(), sealed)
	require.Equal(http.StatusOK, resp.StatusCode)

	_, err := io.ReadAll(resp.Body)
	require.Error(err)
}
