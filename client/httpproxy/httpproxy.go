// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package httpproxy exposes a swenc Client as a plain HTTP proxy, so a
// browser or any other HTTP client can send its traffic through the
// encrypted tunnel.
package httpproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swenc/client"
	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/log"
)

// maxFrameBody is the largest request body that fits in one frame next
// to the encoded request.
const maxFrameBody = frame.MaxPayloadSize - 64*1024

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RoundTripper performs a single exchange through the proxy.
// *client.Client satisfies it.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *codec.Request) (*client.InboundResponse, error)
}

// Handler is an http.Handler that forwards absolute-form proxy requests
// through a swenc proxy.
type Handler struct {
	rt          RoundTripper
	maxBodySize int64
	log         *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodySize limits accepted request bodies to n bytes.  Values
// that do not fit in one frame are clamped.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 && n < h.maxBodySize {
			h.maxBodySize = n
		}
	}
}

// New returns a Handler forwarding through rt.
func New(rt RoundTripper, logBackend *log.Backend, opts ...Option) *Handler {
	if logBackend == nil {
		logBackend = log.Discard()
	}
	h := &Handler{
		rt:          rt,
		maxBodySize: maxFrameBody,
		log:         logBackend.GetLogger("httpproxy"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.log.Debugf("Refusing CONNECT %v", r.Host)
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "not a proxy request", http.StatusBadRequest)
		return
	}

	req, err := newRequest(w, r, h.maxBodySize)
	if err != nil {
		h.log.Errorf("%v %v: %v", r.Method, r.URL, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	resp, err := h.rt.RoundTrip(r.Context(), req)
	if err != nil {
		h.log.Errorf("%v %v: %v", r.Method, r.URL, err)
		if errors.Is(err, client.ErrRequestTooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "swenc proxy exchange failed", http.StatusBadGateway)
		return
	}
	h.log.Debugf("%v %v -> %v (%d bytes)", r.Method, r.URL, resp.StatusCode, len(resp.Body))

	for name, values := range resp.Header {
		if name == "Content-Length" || isHopHeader(name) {
			continue
		}
		w.Header()[name] = values
	}
	if _, ok := w.Header()["Content-Type"]; !ok {
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

// newRequest converts a received proxy request into its wire form.
// Header names are sorted, the values of each name keep their order.
func newRequest(w http.ResponseWriter, r *http.Request, maxBodySize int64) (*codec.Request, error) {
	req := &codec.Request{
		URL:    r.URL.String(),
		Method: r.Method,
	}

	connTokens := connectionTokens(r.Header)
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if isHopHeader(name) || connTokens[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range r.Header[name] {
			req.Add(name, v)
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Body = body
		}
	}
	return req, nil
}

func connectionTokens(h http.Header) map[string]bool {
	tokens := make(map[string]bool)
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens[http.CanonicalHeaderKey(tok)] = true
			}
		}
	}
	return tokens
}

func isHopHeader(name string) bool {
	return slices.Contains(hopHeaders, http.CanonicalHeaderKey(name))
}
