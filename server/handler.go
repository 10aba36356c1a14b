// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/server/internal/instrument"
	"github.com/katzenpost/swenc/server/keydb"
)

const (
	basePath  = "/swenc-proxy/"
	checkPath = basePath + "check"
	proxyPath = basePath + "proxy/"

	endpointCheck = "check"
	endpointProxy = "proxy"

	resultOK         = "ok"
	resultBadRequest = "bad_request"
	resultForbidden  = "forbidden"
	resultTooLarge   = "too_large"
	resultReplay     = "replay"
	resultUpstream   = "upstream_error"
	resultAborted    = "aborted"

	banner = "swenc-proxy\n"

	// errorHeader marks replies generated by the proxy itself, so that a
	// client can tell them from relayed upstream statuses.
	errorHeader = "X-Swenc-Error"
)

func newUpstreamClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableCompression = true
	return &http.Client{
		Transport: t,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *Server) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+basePath+"{$}", s.onBanner)
	mux.HandleFunc("GET "+checkPath, s.onCheck)
	mux.HandleFunc("POST "+proxyPath, s.onProxy)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, basePath, http.StatusFound)
	})
	return mux
}

func (s *Server) onBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, banner)
}

// lookup resolves the key query parameter, writing the error reply itself
// on failure.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, endpoint string) (*keydb.Entry, bool) {
	fp := r.URL.Query().Get("key")
	if !key.ValidFingerprint(fp) {
		s.fail(w, endpoint, resultBadRequest, http.StatusBadRequest, "malformed key")
		return nil, false
	}
	e, ok := s.db.Lookup(fp)
	if !ok {
		s.log.Debugf("%v: unknown key %v", endpoint, fp)
		s.fail(w, endpoint, resultForbidden, http.StatusForbidden, "unknown key")
		return nil, false
	}
	return e, true
}

func (s *Server) fail(w http.ResponseWriter, endpoint, result string, status int, msg string) {
	instrument.Request(endpoint, result)
	w.Header().Set(errorHeader, result)
	http.Error(w, msg, status)
}

func (s *Server) onCheck(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r, endpointCheck)
	if !ok {
		return
	}
	s.log.Debugf("check: '%v' ok", e.Name)
	instrument.Request(endpointCheck, resultOK)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

func (s *Server) openRequest(w http.ResponseWriter, r *http.Request, e *keydb.Entry) (*codec.Request, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, endpointProxy, resultTooLarge, http.StatusRequestEntityTooLarge, "request too large")
		} else {
			s.fail(w, endpointProxy, resultBadRequest, http.StatusBadRequest, "failed to read request")
		}
		return nil, false
	}

	chunks, err := frame.Open(body, e.Key)
	if err != nil || len(chunks) != 1 {
		s.log.Debugf("proxy: '%v': bad frame: %v", e.Name, err)
		s.fail(w, endpointProxy, resultBadRequest, http.StatusBadRequest, "bad frame")
		return nil, false
	}
	if s.replay.IsReplay(frame.Nonce(body)) {
		s.log.Warningf("proxy: '%v': replayed request refused", e.Name)
		instrument.Replay()
		s.fail(w, endpointProxy, resultReplay, http.StatusConflict, "replayed request")
		return nil, false
	}

	f, err := codec.Detect(chunks[0])
	if err != nil {
		s.fail(w, endpointProxy, resultBadRequest, http.StatusBadRequest, "bad request encoding")
		return nil, false
	}
	req, err := codec.Decode(f, chunks[0])
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.log.Debugf("proxy: '%v': %v", e.Name, err)
		s.fail(w, endpointProxy, resultBadRequest, http.StatusBadRequest, "bad request")
		return nil, false
	}
	return req, true
}

func (s *Server) newUpstreamRequest(ctx context.Context, outer *http.Request, req *codec.Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	up, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			up.Host = h.Value
			continue
		}
		up.Header.Add(h.Name, h.Value)
	}
	if up.Header.Get("User-Agent") == "" {
		// Suppress the Go default.
		up.Header.Set("User-Agent", "")
	}
	if _, ok := up.Header["Cookie"]; !ok {
		for _, c := range outer.Header.Values("Cookie") {
			up.Header.Add("Cookie", c)
		}
	}
	return up, nil
}

func (s *Server) onProxy(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r, endpointProxy)
	if !ok {
		return
	}
	req, ok := s.openRequest(w, r, e)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.Server.UpstreamTimeout)*time.Second)
	defer cancel()

	up, err := s.newUpstreamRequest(ctx, r, req)
	if err != nil {
		s.fail(w, endpointProxy, resultBadRequest, http.StatusBadRequest, "bad request")
		return
	}
	resp, err := s.upstream.Do(up)
	if err != nil {
		s.log.Errorf("proxy: '%v': upstream %v %v: %v", e.Name, req.Method, req.URL, err)
		instrument.UpstreamFailure()
		s.fail(w, endpointProxy, resultUpstream, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()
	s.log.Debugf("proxy: '%v': %v %v -> %v", e.Name, req.Method, req.URL, resp.StatusCode)

	rewriteHeaders(w.Header(), resp.Header, r.Host)
	if _, ok := w.Header()["Content-Type"]; !ok {
		// No sniffing, the body is ciphertext.
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)

	if err := s.stream(w, resp.Body, e.Key); err != nil {
		s.log.Errorf("proxy: '%v': %v %v: %v", e.Name, req.Method, req.URL, err)
		instrument.Request(endpointProxy, resultAborted)
		// The status is already sent, a clean end of stream would pass a
		// short body off as complete.
		panic(http.ErrAbortHandler)
	}
	instrument.Request(endpointProxy, resultOK)
}

// stream seals each upstream read into its own frame and flushes it.
func (s *Server) stream(w http.ResponseWriter, body io.Reader, k *key.Key) error {
	fw, err := frame.NewWriter(w, k)
	if err != nil {
		return err
	}
	rc := http.NewResponseController(w)
	buf := make([]byte, s.cfg.Server.ChunkSize)
	for {
		n, rdErr := body.Read(buf)
		if n > 0 {
			if err := fw.WriteFrame(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			instrument.FrameSealed(n)
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return fmt.Errorf("flush: %w", err)
			}
		}
		switch rdErr {
		case nil:
		case io.EOF:
			return nil
		default:
			return fmt.Errorf("upstream read: %w", rdErr)
		}
	}
}
