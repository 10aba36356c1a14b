// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"io"
	"iter"
	"net/http"
	"strconv"

	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/key"
)

// Response is the streamed answer of the true destination.
type Response struct {
	// StatusCode is the status returned by the true destination.
	StatusCode int

	// Header holds the response headers with the smuggled values moved
	// back to their standard names.
	Header http.Header

	// Body yields the decrypted chunks one frame at a time.
	Body *frame.Reader

	closer io.Closer
}

func newResponse(resp *http.Response, k *key.Key) (*Response, error) {
	body, err := frame.NewReader(resp.Body, k)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     TranslateHeaders(resp.Header),
		Body:       body,
		closer:     resp.Body,
	}, nil
}

// Next returns the next plaintext chunk.  It returns io.EOF once the
// stream has ended cleanly.  Any other error means the whole download
// failed, even if earlier chunks were delivered.
func (r *Response) Next() ([]byte, error) {
	return r.Body.Next()
}

// Chunks returns an iterator over the remaining plaintext chunks.
func (r *Response) Chunks() iter.Seq2[[]byte, error] {
	return r.Body.All()
}

// WriteTo writes the remaining plaintext to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	return r.Body.WriteTo(w)
}

// ContentLength returns the length reported by the true destination, or
// -1 if it is unknown.
func (r *Response) ContentLength() int64 {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Close closes the underlying connection.  Stopping early and calling
// Close abandons the rest of the stream.
func (r *Response) Close() error {
	return r.closer.Close()
}
