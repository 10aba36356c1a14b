// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"net/http"
)

// Headers the proxy uses to carry the true response metadata past
// intermediaries, keyed by the standard header they stand in for.
const (
	HeaderLocation        = "X-Location"
	HeaderContentLength   = "X-Content-Length"
	HeaderContentEncoding = "X-Content-Encoding"
)

// HeaderProxyError marks replies the proxy generated itself.  Its value
// is the error class.
const HeaderProxyError = "X-Swenc-Error"

var smuggledHeaders = []struct {
	smuggled string
	standard string
}{
	{HeaderLocation, "Location"},
	{HeaderContentLength, "Content-Length"},
	{HeaderContentEncoding, "Content-Encoding"},
}

// TranslateHeaders returns a copy of the outer response headers with the
// smuggled headers moved back to their standard names.  A smuggled value
// always replaces the standard one reported by the proxy, and a standard
// header with no smuggled counterpart is kept as is.
func TranslateHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		k = http.CanonicalHeaderKey(k)
		out[k] = append(out[k], v...)
	}
	for _, s := range smuggledHeaders {
		v, ok := out[s.smuggled]
		if !ok {
			continue
		}
		out[s.standard] = v
		delete(out, s.smuggled)
	}
	return out
}

// bodyHeaders are dropped when a redirect turns the request into a GET.
var bodyHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Type":      true,
	"Content-Encoding":  true,
	"Content-Language":  true,
	"Content-Location":  true,
	"Transfer-Encoding": true,
}

func isBodyHeader(name string) bool {
	return bodyHeaders[http.CanonicalHeaderKey(name)]
}
