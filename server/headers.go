// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"net"
	"net/http"
	"regexp"
)

// Upstream headers that the outer HTTP layer would interpret are moved out
// of its way.  The client moves them back after decrypting.
var smuggledHeaders = map[string]string{
	"Location":         "X-Location",
	"Content-Length":   "X-Content-Length",
	"Content-Encoding": "X-Content-Encoding",
}

var droppedHeaders = []string{
	"Transfer-Encoding",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Frame-Options",
	errorHeader,
}

var cookieDomainRe = regexp.MustCompile(`(?i)(;\s*domain=)[a-z0-9.-]+`)

// rewriteHeaders copies the upstream response headers into dst, smuggling
// the ones the outer layer would act on and binding cookies to proxyHost.
func rewriteHeaders(dst, src http.Header, proxyHost string) {
	host := proxyHost
	if h, _, err := net.SplitHostPort(proxyHost); err == nil {
		host = h
	}

	for name, values := range src {
		name = http.CanonicalHeaderKey(name)
		if isDropped(name) {
			continue
		}
		if smuggled, ok := smuggledHeaders[name]; ok {
			name = smuggled
		}
		for _, v := range values {
			if name == "Set-Cookie" && host != "" {
				v = cookieDomainRe.ReplaceAllString(v, "${1}"+host)
			}
			dst.Add(name, v)
		}
	}
}

func isDropped(name string) bool {
	for _, d := range droppedHeaders {
		if name == d {
			return true
		}
	}
	return false
}
