// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteHeaders(t *testing.T) {
	require := require.New(t)

	src := http.Header{
		"Location":                            {"https://example.com/next"},
		"Content-Length":                      {"42"},
		"Content-Encoding":                    {"gzip"},
		"Content-Security-Policy":             {"default-src 'none'"},
		"Content-Security-Policy-Report-Only": {"default-src 'none'"},
		"X-Frame-Options":                     {"DENY"},
		"Transfer-Encoding":                   {"chunked"},
		"X-Swenc-Error":                       {"forbidden"},
		"Content-Type":                        {"text/html"},
		"Set-Cookie": {
			"a=1; domain=.example.com; Path=/",
			"b=2; Path=/",
		},
	}
	dst := make(http.Header)
	rewriteHeaders(dst, src, "proxy.example.net:8443")

	require.Equal(http.Header{
		"X-Location":         {"https://example.com/next"},
		"X-Content-Length":   {"42"},
		"X-Content-Encoding": {"gzip"},
		"Content-Type":       {"text/html"},
		"Set-Cookie": {
			"a=1; domain=proxy.example.net; Path=/",
			"b=2; Path=/",
		},
	}, dst)
}

func TestRewriteHeadersNoPort(t *testing.T) {
	dst := make(http.Header)
	rewriteHeaders(dst, http.Header{"Set-Cookie": {"a=1;Domain=x.org"}}, "proxy.example.net")
	require.Equal(t, "a=1;Domain=proxy.example.net", dst.Get("Set-Cookie"))
}
