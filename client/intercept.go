// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"net/http"

	"github.com/katzenpost/swenc/core/codec"
	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/key"
)

// InboundResponse is a fully decrypted proxy response.
type InboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BuildOutbound encodes req in the given format and seals it as the
// single frame posted to the proxy.
func BuildOutbound(req *codec.Request, k *key.Key, format codec.Format) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	plaintext, err := codec.EncodeFormat(format, req)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	sealed, err := frame.Seal(plaintext, k)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return sealed, nil
}

// DecodeInbound opens every frame of a buffered proxy response body and
// translates the response headers.  Nothing is returned if any frame
// fails.
func DecodeInbound(status int, h http.Header, body []byte, k *key.Key) (*InboundResponse, error) {
	chunks, err := frame.Open(body, k)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	plaintext := make([]byte, 0, size)
	for _, c := range chunks {
		plaintext = append(plaintext, c...)
	}
	return &InboundResponse{
		StatusCode: status,
		Header:     TranslateHeaders(h),
		Body:       plaintext,
	}, nil
}
