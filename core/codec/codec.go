// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package codec serializes the logical HTTP request that a client asks
// the proxy to execute.
//
// A request is encoded as a map with the keys url, method, headers and
// body, in that order.  Headers are an array of [name, value] pairs so
// order and duplicates survive, strings are text strings and the body is
// a byte string.  MessagePack is the default format; CBOR is available
// for deployments that prefer it.
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"
	ucodec "github.com/ugorji/go/codec"
)

// Format selects the wire encoding of a Request.
type Format int

const (
	// MsgPack is MessagePack using the str and bin types.
	MsgPack Format = iota

	// CBOR is RFC 8949 CBOR.
	CBOR
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case MsgPack:
		return "msgpack"
	case CBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat returns the Format named s.  The empty string selects
// MsgPack.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "msgpack":
		return MsgPack, nil
	case "cbor":
		return CBOR, nil
	default:
		return 0, fmt.Errorf("codec: unknown format '%v'", s)
	}
}

var (
	// ErrInvalidRequest is returned by Validate.
	ErrInvalidRequest = errors.New("codec: invalid request")

	errUnknownFormat = errors.New("codec: unknown format")
)

// Header is a single HTTP header field.
type Header struct {
	_       struct{} `cbor:",toarray"`
	_struct struct{} `codec:",toarray"`

	Name  string
	Value string
}

// Request is the request the client wants executed against the true
// destination.
type Request struct {
	URL     string   `codec:"url" cbor:"url"`
	Method  string   `codec:"method" cbor:"method"`
	Headers []Header `codec:"headers" cbor:"headers"`
	Body    []byte   `codec:"body,omitempty" cbor:"body,omitempty"`
}

// Add appends a header, keeping any existing ones with the same name.
func (r *Request) Add(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Validate checks the fields the proxy needs to execute the request.
func (r *Request) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("%w: empty method", ErrInvalidRequest)
	}
	if strings.ContainsAny(r.Method, " \t\r\n") {
		return fmt.Errorf("%w: bad method", ErrInvalidRequest)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url is not absolute", ErrInvalidRequest)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme '%v'", ErrInvalidRequest, u.Scheme)
	}
	for _, h := range r.Headers {
		if h.Name == "" {
			return fmt.Errorf("%w: empty header name", ErrInvalidRequest)
		}
	}
	return nil
}

var (
	msgpackHandle = newMsgpackHandle()

	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func newMsgpackHandle() *ucodec.MsgpackHandle {
	h := new(ucodec.MsgpackHandle)
	// Emit the str8 and bin types so strings and bytes stay distinct.
	h.WriteExt = true
	h.RawToString = true
	return h
}

func init() {
	var err error
	// Struct fields keep declaration order; core deterministic sorting
	// would move body ahead of method.
	cborEncMode, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(err)
	}
	cborDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes req as MessagePack.
func Encode(req *Request) ([]byte, error) {
	return EncodeFormat(MsgPack, req)
}

// EncodeFormat serializes req in the given format.
func EncodeFormat(f Format, req *Request) ([]byte, error) {
	switch f {
	case MsgPack:
		var out []byte
		if err := ucodec.NewEncoderBytes(&out, msgpackHandle).Encode(req); err != nil {
			return nil, fmt.Errorf("codec: msgpack encode: %w", err)
		}
		return out, nil
	case CBOR:
		out, err := cborEncMode.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("codec: cbor encode: %w", err)
		}
		return out, nil
	default:
		return nil, errUnknownFormat
	}
}

// Detect returns the format of an encoded Request from its first byte,
// which is a map header in either format.
func Detect(b []byte) (Format, error) {
	if len(b) == 0 {
		return 0, errUnknownFormat
	}
	switch c := b[0]; {
	case c >= 0x80 && c <= 0x8f, c == 0xde, c == 0xdf:
		return MsgPack, nil
	case c >= 0xa0 && c <= 0xbf:
		return CBOR, nil
	default:
		return 0, errUnknownFormat
	}
}

// Decode is the server side inverse of EncodeFormat.
func Decode(f Format, b []byte) (*Request, error) {
	req := new(Request)
	switch f {
	case MsgPack:
		if err := ucodec.NewDecoderBytes(b, msgpackHandle).Decode(req); err != nil {
			return nil, fmt.Errorf("codec: msgpack decode: %w", err)
		}
	case CBOR:
		if err := cborDecMode.Unmarshal(b, req); err != nil {
			return nil, fmt.Errorf("codec: cbor decode: %w", err)
		}
	default:
		return nil, errUnknownFormat
	}
	return req, nil
}
