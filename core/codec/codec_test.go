// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRequest() *Request {
	req := &Request{
		URL:    "http://example.com/a",
		Method: "POST",
		Body:   []byte("abc"),
	}
	req.Add("Cookie", "a=1")
	req.Add("Accept", "*/*")
	req.Add("Cookie", "b=2")
	return req
}

func TestRoundTrip(t *testing.T) {
	for _, f := range []Format{MsgPack, CBOR} {
		t.Run(f.String(), func(t *testing.T) {
			require := require.New(t)

			req := testRequest()
			b, err := EncodeFormat(f, req)
			require.NoError(err)

			got, err := Decode(f, b)
			require.NoError(err)
			require.Equal(req.URL, got.URL)
			require.Equal(req.Method, got.Method)
			require.Equal(req.Body, got.Body)

			// Order and duplicates survive.
			require.Equal([]Header{
				{Name: "Cookie", Value: "a=1"},
				{Name: "Accept", Value: "*/*"},
				{Name: "Cookie", Value: "b=2"},
			}, got.Headers)
		})
	}
}

func TestMsgPackLayout(t *testing.T) {
	require := require.New(t)

	b, err := Encode(testRequest())
	require.NoError(err)

	// fixmap of 4, first key is the text string "url".
	require.Equal(byte(0x84), b[0])
	require.Equal([]byte("\xa3url"), b[1:5])

	// Headers are 2-element arrays of text strings.
	require.True(bytes.Contains(b, []byte("\x92\xa6Cookie\xa3a=1")))

	// The body is a bin8, not a str.
	require.True(bytes.HasSuffix(b, []byte("\xa4body\xc4\x03abc")))
}

func TestCBORLayout(t *testing.T) {
	require := require.New(t)

	b, err := EncodeFormat(CBOR, testRequest())
	require.NoError(err)

	require.Equal(byte(0xa4), b[0])
	require.Equal([]byte("\x63url"), b[1:5])
	require.True(bytes.Contains(b, []byte("\x82\x66Cookie\x63a=1")))
	require.True(bytes.HasSuffix(b, []byte("\x64body\x43abc")))
}

func TestBodyOmitted(t *testing.T) {
	for _, f := range []Format{MsgPack, CBOR} {
		t.Run(f.String(), func(t *testing.T) {
			require := require.New(t)

			req := &Request{URL: "http://example.com/", Method: "GET"}
			b, err := EncodeFormat(f, req)
			require.NoError(err)
			require.False(bytes.Contains(b, []byte("body")))

			got, err := Decode(f, b)
			require.NoError(err)
			require.Nil(got.Body)
			require.Empty(got.Headers)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, f := range []Format{MsgPack, CBOR} {
		_, err := Decode(f, []byte{0xc1, 0xff, 0x00})
		require.Error(t, err)
	}
	_, err := Decode(Format(42), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(testRequest().Validate())

	for _, req := range []*Request{
		{URL: "http://example.com/", Method: ""},
		{URL: "http://example.com/", Method: "GE T"},
		{URL: "/relative", Method: "GET"},
		{URL: "ftp://example.com/", Method: "GET"},
		{URL: "http://", Method: "GET"},
		{URL: "http://example.com/", Method: "GET", Headers: []Header{{Value: "x"}}},
	} {
		require.ErrorIs(req.Validate(), ErrInvalidRequest, "%+v", req)
	}
}

func TestDetect(t *testing.T) {
	require := require.New(t)

	for _, f := range []Format{MsgPack, CBOR} {
		b, err := EncodeFormat(f, testRequest())
		require.NoError(err)
		got, err := Detect(b)
		require.NoError(err)
		require.Equal(f, got)
	}
	_, err := Detect(nil)
	require.Error(err)
	_, err = Detect([]byte{0x00})
	require.Error(err)
}

func TestParseFormat(t *testing.T) {
	require := require.New(t)

	for s, want := range map[string]Format{
		"":        MsgPack,
		"msgpack": MsgPack,
		"CBOR":    CBOR,
	} {
		f, err := ParseFormat(s)
		require.NoError(err)
		require.Equal(want, f)
	}
	_, err := ParseFormat("json")
	require.Error(err)
}
