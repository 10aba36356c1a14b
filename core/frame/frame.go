// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package frame implements the swenc wire frame and the chunk stream built
// from it.
//
// Frame wire format:
//
//	[nonce:  12 bytes]
//	[length:  4 bytes little-endian] - length of the ciphertext below
//	[ciphertext: length bytes]       - AES-256-GCM ciphertext and 16-byte tag
//
// A chunk stream is zero or more frames concatenated back to back and
// terminated by the end of the underlying stream.
package frame

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/swenc/core/key"
)

const (
	// NonceSize is the size of the per-frame GCM nonce.
	NonceSize = 12

	// LengthSize is the size of the length field.
	LengthSize = 4

	// HeaderSize is the size of the frame header.
	HeaderSize = NonceSize + LengthSize

	// TagSize is the size of the GCM authentication tag.
	TagSize = 16

	// MaxPayloadSize is the largest plaintext a single frame may carry.
	// The server emits one frame per upstream read, well below this.
	MaxPayloadSize = 16 << 20

	maxCiphertextSize = MaxPayloadSize + TagSize
)

var (
	// ErrDecode is matched by every framing error.
	ErrDecode = errors.New("frame: decode error")

	// ErrTruncated is returned when the stream ends inside a frame.
	ErrTruncated = &DecodeError{msg: "truncated frame"}

	// ErrMalformedLength is returned when a length field cannot describe
	// a valid frame.
	ErrMalformedLength = &DecodeError{msg: "malformed length"}

	// ErrAuthentication is returned when a frame fails AEAD
	// authentication.
	ErrAuthentication = errors.New("frame: message authentication failed")

	// ErrPayloadTooLarge is returned by Seal for oversized plaintexts.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// DecodeError is a framing failure.  It deliberately carries no offsets
// or lengths.
type DecodeError struct {
	msg string
}

func (e *DecodeError) Error() string {
	return "frame: " + e.msg
}

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func newAEAD(k *key.Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.Bytes())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under k with a fresh random nonce and returns
// the encoded frame.
func Seal(plaintext []byte, k *key.Key) ([]byte, error) {
	aead, err := newAEAD(k)
	if err != nil {
		return nil, err
	}
	return seal(aead, nil, plaintext)
}

func seal(aead cipher.AEAD, dst, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(rand.Reader, hdr[:NonceSize]); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(hdr[NonceSize:], uint32(len(plaintext)+aead.Overhead()))

	out := append(dst, hdr[:]...)
	return aead.Seal(out, hdr[:NonceSize], plaintext, nil), nil
}

// Open decodes a fully buffered chunk stream and returns its plaintext
// chunks in order.  Any error discards everything.
func Open(stream []byte, k *key.Key) ([][]byte, error) {
	r, err := NewReader(bytes.NewReader(stream), k)
	if err != nil {
		return nil, err
	}
	var chunks [][]byte
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}

// Nonce returns the nonce of an encoded frame, or nil if b is too short.
func Nonce(b []byte) []byte {
	if len(b) < NonceSize {
		return nil
	}
	return b[:NonceSize]
}
