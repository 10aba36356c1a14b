// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package frame

import (
	"crypto/cipher"
	"encoding/binary"
	"io"
	"iter"

	"github.com/katzenpost/swenc/core/key"
)

// Reader decodes a chunk stream one frame at a time.  It never holds more
// than a single frame in memory.
type Reader struct {
	r    io.Reader
	aead cipher.AEAD
	hdr  [HeaderSize]byte
	err  error
}

// NewReader returns a Reader that opens frames read from r with k.
func NewReader(r io.Reader, k *key.Key) (*Reader, error) {
	aead, err := newAEAD(k)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, aead: aead}, nil
}

// Next blocks until the next frame has been read and authenticated and
// returns its plaintext.  It returns io.EOF if the stream ended cleanly
// on a frame boundary.  Any other error is terminal: every later call
// returns it again.
func (fr *Reader) Next() ([]byte, error) {
	if fr.err != nil {
		return nil, fr.err
	}
	b, err := fr.next()
	if err != nil {
		fr.err = err
		return nil, err
	}
	return b, nil
}

func (fr *Reader) next() ([]byte, error) {
	switch n, err := io.ReadFull(fr.r, fr.hdr[:NonceSize]); {
	case n == 0 && err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return nil, ErrTruncated
	case err != nil:
		return nil, err
	}

	if _, err := io.ReadFull(fr.r, fr.hdr[NonceSize:]); err != nil {
		return nil, readErr(err)
	}
	length := binary.LittleEndian.Uint32(fr.hdr[NonceSize:])
	if length < TagSize || length > maxCiphertextSize {
		return nil, ErrMalformedLength
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(fr.r, ciphertext); err != nil {
		return nil, readErr(err)
	}

	plaintext, err := fr.aead.Open(ciphertext[:0], fr.hdr[:NonceSize], ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func readErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

// All returns an iterator over the remaining plaintext chunks.  Iteration
// stops after the first error, which is yielded with a nil chunk.
func (fr *Reader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := fr.Next()
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// WriteTo copies the plaintext of every remaining frame to w.
func (fr *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for chunk, err := range fr.All() {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Writer seals every WriteFrame call into its own frame.
type Writer struct {
	w    io.Writer
	aead cipher.AEAD
	buf  []byte
}

// NewWriter returns a Writer that seals frames with k and writes them to
// w.
func NewWriter(w io.Writer, k *key.Key) (*Writer, error) {
	aead, err := newAEAD(k)
	if err != nil {
		return nil, err
	}
	return &Writer{w: w, aead: aead}, nil
}

// WriteFrame seals p as a single frame.
func (fw *Writer) WriteFrame(p []byte) error {
	var err error
	fw.buf, err = seal(fw.aead, fw.buf[:0], p)
	if err != nil {
		return err
	}
	_, err = fw.w.Write(fw.buf)
	return err
}

// Write implements io.Writer, splitting p into frames of at most
// MaxPayloadSize bytes.
func (fw *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxPayloadSize {
			chunk = p[:MaxPayloadSize]
		}
		if err := fw.WriteFrame(chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}
