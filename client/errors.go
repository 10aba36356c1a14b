// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServerIdentity is matched by every ServerIdentityError.
	ErrServerIdentity = errors.New("client: not a swenc proxy")

	// ErrKeyRejected is returned when the proxy does not recognize the
	// key fingerprint.  It is never retried.
	ErrKeyRejected = errors.New("client: key rejected by proxy")

	// ErrRedirectLimit is matched by every RedirectLimitError.
	ErrRedirectLimit = errors.New("client: too many redirects")

	// ErrMissingRedirectTarget is returned for a redirect status without
	// an X-Location header.
	ErrMissingRedirectTarget = errors.New("client: redirect without target")

	// ErrProxy is matched by every ProxyError.
	ErrProxy = errors.New("client: proxy failed the request")

	// ErrRequestTooLarge is returned when a sealed request exceeds the
	// size the proxy accepts.
	ErrRequestTooLarge = errors.New("client: request too large")
)

// ServerIdentityError is returned by Probe when the server does not look
// like a swenc proxy.  No key material has been sent when it is returned.
type ServerIdentityError struct {
	// Reason describes what was wrong.
	Reason string

	// StatusCode is the status of the probe response, or 0 if there was
	// no response.
	StatusCode int

	// Location is the Location header of the probe response.
	Location string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *ServerIdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: server identity check failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client: server identity check failed: %s (status %d, location '%s')", e.Reason, e.StatusCode, e.Location)
}

// Is makes every ServerIdentityError match ErrServerIdentity.
func (e *ServerIdentityError) Is(target error) bool {
	return target == ErrServerIdentity
}

func (e *ServerIdentityError) Unwrap() error {
	return e.Err
}

// RedirectLimitError is returned by Fetch when the proxy reports more
// redirects than the client allows.
type RedirectLimitError struct {
	// Limit is the number of redirects that were followed.
	Limit int

	// URL is the redirect target that was not followed.
	URL string
}

func (e *RedirectLimitError) Error() string {
	return fmt.Sprintf("client: too many redirects (limit %d)", e.Limit)
}

// Is makes every RedirectLimitError match ErrRedirectLimit.
func (e *RedirectLimitError) Is(target error) bool {
	return target == ErrRedirectLimit
}

// ProxyError is returned when the proxy itself answers an exchange with
// an error instead of relaying the true destination's response.
type ProxyError struct {
	// StatusCode is the status the proxy replied with.
	StatusCode int

	// Reason is the proxy's error class, eg: "forbidden" or "replay".
	Reason string

	// Message is the start of the plain-text error body.
	Message string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("client: proxy error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
}

// Is makes every ProxyError match ErrProxy.  A 403 also matches
// ErrKeyRejected and a 413 matches ErrRequestTooLarge.
func (e *ProxyError) Is(target error) bool {
	switch target {
	case ErrProxy:
		return true
	case ErrKeyRejected:
		return e.StatusCode == http.StatusForbidden
	case ErrRequestTooLarge:
		return e.StatusCode == http.StatusRequestEntityTooLarge
	}
	return false
}
