// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package update

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// NetworkError means the release endpoint could not be reached.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// InvalidResponseError covers non-2xx statuses and bodies that do not decode.
type InvalidResponseError struct {
	Status int
	Err    error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid release response (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("invalid release response (status %d)", e.Status)
}

func (e *InvalidResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{errdefs.ErrUnknown}
	}
	return []error{e.Err, errdefs.ErrUnknown}
}
