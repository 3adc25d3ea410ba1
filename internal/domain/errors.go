package domain

import "errors"

var (
	// ErrScanNotFound is returned when no scan record exists for the given id
	ErrScanNotFound = errors.New("scan record not found")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrProviderUnavailable is returned when the detection provider cannot serve
	ErrProviderUnavailable = errors.New("detection provider unavailable")

	// ErrProviderFailure is returned when a detection provider request fails
	ErrProviderFailure = errors.New("detection provider request failed")
)
