package crawler

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by sessions used after Close.
var ErrSessionClosed = errors.New("browser session closed")

// LaunchError reports that the browsing engine could not start.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch browser: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NavigationError reports a failed page load. It aborts the crawl.
type NavigationError struct {
	URL  string
	Page int
	Err  error
}

func (e *NavigationError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("navigate page %d (%s): %v", e.Page, e.URL, e.Err)
	}
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed write or read of a single product.
type StoreError struct {
	Identifier string
	Op         string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Identifier, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
