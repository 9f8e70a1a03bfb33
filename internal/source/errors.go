package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownSource is returned for ids with no registered adapter or no
// matching configured feed.
var ErrUnknownSource = errors.New("unknown source")

// FetchError carries the HTTP-status-like code callers use to tell "not
// found" apart from other failures.
type FetchError struct {
	SourceID   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d: %v", e.SourceID, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError is returned by adapters when an upstream answered with a
// non-success HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "upstream status " + e.Status
	}
	return fmt.Sprintf("upstream status %d", e.Code)
}

// StatusCode derives a status code from err: an explicit FetchError code,
// 404 for unknown sources or upstream 404s, 502 for other upstream status
// failures, and 500 for anything else. nil yields 200.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		return fe.StatusCode
	}
	return classify(err)
}

func classify(err error) int {
	if errors.Is(err, ErrUnknownSource) {
		return http.StatusNotFound
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func newFetchError(sourceID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{SourceID: sourceID, StatusCode: classify(err), Err: err}
}
