package rst

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected      = errors.New("mount not connected")
	ErrTransport         = errors.New("transport failure")
	ErrTimeout           = errors.New("timeout waiting for response")
	ErrBufferExhausted   = errors.New("response exceeded buffer without sentinel")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCommandRejected   = errors.New("command rejected by mount")
	ErrPartialSiteUpdate = errors.New("site data partially applied")
	ErrInvalidState      = errors.New("operation not allowed in current mount state")
	ErrInvalidValue      = errors.New("invalid value")
)

// malformed wraps a codec failure so that it matches both ErrMalformedResponse
// and the underlying parse error.
func malformed(verb string, resp string, err error) error {
	return fmt.Errorf("%w: %s reply %q: %w", ErrMalformedResponse, verb, resp, err)
}

func rejected(verb string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrCommandRejected, verb, reason)
}

// SiteUpdateError reports a multi-step site write that stopped part way.
// The steps listed in Applied were accepted by the mount and are not rolled back.
type SiteUpdateError struct {
	Applied []string
	Failed  string
	Err     error
}

func (e *SiteUpdateError) Error() string {
	return fmt.Sprintf("site update failed at %s after applying [%s]: %v",
		e.Failed, strings.Join(e.Applied, ", "), e.Err)
}

func (e *SiteUpdateError) Unwrap() error { return e.Err }

func (e *SiteUpdateError) Is(target error) bool {
	return target == ErrPartialSiteUpdate
}
