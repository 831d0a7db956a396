package intake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/internal/request"
	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrPollTimeout is returned by WaitForBatch when the batch has not
	// finished before the deadline. The batch itself keeps running.
	ErrPollTimeout = errors.New("timed out waiting for import batch to finish")

	// ErrInvalidTransition is returned when a batch status change would
	// leave pending -> processing -> {completed | error}.
	ErrInvalidTransition = errors.New("invalid import batch status transition")

	// ErrFatal marks failures that stop a whole batch: the store could
	// not be reached, or refused our credentials, even after retries.
	ErrFatal = errors.New("fatal import error")

	// ErrUnsupportedFile is returned for uploads that are not delimited text.
	ErrUnsupportedFile = errors.New("unsupported import file type")
)

// SchemaError rejects a file whose header row lacks required columns.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("missing required header: %s", e.Missing[0])
	}
	return fmt.Sprintf("missing required headers: %s", strings.Join(e.Missing, ", "))
}

// StructuralRowError describes a data row that was skipped because its
// shape did not match the header.
type StructuralRowError struct {
	Row      int
	Expected int
	Got      int
	Reason   string
}

func (e StructuralRowError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d: expected %d fields, got %d", e.Row, e.Expected, e.Got)
}

// FieldError is an unrepairable field value. The row it belongs to is not committed.
type FieldError struct {
	Row    int
	Field  string
	Value  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Field, e.Value, e.Reason)
}

// IsConflict reports whether err is a duplicate natural key on insert.
func IsConflict(err error) bool {
	return apierror.HasCode(err, apierror.ErrConflict)
}

// IsFatal reports whether err should stop the batch rather than fail one item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) || apierror.HasCode(err, apierror.ErrUnavailable) || database.IsConnectionError(err)
}

// isNetworkError reports whether err looks like a failed or timed-out
// network round trip. Such failures get a longer first retry delay.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"fetch failed", "timeout", "timed out", "connection reset", "connection refused", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// permanent marks errors that retrying cannot fix, so the retrier returns
// them straight away.
func permanent(err error) error {
	if err == nil {
		return nil
	}

	var schemaErr *SchemaError
	var statusErr *request.StatusError
	switch {
	case apierror.HasCode(err, apierror.ErrNotFound),
		apierror.HasCode(err, apierror.ErrConflict),
		apierror.HasCode(err, apierror.ErrInvalidInput),
		apierror.HasCode(err, apierror.ErrBadRequest),
		errors.As(err, &schemaErr),
		errors.Is(err, context.Canceled):
		return backoff.Permanent(err)
	case errors.As(err, &statusErr) && !statusErr.Temporary():
		return backoff.Permanent(err)
	}
	return err
}
