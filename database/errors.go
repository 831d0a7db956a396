package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/lib/pq"
)

// IsConnectionError reports whether err means the store could not be
// reached or refused our credentials, as opposed to rejecting a statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "28", "53":
			return true
		}
		return pqErr.Code == "57P01" || pqErr.Code == "57P03"
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// wrapError turns a driver error into an APIError carrying the cause.
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apierror.NewAPIError(apierror.ErrNotFound, message+": not found", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsConnectionError(err):
		return apierror.NewAPIError(apierror.ErrUnavailable, message+": store unavailable", err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, message+": already exists", err)
		case "foreign_key_violation", "check_violation", "not_null_violation", "invalid_text_representation":
			return apierror.NewAPIError(apierror.ErrInvalidInput, message+": "+pqErr.Message, err)
		}
	}

	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}
