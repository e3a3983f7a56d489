package provider

import (
	"errors"
	"fmt"
	"net/http"

	k8serrors "k8s.io/apimachinery/pkg/api/errors"

	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
)

// FormatAPIError extracts an operator-readable message from a Kubernetes API
// error. The server's JSON status message is used when present, else the
// generic "{status} Reason: {reason}" form.
func FormatAPIError(err error) string {
	var statusErr *k8serrors.StatusError
	if !errors.As(err, &statusErr) {
		return err.Error()
	}

	status := statusErr.Status()
	if status.Message != "" {
		return status.Message
	}
	return fmt.Sprintf("%d Reason: %s", status.Code, status.Reason)
}

// WrapAPIError turns a fetch failure into the fatal per-connection error,
// keeping the HTTP-status-like code when the server reported one.
func WrapAPIError(what string, err error) *apperrors.AppError {
	httpStatus := http.StatusBadGateway
	var statusErr *k8serrors.StatusError
	if errors.As(err, &statusErr) && statusErr.Status().Code > 0 {
		httpStatus = int(statusErr.Status().Code)
	}

	return &apperrors.AppError{
		Code:       apperrors.CodeAPIFetchFailed,
		Message:    fmt.Sprintf("error fetching %s: %s", what, FormatAPIError(err)),
		HTTPStatus: httpStatus,
		Err:        err,
	}
}
