package errors

import "net/http"

// Error code constants. Errors carry code + message; codes are stable,
// messages are free-form English for operators.

// Configuration error codes. All fatal, surfaced verbatim.
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeHostFormatInvalid = "HOST_FORMAT_INVALID"
)

// API fetch error codes (namespace or VMI listing).
const (
	CodeAPIFetchFailed = "API_FETCH_FAILED"
	CodeClientBuild    = "CLIENT_BUILD_FAILED"
)

// VM operation error codes.
const (
	CodeVMAlreadyExists = "VM_ALREADY_EXISTS"
	CodeVMWaitTimeout   = "VM_WAIT_TIMEOUT"
	CodeVMCreateFail    = "VM_CREATION_FAILED"
	CodeVMDeleteFail    = "VM_DELETION_FAILED"
	CodeVMSpecInvalid   = "VM_SPEC_INVALID"
)

// Convenience constructors using predefined codes.

// ErrConfigInvalidf creates a fatal configuration error.
func ErrConfigInvalidf(message string) *AppError {
	return &AppError{
		Code:       CodeConfigInvalid,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrHostFormatf creates a fatal error for a malformed host_format template.
func ErrHostFormatf(format, key string) *AppError {
	return &AppError{
		Code:       CodeHostFormatInvalid,
		Message:    "host_format " + format + " references unknown key " + key,
		HTTPStatus: http.StatusBadRequest,
		Params: map[string]interface{}{
			"host_format": format,
			"key":         key,
		},
	}
}

// ErrAPIFetchf wraps an upstream API failure for one connection.
func ErrAPIFetchf(what string, err error) *AppError {
	return &AppError{
		Code:       CodeAPIFetchFailed,
		Message:    "error fetching " + what,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}
