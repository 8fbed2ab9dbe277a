package out

import "errors"

// Sentinel errors shared by the outbound adapters.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrDrafterUnavailable = errors.New("drafter not configured")
	ErrLabelExists        = errors.New("label already exists")
)

// RemoteErrorCode classifies a failure of an external collaborator.
type RemoteErrorCode string

const (
	RemoteErrAuth         RemoteErrorCode = "auth_error"
	RemoteErrTokenExpired RemoteErrorCode = "token_expired"
	RemoteErrRateLimit    RemoteErrorCode = "rate_limit"
	RemoteErrNotFound     RemoteErrorCode = "not_found"
	RemoteErrConflict     RemoteErrorCode = "conflict"
	RemoteErrNetwork      RemoteErrorCode = "network_error"
	RemoteErrServer       RemoteErrorCode = "server_error"
	RemoteErrInvalidInput RemoteErrorCode = "invalid_input"
	RemoteErrMalformed    RemoteErrorCode = "malformed_response"
	RemoteErrUnavailable  RemoteErrorCode = "circuit_open"
)

// RemoteServiceError wraps any failure of the mailbox, commerce or
// language-model collaborators.
type RemoteServiceError struct {
	Service   string
	Code      RemoteErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *RemoteServiceError) Error() string {
	msg := e.Service + ": " + e.Message
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// NewRemoteServiceError creates a new remote service error.
func NewRemoteServiceError(service string, code RemoteErrorCode, message string, err error, retryable bool) *RemoteServiceError {
	return &RemoteServiceError{
		Service:   service,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// IsRetryable reports whether err is a RemoteServiceError marked retryable.
func IsRetryable(err error) bool {
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return rse.Retryable
	}
	return false
}

// RemoteCode returns the code of a wrapped RemoteServiceError, or "".
func RemoteCode(err error) RemoteErrorCode {
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return rse.Code
	}
	return ""
}
