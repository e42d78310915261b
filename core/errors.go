package core

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated is returned when a protected resource is requested without a principal.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the principal lacks a required role.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrTooManyRequests is returned when a client exceeds the login rate limit.
	ErrTooManyRequests = errors.New("too many login attempts")

	ErrUserNotFound      = errors.New("user not found")
	ErrDetailsNotFound   = errors.New("user details not found")
	ErrPhotoNotFound     = errors.New("photo not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already in use")
	ErrInvalidImage      = errors.New("unsupported image type; only JPEG and PNG are allowed")
	ErrUnknownRole       = errors.New("unknown role id")
)

// ErrorKind is the closed set of failure classes the HTTP boundary knows how to render.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidCredentials
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindValidation
	KindConflict
	KindTooManyRequests
)

func (k ErrorKind) status() int {
	switch k {
	case KindInvalidCredentials, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) code() string {
	switch k {
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	case KindTooManyRequests:
		return "TOO_MANY_REQUESTS"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// AppError attaches an ErrorKind and a client-safe message to an underlying error.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func validationError(message string) error {
	return &AppError{Kind: KindValidation, Message: message}
}

// sentinelKinds maps package sentinels to their kind. Messages of these
// sentinels are safe to show to clients.
var sentinelKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrForbidden, KindForbidden},
	{ErrTooManyRequests, KindTooManyRequests},
	{ErrUserNotFound, KindNotFound},
	{ErrDetailsNotFound, KindNotFound},
	{ErrPhotoNotFound, KindNotFound},
	{ErrDuplicateUsername, KindConflict},
	{ErrDuplicateEmail, KindConflict},
	{ErrInvalidImage, KindValidation},
	{ErrUnknownRole, KindValidation},
}

// classifyError reduces any error to an AppError. Unknown errors fall into
// KindInternal with a generic message.
func classifyError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return &AppError{Kind: s.kind, Message: s.err.Error(), Err: err}
		}
	}
	return &AppError{Kind: KindInternal, Message: "internal server error", Err: err}
}
