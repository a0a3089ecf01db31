package wallet

import (
	"errors"
	"fmt"
)

// Reserved backend message codes.
const (
	CodeTwoFactorRequired  = 126
	CodeInvalidCredentials = 171
)

// ErrorKind classifies backend error envelopes.
type ErrorKind int

const (
	// KindUserData covers every backend rejection without a reserved code.
	KindUserData ErrorKind = iota + 1
	// KindAuthentication means the access token is invalid or expired.
	KindAuthentication
	// KindTokenRefresh means the refresh call itself failed.
	KindTokenRefresh
	// KindTwoFactorRequired asks the caller to supply a 2FA pin.
	KindTwoFactorRequired
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserData:
		return "user_data_rejected"
	case KindAuthentication:
		return "authentication_failure"
	case KindTokenRefresh:
		return "token_refresh_failure"
	case KindTwoFactorRequired:
		return "two_factor_required"
	}
	return "unknown"
}

// Error is a typed backend error parsed from {"error": {...}}.
type Error struct {
	Kind        ErrorKind
	MessageCode int
	Message     string

	cause error
}

var (
	// ErrUserData matches any *Error of KindUserData.
	ErrUserData = &Error{Kind: KindUserData, Message: "user data rejected"}
	// ErrAuthentication matches any *Error of KindAuthentication.
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	// ErrTokenRefresh matches any *Error of KindTokenRefresh.
	ErrTokenRefresh = &Error{Kind: KindTokenRefresh, Message: "token refresh failed"}
	// ErrTwoFactorRequired matches any *Error of KindTwoFactorRequired.
	ErrTwoFactorRequired = &Error{Kind: KindTwoFactorRequired, Message: "two-factor code required"}

	// ErrNotAuthenticated is returned by Authorized when the session holds no access token.
	ErrNotAuthenticated = errors.New("wallet: not authenticated")
	// ErrUnexpectedStatus reports a non-2xx response without an error envelope.
	ErrUnexpectedStatus = errors.New("wallet: unexpected status")
	// ErrEmptyResponse reports a missing body where one is required.
	ErrEmptyResponse = errors.New("wallet: empty response")
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return fmt.Sprintf("%s code: %d", e.Message, e.MessageCode)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors of the same kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Code returns a stable identifier for logs.
func (e *Error) Code() string {
	switch e.Kind {
	case KindUserData:
		return "USER_DATA_REJECTED"
	case KindAuthentication:
		return "AUTHENTICATION_FAILURE"
	case KindTokenRefresh:
		return "TOKEN_REFRESH_FAILURE"
	case KindTwoFactorRequired:
		return "TWO_FACTOR_REQUIRED"
	}
	return "UNKNOWN"
}

// KindOf returns the kind of a wrapped *Error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return 0
}

// classify maps a backend envelope to a typed error. Refresh calls always
// produce KindTokenRefresh regardless of the code.
func classify(code int, message string, refresh bool) *Error {
	kind := KindUserData
	switch {
	case refresh:
		kind = KindTokenRefresh
	case code == CodeTwoFactorRequired:
		kind = KindTwoFactorRequired
	case code == CodeInvalidCredentials:
		kind = KindAuthentication
	}
	return &Error{Kind: kind, MessageCode: code, Message: message}
}

// refreshFailure reports any failed refresh as KindTokenRefresh, keeping the
// transport or decode error reachable through errors.Is.
func refreshFailure(err error) error {
	if KindOf(err) == KindTokenRefresh {
		return err
	}
	return &Error{Kind: KindTokenRefresh, Message: ErrTokenRefresh.Message, cause: err}
}
