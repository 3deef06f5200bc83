package errx

import (
	"errors"
	"fmt"
)

type Code string

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf 返回错误链中第一个 *Error 的错误码，没有时返回空
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

const (
	CodeNotAProxyURL           Code = "NOT_A_PROXY_URL"
	CodeUnsupportedProtocol    Code = "UNSUPPORTED_PROTOCOL"
	CodeUnknownSession         Code = "UNKNOWN_SESSION"
	CodeUpstreamUnreachable    Code = "UPSTREAM_UNREACHABLE"
	CodeUpstreamTimeout        Code = "UPSTREAM_TIMEOUT"
	CodeCORSDenied             Code = "CORS_DENIED"
	CodeMalformedCookie        Code = "MALFORMED_COOKIE"
	CodeResponseMockValidation Code = "RESPONSE_MOCK_VALIDATION"
	CodeInvalidURL             Code = "INVALID_URL"
	CodeInvalidConfig          Code = "INVALID_CONFIG"
	CodeInvalidFilterRule      Code = "INVALID_FILTER_RULE"
)
