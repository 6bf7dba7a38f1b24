// Package apperr 定义面向调用方的错误分类。
//
// 校验、鉴权、未找到、冲突类错误的消息原样返回给调用方；
// Internal 错误只返回通用文案，详细原因由调用处记录日志。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 错误分类
type Code string

const (
	CodeValidation       Code = "validation"
	CodeBadRequest       Code = "bad_request"
	CodeUnauthenticated  Code = "unauthenticated"
	CodeNotMember        Code = "not_member"
	CodeInsufficientRole Code = "insufficient_role"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal"
)

const internalMessage = "internal server error"

// Error 带分类的业务错误
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按分类比较，errors.Is(err, apperr.NotFound("")) 只关心 Code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(CodeValidation, format, args...) }
func BadRequest(format string, args ...any) *Error { return newf(CodeBadRequest, format, args...) }
func Unauthenticated(format string, args ...any) *Error {
	return newf(CodeUnauthenticated, format, args...)
}
func NotMember(format string, args ...any) *Error { return newf(CodeNotMember, format, args...) }
func InsufficientRole(format string, args ...any) *Error {
	return newf(CodeInsufficientRole, format, args...)
}
func Forbidden(format string, args ...any) *Error { return newf(CodeForbidden, format, args...) }
func NotFound(format string, args ...any) *Error  { return newf(CodeNotFound, format, args...) }
func Conflict(format string, args ...any) *Error  { return newf(CodeConflict, format, args...) }
func RateLimited(format string, args ...any) *Error {
	return newf(CodeRateLimited, format, args...)
}

// Internal 包装底层错误，对外只暴露通用文案
func Internal(err error, format string, args ...any) *Error {
	e := newf(CodeInternal, format, args...)
	e.Err = err
	return e
}

// CodeOf 返回错误的分类，非 *Error 一律视为 Internal
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode 判断错误是否属于指定分类
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage 返回可以展示给调用方的文案
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Code == CodeInternal {
		return internalMessage
	}
	return e.Message
}

// HTTPStatus 将分类映射为 HTTP 状态码
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotMember, CodeInsufficientRole, CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
