package service

import (
	"errors"
)

// ErrorKind 账务操作的业务错误分类，由 handler 映射为 HTTP 状态码
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindInsufficientCredits
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientCredits:
		return "insufficient_credits"
	default:
		return "internal"
	}
}

// Error 携带分类和面向用户的提示信息
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按分类比较，使 errors.Is(err, ErrNotFound) 这类判断成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
)

func validationError(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func notFoundError(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

func insufficientCreditsError() error {
	return &Error{Kind: KindInsufficientCredits, Message: "Insufficient credits"}
}

// KindOf 返回错误分类，非业务错误一律视为内部错误
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
