// Package apperr defines the stable, machine-readable error kinds surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInternal       Kind = "internal"
	KindConfiguration  Kind = "configuration"
	KindUpstream       Kind = "upstream"
	KindFilterTooBroad Kind = "filter_too_broad"
	KindCacheCorrupt   Kind = "cache_corruption"
	KindQuery          Kind = "query"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
)

// Kinded is implemented by errors that carry their own kind.
type Kinded interface {
	Kind() Kind
}

type Error struct {
	K   Kind
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Kind() Kind    { return e.K }

func New(k Kind, format string, args ...any) error {
	return &Error{K: k, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{K: k, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost kinded error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
