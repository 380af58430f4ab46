package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a cart failure for callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInsufficientStock
	KindInvalidArgument
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindStoreUnavailable:
		return "STORE_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Resources named by NotFound errors.
const (
	ResourceCart     = "cart"
	ResourceCartItem = "cart_item"
	ResourceProduct  = "product"
)

// Error is the typed failure returned by CartService.
type Error struct {
	Kind     Kind
	Resource string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	// Store errors usually wrap a sentinel that already carries the message.
	if inner := e.Err.Error(); strings.HasPrefix(inner, e.Message) {
		return inner
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and, when the target names one, resource.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Resource == "" || t.Resource == e.Resource)
}

// Retryable reports whether the caller may repeat the request.
func (e *Error) Retryable() bool {
	return e.Kind == KindStoreUnavailable
}

// Targets for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrCartNotFound      = &Error{Kind: KindNotFound, Resource: ResourceCart, Message: "cart not found"}
	ErrCartItemNotFound  = &Error{Kind: KindNotFound, Resource: ResourceCartItem, Message: "cart item not found"}
	ErrProductNotFound   = &Error{Kind: KindNotFound, Resource: ResourceProduct, Message: "product not found"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
)

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func invalidArgument(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}
