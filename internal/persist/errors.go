package persist

import (
	"errors"
	"fmt"

	"github.com/roach88/pstore/internal/codec"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeNoActiveTransaction indicates a mutation without a transaction.
	CodeNoActiveTransaction ErrorCode = "NO_ACTIVE_TRANSACTION"

	// CodeNestedTransaction indicates Begin while another transaction is active.
	CodeNestedTransaction ErrorCode = "NESTED_TRANSACTION"

	// CodeConcurrentModification indicates an attribute or root item already
	// changed by another active transaction.
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// CodeInvalidObject indicates access to a collected or rolled back object.
	CodeInvalidObject ErrorCode = "INVALID_OBJECT"

	// CodeInvalidTransaction indicates use of a committed or aborted transaction.
	CodeInvalidTransaction ErrorCode = "INVALID_TRANSACTION"

	// CodeUnknownPersistentClass indicates a class the schema does not know.
	CodeUnknownPersistentClass ErrorCode = "UNKNOWN_PERSISTENT_CLASS"

	// CodeDanglingObject indicates a reference to an object that is neither
	// durable nor created by the committing transaction.
	CodeDanglingObject ErrorCode = "DANGLING_OBJECT"
)

// Error is a store error with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Class names the class involved, if any.
	Class string

	// OID identifies the object involved, if it has one.
	OID OID

	// Attr names the attribute or root key involved, if any.
	Attr string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.Class != "" && e.OID != 0:
		msg += fmt.Sprintf(" (%s#%d)", e.Class, e.OID)
	case e.Class != "":
		msg += fmt.Sprintf(" (%s)", e.Class)
	case e.OID != 0:
		msg += fmt.Sprintf(" (#%d)", e.OID)
	}
	if e.Attr != "" {
		msg += fmt.Sprintf(" [%s]", e.Attr)
	}
	return msg
}

// Is reports whether target is an *Error with the same code, so the
// sentinel values below match through errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is. Returned errors carry more detail.
var (
	ErrNoActiveTransaction    = &Error{Code: CodeNoActiveTransaction}
	ErrNestedTransaction      = &Error{Code: CodeNestedTransaction}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification}
	ErrInvalidObject          = &Error{Code: CodeInvalidObject}
	ErrInvalidTransaction     = &Error{Code: CodeInvalidTransaction}
	ErrUnknownPersistentClass = &Error{Code: CodeUnknownPersistentClass}
	ErrDanglingObject         = &Error{Code: CodeDanglingObject}
)

var (
	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrAttributeNotFound is returned when reading or deleting a missing attribute.
	ErrAttributeNotFound = errors.New("attribute not found")

	// ErrReadOnlyProperty is returned when writing a property without a setter.
	ErrReadOnlyProperty = errors.New("read-only property")

	// ErrForeignObject is returned when an object of another database is used.
	ErrForeignObject = errors.New("object belongs to another database")

	// ErrUnsupportedValue is returned for attribute values the codec cannot store.
	ErrUnsupportedValue = codec.ErrUnsupportedValue
)

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsInvalidObject returns true if err reports access to an invalid object.
func IsInvalidObject(err error) bool {
	return CodeOf(err) == CodeInvalidObject
}

// IsConflict returns true if err reports a nested transaction or a
// concurrent modification.
func IsConflict(err error) bool {
	code := CodeOf(err)
	return code == CodeNestedTransaction || code == CodeConcurrentModification
}

func invalidObjectError(obj *Object, attr string) *Error {
	return &Error{
		Code:    CodeInvalidObject,
		Message: "object is no longer valid",
		Class:   obj.class.name,
		Attr:    attr,
	}
}

func invalidTransactionError(tx *Transaction) *Error {
	return &Error{
		Code:    CodeInvalidTransaction,
		Message: fmt.Sprintf("transaction %s is %s", tx.id, tx.state),
	}
}

func noActiveTransactionError(op string) *Error {
	return &Error{
		Code:    CodeNoActiveTransaction,
		Message: op + " requires an active transaction",
	}
}

func danglingObjectError(obj *Object, reason string) *Error {
	return &Error{
		Code:    CodeDanglingObject,
		Message: reason,
		Class:   obj.class.name,
	}
}

func unknownClassError(name string) *Error {
	return &Error{
		Code:    CodeUnknownPersistentClass,
		Message: "class is not registered in the schema",
		Class:   name,
	}
}
