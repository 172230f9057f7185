// Package errors provides custom error types for the backtesting engine.
package errors

import (
	"errors"
	"fmt"
)

// Structural errors. These indicate a setup bug and are never retried.
var (
	ErrDuplicateFeed      = errors.New("feed already registered")
	ErrSeriesLength       = errors.New("series length mismatch")
	ErrDuplicateSeries    = errors.New("series already exists")
	ErrUnknownSeries      = errors.New("unknown series")
	ErrDuplicateTimestamp = errors.New("duplicate bar timestamp")
	ErrInvalidBar         = errors.New("invalid bar")
	ErrBarSetTimestamp    = errors.New("bar timestamp does not match bar set")
	ErrDuplicateSymbol    = errors.New("symbol already present")
	ErrSymbolNotFound     = errors.New("symbol not found")
)

// Order and position contract errors.
var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrOrderNotAccepted = errors.New("order is not in accepted state")
	ErrOrderFilled      = errors.New("order already filled")
	ErrOrderCanceled    = errors.New("order already canceled")
	ErrPositionNotOpen  = errors.New("position is not open")
)

// Account errors. Margin errors are fatal to a run.
var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrMarginCall         = errors.New("margin call")
)

// Configuration and persistence errors.
var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrDataNotFound  = errors.New("data not found")
	ErrDatabaseError = errors.New("database error")
)

// OrderError represents an illegal operation on an order.
type OrderError struct {
	OrderID int64
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%d] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%d] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID int64, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// MarginError carries the account state at the time of a margin violation.
type MarginError struct {
	Symbol   string
	Quantity int
	Required float64
	Cash     float64
	Err      error
}

func (e *MarginError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("%v: required %.2f, cash %.2f", e.Err, e.Required, e.Cash)
	}
	return fmt.Sprintf("%v: %s x%d required %.2f, cash %.2f", e.Err, e.Symbol, e.Quantity, e.Required, e.Cash)
}

func (e *MarginError) Unwrap() error {
	return e.Err
}

// NewMarginError creates a new MarginError.
func NewMarginError(symbol string, quantity int, required, cash float64, err error) *MarginError {
	return &MarginError{
		Symbol:   symbol,
		Quantity: quantity,
		Required: required,
		Cash:     cash,
		Err:      err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// IsMarginError checks if an error is a margin violation.
func IsMarginError(err error) bool {
	return errors.Is(err, ErrInsufficientMargin) || errors.Is(err, ErrMarginCall)
}

// IsRecoverable returns false for errors that must abort a run.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if IsMarginError(err) {
		return false
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return false
	}
	var de *DataError
	return !errors.As(err, &de)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
