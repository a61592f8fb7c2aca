package types

import "fmt"

// ErrorKind classifies a failure the way the executor's disposition table
// does: each kind maps to exactly one recovery policy.
type ErrorKind string

const (
	ErrKindDataUnavailable  ErrorKind = "DataUnavailable"
	ErrKindNoRecommendation ErrorKind = "NoRecommendation"
	ErrKindValidationFailed ErrorKind = "ValidationFailed"
	ErrKindSignalHold       ErrorKind = "SignalHold"
	ErrKindRiskRejected     ErrorKind = "RiskRejected"
	ErrKindTransactionFailed ErrorKind = "TransactionFailed"
	ErrKindConfigInvalid    ErrorKind = "ConfigInvalid"
	ErrKindCancelled        ErrorKind = "Cancelled"
)

// DispositionError carries an ErrorKind so callers can branch on recovery
// policy without string matching.
type DispositionError struct {
	Kind   ErrorKind
	Symbol string
	Reason string
	Err    error
}

func (e *DispositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Symbol, e.Reason)
}

func (e *DispositionError) Unwrap() error { return e.Err }

func NewDispositionError(kind ErrorKind, symbol, reason string, err error) *DispositionError {
	return &DispositionError{Kind: kind, Symbol: symbol, Reason: reason, Err: err}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a
// *DispositionError, otherwise returns "".
func KindOf(err error) ErrorKind {
	var de *DispositionError
	if ok := asDispositionError(err, &de); ok {
		return de.Kind
	}
	return ""
}

func asDispositionError(err error, target **DispositionError) bool {
	for err != nil {
		if de, ok := err.(*DispositionError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
