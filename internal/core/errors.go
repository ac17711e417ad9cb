package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors. Every failure in the engine is non-fatal: commands
// return one of these, ticks never fail.
var (
	// Market errors
	ErrUnknownSymbol = &Error{Code: "UNKNOWN_SYMBOL", Message: "unknown symbol"}

	// Order errors
	ErrInsufficientCash      = &Error{Code: "INSUFFICIENT_CASH", Message: "insufficient available cash"}
	ErrInsufficientShares    = &Error{Code: "INSUFFICIENT_SHARES", Message: "insufficient available shares"}
	ErrInsufficientLiquidity = &Error{Code: "INSUFFICIENT_LIQUIDITY", Message: "market maker cannot cover quantity"}
	ErrInvalidQuantity       = &Error{Code: "INVALID_QUANTITY", Message: "quantity must be positive"}
	ErrInvalidLimitPrice     = &Error{Code: "INVALID_LIMIT_PRICE", Message: "limit price must be positive"}
	ErrOrderNotFound         = &Error{Code: "ORDER_NOT_FOUND", Message: "order not found"}
	ErrTradeCapReached       = &Error{Code: "TRADE_CAP_REACHED", Message: "symbol already traded this cycle"}

	// Credit errors
	ErrLoanNotFound  = &Error{Code: "LOAN_NOT_FOUND", Message: "loan not found"}
	ErrLoanLimit     = &Error{Code: "LOAN_LIMIT", Message: "loan limit reached"}
	ErrInvalidAmount = &Error{Code: "INVALID_AMOUNT", Message: "amount must be positive"}

	// Short/margin errors
	ErrPositionNotFound       = &Error{Code: "POSITION_NOT_FOUND", Message: "short position not found"}
	ErrPositionExists         = &Error{Code: "POSITION_EXISTS", Message: "short position already open"}
	ErrInsufficientCollateral = &Error{Code: "INSUFFICIENT_COLLATERAL", Message: "insufficient collateral"}
	ErrShortsDisabled         = &Error{Code: "SHORTS_DISABLED", Message: "short selling disabled"}

	// Engine errors
	ErrGameEnded   = &Error{Code: "GAME_ENDED", Message: "game has ended"}
	ErrNotStarted  = &Error{Code: "NOT_STARTED", Message: "game not started"}
	ErrBadSnapshot = &Error{Code: "BAD_SNAPSHOT", Message: "snapshot cannot be restored"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
