// internal/sale/errors.go
package sale

import (
	"errors"
	"fmt"
)

var (
	// ErrOracleUnavailable: the price source is unreachable or returned garbage.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrPriceUnavailable: no usable exchange rate for the requested currency.
	ErrPriceUnavailable = errors.New("price unavailable")

	ErrSaleInactive       = errors.New("sale inactive")
	ErrBelowMinimum       = errors.New("below minimum purchase")
	ErrAboveMaximum       = errors.New("above maximum purchase")
	ErrInsufficientSupply = errors.New("insufficient supply")

	ErrInvalidAmount          = errors.New("invalid amount")
	ErrTransferAssemblyFailed = errors.New("transfer assembly failed")

	// ErrChainStateExpired: the recent blockhash embedded in a payload is no
	// longer accepted by the cluster.
	ErrChainStateExpired = errors.New("chain state expired")

	// ErrChainUnavailable: the cluster could not be asked about chain state.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrPayloadStillValid: an issued payload can still land on chain, so its
	// reservation must stay in place.
	ErrPayloadStillValid = errors.New("payload still valid")

	ErrPurchaseNotFound   = errors.New("purchase not found")
	ErrPurchaseNotPending = errors.New("purchase not pending")
	ErrRebuildLimit       = errors.New("rebuild limit reached")
)

// Error carries the kind of a sale failure together with context.
type Error struct {
	Kind  error
	Op    string
	Bound uint64
	Err   error
}

// NewError wraps cause under the given kind.
func NewError(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// BoundError builds a validation error that names the violated bound.
func BoundError(kind error, op string, bound uint64) *Error {
	return &Error{Kind: kind, Op: op, Bound: bound}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if hasBound(e.Kind) {
		msg = fmt.Sprintf("%s (bound %d)", msg, e.Bound)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func hasBound(kind error) bool {
	return kind == ErrBelowMinimum || kind == ErrAboveMaximum || kind == ErrInsufficientSupply
}

// Retryable reports whether the caller may try the same request again later.
func Retryable(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrChainStateExpired) ||
		errors.Is(err, ErrChainUnavailable)
}

// UserMessage maps an error to a short reason safe to show to a buyer. The
// wrapped cause is never included.
func UserMessage(err error) string {
	var se *Error
	bound := uint64(0)
	if errors.As(err, &se) {
		bound = se.Bound
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOracleUnavailable), errors.Is(err, ErrPriceUnavailable):
		return "Prices are unavailable right now, please try again later."
	case errors.Is(err, ErrSaleInactive):
		return "The token sale is not currently active."
	case errors.Is(err, ErrBelowMinimum):
		return fmt.Sprintf("Minimum purchase is %d tokens.", bound)
	case errors.Is(err, ErrAboveMaximum):
		return fmt.Sprintf("Maximum purchase is %d tokens.", bound)
	case errors.Is(err, ErrInsufficientSupply):
		return fmt.Sprintf("Not enough tokens available for purchase (%d remaining).", bound)
	case errors.Is(err, ErrChainStateExpired):
		return "The transaction expired before it could be prepared, please try again."
	case errors.Is(err, ErrChainUnavailable):
		return "The network is unavailable right now, please try again later."
	case errors.Is(err, ErrPayloadStillValid):
		return "The transaction can still be confirmed. Cancel it again once it has expired."
	case errors.Is(err, ErrPurchaseNotFound):
		return "Purchase not found."
	case errors.Is(err, ErrPurchaseNotPending):
		return "Purchase is no longer pending."
	case errors.Is(err, ErrRebuildLimit):
		return "This purchase can no longer be rebuilt, please start a new purchase."
	default:
		return "Failed to process purchase. Please try again."
	}
}
