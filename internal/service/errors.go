package service

import (
	"errors"
	"fmt"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
)

var (
	// ErrInvalidInput is the root of every malformed-request error.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInfeasible is the root of well-formed requests the current state cannot satisfy.
	ErrInfeasible = errors.New("operation not possible")

	ErrUnauthorized = rights.ErrUnauthorized
)

var (
	ErrInvalidTicket       = invalid("invalid sale ticket")
	ErrInvalidReturnID     = invalid("invalid return id")
	ErrInvalidOrderID      = invalid("invalid order id")
	ErrInvalidProductID    = invalid("invalid product type id")
	ErrInvalidQuantity     = invalid("invalid quantity")
	ErrInvalidCode         = invalid("invalid product code")
	ErrInvalidDescription  = invalid("invalid description")
	ErrInvalidDiscountRate = invalid("invalid discount rate")
	ErrInvalidRFID         = invalid("invalid rfid")
	ErrInvalidPrice        = invalid("invalid price")
	ErrInvalidLocation     = invalid("invalid location")
	ErrInvalidPayment      = invalid("invalid payment")
	ErrInvalidCreditCard   = invalid("invalid credit card")
	ErrInvalidAmount       = invalid("invalid amount")
	ErrInvalidUser         = invalid("invalid user")
	ErrInvalidDateRange    = invalid("invalid date range")
)

var (
	ErrNotFound           = infeasible("not found")
	ErrSaleCommitted      = infeasible("sale already committed")
	ErrSaleNotCommitted   = infeasible("sale not committed")
	ErrSalePaid           = infeasible("sale already paid")
	ErrSaleNotPaid        = infeasible("sale not paid")
	ErrInsufficientStock  = infeasible("insufficient stock")
	ErrInsufficientFunds  = infeasible("insufficient funds")
	ErrOrderState         = infeasible("order not in the required state")
	ErrReturnState        = infeasible("return not in the required state")
	ErrProductUnavailable = infeasible("product not available")
	ErrReturnExceedsSale  = infeasible("return exceeds sold quantity")
	ErrProductNotInSale   = infeasible("product not part of the sale")
	ErrCardDeclined       = infeasible("credit card declined")
	ErrRFIDInUse          = infeasible("rfid already in use")
	ErrLocationTaken      = infeasible("location already assigned")
	ErrMissingLocation    = infeasible("product type has no location")
	ErrCodeTaken          = infeasible("product code already exists")
	ErrUserExists         = infeasible("user already exists")
	ErrEmptyTransaction   = infeasible("transaction has nothing to settle")
)

// tierError is a named error that unwraps to its tier.
type tierError struct {
	msg  string
	tier error
}

func (e *tierError) Error() string { return e.msg }

func (e *tierError) Unwrap() error { return e.tier }

func invalid(msg string) error {
	return &tierError{msg: msg, tier: ErrInvalidInput}
}

func infeasible(msg string) error {
	return &tierError{msg: msg, tier: ErrInfeasible}
}

// notFound turns store.ErrNotFound into ErrNotFound naming what was missing.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

// fromDomain maps entity rule violations onto service errors.
func fromDomain(err error) error {
	var transition *domain.TransitionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &transition):
		switch transition.Entity {
		case "sale":
			return fmt.Errorf("%w: %w", ErrSaleCommitted, err)
		case "return":
			return fmt.Errorf("%w: %w", ErrReturnState, err)
		default:
			return fmt.Errorf("%w: %w", ErrOrderState, err)
		}
	case errors.Is(err, domain.ErrSaleClosed):
		return fmt.Errorf("%w: %w", ErrSaleCommitted, err)
	case errors.Is(err, domain.ErrLineNotFound), errors.Is(err, domain.ErrTagNotInSale):
		return fmt.Errorf("%w: %w", ErrProductNotInSale, err)
	case errors.Is(err, domain.ErrDuplicateTag):
		return fmt.Errorf("%w: %w", ErrProductUnavailable, err)
	case errors.Is(err, domain.ErrNegativeQty):
		return fmt.Errorf("%w: %w", ErrInvalidQuantity, err)
	case errors.Is(err, domain.ErrReturnClosed), errors.Is(err, domain.ErrAlreadyRefund):
		return fmt.Errorf("%w: %w", ErrReturnState, err)
	case errors.Is(err, domain.ErrExceedsSold):
		return fmt.Errorf("%w: %w", ErrReturnExceedsSale, err)
	}
	return err
}

// IsInvalid reports whether err is a validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInfeasible reports whether err is a business-rule refusal.
func IsInfeasible(err error) bool {
	return errors.Is(err, ErrInfeasible)
}
