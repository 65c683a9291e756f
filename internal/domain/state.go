package domain

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

type SaleState string

const (
	SaleOpen      SaleState = "OPEN"
	SaleCommitted SaleState = "COMMITTED"
)

type ReturnState string

const (
	ReturnOpen      ReturnState = "OPEN"
	ReturnCommitted ReturnState = "COMMITTED"
)

type OrderStatus string

const (
	OrderIssued    OrderStatus = "ISSUED"
	OrderPayed     OrderStatus = "PAYED"
	OrderCompleted OrderStatus = "COMPLETED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderIssued, OrderPayed, OrderCompleted:
		return true
	}
	return false
}
