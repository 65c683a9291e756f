package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            int64           `json:"id"`
	ProductTypeID int64           `json:"product_type_id"`
	ProductCode   string          `json:"product_code"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	Status        OrderStatus     `json:"status"`
	BalanceID     *int64          `json:"balance_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewOrder(pt ProductType, qty int, unitPrice decimal.Decimal, now time.Time) Order {
	return Order{
		ProductTypeID: pt.ID,
		ProductCode:   pt.Code,
		UnitPrice:     unitPrice,
		Quantity:      qty,
		Status:        OrderIssued,
		CreatedAt:     now,
	}
}

func (o Order) Cost() decimal.Decimal {
	return RoundMoney(o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity))))
}

// Pay moves ISSUED to PAYED and links the debit that paid for it.
func (o *Order) Pay(balanceID int64) error {
	if o.Status != OrderIssued {
		return o.transitionError(OrderPayed)
	}
	o.Status = OrderPayed
	o.BalanceID = &balanceID
	return nil
}

// Complete moves PAYED to COMPLETED. Arrival of any other status is rejected.
func (o *Order) Complete() error {
	if o.Status != OrderPayed {
		return o.transitionError(OrderCompleted)
	}
	o.Status = OrderCompleted
	return nil
}

func (o Order) Clone() Order {
	out := o
	if o.BalanceID != nil {
		id := *o.BalanceID
		out.BalanceID = &id
	}
	return out
}

func (o Order) transitionError(to OrderStatus) error {
	return &TransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(to)}
}
