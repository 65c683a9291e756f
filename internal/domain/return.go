package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrReturnClosed  = errors.New("return is not open")
	ErrExceedsSold   = errors.New("returned quantity exceeds sold quantity")
	ErrAlreadyRefund = errors.New("return already refunded")
)

type ReturnLine struct {
	ProductTypeID int64           `json:"product_type_id"`
	Code          string          `json:"code"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	DiscountRate  decimal.Decimal `json:"discount_rate"`
	Quantity      int             `json:"quantity"`
}

// Return is a return transaction against one committed sale. Prices and discounts
// are copied from the sale so the refund matches what the customer paid.
type Return struct {
	ID               int64                `json:"id"`
	SaleTicket       int64                `json:"sale_ticket"`
	State            ReturnState          `json:"state"`
	SaleDiscountRate decimal.Decimal      `json:"sale_discount_rate"`
	Lines            map[int64]ReturnLine `json:"lines"`
	Tags             map[string]SaleTag   `json:"tags"`
	BalanceID        *int64               `json:"balance_id,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func NewReturn(sale Sale, now time.Time) Return {
	return Return{
		SaleTicket:       sale.Ticket,
		State:            ReturnOpen,
		SaleDiscountRate: sale.DiscountRate,
		Lines:            make(map[int64]ReturnLine),
		Tags:             make(map[string]SaleTag),
		CreatedAt:        now,
	}
}

func (r Return) IsOpen() bool {
	return r.State == ReturnOpen
}

func (r Return) IsCommitted() bool {
	return r.State == ReturnCommitted
}

func (r Return) IsRefunded() bool {
	return r.BalanceID != nil
}

func (r *Return) Commit() error {
	if r.State != ReturnOpen {
		return &TransitionError{Entity: "return", ID: r.ID, From: string(r.State), To: string(ReturnCommitted)}
	}
	r.State = ReturnCommitted
	return nil
}

// MarkRefunded links the refund ledger entry. A return is refunded at most once,
// and only after it has been committed.
func (r *Return) MarkRefunded(balanceID int64) error {
	if !r.IsCommitted() {
		return ErrReturnClosed
	}
	if r.IsRefunded() {
		return ErrAlreadyRefund
	}
	r.BalanceID = &balanceID
	return nil
}

// RegisterQuantity adds qty bulk units of the sale line to the return. The running
// total on this return may never exceed what the line sold.
func (r *Return) RegisterQuantity(line SaleLine, qty int) error {
	if !r.IsOpen() {
		return ErrReturnClosed
	}
	if qty < 0 {
		return ErrNegativeQty
	}
	current := r.lineFor(line)
	if current.Quantity+qty > line.Quantity {
		return ErrExceedsSold
	}
	current.Quantity += qty
	r.Lines[line.ProductTypeID] = current
	return nil
}

func (r *Return) RegisterTag(tag SaleTag, line SaleLine) error {
	if !r.IsOpen() {
		return ErrReturnClosed
	}
	if _, ok := r.Tags[tag.RFID]; ok {
		return ErrDuplicateTag
	}
	r.Lines[line.ProductTypeID] = r.lineFor(line)
	r.Tags[tag.RFID] = tag
	return nil
}

func (r Return) Quantity(productTypeID int64) int {
	return r.Lines[productTypeID].Quantity
}

func (r Return) HasTag(rfid string) bool {
	_, ok := r.Tags[rfid]
	return ok
}

func (r Return) TaggedCount(productTypeID int64) int {
	n := 0
	for _, tag := range r.Tags {
		if tag.ProductTypeID == productTypeID {
			n++
		}
	}
	return n
}

// Total is the refund owed: returned units at the sale's discounted price.
func (r Return) Total() decimal.Decimal {
	total := decimal.Zero
	for id, line := range r.Lines {
		units := decimal.NewFromInt(int64(line.Quantity + r.TaggedCount(id)))
		total = total.Add(discounted(line.UnitPrice.Mul(units), line.DiscountRate))
	}
	return RoundMoney(discounted(total, r.SaleDiscountRate))
}

func (r Return) Clone() Return {
	out := r
	out.Lines = make(map[int64]ReturnLine, len(r.Lines))
	for id, line := range r.Lines {
		out.Lines[id] = line
	}
	out.Tags = make(map[string]SaleTag, len(r.Tags))
	for rfid, tag := range r.Tags {
		out.Tags[rfid] = tag
	}
	if r.BalanceID != nil {
		id := *r.BalanceID
		out.BalanceID = &id
	}
	return out
}

func (r Return) lineFor(line SaleLine) ReturnLine {
	if current, ok := r.Lines[line.ProductTypeID]; ok {
		return current
	}
	return ReturnLine{
		ProductTypeID: line.ProductTypeID,
		Code:          line.Code,
		UnitPrice:     line.UnitPrice,
		DiscountRate:  line.DiscountRate,
	}
}
