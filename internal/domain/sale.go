package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrSaleClosed   = errors.New("sale is not open")
	ErrLineNotFound = errors.New("product type is not part of the sale")
	ErrTagNotInSale = errors.New("tag is not part of the sale")
	ErrDuplicateTag = errors.New("tag already recorded")
	ErrNegativeQty  = errors.New("quantity must not be negative")
)

// SaleLine is a bulk line of a sale. UnitPrice is captured when the line is created.
// A line may carry zero bulk quantity while tagged units of the same type are in the sale.
type SaleLine struct {
	ProductTypeID int64           `json:"product_type_id"`
	Code          string          `json:"code"`
	Description   string          `json:"description"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	DiscountRate  decimal.Decimal `json:"discount_rate"`
}

type SaleTag struct {
	RFID          string `json:"rfid"`
	ProductTypeID int64  `json:"product_type_id"`
}

type Sale struct {
	Ticket       int64              `json:"ticket"`
	State        SaleState          `json:"state"`
	DiscountRate decimal.Decimal    `json:"discount_rate"`
	Lines        map[int64]SaleLine `json:"lines"`
	Tags         map[string]SaleTag `json:"tags"`
	CreatedAt    time.Time          `json:"created_at"`
}

func NewSale(now time.Time) Sale {
	return Sale{
		State:        SaleOpen,
		DiscountRate: decimal.Zero,
		Lines:        make(map[int64]SaleLine),
		Tags:         make(map[string]SaleTag),
		CreatedAt:    now,
	}
}

func (s Sale) IsOpen() bool {
	return s.State == SaleOpen
}

func (s Sale) IsCommitted() bool {
	return s.State == SaleCommitted
}

// Commit closes the sale. It is the only way out of SaleOpen.
func (s *Sale) Commit() error {
	if s.State != SaleOpen {
		return &TransitionError{Entity: "sale", ID: s.Ticket, From: string(s.State), To: string(SaleCommitted)}
	}
	s.State = SaleCommitted
	return nil
}

// AddQuantity records qty bulk units of pt. Stock checks belong to the caller.
func (s *Sale) AddQuantity(pt ProductType, qty int) error {
	if !s.IsOpen() {
		return ErrSaleClosed
	}
	if qty < 0 {
		return ErrNegativeQty
	}
	line, ok := s.Lines[pt.ID]
	if !ok {
		if qty == 0 {
			return nil
		}
		line = newSaleLine(pt)
	}
	line.Quantity += qty
	s.Lines[pt.ID] = line
	return nil
}

// RemoveQuantity takes up to qty bulk units of the product type out of the sale
// and returns how many were actually removed.
func (s *Sale) RemoveQuantity(productTypeID int64, qty int) (int, error) {
	if !s.IsOpen() {
		return 0, ErrSaleClosed
	}
	if qty < 0 {
		return 0, ErrNegativeQty
	}
	line, ok := s.Lines[productTypeID]
	if !ok {
		return 0, ErrLineNotFound
	}
	removed := min(qty, line.Quantity)
	line.Quantity -= removed
	s.Lines[productTypeID] = line
	s.pruneLine(productTypeID)
	return removed, nil
}

func (s *Sale) AddTag(product Product, pt ProductType) error {
	if !s.IsOpen() {
		return ErrSaleClosed
	}
	if _, ok := s.Tags[product.RFID]; ok {
		return ErrDuplicateTag
	}
	if _, ok := s.Lines[pt.ID]; !ok {
		s.Lines[pt.ID] = newSaleLine(pt)
	}
	s.Tags[product.RFID] = SaleTag{RFID: product.RFID, ProductTypeID: pt.ID}
	return nil
}

func (s *Sale) RemoveTag(rfid string) (SaleTag, error) {
	if !s.IsOpen() {
		return SaleTag{}, ErrSaleClosed
	}
	tag, ok := s.Tags[rfid]
	if !ok {
		return SaleTag{}, ErrTagNotInSale
	}
	delete(s.Tags, rfid)
	s.pruneLine(tag.ProductTypeID)
	return tag, nil
}

func (s *Sale) ApplyLineDiscount(productTypeID int64, rate decimal.Decimal) error {
	if !s.IsOpen() {
		return ErrSaleClosed
	}
	line, ok := s.Lines[productTypeID]
	if !ok {
		return ErrLineNotFound
	}
	line.DiscountRate = rate
	s.Lines[productTypeID] = line
	return nil
}

func (s *Sale) ApplyDiscount(rate decimal.Decimal) error {
	if !s.IsOpen() {
		return ErrSaleClosed
	}
	s.DiscountRate = rate
	return nil
}

func (s Sale) HasTag(rfid string) bool {
	_, ok := s.Tags[rfid]
	return ok
}

func (s Sale) TaggedCount(productTypeID int64) int {
	n := 0
	for _, tag := range s.Tags {
		if tag.ProductTypeID == productTypeID {
			n++
		}
	}
	return n
}

// OriginalTotal is the value of the sale before any discount.
func (s Sale) OriginalTotal() decimal.Decimal {
	total := decimal.Zero
	for id, line := range s.Lines {
		units := decimal.NewFromInt(int64(line.Quantity + s.TaggedCount(id)))
		total = total.Add(line.UnitPrice.Mul(units))
	}
	return RoundMoney(total)
}

func (s Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for id, line := range s.Lines {
		units := decimal.NewFromInt(int64(line.Quantity + s.TaggedCount(id)))
		total = total.Add(discounted(line.UnitPrice.Mul(units), line.DiscountRate))
	}
	return RoundMoney(discounted(total, s.DiscountRate))
}

// Points is the loyalty value of the sale: one point per 10 units of undiscounted value.
func (s Sale) Points() int {
	return int(s.OriginalTotal().Div(ten).Floor().IntPart())
}

// SortedLines returns the lines ordered by product type id.
func (s Sale) SortedLines() []SaleLine {
	lines := make([]SaleLine, 0, len(s.Lines))
	for _, line := range s.Lines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductTypeID < lines[j].ProductTypeID })
	return lines
}

func (s Sale) SortedTags() []SaleTag {
	tags := make([]SaleTag, 0, len(s.Tags))
	for _, tag := range s.Tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].RFID < tags[j].RFID })
	return tags
}

func (s Sale) Clone() Sale {
	out := s
	out.Lines = make(map[int64]SaleLine, len(s.Lines))
	for id, line := range s.Lines {
		out.Lines[id] = line
	}
	out.Tags = make(map[string]SaleTag, len(s.Tags))
	for rfid, tag := range s.Tags {
		out.Tags[rfid] = tag
	}
	return out
}

func (s *Sale) pruneLine(productTypeID int64) {
	line, ok := s.Lines[productTypeID]
	if ok && line.Quantity == 0 && s.TaggedCount(productTypeID) == 0 {
		delete(s.Lines, productTypeID)
	}
}

func newSaleLine(pt ProductType) SaleLine {
	return SaleLine{
		ProductTypeID: pt.ID,
		Code:          pt.Code,
		Description:   pt.Description,
		UnitPrice:     pt.UnitPrice,
		DiscountRate:  decimal.Zero,
	}
}
