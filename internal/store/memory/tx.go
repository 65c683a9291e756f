package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/store"
)

// tx reads and writes one state value. The caller holds the store lock.
type tx struct {
	st *state
}

var _ store.Tx = (*tx)(nil)

func (t *tx) ListProductTypes(_ context.Context) ([]domain.ProductType, error) {
	out := make([]domain.ProductType, 0, len(t.st.productTypes))
	for _, pt := range t.st.productTypes {
		out = append(out, pt)
	}
	slices.SortFunc(out, func(a, b domain.ProductType) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) GetProductTypeByID(_ context.Context, id int64) (*domain.ProductType, error) {
	pt, ok := t.st.productTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pt, nil
}

func (t *tx) GetProductTypeByCode(_ context.Context, code string) (*domain.ProductType, error) {
	for _, pt := range t.st.productTypes {
		if pt.Code == code {
			return &pt, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetProductTypeByLocation(_ context.Context, location string) (*domain.ProductType, error) {
	if location == "" {
		return nil, store.ErrNotFound
	}
	for _, pt := range t.st.productTypes {
		if pt.Location == location {
			return &pt, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetProduct(_ context.Context, rfid string) (*domain.Product, error) {
	p, ok := t.st.products[rfid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) ExistingRFIDs(_ context.Context, rfids []string) ([]string, error) {
	var found []string
	for _, rfid := range rfids {
		if _, ok := t.st.products[rfid]; ok {
			found = append(found, rfid)
		}
	}
	return found, nil
}

func (t *tx) GetSale(_ context.Context, ticket int64) (*domain.Sale, error) {
	sale, ok := t.st.sales[ticket]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := sale.Clone()
	return &out, nil
}

func (t *tx) GetReturn(_ context.Context, id int64) (*domain.Return, error) {
	ret, ok := t.st.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := ret.Clone()
	return &out, nil
}

func (t *tx) ListReturnsBySale(_ context.Context, ticket int64) ([]domain.Return, error) {
	var out []domain.Return
	for _, ret := range t.st.returns {
		if ret.SaleTicket == ticket {
			out = append(out, ret.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Return) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := order.Clone()
	return &out, nil
}

func (t *tx) ListOrders(_ context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(t.st.orders))
	for _, order := range t.st.orders {
		out = append(out, order.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) ListBalanceTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.BalanceTransaction, error) {
	return domain.EntriesBetween(t.st.ledger, from, to), nil
}

func (t *tx) ListBalanceTransactionsByRef(_ context.Context, ref domain.BalanceRef) ([]domain.BalanceTransaction, error) {
	var out []domain.BalanceTransaction
	for _, entry := range t.st.ledger {
		if entry.Ref == ref {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (t *tx) Balance(_ context.Context) (decimal.Decimal, error) {
	return domain.Balance(t.st.ledger), nil
}

func (t *tx) CreateProductType(_ context.Context, pt domain.ProductType) (*domain.ProductType, error) {
	if err := t.checkUnique(pt); err != nil {
		return nil, err
	}
	t.st.seq.productType++
	pt.ID = t.st.seq.productType
	t.st.productTypes[pt.ID] = pt
	return &pt, nil
}

func (t *tx) UpdateProductType(_ context.Context, pt domain.ProductType) error {
	if _, ok := t.st.productTypes[pt.ID]; !ok {
		return store.ErrNotFound
	}
	if pt.Quantity < 0 {
		return store.ErrInvalid
	}
	if err := t.checkUnique(pt); err != nil {
		return err
	}
	t.st.productTypes[pt.ID] = pt
	return nil
}

func (t *tx) CreateProducts(_ context.Context, products []domain.Product) error {
	for _, p := range products {
		if _, ok := t.st.products[p.RFID]; ok {
			return store.ErrConflict
		}
		if _, ok := t.st.productTypes[p.ProductTypeID]; !ok {
			return store.ErrNotFound
		}
	}
	for _, p := range products {
		t.st.products[p.RFID] = p
	}
	return nil
}

func (t *tx) UpdateProduct(_ context.Context, product domain.Product) error {
	if _, ok := t.st.products[product.RFID]; !ok {
		return store.ErrNotFound
	}
	t.st.products[product.RFID] = product
	return nil
}

func (t *tx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	t.st.seq.sale++
	sale.Ticket = t.st.seq.sale
	t.st.sales[sale.Ticket] = sale.Clone()
	out := sale.Clone()
	return &out, nil
}

func (t *tx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := t.st.sales[sale.Ticket]; !ok {
		return store.ErrNotFound
	}
	t.st.sales[sale.Ticket] = sale.Clone()
	return nil
}

func (t *tx) DeleteSale(_ context.Context, ticket int64) error {
	if _, ok := t.st.sales[ticket]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.sales, ticket)
	return nil
}

func (t *tx) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	if _, ok := t.st.sales[ret.SaleTicket]; !ok {
		return nil, store.ErrNotFound
	}
	t.st.seq.ret++
	ret.ID = t.st.seq.ret
	t.st.returns[ret.ID] = ret.Clone()
	out := ret.Clone()
	return &out, nil
}

func (t *tx) UpdateReturn(_ context.Context, ret domain.Return) error {
	if _, ok := t.st.returns[ret.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.returns[ret.ID] = ret.Clone()
	return nil
}

func (t *tx) DeleteReturn(_ context.Context, id int64) error {
	if _, ok := t.st.returns[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.returns, id)
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	t.st.seq.order++
	order.ID = t.st.seq.order
	t.st.orders[order.ID] = order.Clone()
	out := order.Clone()
	return &out, nil
}

func (t *tx) UpdateOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.st.orders[order.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.orders[order.ID] = order.Clone()
	return nil
}

// AppendBalanceTransaction assigns the next id. Entries are never changed or removed.
func (t *tx) AppendBalanceTransaction(_ context.Context, entry domain.BalanceTransaction) (*domain.BalanceTransaction, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.ErrInvalid
	}
	t.st.seq.balance++
	entry.ID = t.st.seq.balance
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	t.st.ledger = append(t.st.ledger, entry)
	return &entry, nil
}

func (t *tx) checkUnique(pt domain.ProductType) error {
	for id, other := range t.st.productTypes {
		if id == pt.ID {
			continue
		}
		if other.Code == pt.Code {
			return store.ErrConflict
		}
		if pt.Location != "" && other.Location == pt.Location {
			return store.ErrConflict
		}
	}
	return nil
}
