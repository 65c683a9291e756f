package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tillcore/backend/internal/codes"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/lock"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
)

type returnEvent struct {
	ReturnID   int64           `json:"return_id"`
	SaleTicket int64           `json:"sale_ticket"`
	Total      decimal.Decimal `json:"total"`
}

// StartReturnTransaction opens a return against a committed sale that has
// been settled by exactly one payment.
func (s *Service) StartReturnTransaction(ctx context.Context, ticket int64) (int64, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return 0, err
	}
	if ticket <= 0 {
		return 0, ErrInvalidTicket
	}

	var id int64
	err := s.mutate(ctx, "return.start", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, ticket)
		if err != nil {
			return notFound(err, "sale %d", ticket)
		}
		if !sale.IsCommitted() {
			return ErrSaleNotCommitted
		}
		credits, err := saleCredits(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if len(credits) != 1 {
			return ErrSaleNotPaid
		}
		ret, err := tx.CreateReturn(ctx, domain.NewReturn(*sale, s.today()))
		if err != nil {
			return err
		}
		id = ret.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	countTransaction("return", "started")
	s.logAudit(ctx, "return_start", "return", id, fmt.Sprintf("ticket=%d", ticket))
	return id, nil
}

func openReturn(ctx context.Context, r store.Reader, id int64) (*domain.Return, *domain.Sale, error) {
	ret, err := r.GetReturn(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, "return %d", id)
	}
	if !ret.IsOpen() {
		return nil, nil, ErrReturnState
	}
	sale, err := r.GetSale(ctx, ret.SaleTicket)
	if err != nil {
		return nil, nil, notFound(err, "sale %d", ret.SaleTicket)
	}
	return ret, sale, nil
}

// ReturnProduct registers amount bulk units for return. Stock is untouched
// until the return commits.
func (s *Service) ReturnProduct(ctx context.Context, returnID int64, code string, amount int) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if returnID <= 0 {
		return ErrInvalidReturnID
	}
	if !codes.ValidBarcode(code) {
		return ErrInvalidCode
	}
	if amount <= 0 {
		return ErrInvalidQuantity
	}

	err := s.mutate(ctx, "return.add_product", []string{lock.ReturnKey(returnID)}, func(ctx context.Context, tx store.Tx) error {
		ret, sale, err := openReturn(ctx, tx, returnID)
		if err != nil {
			return err
		}
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		line, ok := sale.Lines[pt.ID]
		if !ok {
			return fmt.Errorf("%s in sale %d: %w", code, sale.Ticket, ErrProductNotInSale)
		}
		if err := ret.RegisterQuantity(line, amount); err != nil {
			return fromDomain(err)
		}
		return tx.UpdateReturn(ctx, *ret)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "return_add_product", "return", returnID, fmt.Sprintf("code=%s,amount=%d", code, amount))
	return nil
}

// ReturnProductRFID registers one sold tagged unit for return.
func (s *Service) ReturnProductRFID(ctx context.Context, returnID int64, rfid string) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if returnID <= 0 {
		return ErrInvalidReturnID
	}
	if !codes.ValidRFID(rfid) {
		return ErrInvalidRFID
	}

	err := s.mutate(ctx, "return.add_product_rfid", []string{lock.ReturnKey(returnID)}, func(ctx context.Context, tx store.Tx) error {
		ret, sale, err := openReturn(ctx, tx, returnID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, rfid)
		if err != nil {
			return notFound(err, "product %s", rfid)
		}
		tag, sold := sale.Tags[rfid]
		if !sold || product.Available {
			return fmt.Errorf("rfid %s in sale %d: %w", rfid, sale.Ticket, ErrProductNotInSale)
		}
		if ret.HasTag(rfid) {
			return fmt.Errorf("rfid %s: %w", rfid, ErrReturnExceedsSale)
		}
		if err := ret.RegisterTag(tag, sale.Lines[tag.ProductTypeID]); err != nil {
			return fromDomain(err)
		}
		return tx.UpdateReturn(ctx, *ret)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "return_add_product_rfid", "return", returnID, "rfid="+rfid)
	return nil
}

// checkAgainstSale verifies that ret together with every other committed
// return of the sale stays within what the sale sold.
func checkAgainstSale(ctx context.Context, r store.Reader, ret *domain.Return, sale *domain.Sale) error {
	returns, err := r.ListReturnsBySale(ctx, sale.Ticket)
	if err != nil {
		return err
	}
	committed := make([]domain.Return, 0, len(returns))
	for _, other := range returns {
		if other.ID != ret.ID && other.IsCommitted() {
			committed = append(committed, other)
		}
	}

	for id, line := range ret.Lines {
		returned := line.Quantity
		for _, other := range committed {
			returned += other.Quantity(id)
		}
		if returned > sale.Lines[id].Quantity {
			return fmt.Errorf("%s: %d returned of %d sold: %w", line.Code, returned, sale.Lines[id].Quantity, ErrReturnExceedsSale)
		}
	}

	for rfid := range ret.Tags {
		if !sale.HasTag(rfid) {
			return fmt.Errorf("rfid %s: %w", rfid, ErrProductNotInSale)
		}
		for _, other := range committed {
			if other.HasTag(rfid) {
				return fmt.Errorf("rfid %s already returned by return %d: %w", rfid, other.ID, ErrReturnExceedsSale)
			}
		}
		product, err := r.GetProduct(ctx, rfid)
		if err != nil {
			return notFound(err, "product %s", rfid)
		}
		if product.Available {
			return fmt.Errorf("rfid %s is back in stock: %w", rfid, ErrReturnExceedsSale)
		}
	}
	return nil
}

// EndReturnTransaction commits the return, restocking every registered unit,
// or with commit=false discards it without touching stock or the ledger.
func (s *Service) EndReturnTransaction(ctx context.Context, returnID int64, commit bool) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if returnID <= 0 {
		return ErrInvalidReturnID
	}

	// The sale lock serializes commits of sibling returns.
	var ticket int64
	err := s.view(ctx, "return.lookup", func(ctx context.Context, r store.Reader) error {
		ret, err := r.GetReturn(ctx, returnID)
		if err != nil {
			return notFound(err, "return %d", returnID)
		}
		ticket = ret.SaleTicket
		return nil
	})
	if err != nil {
		return err
	}

	var total decimal.Decimal
	err = s.mutate(ctx, "return.end", []string{lock.ReturnKey(returnID), lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		ret, sale, err := openReturn(ctx, tx, returnID)
		if err != nil {
			return err
		}
		if !commit {
			return tx.DeleteReturn(ctx, returnID)
		}

		restock := make(map[int64]int, len(ret.Lines))
		for id, line := range ret.Lines {
			if n := line.Quantity + ret.TaggedCount(id); n > 0 {
				restock[id] = n
			}
		}
		if len(restock) == 0 {
			return ErrEmptyTransaction
		}
		if err := checkAgainstSale(ctx, tx, ret, sale); err != nil {
			return err
		}

		for rfid := range ret.Tags {
			product, err := tx.GetProduct(ctx, rfid)
			if err != nil {
				return notFound(err, "product %s", rfid)
			}
			product.Available = true
			if err := tx.UpdateProduct(ctx, *product); err != nil {
				return err
			}
		}
		for id, n := range restock {
			pt, err := productTypeByID(ctx, tx, id)
			if err != nil {
				return err
			}
			pt.Quantity += n
			if err := tx.UpdateProductType(ctx, *pt); err != nil {
				return err
			}
		}
		if err := ret.Commit(); err != nil {
			return fromDomain(err)
		}
		total = ret.Total()
		return tx.UpdateReturn(ctx, *ret)
	})
	if err != nil {
		return err
	}

	if !commit {
		countTransaction("return", "abandoned")
		s.logAudit(ctx, "return_abandon", "return", returnID, "")
		return nil
	}
	countTransaction("return", "committed")
	s.logAudit(ctx, "return_commit", "return", returnID, "total="+total.String())
	s.publish(ctx, events.ReturnCommitted, "return", returnID, returnEvent{ReturnID: returnID, SaleTicket: ticket, Total: total})
	return nil
}

// DeleteReturnTransaction drops a return that has not been committed.
func (s *Service) DeleteReturnTransaction(ctx context.Context, returnID int64) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if returnID <= 0 {
		return ErrInvalidReturnID
	}

	err := s.mutate(ctx, "return.delete", []string{lock.ReturnKey(returnID)}, func(ctx context.Context, tx store.Tx) error {
		ret, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return notFound(err, "return %d", returnID)
		}
		if !ret.IsOpen() {
			return ErrReturnState
		}
		return tx.DeleteReturn(ctx, returnID)
	})
	if err != nil {
		return err
	}

	countTransaction("return", "deleted")
	s.logAudit(ctx, "return_delete", "return", returnID, "")
	return nil
}
