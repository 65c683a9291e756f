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

type saleEvent struct {
	Ticket int64           `json:"ticket"`
	Total  decimal.Decimal `json:"total"`
	Method string          `json:"method,omitempty"`
}

// StartSale opens an empty sale and returns its ticket.
func (s *Service) StartSale(ctx context.Context) (int64, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return 0, err
	}

	var ticket int64
	err := s.mutate(ctx, "sale.start", nil, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.CreateSale(ctx, domain.NewSale(s.today()))
		if err != nil {
			return err
		}
		ticket = sale.Ticket
		return nil
	})
	if err != nil {
		return 0, err
	}

	countTransaction("sale", "started")
	s.logAudit(ctx, "sale_start", "sale", ticket, "")
	return ticket, nil
}

// openSale loads a sale that can still be edited.
func openSale(ctx context.Context, r store.Reader, ticket int64) (*domain.Sale, error) {
	sale, err := r.GetSale(ctx, ticket)
	if err != nil {
		return nil, notFound(err, "sale %d", ticket)
	}
	if !sale.IsOpen() {
		return nil, ErrSaleCommitted
	}
	return sale, nil
}

func productTypeByCode(ctx context.Context, r store.Reader, code string) (*domain.ProductType, error) {
	pt, err := r.GetProductTypeByCode(ctx, code)
	if err != nil {
		return nil, notFound(err, "product type %s", code)
	}
	return pt, nil
}

func productTypeByID(ctx context.Context, r store.Reader, id int64) (*domain.ProductType, error) {
	pt, err := r.GetProductTypeByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "product type %d", id)
	}
	return pt, nil
}

func validateSaleLine(ticket int64, code string, amount int) error {
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	if !codes.ValidBarcode(code) {
		return ErrInvalidCode
	}
	if amount < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// AddProductToSale moves amount units of the product type from stock into the sale.
func (s *Service) AddProductToSale(ctx context.Context, ticket int64, code string, amount int) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if err := validateSaleLine(ticket, code, amount); err != nil {
		return err
	}

	err := s.mutate(ctx, "sale.add_product", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if pt.Quantity < amount {
			return fmt.Errorf("%s has %d on hand: %w", code, pt.Quantity, ErrInsufficientStock)
		}
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if err := sale.AddQuantity(*pt, amount); err != nil {
			return fromDomain(err)
		}
		pt.Quantity -= amount
		if err := tx.UpdateProductType(ctx, *pt); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_add_product", "sale", ticket, fmt.Sprintf("code=%s,amount=%d", code, amount))
	return nil
}

// AddProductToSaleRFID sells one tagged unit.
func (s *Service) AddProductToSaleRFID(ctx context.Context, ticket int64, rfid string) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	if !codes.ValidRFID(rfid) {
		return ErrInvalidRFID
	}

	err := s.mutate(ctx, "sale.add_product_rfid", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, rfid)
		if err != nil {
			return notFound(err, "product %s", rfid)
		}
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if !product.Available {
			return fmt.Errorf("product %s: %w", rfid, ErrProductUnavailable)
		}
		pt, err := productTypeByID(ctx, tx, product.ProductTypeID)
		if err != nil {
			return err
		}
		if pt.Quantity < 1 {
			return fmt.Errorf("%s has no stock left: %w", pt.Code, ErrInsufficientStock)
		}
		if err := sale.AddTag(*product, *pt); err != nil {
			return fromDomain(err)
		}

		product.Available = false
		pt.Quantity--
		if err := tx.UpdateProduct(ctx, *product); err != nil {
			return err
		}
		if err := tx.UpdateProductType(ctx, *pt); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_add_product_rfid", "sale", ticket, "rfid="+rfid)
	return nil
}

// DeleteProductFromSale takes bulk units back out of the sale. Asking for more
// than the line holds removes the whole line; whatever was removed is restocked.
func (s *Service) DeleteProductFromSale(ctx context.Context, ticket int64, code string, amount int) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if err := validateSaleLine(ticket, code, amount); err != nil {
		return err
	}

	var removed int
	err := s.mutate(ctx, "sale.delete_product", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		removed, err = sale.RemoveQuantity(pt.ID, amount)
		if err != nil {
			return fromDomain(err)
		}
		pt.Quantity += removed
		if err := tx.UpdateProductType(ctx, *pt); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_delete_product", "sale", ticket, fmt.Sprintf("code=%s,amount=%d,removed=%d", code, amount, removed))
	return nil
}

func (s *Service) DeleteProductFromSaleRFID(ctx context.Context, ticket int64, rfid string) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	if !codes.ValidRFID(rfid) {
		return ErrInvalidRFID
	}

	err := s.mutate(ctx, "sale.delete_product_rfid", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		tag, err := sale.RemoveTag(rfid)
		if err != nil {
			return fromDomain(err)
		}
		product, err := tx.GetProduct(ctx, rfid)
		if err != nil {
			return notFound(err, "product %s", rfid)
		}
		pt, err := productTypeByID(ctx, tx, tag.ProductTypeID)
		if err != nil {
			return err
		}

		product.Available = true
		pt.Quantity++
		if err := tx.UpdateProduct(ctx, *product); err != nil {
			return err
		}
		if err := tx.UpdateProductType(ctx, *pt); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_delete_product_rfid", "sale", ticket, "rfid="+rfid)
	return nil
}

func (s *Service) ApplyDiscountRateToProduct(ctx context.Context, ticket int64, code string, rate decimal.Decimal) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if err := validateSaleLine(ticket, code, 0); err != nil {
		return err
	}
	if !domain.ValidDiscountRate(rate) {
		return ErrInvalidDiscountRate
	}

	err := s.mutate(ctx, "sale.discount_product", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if err := sale.ApplyLineDiscount(pt.ID, rate); err != nil {
			return fromDomain(err)
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_discount_product", "sale", ticket, fmt.Sprintf("code=%s,rate=%s", code, rate))
	return nil
}

func (s *Service) ApplyDiscountRateToSale(ctx context.Context, ticket int64, rate decimal.Decimal) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	if !domain.ValidDiscountRate(rate) {
		return ErrInvalidDiscountRate
	}

	err := s.mutate(ctx, "sale.discount", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		sale, err := openSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if err := sale.ApplyDiscount(rate); err != nil {
			return fromDomain(err)
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "sale_discount", "sale", ticket, "rate="+rate.String())
	return nil
}

// ComputePointsForSale works on open and committed sales alike.
func (s *Service) ComputePointsForSale(ctx context.Context, ticket int64) (int, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return 0, err
	}
	if ticket <= 0 {
		return 0, ErrInvalidTicket
	}

	var points int
	err := s.view(ctx, "sale.points", func(ctx context.Context, r store.Reader) error {
		sale, err := r.GetSale(ctx, ticket)
		if err != nil {
			return notFound(err, "sale %d", ticket)
		}
		points = sale.Points()
		return nil
	})
	return points, err
}

// EndSale commits the sale. A committed sale is immutable.
func (s *Service) EndSale(ctx context.Context, ticket int64) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}

	var total decimal.Decimal
	err := s.mutate(ctx, "sale.end", []string{lock.SaleKey(ticket)}, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, ticket)
		if err != nil {
			return notFound(err, "sale %d", ticket)
		}
		if err := sale.Commit(); err != nil {
			return fromDomain(err)
		}
		total = sale.Total()
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return err
	}

	countTransaction("sale", "committed")
	s.logAudit(ctx, "sale_commit", "sale", ticket, "total="+total.String())
	s.publish(ctx, events.SaleCommitted, "sale", ticket, saleEvent{Ticket: ticket, Total: total})
	return nil
}

// isPaid reports whether a CREDIT entry settles the sale.
func isPaid(ctx context.Context, r store.Reader, ticket int64) (bool, error) {
	credits, err := saleCredits(ctx, r, ticket)
	return len(credits) > 0, err
}

func saleCredits(ctx context.Context, r store.Reader, ticket int64) ([]domain.BalanceTransaction, error) {
	entries, err := r.ListBalanceTransactionsByRef(ctx, domain.SaleRef(ticket))
	if err != nil {
		return nil, err
	}
	credits := entries[:0]
	for _, entry := range entries {
		if entry.Kind == domain.Credit {
			credits = append(credits, entry)
		}
	}
	return credits, nil
}

// DeleteSaleTransaction removes an open sale, or a committed one nobody has
// paid for yet, after putting every bulk unit and tag back in stock.
func (s *Service) DeleteSaleTransaction(ctx context.Context, ticket int64) error {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}

	err := s.mutate(ctx, "sale.delete", []string{lock.SaleKey(ticket), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, ticket)
		if err != nil {
			return notFound(err, "sale %d", ticket)
		}
		paid, err := isPaid(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if paid {
			return ErrSalePaid
		}

		for _, tag := range sale.SortedTags() {
			product, err := tx.GetProduct(ctx, tag.RFID)
			if err != nil {
				return notFound(err, "product %s", tag.RFID)
			}
			product.Available = true
			if err := tx.UpdateProduct(ctx, *product); err != nil {
				return err
			}
		}
		for _, line := range sale.SortedLines() {
			restock := line.Quantity + sale.TaggedCount(line.ProductTypeID)
			if restock == 0 {
				continue
			}
			pt, err := productTypeByID(ctx, tx, line.ProductTypeID)
			if err != nil {
				return err
			}
			pt.Quantity += restock
			if err := tx.UpdateProductType(ctx, *pt); err != nil {
				return err
			}
		}
		return tx.DeleteSale(ctx, ticket)
	})
	if err != nil {
		return err
	}

	if err := s.sales.Invalidate(ctx, ticket); err != nil {
		s.logger.WarnContext(ctx, "failed to evict sale from cache", "ticket", ticket, "error", err.Error())
	}
	countTransaction("sale", "deleted")
	s.logAudit(ctx, "sale_delete", "sale", ticket, "")
	s.publish(ctx, events.SaleDeleted, "sale", ticket, saleEvent{Ticket: ticket})
	return nil
}

// GetSaleTransaction returns a committed sale. Open sales are not visible here.
func (s *Service) GetSaleTransaction(ctx context.Context, ticket int64) (*domain.Sale, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return nil, err
	}
	if ticket <= 0 {
		return nil, ErrInvalidTicket
	}

	return s.sales.Get(ctx, ticket, func(ctx context.Context) (*domain.Sale, error) {
		var sale *domain.Sale
		err := s.view(ctx, "sale.get", func(ctx context.Context, r store.Reader) error {
			var err error
			sale, err = r.GetSale(ctx, ticket)
			if err != nil {
				return notFound(err, "sale %d", ticket)
			}
			if !sale.IsCommitted() {
				return fmt.Errorf("sale %d is open: %w", ticket, ErrNotFound)
			}
			return nil
		})
		return sale, err
	})
}
