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

type orderEvent struct {
	OrderID       int64           `json:"order_id"`
	ProductTypeID int64           `json:"product_type_id"`
	Quantity      int             `json:"quantity"`
	Cost          decimal.Decimal `json:"cost"`
	Status        string          `json:"status"`
}

func newOrderEvent(o domain.Order) orderEvent {
	return orderEvent{OrderID: o.ID, ProductTypeID: o.ProductTypeID, Quantity: o.Quantity, Cost: o.Cost(), Status: string(o.Status)}
}

func validateOrder(code string, qty int, price decimal.Decimal) error {
	if !codes.ValidBarcode(code) {
		return ErrInvalidCode
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !domain.RoundMoney(price).IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

// IssueOrder records a supplier order in ISSUED. It has no ledger effect.
func (s *Service) IssueOrder(ctx context.Context, code string, qty int, price decimal.Decimal) (int64, error) {
	if _, err := s.authorize(ctx, rights.Orders); err != nil {
		return 0, err
	}
	if err := validateOrder(code, qty, price); err != nil {
		return 0, err
	}

	var order *domain.Order
	err := s.mutate(ctx, "order.issue", nil, func(ctx context.Context, tx store.Tx) error {
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		order, err = tx.CreateOrder(ctx, domain.NewOrder(*pt, qty, domain.RoundMoney(price), s.today()))
		return err
	})
	if err != nil {
		return 0, err
	}

	countTransaction("order", "issued")
	s.logAudit(ctx, "order_issue", "order", order.ID, fmt.Sprintf("code=%s,qty=%d,price=%s", code, qty, price))
	s.publish(ctx, events.OrderIssued, "order", order.ID, newOrderEvent(*order))
	return order.ID, nil
}

// payOrder debits the order cost and moves the order to PAYED.
func (s *Service) payOrder(ctx context.Context, tx store.Tx, order *domain.Order) (*domain.BalanceTransaction, error) {
	if order.Status != domain.OrderIssued {
		return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, ErrOrderState)
	}
	cost := order.Cost()
	balance, err := tx.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(cost) {
		return nil, fmt.Errorf("balance %s below order cost %s: %w", balance, cost, ErrInsufficientFunds)
	}
	entry, err := s.appendEntry(ctx, tx, domain.Debit, cost, domain.OrderRef(order.ID))
	if err != nil {
		return nil, err
	}
	if err := order.Pay(entry.ID); err != nil {
		return nil, fromDomain(err)
	}
	return entry, tx.UpdateOrder(ctx, *order)
}

// PayOrderFor issues and pays an order in one step.
func (s *Service) PayOrderFor(ctx context.Context, code string, qty int, price decimal.Decimal) (int64, error) {
	if _, err := s.authorize(ctx, rights.Orders); err != nil {
		return 0, err
	}
	if err := validateOrder(code, qty, price); err != nil {
		return 0, err
	}

	var (
		order *domain.Order
		entry *domain.BalanceTransaction
	)
	err := s.mutate(ctx, "order.pay_for", []string{lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		pt, err := productTypeByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		order, err = tx.CreateOrder(ctx, domain.NewOrder(*pt, qty, domain.RoundMoney(price), s.today()))
		if err != nil {
			return err
		}
		entry, err = s.payOrder(ctx, tx, order)
		return err
	})
	if err != nil {
		return 0, err
	}

	countLedgerEntry(entry)
	countTransaction("order", "payed")
	s.logAudit(ctx, "order_pay_for", "order", order.ID, fmt.Sprintf("code=%s,qty=%d,price=%s", code, qty, price))
	s.publish(ctx, events.OrderPayed, "order", order.ID, newOrderEvent(*order))
	return order.ID, nil
}

// PayOrder pays an ISSUED order. Paying a PAYED order again changes nothing.
func (s *Service) PayOrder(ctx context.Context, id int64) error {
	if _, err := s.authorize(ctx, rights.Orders); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidOrderID
	}

	var (
		order *domain.Order
		entry *domain.BalanceTransaction
	)
	err := s.mutate(ctx, "order.pay", []string{lock.OrderKey(id), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return notFound(err, "order %d", id)
		}
		if order.Status == domain.OrderPayed {
			return nil
		}
		entry, err = s.payOrder(ctx, tx, order)
		return err
	})
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	countLedgerEntry(entry)
	countTransaction("order", "payed")
	s.logAudit(ctx, "order_pay", "order", id, "cost="+order.Cost().String())
	s.publish(ctx, events.OrderPayed, "order", id, newOrderEvent(*order))
	return nil
}

// recordArrival completes a PAYED order and adds its quantity to stock. It
// reports false when the order was already COMPLETED.
func recordArrival(ctx context.Context, tx store.Tx, order *domain.Order, rfids []string) (bool, error) {
	if order.Status == domain.OrderCompleted {
		return false, nil
	}
	if order.Status != domain.OrderPayed {
		return false, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, ErrOrderState)
	}
	pt, err := productTypeByID(ctx, tx, order.ProductTypeID)
	if err != nil {
		return false, err
	}
	if !pt.HasLocation() {
		return false, fmt.Errorf("product type %s: %w", pt.Code, ErrMissingLocation)
	}

	if len(rfids) > 0 {
		taken, err := tx.ExistingRFIDs(ctx, rfids)
		if err != nil {
			return false, err
		}
		if len(taken) > 0 {
			return false, fmt.Errorf("rfid %s: %w", taken[0], ErrRFIDInUse)
		}
		products := make([]domain.Product, 0, len(rfids))
		for _, rfid := range rfids {
			products = append(products, domain.Product{RFID: rfid, ProductTypeID: pt.ID, Available: true})
		}
		if err := tx.CreateProducts(ctx, products); err != nil {
			return false, err
		}
	}

	if err := order.Complete(); err != nil {
		return false, fromDomain(err)
	}
	pt.Quantity += order.Quantity
	if err := tx.UpdateProductType(ctx, *pt); err != nil {
		return false, err
	}
	return true, tx.UpdateOrder(ctx, *order)
}

// RecordOrderArrival books the arrival of a bulk order.
func (s *Service) RecordOrderArrival(ctx context.Context, id int64) error {
	return s.recordOrderArrival(ctx, id, "", false)
}

// RecordOrderArrivalRFID books the arrival and tags the units with consecutive
// RFIDs starting at fromRFID.
func (s *Service) RecordOrderArrivalRFID(ctx context.Context, id int64, fromRFID string) error {
	return s.recordOrderArrival(ctx, id, fromRFID, true)
}

func (s *Service) recordOrderArrival(ctx context.Context, id int64, fromRFID string, tagged bool) error {
	if _, err := s.authorize(ctx, rights.Orders); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidOrderID
	}
	if tagged && !codes.ValidRFID(fromRFID) {
		return ErrInvalidRFID
	}

	var (
		order     *domain.Order
		completed bool
	)
	err := s.mutate(ctx, "order.arrival", []string{lock.OrderKey(id)}, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return notFound(err, "order %d", id)
		}
		var rfids []string
		if tagged && order.Status == domain.OrderPayed {
			rfids, err = codes.RFIDSequence(fromRFID, order.Quantity)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidRFID, err)
			}
		}
		completed, err = recordArrival(ctx, tx, order, rfids)
		return err
	})
	if err != nil || !completed {
		return err
	}

	countTransaction("order", "completed")
	detail := fmt.Sprintf("qty=%d", order.Quantity)
	if tagged {
		detail += ",from_rfid=" + fromRFID
	}
	s.logAudit(ctx, "order_arrival", "order", id, detail)
	s.publish(ctx, events.OrderCompleted, "order", id, newOrderEvent(*order))
	return nil
}

func (s *Service) GetAllOrders(ctx context.Context) ([]domain.Order, error) {
	if _, err := s.authorize(ctx, rights.Orders); err != nil {
		return nil, err
	}

	var orders []domain.Order
	err := s.view(ctx, "order.list", func(ctx context.Context, r store.Reader) error {
		var err error
		orders, err = r.ListOrders(ctx)
		return err
	})
	return orders, err
}
