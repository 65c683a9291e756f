package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/lock"
	"tillcore/backend/internal/logger"
	"tillcore/backend/internal/metrics"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
)

const (
	methodCash = "cash"
	methodCard = "card"
)

type refundEvent struct {
	ReturnID   int64           `json:"return_id"`
	SaleTicket int64           `json:"sale_ticket"`
	Total      decimal.Decimal `json:"total"`
	Method     string          `json:"method"`
}

func countPayment(method string, direction string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsInfeasible(err):
		outcome = "refused"
	case IsInvalid(err):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.PaymentsTotal.WithLabelValues(method, direction, outcome).Inc()
}

// payableSale loads a committed, unpaid, non-empty sale and returns its total.
func payableSale(ctx context.Context, r store.Reader, ticket int64) (*domain.Sale, decimal.Decimal, error) {
	sale, err := r.GetSale(ctx, ticket)
	if err != nil {
		return nil, decimal.Zero, notFound(err, "sale %d", ticket)
	}
	if !sale.IsCommitted() {
		return nil, decimal.Zero, ErrSaleNotCommitted
	}
	paid, err := isPaid(ctx, r, ticket)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if paid {
		return nil, decimal.Zero, ErrSalePaid
	}
	total := sale.Total()
	if !total.IsPositive() {
		return nil, decimal.Zero, ErrEmptyTransaction
	}
	return sale, total, nil
}

// cardError maps gateway refusals onto ErrCardDeclined and keeps transport failures as they are.
func cardError(number string, err error) error {
	if errors.Is(err, creditcard.ErrNotRegistered) || errors.Is(err, creditcard.ErrInsufficientBalance) {
		return fmt.Errorf("card %s: %w: %w", maskCard(number), ErrCardDeclined, err)
	}
	return fmt.Errorf("card gateway: %w", err)
}

// reverseCard undoes a card movement whose transaction failed to commit.
// amount is added back to the card.
func (s *Service) reverseCard(ctx context.Context, card string, amount decimal.Decimal) {
	if err := s.cards.UpdateBalance(context.WithoutCancel(ctx), card, amount); err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "card movement not reversed",
			slog.String("card", maskCard(card)),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

func maskCard(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}

// ReceiveCashPayment settles a committed sale in cash and returns the change.
func (s *Service) ReceiveCashPayment(ctx context.Context, ticket int64, cash decimal.Decimal) (change decimal.Decimal, err error) {
	defer func() { countPayment(methodCash, "in", err) }()

	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return decimal.Zero, err
	}
	if ticket <= 0 {
		return decimal.Zero, ErrInvalidTicket
	}
	if !cash.IsPositive() {
		return decimal.Zero, ErrInvalidPayment
	}

	var (
		total decimal.Decimal
		entry *domain.BalanceTransaction
	)
	err = s.mutate(ctx, "payment.receive_cash", []string{lock.SaleKey(ticket), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		var err error
		_, total, err = payableSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		if cash.LessThan(total) {
			return fmt.Errorf("cash %s below total %s: %w", cash, total, ErrInsufficientFunds)
		}
		entry, err = s.appendEntry(ctx, tx, domain.Credit, total, domain.SaleRef(ticket))
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	countLedgerEntry(entry)
	s.logAudit(ctx, "sale_pay_cash", "sale", ticket, "total="+total.String())
	s.publish(ctx, events.SalePaid, "sale", ticket, saleEvent{Ticket: ticket, Total: total, Method: methodCash})
	return domain.RoundMoney(cash.Sub(total)), nil
}

// ReceiveCreditCardPayment charges the sale total to the card. The card is
// charged last so a refused charge rolls the ledger entry back.
func (s *Service) ReceiveCreditCardPayment(ctx context.Context, ticket int64, card string) (err error) {
	defer func() { countPayment(methodCard, "in", err) }()

	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return err
	}
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	if !s.cards.IsValidNumber(card) {
		return ErrInvalidCreditCard
	}

	var (
		total decimal.Decimal
		entry *domain.BalanceTransaction
	)
	charged := false
	err = s.mutate(store.WithoutRetry(ctx), "payment.receive_card", []string{lock.SaleKey(ticket), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		var err error
		_, total, err = payableSale(ctx, tx, ticket)
		if err != nil {
			return err
		}
		registered, err := s.cards.IsRegistered(ctx, card)
		if err != nil {
			return cardError(card, err)
		}
		if !registered {
			return cardError(card, creditcard.ErrNotRegistered)
		}
		enough, err := s.cards.HasEnoughBalance(ctx, card, total)
		if err != nil {
			return cardError(card, err)
		}
		if !enough {
			return cardError(card, creditcard.ErrInsufficientBalance)
		}

		entry, err = s.appendEntry(ctx, tx, domain.Credit, total, domain.SaleRef(ticket))
		if err != nil {
			return err
		}
		if err := s.cards.UpdateBalance(ctx, card, total.Neg()); err != nil {
			return cardError(card, err)
		}
		charged = true
		return nil
	})
	if err != nil {
		if charged {
			s.reverseCard(ctx, card, total)
		}
		return err
	}

	countLedgerEntry(entry)
	s.logAudit(ctx, "sale_pay_card", "sale", ticket, fmt.Sprintf("total=%s,card=%s", total, maskCard(card)))
	s.publish(ctx, events.SalePaid, "sale", ticket, saleEvent{Ticket: ticket, Total: total, Method: methodCard})
	return nil
}

// refundableReturn loads a committed, not yet refunded return and checks the
// ledger can cover it.
func refundableReturn(ctx context.Context, r store.Reader, id int64) (*domain.Return, decimal.Decimal, error) {
	ret, err := r.GetReturn(ctx, id)
	if err != nil {
		return nil, decimal.Zero, notFound(err, "return %d", id)
	}
	if !ret.IsCommitted() || ret.IsRefunded() {
		return nil, decimal.Zero, ErrReturnState
	}
	total := ret.Total()
	if !total.IsPositive() {
		return nil, decimal.Zero, ErrEmptyTransaction
	}
	balance, err := r.Balance(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if balance.LessThan(total) {
		return nil, decimal.Zero, fmt.Errorf("balance %s below refund %s: %w", balance, total, ErrInsufficientFunds)
	}
	return ret, total, nil
}

func (s *Service) refund(ctx context.Context, tx store.Tx, ret *domain.Return, total decimal.Decimal) (*domain.BalanceTransaction, error) {
	entry, err := s.appendEntry(ctx, tx, domain.Debit, total, domain.ReturnRef(ret.ID))
	if err != nil {
		return nil, err
	}
	if err := ret.MarkRefunded(entry.ID); err != nil {
		return nil, fromDomain(err)
	}
	return entry, tx.UpdateReturn(ctx, *ret)
}

// ReturnCashPayment pays out a committed return in cash and returns the amount.
func (s *Service) ReturnCashPayment(ctx context.Context, returnID int64) (refunded decimal.Decimal, err error) {
	defer func() { countPayment(methodCash, "out", err) }()

	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return decimal.Zero, err
	}
	if returnID <= 0 {
		return decimal.Zero, ErrInvalidReturnID
	}

	var (
		ret   *domain.Return
		entry *domain.BalanceTransaction
	)
	err = s.mutate(ctx, "payment.return_cash", []string{lock.ReturnKey(returnID), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		var err error
		ret, refunded, err = refundableReturn(ctx, tx, returnID)
		if err != nil {
			return err
		}
		entry, err = s.refund(ctx, tx, ret, refunded)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	countLedgerEntry(entry)
	s.logAudit(ctx, "return_refund_cash", "return", returnID, "total="+refunded.String())
	s.publish(ctx, events.ReturnRefunded, "return", returnID, refundEvent{ReturnID: returnID, SaleTicket: ret.SaleTicket, Total: refunded, Method: methodCash})
	return refunded, nil
}

// ReturnCreditCardPayment credits the refund to the card.
func (s *Service) ReturnCreditCardPayment(ctx context.Context, returnID int64, card string) (refunded decimal.Decimal, err error) {
	defer func() { countPayment(methodCard, "out", err) }()

	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return decimal.Zero, err
	}
	if returnID <= 0 {
		return decimal.Zero, ErrInvalidReturnID
	}
	if !s.cards.IsValidNumber(card) {
		return decimal.Zero, ErrInvalidCreditCard
	}

	var (
		ret   *domain.Return
		entry *domain.BalanceTransaction
	)
	credited := false
	err = s.mutate(store.WithoutRetry(ctx), "payment.return_card", []string{lock.ReturnKey(returnID), lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		var err error
		ret, refunded, err = refundableReturn(ctx, tx, returnID)
		if err != nil {
			return err
		}
		registered, err := s.cards.IsRegistered(ctx, card)
		if err != nil {
			return cardError(card, err)
		}
		if !registered {
			return cardError(card, creditcard.ErrNotRegistered)
		}
		entry, err = s.refund(ctx, tx, ret, refunded)
		if err != nil {
			return err
		}
		if err := s.cards.UpdateBalance(ctx, card, refunded); err != nil {
			return cardError(card, err)
		}
		credited = true
		return nil
	})
	if err != nil {
		if credited {
			s.reverseCard(ctx, card, refunded.Neg())
		}
		return decimal.Zero, err
	}

	countLedgerEntry(entry)
	s.logAudit(ctx, "return_refund_card", "return", returnID, fmt.Sprintf("total=%s,card=%s", refunded, maskCard(card)))
	s.publish(ctx, events.ReturnRefunded, "return", returnID, refundEvent{ReturnID: returnID, SaleTicket: ret.SaleTicket, Total: refunded, Method: methodCard})
	return refunded, nil
}
