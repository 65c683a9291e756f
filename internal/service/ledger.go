package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/lock"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
)

type balanceEvent struct {
	EntryID int64           `json:"entry_id"`
	Kind    string          `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Service) ComputeBalance(ctx context.Context) (decimal.Decimal, error) {
	if _, err := s.authorize(ctx, rights.Balance); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := s.view(ctx, "ledger.balance", func(ctx context.Context, r store.Reader) error {
		var err error
		balance, err = r.Balance(ctx)
		return err
	})
	return balance, err
}

// GetCreditsAndDebits lists ledger entries whose date falls within [from, to],
// both days included. A zero bound is open; reversed bounds are swapped.
func (s *Service) GetCreditsAndDebits(ctx context.Context, from time.Time, to time.Time) ([]domain.BalanceTransaction, error) {
	if _, err := s.authorize(ctx, rights.Balance); err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		from, to = to, from
	}

	var entries []domain.BalanceTransaction
	err := s.view(ctx, "ledger.list", func(ctx context.Context, r store.Reader) error {
		var err error
		entries, err = r.ListBalanceTransactions(ctx, from, to)
		return err
	})
	return entries, err
}

// RecordBalanceUpdate books a manual adjustment: a positive amount is a
// credit, a negative one a debit. The balance may not go below zero.
func (s *Service) RecordBalanceUpdate(ctx context.Context, amount decimal.Decimal) error {
	if _, err := s.authorize(ctx, rights.Balance); err != nil {
		return err
	}
	amount = domain.RoundMoney(amount)
	if amount.IsZero() {
		return ErrInvalidAmount
	}

	var (
		entry *domain.BalanceTransaction
		after decimal.Decimal
	)
	err := s.mutate(ctx, "ledger.update", []string{lock.LedgerKey}, func(ctx context.Context, tx store.Tx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		after = balance.Add(amount)
		if after.IsNegative() {
			return ErrInsufficientFunds
		}
		kind := domain.Credit
		if amount.IsNegative() {
			kind = domain.Debit
		}
		entry, err = s.appendEntry(ctx, tx, kind, amount.Abs(), domain.ManualRef())
		return err
	})
	if err != nil {
		return err
	}

	countLedgerEntry(entry)
	s.logAudit(ctx, "balance_update", "balance", entry.ID, "amount="+amount.String())
	s.publish(ctx, events.BalanceUpdated, "balance", entry.ID, balanceEvent{EntryID: entry.ID, Kind: string(entry.Kind), Amount: entry.Amount, Balance: after})
	return nil
}
