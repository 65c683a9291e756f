package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/store/memory"
)

func TestReceiveCashPayment(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeOatMilk, 10)

	_, err := f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("20"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.svc.ReceiveCashPayment(cashierCtx, ticket, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPayment)

	change, err := f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("50"))
	require.NoError(t, err)
	assert.Equal(t, "28.5", change.String())
	assert.Equal(t, "21.5", f.balance(t).String())

	_, err = f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("50"))
	assert.ErrorIs(t, err, ErrSalePaid)
	assert.ErrorIs(t, f.svc.DeleteSaleTransaction(cashierCtx, ticket), ErrSalePaid)
	assert.Contains(t, f.published.Types(), events.SalePaid)
}

func TestPaymentNeedsCommittedSale(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, 1))

	_, err = f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("100"))
	assert.ErrorIs(t, err, ErrSaleNotCommitted)

	empty, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.EndSale(cashierCtx, empty))
	_, err = f.svc.ReceiveCashPayment(cashierCtx, empty, dec("100"))
	assert.ErrorIs(t, err, ErrEmptyTransaction)
}

func TestReceiveCreditCardPayment(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeBeans, 2)

	assert.ErrorIs(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, "4485370086510892"), ErrInvalidCreditCard)
	assert.ErrorIs(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardUnknown), ErrCardDeclined)
	assert.ErrorIs(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardLowBalance), ErrCardDeclined)
	assert.True(t, f.balance(t).IsZero())

	require.NoError(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardVisa))
	assert.Equal(t, "37", f.balance(t).String())
	remaining, ok := f.cards.Balance(cardVisa)
	require.True(t, ok)
	assert.Equal(t, "113", remaining.String())

	assert.ErrorIs(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardVisa), ErrSalePaid)
}

type unreachableGateway struct {
	creditcard.Gateway
}

func (unreachableGateway) IsValidNumber(number string) bool { return creditcard.ValidNumber(number) }

func (unreachableGateway) IsRegistered(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestCardGatewayFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	svc := New(f.repo, WithCardGateway(unreachableGateway{}), WithClock(f.clock.Now))
	ticket := f.committedSale(t, codeBeans, 1)

	err := svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardVisa)
	require.Error(t, err)
	assert.False(t, IsInfeasible(err))
	assert.True(t, f.balance(t).IsZero())
}

// commitFailingRepo runs every callback to completion and then fails the
// commit, as a serialization failure at COMMIT would.
type commitFailingRepo struct {
	*memory.Store
	retryAllowed []bool
}

var errCommitFailed = errors.New("commit failed")

func (r *commitFailingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.retryAllowed = append(r.retryAllowed, store.RetryAllowed(ctx))
	return r.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errCommitFailed
	})
}

func TestCardChargeReversedWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeBeans, 1)
	repo := &commitFailingRepo{Store: f.repo}
	svc := New(repo, WithCardGateway(f.cards), WithClock(f.clock.Now))

	err := svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardVisa)
	assert.ErrorIs(t, err, errCommitFailed)
	assert.Equal(t, []bool{false}, repo.retryAllowed)

	card, _ := f.cards.Balance(cardVisa)
	assert.Equal(t, "150", card.String())
	assert.True(t, f.balance(t).IsZero())

	require.NoError(t, f.svc.ReceiveCreditCardPayment(cashierCtx, ticket, cardVisa))
	card, _ = f.cards.Balance(cardVisa)
	assert.Equal(t, "131.5", card.String())
}

func TestCardRefundReversedWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	ticket := discountedPaidSale(t, f)
	id, err := f.svc.StartReturnTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnProduct(cashierCtx, id, codeKettle, 2))
	require.NoError(t, f.svc.EndReturnTransaction(cashierCtx, id, true))

	svc := New(&commitFailingRepo{Store: f.repo}, WithCardGateway(f.cards), WithClock(f.clock.Now))
	_, err = svc.ReturnCreditCardPayment(cashierCtx, id, cardVisa)
	assert.ErrorIs(t, err, errCommitFailed)

	card, _ := f.cards.Balance(cardVisa)
	assert.Equal(t, "150", card.String())
	assert.Equal(t, "17.1", f.balance(t).String())
}

// discountedPaidSale sells 2 kettles at 10 with 10% line and 5% sale discount, paid in cash.
func discountedPaidSale(t *testing.T, f *fixture) int64 {
	t.Helper()
	f.kettle(t, 5)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeKettle, 2))
	require.NoError(t, f.svc.ApplyDiscountRateToProduct(cashierCtx, ticket, codeKettle, dec("0.1")))
	require.NoError(t, f.svc.ApplyDiscountRateToSale(cashierCtx, ticket, dec("0.05")))
	require.NoError(t, f.svc.EndSale(cashierCtx, ticket))
	change, err := f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("20"))
	require.NoError(t, err)
	require.Equal(t, "2.9", change.String())
	return ticket
}

func TestReturnCashPaymentRefundsDiscountedPrice(t *testing.T) {
	f := newFixture(t)
	ticket := discountedPaidSale(t, f)

	id, err := f.svc.StartReturnTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnProduct(cashierCtx, id, codeKettle, 1))

	_, err = f.svc.ReturnCashPayment(cashierCtx, id)
	assert.ErrorIs(t, err, ErrReturnState)

	require.NoError(t, f.svc.EndReturnTransaction(cashierCtx, id, true))
	assert.Equal(t, 4, f.stock(t, codeKettle))

	refunded, err := f.svc.ReturnCashPayment(cashierCtx, id)
	require.NoError(t, err)
	assert.Equal(t, "8.55", refunded.String())
	assert.Equal(t, "8.55", f.balance(t).String())

	_, err = f.svc.ReturnCashPayment(cashierCtx, id)
	assert.ErrorIs(t, err, ErrReturnState)
	assert.Contains(t, f.published.Types(), events.ReturnRefunded)
}

func TestReturnCreditCardPaymentCreditsCard(t *testing.T) {
	f := newFixture(t)
	ticket := discountedPaidSale(t, f)

	id, err := f.svc.StartReturnTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnProduct(cashierCtx, id, codeKettle, 2))
	require.NoError(t, f.svc.EndReturnTransaction(cashierCtx, id, true))

	_, err = f.svc.ReturnCreditCardPayment(cashierCtx, id, cardUnknown)
	assert.ErrorIs(t, err, ErrCardDeclined)

	refunded, err := f.svc.ReturnCreditCardPayment(cashierCtx, id, cardVisa)
	require.NoError(t, err)
	assert.Equal(t, "17.1", refunded.String())
	assert.True(t, f.balance(t).IsZero())
	card, _ := f.cards.Balance(cardVisa)
	assert.Equal(t, "167.1", card.String())
}

func TestRefundNeedsFunds(t *testing.T) {
	f := newFixture(t)
	ticket := discountedPaidSale(t, f)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("-10")))

	id, err := f.svc.StartReturnTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnProduct(cashierCtx, id, codeKettle, 2))
	require.NoError(t, f.svc.EndReturnTransaction(cashierCtx, id, true))

	_, err = f.svc.ReturnCashPayment(cashierCtx, id)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "7.1", f.balance(t).String())
}

func TestLedgerEntriesReferenceTheirCause(t *testing.T) {
	f := newFixture(t)
	ticket := f.paidSale(t, codeBeans, 1)

	entries, err := f.svc.GetCreditsAndDebits(adminCtx, f.clock.Now(), f.clock.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.Credit, entries[0].Kind)
	assert.Equal(t, domain.SaleRef(ticket), entries[0].Ref)
	assert.Equal(t, "18.5", entries[0].Amount.String())
}
