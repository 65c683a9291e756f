package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
)

func TestOrderLifecycleAddsStockExactlyOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("100")))

	id, err := f.svc.IssueOrder(adminCtx, codeBeans, 10, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderIssued, f.order(t, id).Status)
	assert.Equal(t, "100", f.balance(t).String())
	assert.Equal(t, 40, f.stock(t, codeBeans))

	assert.ErrorIs(t, f.svc.RecordOrderArrival(adminCtx, id), ErrOrderState)

	require.NoError(t, f.svc.PayOrder(adminCtx, id))
	assert.Equal(t, "50", f.balance(t).String())
	assert.Equal(t, 40, f.stock(t, codeBeans))
	require.NotNil(t, f.order(t, id).BalanceID)

	require.NoError(t, f.svc.PayOrder(adminCtx, id))
	assert.Equal(t, "50", f.balance(t).String())

	require.NoError(t, f.svc.RecordOrderArrival(adminCtx, id))
	assert.Equal(t, 50, f.stock(t, codeBeans))
	assert.Equal(t, domain.OrderCompleted, f.order(t, id).Status)

	require.NoError(t, f.svc.RecordOrderArrival(adminCtx, id))
	assert.Equal(t, 50, f.stock(t, codeBeans))
	assert.ErrorIs(t, f.svc.PayOrder(adminCtx, id), ErrOrderState)

	assert.Equal(t, []string{events.BalanceUpdated, events.OrderIssued, events.OrderPayed, events.OrderCompleted}, f.published.Types())
}

func TestPayOrderNeedsFunds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("49.99")))

	id, err := f.svc.IssueOrder(adminCtx, codeBeans, 10, dec("5"))
	require.NoError(t, err)

	err = f.svc.PayOrder(adminCtx, id)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsInfeasible(err))
	assert.Equal(t, domain.OrderIssued, f.order(t, id).Status)
	assert.Equal(t, "49.99", f.balance(t).String())

	_, err = f.svc.PayOrderFor(adminCtx, codeBeans, 10, dec("5"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	orders, err := f.svc.GetAllOrders(adminCtx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestOrderValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IssueOrder(adminCtx, "bad", 1, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = f.svc.IssueOrder(adminCtx, codeBeans, 0, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.IssueOrder(adminCtx, codeBeans, 1, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	// rounds to zero at money precision
	_, err = f.svc.IssueOrder(adminCtx, codeBeans, 1, dec("0.0004"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = f.svc.PayOrderFor(adminCtx, codeBeans, 1, dec("0.0004"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	orders, err := f.svc.GetAllOrders(adminCtx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	_, err = f.svc.IssueOrder(adminCtx, codeKettle, 1, dec("1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.PayOrder(adminCtx, 0), ErrInvalidOrderID)
	assert.ErrorIs(t, f.svc.PayOrder(adminCtx, 42), ErrNotFound)
	assert.ErrorIs(t, f.svc.RecordOrderArrivalRFID(adminCtx, 1, "12"), ErrInvalidRFID)
}

func TestArrivalNeedsShelfLocation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("100")))

	id, err := f.svc.PayOrderFor(adminCtx, codeFilters, 4, dec("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "94", f.balance(t).String())

	assert.ErrorIs(t, f.svc.RecordOrderArrival(adminCtx, id), ErrMissingLocation)
	assert.Equal(t, domain.OrderPayed, f.order(t, id).Status)
	assert.Equal(t, 0, f.stock(t, codeFilters))
}

func TestArrivalWithRFIDsCreatesTaggedUnits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("100")))

	clash, err := f.svc.PayOrderFor(adminCtx, codeOatMilk, 3, dec("1"))
	require.NoError(t, err)
	err = f.svc.RecordOrderArrivalRFID(adminCtx, clash, "000000000004")
	assert.ErrorIs(t, err, ErrRFIDInUse)
	assert.Equal(t, domain.OrderPayed, f.order(t, clash).Status)
	assert.Equal(t, 120, f.stock(t, codeOatMilk))

	require.NoError(t, f.svc.RecordOrderArrivalRFID(adminCtx, clash, "000000000100"))
	assert.Equal(t, 123, f.stock(t, codeOatMilk))
	for _, rfid := range []string{"000000000100", "000000000101", "000000000102"} {
		p := f.product(t, rfid)
		assert.True(t, p.Available)
		assert.Equal(t, f.productType(t, codeOatMilk).ID, p.ProductTypeID)
	}

	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000000101"))
	assert.Equal(t, 122, f.stock(t, codeOatMilk))
}
