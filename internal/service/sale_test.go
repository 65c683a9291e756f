package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
)

func TestSaleOperationsRequireAnActor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartSale(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.IssueOrder(cashierCtx, codeBeans, 1, dec("1"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSaleTotalAppliesLineAndSaleDiscount(t *testing.T) {
	f := newFixture(t)
	f.kettle(t, 5)

	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeKettle, 2))
	require.NoError(t, f.svc.ApplyDiscountRateToProduct(cashierCtx, ticket, codeKettle, dec("0.1")))
	require.NoError(t, f.svc.ApplyDiscountRateToSale(cashierCtx, ticket, dec("0.05")))

	points, err := f.svc.ComputePointsForSale(cashierCtx, ticket)
	require.NoError(t, err)
	assert.Equal(t, 2, points)

	require.NoError(t, f.svc.EndSale(cashierCtx, ticket))
	sale, err := f.svc.GetSaleTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	assert.Equal(t, "17.1", sale.Total().String())
	assert.Equal(t, 3, f.stock(t, codeKettle))
	assert.Contains(t, f.published.Types(), events.SaleCommitted)
}

func TestSaleInputValidation(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"ticket", f.svc.AddProductToSale(cashierCtx, 0, codeBeans, 1), ErrInvalidTicket},
		{"code", f.svc.AddProductToSale(cashierCtx, ticket, "123", 1), ErrInvalidCode},
		{"quantity", f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, -1), ErrInvalidQuantity},
		{"rfid", f.svc.AddProductToSaleRFID(cashierCtx, ticket, "12AB"), ErrInvalidRFID},
		{"rate", f.svc.ApplyDiscountRateToSale(cashierCtx, ticket, dec("1")), ErrInvalidDiscountRate},
		{"rate precision", f.svc.ApplyDiscountRateToSale(cashierCtx, ticket, dec("0.999999")), ErrInvalidDiscountRate},
		{"line rate precision", f.svc.ApplyDiscountRateToProduct(cashierCtx, ticket, codeBeans, dec("0.123456")), ErrInvalidDiscountRate},
		{"negative rate", f.svc.ApplyDiscountRateToProduct(cashierCtx, ticket, codeBeans, dec("-0.1")), ErrInvalidDiscountRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.want)
			assert.True(t, IsInvalid(tc.err))
			assert.False(t, IsInfeasible(tc.err))
		})
	}
}

func TestAddProductToSaleRefusesOverselling(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)

	err = f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, 41)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, IsInfeasible(err))
	assert.Equal(t, 40, f.stock(t, codeBeans))

	err = f.svc.AddProductToSale(cashierCtx, ticket, "800100200344", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.AddProductToSale(cashierCtx, 99, codeBeans, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteProductFromSaleClampsAndRestocks(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, 5))
	assert.Equal(t, 35, f.stock(t, codeBeans))

	require.NoError(t, f.svc.DeleteProductFromSale(cashierCtx, ticket, codeBeans, 8))
	assert.Equal(t, 40, f.stock(t, codeBeans))

	err = f.svc.ApplyDiscountRateToProduct(cashierCtx, ticket, codeBeans, dec("0.2"))
	assert.ErrorIs(t, err, ErrProductNotInSale)

	err = f.svc.DeleteProductFromSale(cashierCtx, ticket, codeOatMilk, 1)
	assert.ErrorIs(t, err, ErrProductNotInSale)
}

func TestTaggedProductRoundTripInOpenSale(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)

	require.NoError(t, f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000000001"))
	assert.False(t, f.product(t, "000000000001").Available)
	assert.Equal(t, 24, f.stock(t, codeMug))

	err = f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000000001")
	assert.ErrorIs(t, err, ErrProductUnavailable)

	require.NoError(t, f.svc.DeleteProductFromSaleRFID(cashierCtx, ticket, "000000000001"))
	assert.True(t, f.product(t, "000000000001").Available)
	assert.Equal(t, 25, f.stock(t, codeMug))

	err = f.svc.DeleteProductFromSaleRFID(cashierCtx, ticket, "000000000001")
	assert.ErrorIs(t, err, ErrProductNotInSale)

	err = f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000009999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOpenSaleRestoresStockAndTags(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, 3))
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, codeMug, 2))
	require.NoError(t, f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000000001"))
	require.NoError(t, f.svc.AddProductToSaleRFID(cashierCtx, ticket, "000000000002"))
	assert.Equal(t, 21, f.stock(t, codeMug))

	require.NoError(t, f.svc.DeleteSaleTransaction(cashierCtx, ticket))

	assert.Equal(t, 40, f.stock(t, codeBeans))
	assert.Equal(t, 25, f.stock(t, codeMug))
	assert.True(t, f.product(t, "000000000001").Available)
	assert.True(t, f.product(t, "000000000002").Available)

	_, err = f.svc.ComputePointsForSale(cashierCtx, ticket)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommittedSaleIsImmutable(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeBeans, 1)

	assert.ErrorIs(t, f.svc.AddProductToSale(cashierCtx, ticket, codeBeans, 1), ErrSaleCommitted)
	assert.ErrorIs(t, f.svc.DeleteProductFromSale(cashierCtx, ticket, codeBeans, 1), ErrSaleCommitted)
	assert.ErrorIs(t, f.svc.ApplyDiscountRateToSale(cashierCtx, ticket, dec("0.1")), ErrSaleCommitted)
	assert.ErrorIs(t, f.svc.EndSale(cashierCtx, ticket), ErrSaleCommitted)
	assert.Equal(t, 39, f.stock(t, codeBeans))
}

func TestCommittedUnpaidSaleCanBeDeleted(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeBeans, 4)

	require.NoError(t, f.svc.DeleteSaleTransaction(cashierCtx, ticket))
	assert.Equal(t, 40, f.stock(t, codeBeans))

	_, err := f.svc.GetSaleTransaction(cashierCtx, ticket)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSaleTransactionHidesOpenSales(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)

	_, err = f.svc.GetSaleTransaction(cashierCtx, ticket)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaleLifecycleIsAudited(t *testing.T) {
	f := newFixture(t)
	f.committedSale(t, codeBeans, 1)

	logs, err := f.svc.ListAuditLogs(adminCtx, 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "sale_start")
	assert.Contains(t, actions, "sale_commit")

	_, err = f.svc.ListAuditLogs(cashierCtx, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSaleStateAfterCommit(t *testing.T) {
	f := newFixture(t)
	ticket := f.committedSale(t, codeOatMilk, 3)

	sale, err := f.svc.GetSaleTransaction(cashierCtx, ticket)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCommitted, sale.State)
	assert.Equal(t, "6.45", sale.Total().String())
}
