package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMovesForwardOnly(t *testing.T) {
	order := NewOrder(testProductType(3, "1"), 4, dec("2.5"), time.Now())
	assert.Equal(t, OrderIssued, order.Status)
	assert.True(t, dec("10").Equal(order.Cost()))

	assert.ErrorIs(t, order.Complete(), ErrIllegalTransition)

	require.NoError(t, order.Pay(11))
	require.NotNil(t, order.BalanceID)
	assert.Equal(t, int64(11), *order.BalanceID)
	assert.ErrorIs(t, order.Pay(12), ErrIllegalTransition)

	require.NoError(t, order.Complete())
	assert.Equal(t, OrderCompleted, order.Status)
	assert.ErrorIs(t, order.Complete(), ErrIllegalTransition)
}

func TestReturnBoundedBySaleLine(t *testing.T) {
	sale := NewSale(time.Now())
	sale.Ticket = 1
	pt := testProductType(1, "4")
	require.NoError(t, sale.AddQuantity(pt, 10))
	require.NoError(t, sale.ApplyDiscount(dec("0.5")))
	require.NoError(t, sale.Commit())

	ret := NewReturn(sale, time.Now())
	require.NoError(t, ret.RegisterQuantity(sale.Lines[1], 6))
	assert.ErrorIs(t, ret.RegisterQuantity(sale.Lines[1], 5), ErrExceedsSold)
	require.NoError(t, ret.RegisterQuantity(sale.Lines[1], 4))

	assert.True(t, dec("20").Equal(ret.Total()), "total %s", ret.Total())

	assert.ErrorIs(t, ret.MarkRefunded(1), ErrReturnClosed)
	require.NoError(t, ret.Commit())
	require.NoError(t, ret.MarkRefunded(1))
	assert.ErrorIs(t, ret.MarkRefunded(2), ErrAlreadyRefund)
}

func TestLedgerBalanceAndDateRange(t *testing.T) {
	day := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	entries := []BalanceTransaction{
		{ID: 2, Kind: Debit, Amount: dec("40.00"), Date: day.AddDate(0, 0, 1), Ref: ManualRef()},
		{ID: 1, Kind: Credit, Amount: dec("100.00"), Date: day, Ref: ManualRef()},
	}

	assert.True(t, dec("60").Equal(Balance(entries)))

	all := EntriesBetween(entries, time.Time{}, time.Time{})
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	first := EntriesBetween(entries, day.Add(-10*time.Hour), day)
	require.Len(t, first, 1)
	assert.Equal(t, Credit, first[0].Kind)

	assert.Empty(t, EntriesBetween(entries, day.AddDate(0, 0, 2), time.Time{}))
}
