package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testProductType(id int64, price string) ProductType {
	return ProductType{ID: id, Code: "000000000000", Description: "item", UnitPrice: dec(price), Quantity: 100, Location: "1-a-1"}
}

func TestSaleTotalAppliesLineAndSaleDiscount(t *testing.T) {
	sale := NewSale(time.Now())
	pt := testProductType(1, "10.00")

	require.NoError(t, sale.AddQuantity(pt, 2))
	require.NoError(t, sale.ApplyLineDiscount(pt.ID, dec("0.10")))
	require.NoError(t, sale.ApplyDiscount(dec("0.05")))

	assert.True(t, dec("17.10").Equal(sale.Total()), "total %s", sale.Total())
	assert.True(t, dec("20").Equal(sale.OriginalTotal()))
	assert.Equal(t, 2, sale.Points())
}

func TestSaleTotalRoundsHalfUp(t *testing.T) {
	sale := NewSale(time.Now())
	pt := testProductType(1, "0.0005")

	require.NoError(t, sale.AddQuantity(pt, 1))

	assert.Equal(t, "0.001", sale.Total().String())
}

func TestSaleTagsCountTowardsTheirLine(t *testing.T) {
	sale := NewSale(time.Now())
	pt := testProductType(7, "3.50")

	require.NoError(t, sale.AddTag(Product{RFID: "000000000001", ProductTypeID: 7}, pt))
	require.NoError(t, sale.AddTag(Product{RFID: "000000000002", ProductTypeID: 7}, pt))
	require.NoError(t, sale.ApplyLineDiscount(7, dec("0.5")))

	assert.Equal(t, 2, sale.TaggedCount(7))
	assert.True(t, dec("3.5").Equal(sale.Total()))

	err := sale.AddTag(Product{RFID: "000000000001", ProductTypeID: 7}, pt)
	assert.ErrorIs(t, err, ErrDuplicateTag)

	_, err = sale.RemoveTag("000000000001")
	require.NoError(t, err)
	_, err = sale.RemoveTag("000000000002")
	require.NoError(t, err)
	assert.Empty(t, sale.Lines, "line without units is dropped")
}

func TestSaleRemoveQuantityClampsToRecordedLine(t *testing.T) {
	sale := NewSale(time.Now())
	pt := testProductType(1, "1")
	require.NoError(t, sale.AddQuantity(pt, 3))

	removed, err := sale.RemoveQuantity(1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NotContains(t, sale.Lines, int64(1))

	_, err = sale.RemoveQuantity(1, 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestCommittedSaleRejectsMutation(t *testing.T) {
	sale := NewSale(time.Now())
	sale.Ticket = 4
	pt := testProductType(1, "1")
	require.NoError(t, sale.AddQuantity(pt, 1))
	require.NoError(t, sale.Commit())

	assert.ErrorIs(t, sale.AddQuantity(pt, 1), ErrSaleClosed)
	assert.ErrorIs(t, sale.ApplyDiscount(dec("0.1")), ErrSaleClosed)

	err := sale.Commit()
	var transition *TransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, int64(4), transition.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSaleCloneIsIndependent(t *testing.T) {
	sale := NewSale(time.Now())
	require.NoError(t, sale.AddQuantity(testProductType(1, "1"), 1))

	clone := sale.Clone()
	require.NoError(t, clone.AddQuantity(testProductType(2, "1"), 1))

	assert.Len(t, sale.Lines, 1)
	assert.Len(t, clone.Lines, 2)
}

func TestValidDiscountRate(t *testing.T) {
	assert.True(t, ValidDiscountRate(decimal.Zero))
	assert.True(t, ValidDiscountRate(dec("0.999")))
	assert.False(t, ValidDiscountRate(dec("1")))
	assert.False(t, ValidDiscountRate(dec("-0.01")))
	assert.True(t, ValidDiscountRate(dec("0.99999")))
	assert.False(t, ValidDiscountRate(dec("0.999999")))
	assert.False(t, ValidDiscountRate(dec("0.123456")))
}
