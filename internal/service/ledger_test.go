package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillcore/backend/internal/domain"
)

func TestBalanceIsCreditsMinusDebits(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("100")))
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("-40")))
	assert.Equal(t, "60", f.balance(t).String())

	assert.ErrorIs(t, f.svc.RecordBalanceUpdate(adminCtx, dec("-60.001")), ErrInsufficientFunds)
	assert.ErrorIs(t, f.svc.RecordBalanceUpdate(adminCtx, dec("0")), ErrInvalidAmount)
	assert.Equal(t, "60", f.balance(t).String())

	_, err := f.svc.ComputeBalance(cashierCtx)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetCreditsAndDebitsIsDayInclusive(t *testing.T) {
	f := newFixture(t)
	day1 := time.Date(2024, 5, 10, 23, 50, 0, 0, time.UTC)
	day2 := day1.Add(20 * time.Minute)
	day3 := day1.Add(48 * time.Hour)

	f.clock.Set(day1)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("100")))
	f.clock.Set(day2)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("-40")))
	f.clock.Set(day3)
	require.NoError(t, f.svc.RecordBalanceUpdate(adminCtx, dec("5")))

	entries, err := f.svc.GetCreditsAndDebits(adminCtx, day1, day2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Credit, entries[0].Kind)
	assert.Equal(t, domain.Debit, entries[1].Kind)
	assert.Equal(t, "60", domain.Balance(entries).String())

	reversed, err := f.svc.GetCreditsAndDebits(adminCtx, day2, day1)
	require.NoError(t, err)
	assert.Equal(t, entries, reversed)

	all, err := f.svc.GetCreditsAndDebits(adminCtx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	since, err := f.svc.GetCreditsAndDebits(adminCtx, day2, time.Time{})
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, domain.ManualRef(), since[1].Ref)
}
