package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	Credit EntryKind = "CREDIT"
	Debit  EntryKind = "DEBIT"
)

type RefKind string

const (
	RefSale   RefKind = "SALE"
	RefReturn RefKind = "RETURN"
	RefOrder  RefKind = "ORDER"
	RefManual RefKind = "MANUAL"
)

// BalanceRef names the business event behind a ledger entry. ID is zero for manual entries.
type BalanceRef struct {
	Kind RefKind `json:"kind"`
	ID   int64   `json:"id,omitempty"`
}

func SaleRef(ticket int64) BalanceRef {
	return BalanceRef{Kind: RefSale, ID: ticket}
}

func ReturnRef(id int64) BalanceRef {
	return BalanceRef{Kind: RefReturn, ID: id}
}

func OrderRef(id int64) BalanceRef {
	return BalanceRef{Kind: RefOrder, ID: id}
}

func ManualRef() BalanceRef {
	return BalanceRef{Kind: RefManual}
}

type BalanceTransaction struct {
	ID     int64           `json:"id"`
	Kind   EntryKind       `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Ref    BalanceRef      `json:"ref"`
}

// Signed returns the amount as it contributes to the balance.
func (t BalanceTransaction) Signed() decimal.Decimal {
	if t.Kind == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Balance is credits minus debits over the given entries.
func Balance(entries []BalanceTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Signed())
	}
	return RoundMoney(total)
}

// EntriesBetween keeps entries whose calendar date (UTC) lies in [from, to].
// A zero bound is open. The result is ordered by id.
func EntriesBetween(entries []BalanceTransaction, from time.Time, to time.Time) []BalanceTransaction {
	fromDay := truncateDay(from)
	toDay := truncateDay(to)
	out := make([]BalanceTransaction, 0, len(entries))
	for _, entry := range entries {
		day := truncateDay(entry.Date)
		if !from.IsZero() && day.Before(fromDay) {
			continue
		}
		if !to.IsZero() && day.After(toDay) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
