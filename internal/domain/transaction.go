/**
 * @description
 * Transaction Log records and the history filters applied over them.
 *
 * @notes
 * - Transactions are append-only. Amount is signed: credits are positive, debits negative.
 * - Seq is a store-assigned, monotonically increasing insertion sequence used to break
 *   ties when two entries share an OccurredAt.
 */

package domain

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

type Category string

const (
	CategoryShopping      Category = "shopping"
	CategoryIncome        Category = "income"
	CategoryEntertainment Category = "entertainment"
	CategoryTransport     Category = "transport"
	CategoryTransfer      Category = "transfer"
	CategoryOther         Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryShopping, CategoryIncome, CategoryEntertainment, CategoryTransport, CategoryTransfer, CategoryOther:
		return true
	}
	return false
}

var (
	ErrZeroAmount        = errors.New("transaction amount must be non-zero")
	ErrDirectionMismatch = errors.New("transaction direction does not match amount sign")
	ErrUnknownCategory   = errors.New("unknown transaction category")
)

// Transaction represents one immutable money movement on a single account.
type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	TransferID   *uuid.UUID `json:"transfer_id,omitempty"`
	Seq          int64      `json:"-"`
	OccurredAt   time.Time  `json:"occurred_at"`
	Description  string     `json:"description"`
	Amount       int64      `json:"amount"` // in cents, signed
	Direction    Direction  `json:"direction"`
	Category     Category   `json:"category"`
	BalanceAfter int64      `json:"balance_after"` // in cents
}

// Validate checks the record-level invariants that do not need the store.
func (t *Transaction) Validate() error {
	if t.Amount == 0 {
		return ErrZeroAmount
	}
	if !t.Category.Valid() {
		return ErrUnknownCategory
	}
	switch t.Direction {
	case DirectionCredit:
		if t.Amount < 0 {
			return ErrDirectionMismatch
		}
	case DirectionDebit:
		if t.Amount > 0 {
			return ErrDirectionMismatch
		}
	default:
		return ErrDirectionMismatch
	}
	return nil
}

// LedgerEntry is a request to post one entry against an account. The store applies it
// together with the matching balance change.
type LedgerEntry struct {
	AccountID   uuid.UUID
	TransferID  *uuid.UUID
	OccurredAt  time.Time
	Description string
	Amount      int64
	Category    Category
}

// DirectionFor derives the direction from a signed amount.
func DirectionFor(amount int64) Direction {
	if amount < 0 {
		return DirectionDebit
	}
	return DirectionCredit
}

// DateRange is the history date filter.
type DateRange string

const (
	DateRangeAll   DateRange = "all"
	DateRangeToday DateRange = "today"
	DateRangeWeek  DateRange = "week"
	DateRangeMonth DateRange = "month"
)

func ParseDateRange(raw string) (DateRange, bool) {
	switch DateRange(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DateRangeAll:
		return DateRangeAll, true
	case DateRangeToday:
		return DateRangeToday, true
	case DateRangeWeek:
		return DateRangeWeek, true
	case DateRangeMonth:
		return DateRangeMonth, true
	}
	return "", false
}

// TransactionFilter combines the history filters with AND. Zero values match everything.
type TransactionFilter struct {
	Search    string
	Direction Direction
	Range     DateRange
	Now       time.Time
	Location  *time.Location
}

// Matches reports whether the transaction passes every configured filter.
func (f TransactionFilter) Matches(t Transaction) bool {
	if q := strings.TrimSpace(f.Search); q != "" {
		if !strings.Contains(strings.ToLower(t.Description), strings.ToLower(q)) {
			return false
		}
	}
	if f.Direction != "" && t.Direction != f.Direction {
		return false
	}
	return f.inRange(t.OccurredAt)
}

func (f TransactionFilter) inRange(at time.Time) bool {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	switch f.Range {
	case DateRangeToday:
		y1, m1, d1 := at.In(loc).Date()
		y2, m2, d2 := now.In(loc).Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case DateRangeWeek:
		return !at.Before(now.Add(-7 * 24 * time.Hour))
	case DateRangeMonth:
		return !at.Before(now.Add(-30 * 24 * time.Hour))
	default:
		return true
	}
}

// FilterTransactions returns the matching transactions in display order.
func FilterTransactions(txns []Transaction, f TransactionFilter) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, t := range txns {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	SortTransactionsDesc(out)
	return out
}

// SortTransactionsDesc orders by OccurredAt descending, newest insertion first on ties.
func SortTransactionsDesc(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].OccurredAt.Equal(txns[j].OccurredAt) {
			return txns[i].OccurredAt.After(txns[j].OccurredAt)
		}
		return txns[i].Seq > txns[j].Seq
	})
}
