package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTransactionValidate(t *testing.T) {
	cases := []struct {
		name string
		tx   Transaction
		ok   bool
	}{
		{"credit positive", Transaction{Amount: 100, Direction: DirectionCredit, Category: CategoryIncome}, true},
		{"debit negative", Transaction{Amount: -100, Direction: DirectionDebit, Category: CategoryShopping}, true},
		{"credit negative", Transaction{Amount: -100, Direction: DirectionCredit, Category: CategoryIncome}, false},
		{"debit positive", Transaction{Amount: 100, Direction: DirectionDebit, Category: CategoryShopping}, false},
		{"zero", Transaction{Amount: 0, Direction: DirectionCredit, Category: CategoryIncome}, false},
		{"bad category", Transaction{Amount: 1, Direction: DirectionCredit, Category: "gifts"}, false},
	}
	for _, tc := range cases {
		err := tc.tx.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func historyFixture(now time.Time) []Transaction {
	return []Transaction{
		{ID: uuid.New(), Seq: 1, OccurredAt: now.Add(-10 * 24 * time.Hour), Description: "Old Rent", Amount: -1000, Direction: DirectionDebit, Category: CategoryOther},
		{ID: uuid.New(), Seq: 2, OccurredAt: now.Add(-24 * time.Hour), Description: "Salary", Amount: 5000, Direction: DirectionCredit, Category: CategoryIncome},
		{ID: uuid.New(), Seq: 3, OccurredAt: now.Add(-2 * time.Hour), Description: "Grocery store", Amount: -300, Direction: DirectionDebit, Category: CategoryShopping},
	}
}

func TestFilterTransactionsDateRanges(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txns := historyFixture(now)

	week := FilterTransactions(txns, TransactionFilter{Range: DateRangeWeek, Now: now})
	if len(week) != 2 {
		t.Fatalf("expected 2 transactions in the last week, got %d", len(week))
	}

	today := FilterTransactions(txns, TransactionFilter{Range: DateRangeToday, Now: now})
	if len(today) != 1 || today[0].Description != "Grocery store" {
		t.Fatalf("expected only today's transaction, got %+v", today)
	}

	month := FilterTransactions(txns, TransactionFilter{Range: DateRangeMonth, Now: now})
	if len(month) != 3 {
		t.Fatalf("expected all 3 transactions in the last month, got %d", len(month))
	}
}

func TestFilterTransactionsSearchAndDirectionCombine(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txns := historyFixture(now)

	got := FilterTransactions(txns, TransactionFilter{Search: "RENT", Now: now})
	if len(got) != 1 || got[0].Description != "Old Rent" {
		t.Fatalf("search should be case-insensitive, got %+v", got)
	}

	got = FilterTransactions(txns, TransactionFilter{Search: "rent", Range: DateRangeWeek, Now: now})
	if len(got) != 0 {
		t.Fatalf("filters must combine with AND, got %+v", got)
	}

	got = FilterTransactions(txns, TransactionFilter{Direction: DirectionDebit, Now: now})
	if len(got) != 2 {
		t.Fatalf("expected 2 debits, got %d", len(got))
	}
}

func TestSortTransactionsDescBreaksTiesBySequence(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txns := []Transaction{
		{Seq: 1, OccurredAt: at, Description: "first"},
		{Seq: 2, OccurredAt: at, Description: "second"},
		{Seq: 3, OccurredAt: at.Add(-time.Minute), Description: "earlier"},
	}
	SortTransactionsDesc(txns)
	if txns[0].Description != "second" || txns[1].Description != "first" || txns[2].Description != "earlier" {
		t.Fatalf("unexpected order: %+v", txns)
	}
}

func TestParseDateRange(t *testing.T) {
	if r, ok := ParseDateRange(""); !ok || r != DateRangeAll {
		t.Fatalf("empty range should default to all")
	}
	if r, ok := ParseDateRange("Week"); !ok || r != DateRangeWeek {
		t.Fatalf("expected week, got %q", r)
	}
	if _, ok := ParseDateRange("fortnight"); ok {
		t.Fatalf("expected unknown range to be rejected")
	}
}

func TestMaskAccountNumber(t *testing.T) {
	if got := MaskAccountNumber("1234567890"); got != "**** **** **** 7890" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestTransferRequestFingerprint(t *testing.T) {
	dest := uuid.New()
	a := TransferRequest{SourceAccountID: uuid.New(), DestinationAccountID: &dest, Amount: 100, Reference: "rent"}
	b := a
	b.IdempotencyKey = "different key does not matter"
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint must ignore the idempotency key")
	}
	b.Amount = 101
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint must change with the amount")
	}
}
