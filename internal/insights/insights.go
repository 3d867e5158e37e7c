/**
 * @description
 * Package insights projects the Transaction Log into spending summaries: debit totals by
 * category, a zero-filled trend series, and income against expense.
 *
 * @notes
 * - Summarize is pure; callers pass the clock and display location.
 * - Sums are exact decimals and are rounded to two places only when serialized.
 */

package insights

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

type Window string

const (
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

// ParseWindow defaults to the weekly view.
func ParseWindow(raw string) (Window, bool) {
	switch Window(strings.ToLower(strings.TrimSpace(raw))) {
	case "", WindowWeek:
		return WindowWeek, true
	case WindowMonth:
		return WindowMonth, true
	case WindowYear:
		return WindowYear, true
	}
	return "", false
}

// Amount is a decimal that serializes with exactly two places.
type Amount struct {
	decimal.Decimal
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.StringFixed(2) + `"`), nil
}

type CategoryTotal struct {
	Category domain.Category `json:"category"`
	Total    Amount          `json:"total"`
}

type TrendBucket struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	Spending Amount    `json:"spending"`
	Income   Amount    `json:"income"`
}

type Summary struct {
	Window       Window          `json:"window"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Categories   []CategoryTotal `json:"categories"`
	Trend        []TrendBucket   `json:"trend"`
	TotalIncome  Amount          `json:"total_income"`
	TotalExpense Amount          `json:"total_expense"`
	Net          Amount          `json:"net"`
}

type bucketLayout struct {
	count   int
	monthly bool
	label   string
}

func layoutFor(window Window) bucketLayout {
	switch window {
	case WindowMonth:
		return bucketLayout{count: 30, label: "02 Jan"}
	case WindowYear:
		return bucketLayout{count: 12, monthly: true, label: "Jan 2006"}
	default:
		return bucketLayout{count: 7, label: "Mon"}
	}
}

func bucketKey(t time.Time, monthly bool) string {
	if monthly {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// buildBuckets returns zero-filled buckets ending with the one containing now. The first
// bucket's start is the lower bound of the whole window.
func buildBuckets(layout bucketLayout, now time.Time, loc *time.Location) ([]TrendBucket, map[string]int) {
	local := now.In(loc)
	var last time.Time
	if layout.monthly {
		last = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	} else {
		last = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}

	buckets := make([]TrendBucket, layout.count)
	index := make(map[string]int, layout.count)
	for i := 0; i < layout.count; i++ {
		offset := -(layout.count - 1 - i)
		var start time.Time
		if layout.monthly {
			start = last.AddDate(0, offset, 0)
		} else {
			start = last.AddDate(0, 0, offset)
		}
		buckets[i] = TrendBucket{
			Label:    start.Format(layout.label),
			Start:    start,
			Spending: Amount{decimal.Zero},
			Income:   Amount{decimal.Zero},
		}
		index[bucketKey(start, layout.monthly)] = i
	}
	return buckets, index
}

// Summarize builds the insight projection for txns as seen at now.
func Summarize(txns []domain.Transaction, window Window, now time.Time, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}
	if _, ok := ParseWindow(string(window)); !ok {
		window = WindowWeek
	}
	layout := layoutFor(window)
	buckets, index := buildBuckets(layout, now, loc)
	// totals and trend share one bound so the buckets always add up to the totals
	from := buckets[0].Start

	income := decimal.Zero
	expense := decimal.Zero
	byCategory := make(map[domain.Category]decimal.Decimal)

	for _, t := range txns {
		if t.OccurredAt.Before(from) || t.OccurredAt.After(now) {
			continue
		}
		amount := domain.AmountDecimal(t.Amount)
		bucket := index[bucketKey(t.OccurredAt.In(loc), layout.monthly)]

		if t.Amount < 0 {
			spent := amount.Abs()
			expense = expense.Add(spent)
			byCategory[t.Category] = byCategory[t.Category].Add(spent)
			buckets[bucket].Spending = Amount{buckets[bucket].Spending.Add(spent)}
			continue
		}
		income = income.Add(amount)
		buckets[bucket].Income = Amount{buckets[bucket].Income.Add(amount)}
	}

	categories := make([]CategoryTotal, 0, len(byCategory))
	for c, total := range byCategory {
		categories = append(categories, CategoryTotal{Category: c, Total: Amount{total}})
	}
	sort.Slice(categories, func(i, j int) bool {
		if cmp := categories[i].Total.Cmp(categories[j].Total.Decimal); cmp != 0 {
			return cmp > 0
		}
		return categories[i].Category < categories[j].Category
	})

	return Summary{
		Window:       window,
		From:         from,
		To:           now,
		Categories:   categories,
		Trend:        buckets,
		TotalIncome:  Amount{income},
		TotalExpense: Amount{expense},
		Net:          Amount{income.Sub(expense)},
	}
}
