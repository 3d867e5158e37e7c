package insights

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/ledger-service/internal/domain"
)

func entry(at time.Time, amount int64, category domain.Category) domain.Transaction {
	return domain.Transaction{
		OccurredAt: at,
		Amount:     amount,
		Direction:  domain.DirectionFor(amount),
		Category:   category,
	}
}

func TestSummarizeWeek(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		entry(now.Add(-1*time.Hour), -2550, domain.CategoryShopping),
		entry(now.Add(-25*time.Hour), -1000, domain.CategoryTransport),
		entry(now.Add(-26*time.Hour), -4000, domain.CategoryShopping),
		entry(now.Add(-48*time.Hour), 250000, domain.CategoryIncome),
		entry(now.Add(-10*24*time.Hour), -99999, domain.CategoryEntertainment),
	}

	s := Summarize(txns, WindowWeek, now, time.UTC)

	require.Len(t, s.Categories, 2)
	assert.Equal(t, domain.CategoryShopping, s.Categories[0].Category)
	assert.Equal(t, "65.50", s.Categories[0].Total.StringFixed(2))
	assert.Equal(t, domain.CategoryTransport, s.Categories[1].Category)
	assert.Equal(t, "10.00", s.Categories[1].Total.StringFixed(2))

	assert.Equal(t, "2500.00", s.TotalIncome.StringFixed(2))
	assert.Equal(t, "75.50", s.TotalExpense.StringFixed(2))
	assert.Equal(t, "2424.50", s.Net.StringFixed(2))

	require.Len(t, s.Trend, 7)
	assert.Equal(t, "Fri", s.Trend[6].Label)
	assert.Equal(t, "25.50", s.Trend[6].Spending.StringFixed(2))
	assert.Equal(t, "50.00", s.Trend[5].Spending.StringFixed(2))
	assert.Equal(t, "2500.00", s.Trend[4].Income.StringFixed(2))
	assert.True(t, s.Trend[0].Spending.IsZero())
}

func TestSummarizeMonthAndYearBucketCounts(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		entry(now.AddDate(0, 0, -20), -1000, domain.CategoryOther),
		entry(now.AddDate(0, -5, 0), -2000, domain.CategoryOther),
	}

	month := Summarize(txns, WindowMonth, now, time.UTC)
	require.Len(t, month.Trend, 30)
	assert.Equal(t, "10.00", month.TotalExpense.StringFixed(2))
	assert.Equal(t, "10.00", month.Trend[9].Spending.StringFixed(2))

	year := Summarize(txns, WindowYear, now, time.UTC)
	require.Len(t, year.Trend, 12)
	assert.Equal(t, "Mar 2024", year.Trend[11].Label)
	assert.Equal(t, "Apr 2023", year.Trend[0].Label)
	assert.Equal(t, "30.00", year.TotalExpense.StringFixed(2))
	assert.Equal(t, "20.00", year.Trend[6].Spending.StringFixed(2))
}

func TestSummarizeEmptyIsZeroFilled(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	s := Summarize(nil, WindowWeek, now, time.UTC)
	assert.Empty(t, s.Categories)
	require.Len(t, s.Trend, 7)
	for _, b := range s.Trend {
		assert.True(t, b.Spending.IsZero())
		assert.True(t, b.Income.IsZero())
	}
}

func TestSummaryJSONUsesTwoDecimalPlaces(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	s := Summarize([]domain.Transaction{entry(now.Add(-time.Hour), 500000, domain.CategoryIncome)}, WindowWeek, now, time.UTC)

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "5000.00", decoded["total_income"])
	assert.Equal(t, "0.00", decoded["total_expense"])
}

func TestParseWindow(t *testing.T) {
	w, ok := ParseWindow("")
	assert.True(t, ok)
	assert.Equal(t, WindowWeek, w)

	w, ok = ParseWindow("YEAR")
	assert.True(t, ok)
	assert.Equal(t, WindowYear, w)

	_, ok = ParseWindow("decade")
	assert.False(t, ok)
}

func trendTotals(s Summary) (spending, income string) {
	sp, in := decimal.Zero, decimal.Zero
	for _, b := range s.Trend {
		sp = sp.Add(b.Spending.Decimal)
		in = in.Add(b.Income.Decimal)
	}
	return sp.StringFixed(2), in.StringFixed(2)
}

func TestSummarizeTrendAddsUpToTotals(t *testing.T) {
	now := time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		entry(now.Add(-7*24*time.Hour+time.Hour), -1000, domain.CategoryShopping),
		entry(time.Date(2026, 3, 25, 0, 30, 0, 0, time.UTC), -2000, domain.CategoryTransport),
		entry(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), -3000, domain.CategoryOther),
		entry(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), -4000, domain.CategoryOther),
		entry(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), 50000, domain.CategoryIncome),
		entry(time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC), 70000, domain.CategoryIncome),
		entry(now.Add(-time.Hour), 10000, domain.CategoryIncome),
	}

	tests := []struct {
		window      Window
		from        time.Time
		wantExpense string
		wantIncome  string
	}{
		{WindowWeek, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC), "20.00", "100.00"},
		{WindowMonth, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), "60.00", "100.00"},
		{WindowYear, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), "100.00", "600.00"},
	}
	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			s := Summarize(txns, tt.window, now, time.UTC)
			assert.True(t, tt.from.Equal(s.From), "from = %s", s.From)
			assert.True(t, s.Trend[0].Start.Equal(s.From))
			assert.Equal(t, tt.wantExpense, s.TotalExpense.StringFixed(2))
			assert.Equal(t, tt.wantIncome, s.TotalIncome.StringFixed(2))

			spending, income := trendTotals(s)
			assert.Equal(t, s.TotalExpense.StringFixed(2), spending)
			assert.Equal(t, s.TotalIncome.StringFixed(2), income)
		})
	}
}
