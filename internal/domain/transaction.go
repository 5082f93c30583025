package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-the-wire format for transaction days and date cursors.
const DateLayout = "2006-01-02"

// Transaction represents one normalized transaction produced by a provider.
// This is a domain struct, not a sink row; each sink maps it into its own
// column or property layout.
type Transaction struct {
	ID          string          // stable across overlapping fetches
	AccountID   string          // configured account the transaction belongs to
	Date        time.Time       // calendar day, midnight UTC
	Amount      decimal.Decimal // signed: money IN positive, money OUT negative
	Currency    string          // ISO code, may be empty for CSV sources
	Description string
	Category    string // optional
}

// Day formats the transaction date as YYYY-MM-DD.
func (t Transaction) Day() string {
	return t.Date.Format(DateLayout)
}

// ParseDay parses a YYYY-MM-DD string into a midnight-UTC time.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// TruncateDay drops the clock part of t, keeping its calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortForAppend orders transactions by ascending date, ties broken by ID.
func SortForAppend(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID < txns[j].ID
	})
}
