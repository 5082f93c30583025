package warehouse

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	TransactionID   string              `bigquery:"transaction_id"`   // REQUIRED
	AccountID       string              `bigquery:"account_id"`       // REQUIRED
	TransactionDate civil.Date          `bigquery:"transaction_date"` // REQUIRED
	Amount          *big.Rat            `bigquery:"amount"`           // REQUIRED NUMERIC
	Currency        bigquery.NullString `bigquery:"currency"`         // NULLABLE
	Description     string              `bigquery:"description"`      // REQUIRED
	Category        bigquery.NullString `bigquery:"category"`         // NULLABLE
	CreatedTS       time.Time           `bigquery:"created_ts"`       // REQUIRED
}

// Schema is the table schema TransactionRow maps to.
var Schema = bigquery.Schema{
	{Name: "transaction_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "account_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "transaction_date", Type: bigquery.DateFieldType, Required: true},
	{Name: "amount", Type: bigquery.NumericFieldType, Required: true},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "description", Type: bigquery.StringFieldType, Required: true},
	{Name: "category", Type: bigquery.StringFieldType},
	{Name: "created_ts", Type: bigquery.TimestampFieldType, Required: true},
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// ToRow converts a transaction for insertion.
func ToRow(t domain.Transaction, now time.Time) *TransactionRow {
	return &TransactionRow{
		TransactionID:   t.ID,
		AccountID:       t.AccountID,
		TransactionDate: civil.DateOf(t.Date),
		Amount:          t.Amount.Rat(),
		Currency:        nullString(t.Currency),
		Description:     t.Description,
		Category:        nullString(t.Category),
		CreatedTS:       now.UTC(),
	}
}
