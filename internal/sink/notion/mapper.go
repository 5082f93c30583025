package notion

import (
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// Property names of the transactions database.
const (
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropCurrency      = "Currency"
	PropCategory      = "Category"
	PropAccount       = "Account"
	PropTransactionID = "Transaction ID"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

// TransactionProperties converts a transaction to page properties. Notion
// numbers are float64; exact is false when the stored amount no longer
// reads back as the original decimal.
func TransactionProperties(t domain.Transaction) (props notionapi.Properties, exact bool) {
	day := notionapi.Date(domain.TruncateDay(t.Date))
	amount, exact := amountNumber(t.Amount)

	props = notionapi.Properties{
		PropDescription:   notionapi.TitleProperty{Title: richText(t.Description)},
		PropDate:          notionapi.DateProperty{Date: &notionapi.DateObject{Start: &day}},
		PropAmount:        notionapi.NumberProperty{Number: amount},
		PropAccount:       notionapi.RichTextProperty{RichText: richText(t.AccountID)},
		PropTransactionID: notionapi.RichTextProperty{RichText: richText(t.ID)},
	}
	if t.Currency != "" {
		props[PropCurrency] = notionapi.SelectProperty{Select: notionapi.Option{Name: t.Currency}}
	}
	if t.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{Select: notionapi.Option{Name: t.Category}}
	}
	return props, exact
}

func amountNumber(d decimal.Decimal) (float64, bool) {
	f, _ := d.Float64()
	return f, decimal.NewFromFloat(f).Equal(d)
}

// transactionID extracts the Transaction ID property of a page.
func transactionID(page notionapi.Page) string {
	switch p := page.Properties[PropTransactionID].(type) {
	case *notionapi.RichTextProperty:
		return plainText(p.RichText)
	case notionapi.RichTextProperty:
		return plainText(p.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}
