// Package csvimport is the manual-CSV adapter. It reads bank exports from
// local or gs:// paths, maps configured columns and derives deterministic
// transaction ids. Malformed rows are reported and skipped, never fatal to
// the file.
package csvimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/blob"
	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
)

// Name identifies the adapter.
const Name = "csv"

var defaultDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02.01.2006",
}

// Columns maps transaction fields to CSV header names. Matching ignores
// case and surrounding spaces.
type Columns struct {
	ID          string `json:"id,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	Category    string `json:"category,omitempty"`
}

// AccountSettings is the per-account settings block.
type AccountSettings struct {
	Paths       []string `json:"paths"`
	Columns     Columns  `json:"columns,omitempty"`
	DateFormats []string `json:"dateFormats,omitempty"`
	// Negate flips amounts for exports that list outflows as positive.
	Negate    bool   `json:"negate,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
}

func (s *AccountSettings) applyDefaults() {
	if s.Columns.Date == "" {
		s.Columns.Date = "date"
	}
	if s.Columns.Description == "" {
		s.Columns.Description = "description"
	}
	if s.Columns.Amount == "" && s.Columns.Debit == "" && s.Columns.Credit == "" {
		s.Columns.Amount = "amount"
	}
	if s.Columns.Category == "" {
		s.Columns.Category = "category"
	}
	if len(s.DateFormats) == 0 {
		s.DateFormats = defaultDateFormats
	}
}

// Adapter implements provider.Adapter for CSV exports.
type Adapter struct {
	provider.DateCursors
}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return Name }

// Fetch implements provider.Adapter. Every file is read in full: ids are
// stable across imports, so the sink drops rows it already holds and a
// statement added late is still picked up. The cursor only records the
// newest day imported.
func (a *Adapter) Fetch(ctx context.Context, acct configstore.AccountConfig, since *domain.Cursor) (*provider.Result, error) {
	log := logger.FromContext(ctx).With().
		Str("account_id", acct.AccountID).
		Str("provider", Name).
		Logger()

	var settings AccountSettings
	if len(acct.Settings) > 0 {
		if err := json.Unmarshal(acct.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%w: csv settings: %v", domain.ErrProviderData, err)
		}
	}
	settings.applyDefaults()
	if len(settings.Paths) == 0 {
		return nil, fmt.Errorf("%w: account %s has no csv paths", domain.ErrProviderData, acct.AccountID)
	}

	files, err := expand(ctx, settings.Paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderData, err)
	}
	if len(files) == 0 {
		log.Warn().Strs("paths", settings.Paths).Msg("No CSV files matched")
	}

	result := &provider.Result{NewCursor: since}
	seen := make(map[string]bool)

	for _, file := range files {
		data, err := blob.ReadLocation(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrProviderData, file, err)
		}

		txns, issues, err := parseFile(acct.AccountID, file, data, settings)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderData, file, err)
		}
		result.Issues = append(result.Issues, issues...)

		kept := 0
		for _, t := range txns {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			result.Transactions = append(result.Transactions, t)
			result.NewCursor = a.Advance(result.NewCursor, t.Day())
			kept++
		}

		log.Info().
			Str("file", file).
			Int("rows", len(txns)+len(issues)).
			Int("transactions", kept).
			Int("row_issues", len(issues)).
			Msg("Imported CSV file")
	}

	for _, issue := range result.Issues {
		log.Warn().Str("row", issue.String()).Msg("Skipped malformed CSV row")
	}

	return result, nil
}

func expand(ctx context.Context, patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		p = expandHome(p)
		matches, err := blob.Glob(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// parseFile parses one export. A missing header or a file that is not CSV
// at all is an error for the file; problems in individual rows are returned
// as issues.
func parseFile(accountID, source string, data []byte, s AccountSettings) ([]domain.Transaction, []provider.RowIssue, error) {
	decoded, _, err := decodeText(data, s.Encoding)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if s.Delimiter != "" {
		reader.Comma = []rune(s.Delimiter)[0]
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := resolveColumns(header, s.Columns)
	if err != nil {
		return nil, nil, err
	}

	var (
		txns        []domain.Transaction
		issues      []provider.RowIssue
		occurrences = make(map[string]int)
	)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			issues = append(issues, rowIssue(source, line, err))
			continue
		}
		if blank(record) {
			continue
		}

		t, err := parseRecord(accountID, record, cols, s)
		if err != nil {
			issues = append(issues, rowIssue(source, line, err))
			continue
		}

		if t.ID == "" {
			key := rowKey(t.Day(), t.Amount, t.Description)
			t.ID = transactionID(accountID, key, occurrences[key])
			occurrences[key]++
		}
		txns = append(txns, t)
	}

	return txns, issues, nil
}

func rowIssue(source string, line int, err error) provider.RowIssue {
	return provider.RowIssue{
		Source: source,
		Line:   line,
		Err:    fmt.Errorf("%w: %v", domain.ErrProviderData, err),
	}
}

type columnIndex struct {
	id, date, description, amount, debit, credit, category int
}

func resolveColumns(header []string, c Columns) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := pos[strings.ToLower(strings.TrimSpace(name))]; ok {
			return i
		}
		return -1
	}

	idx := columnIndex{
		id:          find(c.ID),
		date:        find(c.Date),
		description: find(c.Description),
		amount:      find(c.Amount),
		debit:       find(c.Debit),
		credit:      find(c.Credit),
		category:    find(c.Category),
	}
	if idx.date < 0 {
		return idx, fmt.Errorf("date column %q not found in header", c.Date)
	}
	if idx.amount < 0 && idx.debit < 0 && idx.credit < 0 {
		return idx, fmt.Errorf("no amount, debit or credit column found in header")
	}
	return idx, nil
}

func parseRecord(accountID string, record []string, cols columnIndex, s AccountSettings) (domain.Transaction, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := parseDate(field(cols.date), s.DateFormats)
	if err != nil {
		return domain.Transaction{}, err
	}

	var amount decimal.Decimal
	if cols.amount >= 0 {
		amount, err = parseAmount(field(cols.amount))
		if err != nil {
			return domain.Transaction{}, err
		}
	} else {
		debit, credit := field(cols.debit), field(cols.credit)
		if debit == "" && credit == "" {
			return domain.Transaction{}, fmt.Errorf("row has neither debit nor credit")
		}
		if credit != "" {
			c, err := parseAmount(credit)
			if err != nil {
				return domain.Transaction{}, err
			}
			amount = amount.Add(c.Abs())
		}
		if debit != "" {
			d, err := parseAmount(debit)
			if err != nil {
				return domain.Transaction{}, err
			}
			amount = amount.Sub(d.Abs())
		}
	}
	if s.Negate {
		amount = amount.Neg()
	}

	id := field(cols.id)
	if id != "" {
		id = "csv_" + id
	}

	return domain.Transaction{
		ID:          id,
		AccountID:   accountID,
		Date:        date,
		Amount:      amount,
		Currency:    s.Currency,
		Description: normalizeDescription(field(cols.description)),
		Category:    field(cols.category),
	}, nil
}

func parseDate(v string, layouts []string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return domain.TruncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// parseAmount accepts "1,234.56", "-12.00", "$12", "(12.00)" and "12.00-".
func parseAmount(v string) (decimal.Decimal, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			return r
		case r == ',', r == ' ', r == '\u00a0', r == '\'':
			return -1
		case r == '$', r == '€', r == '£', r == '¥':
			return -1
		default:
			return r
		}
	}, s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognized amount %q", v)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
