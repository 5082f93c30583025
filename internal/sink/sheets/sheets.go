// Package sheets appends merged transactions to a Google Sheets tab.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Target is the run target name of this sink.
const Target = "spreadsheet"

const defaultSheetName = "Transactions"

// Settings is the sinks.spreadsheet block.
type Settings struct {
	SpreadsheetID   string        `json:"spreadsheetId"`
	SheetName       string        `json:"sheetName,omitempty"`
	CredentialsFile string        `json:"credentialsFile,omitempty"`
	ClientID        string        `json:"clientId,omitempty"`
	ClientSecret    string        `json:"clientSecret,omitempty"`
	Token           *oauth2.Token `json:"token,omitempty"`
}

// Sink is the spreadsheet sink.
type Sink struct {
	values        ValuesService
	spreadsheetID string
	sheet         string
}

// Factory builds the sink from the configuration document.
func Factory(ctx context.Context, doc *configstore.Document) (sink.Sink, error) {
	var s Settings
	if err := doc.SinkSettings(Target, &s); err != nil {
		return nil, err
	}
	if s.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: sinks.%s.spreadsheetId is not set", Target)
	}
	values, err := NewAPIValues(ctx, s)
	if err != nil {
		return nil, err
	}
	return New(values, s.SpreadsheetID, s.SheetName), nil
}

// New creates a sink writing to the named tab.
func New(values ValuesService, spreadsheetID, sheet string) *Sink {
	if sheet == "" {
		sheet = defaultSheetName
	}
	return &Sink{values: values, spreadsheetID: spreadsheetID, sheet: sheet}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return Target }

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

func (s *Sink) idRange() string {
	col := string(rune('A' + sink.IDColumn))
	return fmt.Sprintf("'%s'!%s:%s", s.sheet, col, col)
}

func (s *Sink) tableRange() string {
	last := string(rune('A' + len(sink.Header) - 1))
	return fmt.Sprintf("'%s'!A1:%s", s.sheet, last)
}

// Snapshot implements sink.Sink. Only the id column is read.
func (s *Sink) Snapshot(ctx context.Context) (sink.Snapshot, error) {
	rows, err := s.values.Get(ctx, s.spreadsheetID, s.idRange())
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if i == 0 && id == sink.Header[sink.IDColumn] {
			continue
		}
		if id != "" {
			ids[id] = true
		}
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("spreadsheet_id", s.spreadsheetID).
		Str("sheet", s.sheet).
		Int("rows", len(rows)).
		Msg("Read spreadsheet keys")

	return &snapshot{sink: s, rows: len(rows), ids: ids}, nil
}

type snapshot struct {
	sink *Sink
	rows int
	ids  map[string]bool
}

func (s *snapshot) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if s.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

// Append re-counts the id column first: a different row count means the
// sheet was edited since the snapshot.
func (s *snapshot) Append(ctx context.Context, txns []domain.Transaction) error {
	current, err := s.sink.values.Get(ctx, s.sink.spreadsheetID, s.sink.idRange())
	if err != nil {
		return err
	}
	if len(current) != s.rows {
		return fmt.Errorf("%w: sheet %q has %d rows, expected %d",
			domain.ErrSinkWriteConflict, s.sink.sheet, len(current), s.rows)
	}

	rows := make([][]interface{}, 0, len(txns)+1)
	if s.rows == 0 {
		rows = append(rows, toCells(sink.Header, false))
	}
	for _, t := range txns {
		rows = append(rows, toCells(sink.Row(t), true))
	}

	if err := s.sink.values.Append(ctx, s.sink.spreadsheetID, s.sink.tableRange(), rows); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("spreadsheet_id", s.sink.spreadsheetID).
		Int("appended", len(txns)).
		Msg("Appended transactions to spreadsheet")
	return nil
}

// textColumns are written as literal text so that descriptions starting
// with "=" and numeric-looking ids are kept verbatim.
var textColumns = map[int]bool{1: true, 3: true, 4: true, sink.IDColumn: true}

func toCells(values []string, quoteText bool) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		if quoteText && textColumns[i] && v != "" {
			v = "'" + v
		}
		cells[i] = v
	}
	return cells
}
