package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/dvloznov/finance-sync/internal/blob"
	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/migration"
	"github.com/dvloznov/finance-sync/internal/provider/csvimport"
	"github.com/dvloznov/finance-sync/internal/provider/plaid"
	"github.com/dvloznov/finance-sync/internal/provider/teller"
	"github.com/dvloznov/finance-sync/internal/sink/notion"
	"github.com/dvloznov/finance-sync/internal/sink/sheets"
	"github.com/dvloznov/finance-sync/internal/sink/warehouse"
)

// scriptedAsker answers forms from a queue of fill functions.
type scriptedAsker struct {
	t     *testing.T
	fills []func(answers any)
	asked []string
}

func (s *scriptedAsker) Ask(ctx context.Context, answers any) error {
	s.asked = append(s.asked, formName(answers))
	if len(s.fills) == 0 {
		s.t.Fatalf("unexpected form %T", answers)
	}
	fill := s.fills[0]
	s.fills = s.fills[1:]
	fill(answers)
	return nil
}

func formName(v any) string {
	switch v.(type) {
	case *ResetAnswers:
		return "Reset"
	case *PlaidAnswers:
		return "Plaid"
	case *TellerAnswers:
		return "Teller"
	case *GoogleAnswers:
		return "Google"
	case *OAuthCodeAnswers:
		return "OAuthCode"
	case *CSVImportAnswers:
		return "CSVImport"
	case *CSVExportAnswers:
		return "CSVExport"
	case *BigQueryAnswers:
		return "BigQuery"
	case *NotionAnswers:
		return "Notion"
	case *AccountAnswers:
		return "Account"
	}
	return "unknown"
}

func newRunner(t *testing.T, content string, fills ...func(any)) (*Runner, *configstore.Store, *scriptedAsker) {
	t.Helper()
	var mem *blob.Memory
	if content == "" {
		mem = blob.NewMemory("config.json")
	} else {
		mem = blob.NewMemoryWith("config.json", []byte(content))
	}
	store := configstore.New(mem, migration.Default())
	asker := &scriptedAsker{t: t, fills: fills}
	return NewRunner(store, asker, &bytes.Buffer{}), store, asker
}

func load(t *testing.T, s *configstore.Store) *configstore.Document {
	t.Helper()
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return doc
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{name: "bare", in: nil, want: DefaultTargets},
		{name: "default plus extra", in: []string{"default", "teller"}, want: []string{"reset", "plaid", "google", "accounts", "teller"}},
		{name: "dedupe and case", in: []string{"Notion", "notion", " to-csv "}, want: []string{"notion", "to-csv"}},
		{name: "unknown", in: []string{"plaid", "venmo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expand error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Expand (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_DefaultFlowOnEmptyConfig(t *testing.T) {
	r, store, asker := newRunner(t, "",
		func(a any) {
			p := a.(*PlaidAnswers)
			if p.Env != "sandbox" {
				t.Errorf("default env = %q", p.Env)
			}
			p.ClientID, p.Secret = "cid", "sec"
		},
		func(a any) {
			g := a.(*GoogleAnswers)
			g.SpreadsheetID = "sheet-1"
			g.CredentialsFile = "/keys/sa.json"
			g.MakeDefault = true
		},
		func(a any) {
			acc := a.(*AccountAnswers)
			acc.AccountID, acc.Name, acc.AccessToken = "chk", "Checking", "access-1"
			acc.ProviderAccountIDs = "p1, p2"
			acc.More = true
		},
		func(a any) {
			acc := a.(*AccountAnswers)
			acc.Service, acc.AccountID, acc.AccessToken, acc.ProviderAccountIDs = "teller", "card", "tok", "acc_1"
		},
	)

	if err := r.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No reset prompt: there was nothing to replace.
	if diff := cmp.Diff([]string{"Plaid", "Google", "Account", "Account"}, asker.asked); diff != "" {
		t.Errorf("forms (-want +got):\n%s", diff)
	}

	doc := load(t, store)
	if doc.Target != sheets.Target {
		t.Errorf("target = %q", doc.Target)
	}
	var ps plaid.Settings
	if err := doc.ProviderSettings(plaid.Service, &ps); err != nil || ps.ClientID != "cid" || ps.Env != "sandbox" {
		t.Errorf("plaid settings = %+v, %v", ps, err)
	}

	if len(doc.Accounts) != 2 {
		t.Fatalf("accounts = %d", len(doc.Accounts))
	}
	chk := doc.Account("chk")
	var as plaid.AccountSettings
	if err := json.Unmarshal(chk.Settings, &as); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(plaid.AccountSettings{AccessToken: "access-1", PlaidAccountIDs: []string{"p1", "p2"}}, as); diff != "" {
		t.Errorf("plaid account settings (-want +got):\n%s", diff)
	}
	if chk.ProviderKind != domain.ProviderLinkedBank || chk.Service != plaid.Service || chk.Cursor != nil {
		t.Errorf("chk = %+v", chk)
	}

	var ts teller.AccountSettings
	if err := json.Unmarshal(doc.Account("card").Settings, &ts); err != nil || ts.TellerAccountID != "acc_1" {
		t.Errorf("teller settings = %+v, %v", ts, err)
	}
}

func TestRun_ResetAsksBeforeReplacing(t *testing.T) {
	existing := `{"schemaVersion": 3, "accounts": [{"accountId": "a", "providerKind": "manual-csv", "cursor": null}]}`

	r, store, _ := newRunner(t, existing, func(a any) { a.(*ResetAnswers).Confirm = false })
	if err := r.Run(context.Background(), []string{"reset"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(load(t, store).Accounts) != 1 {
		t.Error("declined reset removed accounts")
	}

	r, store, _ = newRunner(t, existing, func(a any) { a.(*ResetAnswers).Confirm = true })
	if err := r.Run(context.Background(), []string{"reset"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(load(t, store).Accounts) != 0 {
		t.Error("confirmed reset kept accounts")
	}
}

func TestRun_FromCSVAddsManualAccount(t *testing.T) {
	r, store, _ := newRunner(t, `{"schemaVersion": 3, "accounts": []}`, func(a any) {
		c := a.(*CSVImportAnswers)
		c.AccountID, c.Paths = "savings", "~/exports/*.csv, gs://bucket/savings/*.csv"
		c.AmountColumn = "Value"
		c.DateFormat = "02/01/2006"
		c.Negate = true
	})
	if err := r.Run(context.Background(), []string{"from-csv"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := load(t, store).Account("savings")
	if acct == nil || acct.ProviderKind != domain.ProviderManualCSV {
		t.Fatalf("account = %+v", acct)
	}
	var s csvimport.AccountSettings
	if err := json.Unmarshal(acct.Settings, &s); err != nil {
		t.Fatal(err)
	}
	want := csvimport.AccountSettings{
		Paths:       []string{"~/exports/*.csv", "gs://bucket/savings/*.csv"},
		Columns:     csvimport.Columns{Date: "date", Description: "description", Amount: "Value"},
		DateFormats: []string{"02/01/2006"},
		Negate:      true,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}
}

func TestRun_SinkTargets(t *testing.T) {
	r, store, _ := newRunner(t, `{"schemaVersion": 3, "target": "spreadsheet", "accounts": []}`,
		func(a any) { c := a.(*CSVExportAnswers); c.Path = "/tmp/out.csv" },
		func(a any) {
			b := a.(*BigQueryAnswers)
			if b.Table != "transactions" {
				t.Errorf("default table = %q", b.Table)
			}
			b.ProjectID, b.Dataset = "proj", "finance"
		},
		func(a any) { n := a.(*NotionAnswers); n.Token, n.DatabaseID, n.MakeDefault = "secret_x", "db-1", true },
	)
	if err := r.Run(context.Background(), []string{"to-csv", "bigquery", "notion"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc := load(t, store)
	if doc.Target != notion.Target {
		t.Errorf("target = %q, want notion", doc.Target)
	}
	var bq warehouse.Settings
	if err := doc.SinkSettings(warehouse.Target, &bq); err != nil || bq != (warehouse.Settings{ProjectID: "proj", Dataset: "finance", Table: "transactions"}) {
		t.Errorf("bigquery = %+v, %v", bq, err)
	}
	if _, ok := doc.Sinks["csv"]; !ok {
		t.Error("csv sink settings missing")
	}
}

func TestRun_GoogleOAuthFlow(t *testing.T) {
	r, store, asker := newRunner(t, `{"schemaVersion": 3, "accounts": []}`,
		func(a any) {
			g := a.(*GoogleAnswers)
			g.SpreadsheetID, g.ClientID, g.ClientSecret = "sheet-1", "client.apps.googleusercontent.com", "shh"
		},
		func(a any) {
			o := a.(*OAuthCodeAnswers)
			if !strings.Contains(o.URL, "client.apps.googleusercontent.com") || !strings.Contains(o.URL, "access_type=offline") {
				t.Errorf("consent URL = %s", o.URL)
			}
			o.Code = " 4/abc "
		},
	)
	r.exchange = func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
		if code != "4/abc" {
			t.Errorf("code = %q", code)
		}
		return &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}, nil
	}

	if err := r.Run(context.Background(), []string{"google"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"Google", "OAuthCode"}, asker.asked); diff != "" {
		t.Errorf("forms (-want +got):\n%s", diff)
	}
	var s sheets.Settings
	if err := load(t, store).SinkSettings(sheets.Target, &s); err != nil {
		t.Fatal(err)
	}
	if s.Token == nil || s.Token.RefreshToken != "rt" {
		t.Errorf("token = %+v", s.Token)
	}
}

func TestRun_Validation(t *testing.T) {
	r, _, _ := newRunner(t, `{"schemaVersion": 3, "accounts": []}`, func(a any) {
		acc := a.(*AccountAnswers)
		acc.Service, acc.AccountID, acc.AccessToken = "teller", "x", "tok"
	})
	err := r.Run(context.Background(), []string{"accounts"})
	if err == nil || !strings.Contains(err.Error(), "teller account id") {
		t.Errorf("expected teller id error, got %v", err)
	}

	r, _, _ = newRunner(t, `{"schemaVersion": 3, "accounts": []}`)
	if err := r.Run(context.Background(), []string{"bogus"}); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestRun_CorruptConfigIsNotOverwritten(t *testing.T) {
	r, _, _ := newRunner(t, `{not json`)
	err := r.Run(context.Background(), []string{"plaid"})
	if !errors.Is(err, domain.ErrConfigCorrupt) {
		t.Errorf("expected ErrConfigCorrupt, got %v", err)
	}
}
