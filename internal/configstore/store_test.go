package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/finance-sync/internal/blob"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/migration"
)

const v1Config = `{
	"accounts": [
		{"id": "chk-1", "provider": "plaid", "name": "Checking", "accessToken": "access-sandbox-1"},
		{"id": "manual-3", "provider": "csv", "name": "Savings", "paths": ["/data/*.csv"]}
	],
	"plaid": {"clientId": "cid"},
	"sheet": {"spreadsheetId": "sheet-1"}
}`

var docOpts = []cmp.Option{
	cmp.AllowUnexported(Document{}),
	cmp.Transformer("compactJSON", func(r json.RawMessage) string {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r); err != nil {
			return string(r)
		}
		return buf.String()
	}),
}

func newMemStore(t *testing.T, content string) (*Store, *blob.Memory) {
	t.Helper()
	var mem *blob.Memory
	if content == "" {
		mem = blob.NewMemory("config.json")
	} else {
		mem = blob.NewMemoryWith("config.json", []byte(content))
	}
	return New(mem, migration.Default()), mem
}

func TestLoad_Missing(t *testing.T) {
	s, _ := newMemStore(t, "")
	_, err := s.Load(context.Background())
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing, got %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"not json", `{"accounts": [`, domain.ErrConfigCorrupt},
		{"future version", `{"schemaVersion": 7, "accounts": []}`, domain.ErrConfigUnsupportedVersion},
		{"duplicate ids", `{"schemaVersion": 3, "accounts": [
			{"accountId": "a", "providerKind": "manual-csv", "cursor": null},
			{"accountId": "a", "providerKind": "manual-csv", "cursor": null}]}`, domain.ErrConfigCorrupt},
		{"unknown kind", `{"schemaVersion": 3, "accounts": [
			{"accountId": "a", "providerKind": "mint", "cursor": null}]}`, domain.ErrConfigCorrupt},
		{"missing id", `{"schemaVersion": 3, "accounts": [
			{"providerKind": "manual-csv", "cursor": null}]}`, domain.ErrConfigCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newMemStore(t, tt.content)
			_, err := s.Load(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load error = %v, want %v", err, tt.wantErr)
			}
			if !domain.IsFatalConfig(err) {
				t.Errorf("expected a fatal configuration error, got %v", err)
			}
		})
	}
}

func TestLoad_MigratesAndPersists(t *testing.T) {
	ctx := context.Background()
	s, mem := newMemStore(t, v1Config)

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.SchemaVersion != migration.CurrentVersion {
		t.Errorf("SchemaVersion = %d, want %d", doc.SchemaVersion, migration.CurrentVersion)
	}
	if len(doc.Accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(doc.Accounts))
	}
	for _, acct := range doc.Accounts {
		if acct.Cursor != nil {
			t.Errorf("account %s: cursor = %v, want nil", acct.AccountID, *acct.Cursor)
		}
	}
	if doc.Accounts[0].AccountID != "chk-1" || doc.Accounts[1].AccountID != "manual-3" {
		t.Errorf("account order not preserved: %+v", doc.Accounts)
	}

	var persisted map[string]json.RawMessage
	if err := json.Unmarshal(mem.Bytes(), &persisted); err != nil {
		t.Fatalf("persisted document is not JSON: %v", err)
	}
	if string(persisted[migration.VersionKey]) != "3" {
		t.Errorf("persisted schemaVersion = %s, want 3", persisted[migration.VersionKey])
	}

	// A second load sees a current document: nothing is rewritten and the
	// decoded document is identical.
	before := mem.Bytes()
	again, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if diff := cmp.Diff(doc, again, docOpts...); diff != "" {
		t.Errorf("second load differs (-first +second):\n%s", diff)
	}
	if string(before) != string(mem.Bytes()) {
		t.Error("second load rewrote the document")
	}
}

func TestLoad_RoundTripThroughUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemStore(t, v1Config)

	first, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Update(ctx, func(*Document) error { return nil }, false); err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if diff := cmp.Diff(first, second, docOpts...); diff != "" {
		t.Errorf("document changed across a no-op update (-want +got):\n%s", diff)
	}
}

func TestLoad_KeepsUnknownTopLevelFields(t *testing.T) {
	ctx := context.Background()
	s, mem := newMemStore(t, `{"schemaVersion": 3, "accounts": [], "notes": {"owner": "me"}}`)

	if err := s.Update(ctx, func(doc *Document) error {
		doc.Target = "csv"
		return nil
	}, false); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var persisted map[string]json.RawMessage
	if err := json.Unmarshal(mem.Bytes(), &persisted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := persisted["notes"]; !ok {
		t.Error("unknown field notes was dropped")
	}
}

func TestUpdate_RefusesConcurrentChange(t *testing.T) {
	ctx := context.Background()
	s, mem := newMemStore(t, `{"schemaVersion": 3, "accounts": []}`)

	err := s.Update(ctx, func(doc *Document) error {
		// Somebody else writes while the transform runs.
		if err := mem.Replace(ctx, []byte(`{"schemaVersion": 3, "accounts": []}`), blob.AnyVersion); err != nil {
			t.Fatalf("external write: %v", err)
		}
		doc.Target = "csv"
		return nil
	}, false)
	if !errors.Is(err, blob.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Target != "" {
		t.Errorf("Target = %q, the refused write must not be visible", doc.Target)
	}
}

func TestUpdate_TransformErrorLeavesDocument(t *testing.T) {
	ctx := context.Background()
	s, mem := newMemStore(t, `{"schemaVersion": 3, "accounts": []}`)
	before := mem.Bytes()

	boom := errors.New("boom")
	if err := s.Update(ctx, func(*Document) error { return boom }, false); !errors.Is(err, boom) {
		t.Fatalf("expected transform error, got %v", err)
	}
	if string(before) != string(mem.Bytes()) {
		t.Error("document modified despite transform error")
	}
}

func TestUpdate_RejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemStore(t, `{"schemaVersion": 3, "accounts": []}`)

	err := s.Update(ctx, func(doc *Document) error {
		doc.Accounts = append(doc.Accounts, AccountConfig{AccountID: "x", ProviderKind: "unknown"})
		return nil
	}, false)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document", func(t *testing.T) {
		s, _ := newMemStore(t, "")
		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		doc, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(doc.Accounts) != 0 || doc.SchemaVersion != migration.CurrentVersion {
			t.Errorf("unexpected fresh document: %+v", doc)
		}
	})

	t.Run("corrupt document", func(t *testing.T) {
		s, _ := newMemStore(t, "not json")
		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if _, err := s.Load(ctx); err != nil {
			t.Fatalf("Load after reset: %v", err)
		}
	})
}

func TestAddAccountAndCommitCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemStore(t, `{"schemaVersion": 3, "accounts": []}`)

	for _, id := range []string{"b", "a", "c"} {
		if err := s.AddAccount(ctx, AccountConfig{AccountID: id, ProviderKind: domain.ProviderManualCSV}); err != nil {
			t.Fatalf("AddAccount(%s): %v", id, err)
		}
	}
	if err := s.CommitCursor(ctx, "a", domain.CursorPtr("2024-05-01")); err != nil {
		t.Fatalf("CommitCursor: %v", err)
	}

	// Re-adding keeps position and progress.
	if err := s.AddAccount(ctx, AccountConfig{AccountID: "a", ProviderKind: domain.ProviderManualCSV, Name: "renamed"}); err != nil {
		t.Fatalf("AddAccount(a) again: %v", err)
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var ids []string
	for _, acct := range doc.Accounts {
		ids = append(ids, acct.AccountID)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, ids); diff != "" {
		t.Errorf("account order (-want +got):\n%s", diff)
	}
	a := doc.Account("a")
	if a.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", a.Name)
	}
	if got := domain.CursorValue(a.Cursor); got != "2024-05-01" {
		t.Errorf("cursor = %q, want 2024-05-01", got)
	}

	err = s.CommitCursor(ctx, "zzz", domain.CursorPtr("x"))
	if !errors.Is(err, domain.ErrCursorCommit) {
		t.Errorf("expected ErrCursorCommit for unknown account, got %v", err)
	}
}

func TestStore_LocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(v1Config), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.CommitCursor(ctx, "manual-3", domain.CursorPtr("2024-01-31")); err != nil {
		t.Fatalf("CommitCursor: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := domain.CursorValue(doc.Account("manual-3").Cursor); got != "2024-01-31" {
		t.Errorf("cursor = %q after reopen", got)
	}
}

func TestDefaultLocation(t *testing.T) {
	t.Setenv(EnvConfig, "gs://bucket/finsync.json")
	loc, err := DefaultLocation()
	if err != nil {
		t.Fatalf("DefaultLocation: %v", err)
	}
	if loc != "gs://bucket/finsync.json" {
		t.Errorf("DefaultLocation = %q", loc)
	}
}

func TestDocumentSettings(t *testing.T) {
	doc := Fresh()
	type sheet struct {
		SpreadsheetID string `json:"spreadsheetId"`
	}
	if err := doc.SetSinkSettings("spreadsheet", sheet{SpreadsheetID: "abc"}); err != nil {
		t.Fatalf("SetSinkSettings: %v", err)
	}
	var got sheet
	if err := doc.SinkSettings("spreadsheet", &got); err != nil {
		t.Fatalf("SinkSettings: %v", err)
	}
	if got.SpreadsheetID != "abc" {
		t.Errorf("SpreadsheetID = %q", got.SpreadsheetID)
	}

	var missing sheet
	if err := doc.ProviderSettings("plaid", &missing); err != nil {
		t.Errorf("missing section should not error: %v", err)
	}
}
