package migration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/finance-sync/internal/domain"
)

func parseDoc(t *testing.T, s string) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func accountsOf(t *testing.T, doc Document) []map[string]interface{} {
	t.Helper()
	var accounts []map[string]interface{}
	if err := json.Unmarshal(doc["accounts"], &accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	return accounts
}

const v1Doc = `{
	"accounts": [
		{"id": "chk-1", "provider": "plaid", "name": "Checking", "accessToken": "access-sandbox-1"},
		{"id": "card-2", "provider": "teller", "name": "Card", "enrollmentId": "enr_1"},
		{"id": "manual-3", "provider": "csv", "name": "Savings", "paths": ["~/csv/*.csv"]}
	],
	"plaid": {"clientId": "cid", "env": "sandbox"},
	"sheet": {"spreadsheetId": "sheet-1"}
}`

func TestMigrate_V1ToCurrent(t *testing.T) {
	ctx := context.Background()
	doc := parseDoc(t, v1Doc)

	from, err := DetectVersion(doc)
	if err != nil {
		t.Fatalf("DetectVersion: %v", err)
	}
	if from != 1 {
		t.Fatalf("DetectVersion = %d, want 1", from)
	}

	out, err := Default().Migrate(ctx, doc, from, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	version, err := DetectVersion(out)
	if err != nil {
		t.Fatalf("DetectVersion after migrate: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("schemaVersion = %d, want %d", version, CurrentVersion)
	}

	accounts := accountsOf(t, out)
	if len(accounts) != 3 {
		t.Fatalf("got %d accounts, want 3", len(accounts))
	}

	want := []map[string]interface{}{
		{
			"accountId":    "chk-1",
			"providerKind": "linked-bank",
			"service":      "plaid",
			"name":         "Checking",
			"settings":     map[string]interface{}{"accessToken": "access-sandbox-1"},
			"cursor":       nil,
		},
		{
			"accountId":    "card-2",
			"providerKind": "linked-bank",
			"service":      "teller",
			"name":         "Card",
			"settings":     map[string]interface{}{"enrollmentId": "enr_1"},
			"cursor":       nil,
		},
		{
			"accountId":    "manual-3",
			"providerKind": "manual-csv",
			"name":         "Savings",
			"settings":     map[string]interface{}{"paths": []interface{}{"~/csv/*.csv"}},
			"cursor":       nil,
		},
	}
	if diff := cmp.Diff(want, accounts); diff != "" {
		t.Errorf("accounts mismatch (-want +got):\n%s", diff)
	}

	for _, acc := range accounts {
		cursor, ok := acc["cursor"]
		if !ok {
			t.Errorf("account %v: cursor field missing, want explicit null", acc["accountId"])
		}
		if cursor != nil {
			t.Errorf("account %v: cursor = %v, want null", acc["accountId"], cursor)
		}
	}

	if _, ok := out["plaid"]; ok {
		t.Error("top-level plaid block should move under providers")
	}
	var providers map[string]json.RawMessage
	if err := json.Unmarshal(out["providers"], &providers); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if _, ok := providers["plaid"]; !ok {
		t.Error("providers.plaid missing")
	}
	var sinks map[string]json.RawMessage
	if err := json.Unmarshal(out["sinks"], &sinks); err != nil {
		t.Fatalf("decode sinks: %v", err)
	}
	if _, ok := sinks["spreadsheet"]; !ok {
		t.Error("sinks.spreadsheet missing")
	}
	var target string
	if err := json.Unmarshal(out["target"], &target); err != nil || target != "spreadsheet" {
		t.Errorf("target = %q (err %v), want spreadsheet", target, err)
	}
}

func TestMigrate_V1KeyedAccountsKeepDocumentOrder(t *testing.T) {
	doc := parseDoc(t, `{
		"accounts": {
			"zeta-card": {"provider": "teller", "name": "Card", "enrollmentId": "enr_1"},
			"alpha-chk": {"provider": "plaid", "name": "Checking", "accessToken": "access-1"},
			"mid-csv": {"id": "manual-3", "provider": "csv", "paths": ["~/csv/*.csv"]}
		}
	}`)

	out, err := Default().Migrate(context.Background(), doc, 1, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	accounts := accountsOf(t, out)
	var ids []interface{}
	for _, acc := range accounts {
		ids = append(ids, acc["accountId"])
	}
	if diff := cmp.Diff([]interface{}{"zeta-card", "alpha-chk", "manual-3"}, ids); diff != "" {
		t.Errorf("account order (-want +got):\n%s", diff)
	}
	wantSettings := map[string]interface{}{"enrollmentId": "enr_1"}
	if diff := cmp.Diff(wantSettings, accounts[0]["settings"]); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}
	if got := accounts[1]["service"]; got != "plaid" {
		t.Errorf("service = %v", got)
	}
}

func TestMigrate_V1KeyedAccountsRejectsNonObjectEntry(t *testing.T) {
	doc := parseDoc(t, `{"accounts": {"chk": "not an account"}}`)
	_, err := Default().Migrate(context.Background(), doc, 1, nil)
	if !errors.Is(err, domain.ErrConfigCorrupt) {
		t.Errorf("err = %v, want ErrConfigCorrupt", err)
	}
}

func TestMigrate_V2LastFetched(t *testing.T) {
	doc := parseDoc(t, `{
		"schemaVersion": 2,
		"target": "csv",
		"accounts": [
			{"accountId": "a", "providerKind": "linked-bank", "service": "plaid", "settings": {}, "lastFetched": "2024-03-01"},
			{"accountId": "b", "providerKind": "linked-bank", "service": "teller", "settings": {}, "lastFetched": "2024-03-02"},
			{"accountId": "c", "providerKind": "manual-csv", "settings": {}, "lastFetched": "2024-03-03"},
			{"accountId": "d", "providerKind": "manual-csv", "settings": {}, "lastFetched": "yesterday"},
			{"accountId": "e", "providerKind": "manual-csv", "settings": {}}
		]
	}`)

	out, err := Default().Migrate(context.Background(), doc, 2, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	want := map[string]interface{}{
		"a": nil, // plaid cursors are opaque tokens; a date cannot seed one
		"b": "2024-03-02",
		"c": "2024-03-03",
		"d": nil,
		"e": nil,
	}
	for _, acc := range accountsOf(t, out) {
		id := acc["accountId"].(string)
		if _, ok := acc["lastFetched"]; ok {
			t.Errorf("account %s: lastFetched should be removed", id)
		}
		if got := acc["cursor"]; got != want[id] {
			t.Errorf("account %s: cursor = %v, want %v", id, got, want[id])
		}
	}
}

func TestMigrate_Checkpoints(t *testing.T) {
	var versions []int
	checkpoint := func(ctx context.Context, doc Document, version int) error {
		got, err := DetectVersion(doc)
		if err != nil {
			return err
		}
		if got != version {
			t.Errorf("checkpoint document at %d, reported %d", got, version)
		}
		versions = append(versions, version)
		return nil
	}

	_, err := Default().Migrate(context.Background(), parseDoc(t, v1Doc), 1, checkpoint)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if diff := cmp.Diff([]int{2, 3}, versions); diff != "" {
		t.Errorf("checkpoint versions mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrate_CheckpointFailureStops(t *testing.T) {
	boom := errors.New("disk full")
	calls := 0
	checkpoint := func(ctx context.Context, doc Document, version int) error {
		calls++
		return boom
	}

	_, err := Default().Migrate(context.Background(), parseDoc(t, v1Doc), 1, checkpoint)
	if !errors.Is(err, boom) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("checkpoint called %d times, want 1", calls)
	}
}

func TestMigrate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		migrator *Migrator
		from     int
		wantErr  error
	}{
		{
			name:     "newer than supported",
			migrator: Default(),
			from:     CurrentVersion + 1,
			wantErr:  domain.ErrConfigUnsupportedVersion,
		},
		{
			name:     "missing step",
			migrator: New(3, stepV1ToV2),
			from:     1,
			wantErr:  domain.ErrMigrationChainBroken,
		},
		{
			name:     "empty chain",
			migrator: New(2),
			from:     1,
			wantErr:  domain.ErrMigrationChainBroken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.migrator.Migrate(context.Background(), parseDoc(t, v1Doc), tt.from, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Migrate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrate_AlreadyCurrent(t *testing.T) {
	doc := parseDoc(t, `{"schemaVersion": 3, "accounts": []}`)
	out, err := Default().Migrate(context.Background(), doc, 3, func(context.Context, Document, int) error {
		t.Error("checkpoint should not run for a current document")
		return nil
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if diff := cmp.Diff(doc, out); diff != "" {
		t.Errorf("document changed (-want +got):\n%s", diff)
	}
}

// A crash between a step's checkpoint and the next one leaves a document
// whose fields are partly in the newer shape. Re-running must converge.
func TestMigrate_ReapplyIsSafe(t *testing.T) {
	ctx := context.Background()

	once, err := Default().Migrate(ctx, parseDoc(t, v1Doc), 1, nil)
	if err != nil {
		t.Fatalf("first Migrate: %v", err)
	}

	// Pretend the version write was lost.
	stale := clone(once)
	delete(stale, VersionKey)

	twice, err := Default().Migrate(ctx, stale, 1, nil)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if diff := cmp.Diff(accountsOf(t, once), accountsOf(t, twice)); diff != "" {
		t.Errorf("re-applied migration changed accounts (-first +second):\n%s", diff)
	}
}

func TestMigrate_DoesNotMutateInput(t *testing.T) {
	doc := parseDoc(t, v1Doc)
	before := string(doc["accounts"])

	if _, err := Default().Migrate(context.Background(), doc, 1, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if string(doc["accounts"]) != before {
		t.Error("input document was modified")
	}
	if _, ok := doc[VersionKey]; ok {
		t.Error("input document gained a schemaVersion")
	}
}

func TestMigrateV1ToV2_MissingID(t *testing.T) {
	doc := parseDoc(t, `{"accounts": [{"provider": "plaid"}]}`)
	_, err := Default().Migrate(context.Background(), doc, 1, nil)
	if !errors.Is(err, domain.ErrConfigCorrupt) {
		t.Errorf("expected ErrConfigCorrupt, got %v", err)
	}
}

func TestMigrateV1ToV2_CSVOnlyTarget(t *testing.T) {
	doc := parseDoc(t, `{"accounts": [], "csvExport": {"path": "/tmp/out.csv"}}`)
	out, err := Default().Migrate(context.Background(), doc, 1, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	var target string
	if err := json.Unmarshal(out["target"], &target); err != nil {
		t.Fatalf("decode target: %v", err)
	}
	if target != "csv" {
		t.Errorf("target = %q, want csv", target)
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr bool
	}{
		{name: "absent", doc: `{}`, want: 1},
		{name: "null", doc: `{"schemaVersion": null}`, want: 1},
		{name: "explicit", doc: `{"schemaVersion": 2}`, want: 2},
		{name: "future", doc: `{"schemaVersion": 9}`, want: 9},
		{name: "string", doc: `{"schemaVersion": "3"}`, wantErr: true},
		{name: "zero", doc: `{"schemaVersion": 0}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVersion(parseDoc(t, tt.doc))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrConfigCorrupt) {
					t.Errorf("expected ErrConfigCorrupt, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectVersion = %d, want %d", got, tt.want)
			}
		})
	}
}
