package migration

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// v1 accounts: {"id", "provider": plaid|teller|csv, "name", ...provider fields},
// as an array or as an object keyed by id.
// v2 accounts: {"accountId", "providerKind", "service", "name", "settings", "lastFetched"?}
// v3 accounts: v2 with "lastFetched" replaced by "cursor" (null when unknown).

var stepV1ToV2 = Step{
	From:  1,
	Name:  "split-provider-kind",
	Apply: migrateV1ToV2,
}

var stepV2ToV3 = Step{
	From:  2,
	Name:  "introduce-cursor",
	Apply: migrateV2ToV3,
}

// Services whose progress marker is an ISO day and can seed a cursor.
var dateCursorServices = map[string]bool{
	"teller": true,
	"":       true, // manual CSV
}

func migrateV1ToV2(doc Document) (Document, error) {
	accounts, err := decodeAccounts(doc, "id")
	if err != nil {
		return nil, err
	}

	for i, acc := range accounts {
		if _, done := acc["accountId"]; done {
			continue
		}

		id := stringField(acc, "id")
		if id == "" {
			return nil, fmt.Errorf("%w: account %d has no id", domain.ErrConfigCorrupt, i)
		}

		provider := stringField(acc, "provider")
		if provider == "" {
			provider = "plaid"
		}

		var kind domain.ProviderKind
		service := ""
		switch provider {
		case "plaid", "teller":
			kind = domain.ProviderLinkedBank
			service = provider
		case "csv":
			kind = domain.ProviderManualCSV
		default:
			// Left for validation to reject.
			kind = domain.ProviderKind(provider)
		}

		settings := make(map[string]json.RawMessage)
		for k, v := range acc {
			switch k {
			case "id", "provider", "name":
				continue
			}
			settings[k] = v
		}

		next := map[string]json.RawMessage{}
		if err := setJSON(next, "accountId", id); err != nil {
			return nil, err
		}
		if err := setJSON(next, "providerKind", kind); err != nil {
			return nil, err
		}
		if service != "" {
			if err := setJSON(next, "service", service); err != nil {
				return nil, err
			}
		}
		if name, ok := acc["name"]; ok {
			next["name"] = name
		}
		if err := setJSON(next, "settings", settings); err != nil {
			return nil, err
		}
		accounts[i] = next
	}
	if err := setJSON(doc, "accounts", accounts); err != nil {
		return nil, err
	}

	providers := objectField(doc, "providers")
	for _, p := range []string{"plaid", "teller"} {
		if raw, ok := doc[p]; ok {
			if _, exists := providers[p]; !exists {
				providers[p] = raw
			}
			delete(doc, p)
		}
	}
	if len(providers) > 0 {
		if err := setJSON(doc, "providers", providers); err != nil {
			return nil, err
		}
	}

	sinks := objectField(doc, "sinks")
	for legacy, name := range map[string]string{"sheet": "spreadsheet", "csvExport": "csv"} {
		if raw, ok := doc[legacy]; ok {
			if _, exists := sinks[name]; !exists {
				sinks[name] = raw
			}
			delete(doc, legacy)
		}
	}
	if len(sinks) > 0 {
		if err := setJSON(doc, "sinks", sinks); err != nil {
			return nil, err
		}
	}

	if _, ok := doc["target"]; !ok {
		target := "spreadsheet"
		if _, hasSheet := sinks["spreadsheet"]; !hasSheet {
			if _, hasCSV := sinks["csv"]; hasCSV {
				target = "csv"
			}
		}
		if err := setJSON(doc, "target", target); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func migrateV2ToV3(doc Document) (Document, error) {
	accounts, err := decodeAccounts(doc, "accountId")
	if err != nil {
		return nil, err
	}

	for _, acc := range accounts {
		last := stringField(acc, "lastFetched")
		delete(acc, "lastFetched")

		if _, done := acc["cursor"]; done {
			continue
		}

		acc["cursor"] = json.RawMessage("null")
		if last == "" || !dateCursorServices[stringField(acc, "service")] {
			continue
		}
		if _, err := domain.ParseDay(last); err != nil {
			// Unparseable markers restart from full history.
			continue
		}
		if err := setJSON(acc, "cursor", last); err != nil {
			return nil, err
		}
	}

	if err := setJSON(doc, "accounts", accounts); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeAccounts returns the account list. The keyed object form is read
// in document order, and an entry without idKey takes its key as the id.
func decodeAccounts(doc Document, idKey string) ([]map[string]json.RawMessage, error) {
	raw, ok := doc["accounts"]
	if !ok || isNull(raw) {
		return []map[string]json.RawMessage{}, nil
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		accounts, err := decodeKeyedAccounts(trimmed, idKey)
		if err != nil {
			return nil, fmt.Errorf("%w: accounts: %v", domain.ErrConfigCorrupt, err)
		}
		return accounts, nil
	}
	var accounts []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("%w: accounts: %v", domain.ErrConfigCorrupt, err)
	}
	return accounts, nil
}

func decodeKeyedAccounts(raw []byte, idKey string) ([]map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	accounts := []map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var acc map[string]json.RawMessage
		if err := dec.Decode(&acc); err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		if acc == nil {
			return nil, fmt.Errorf("%s: account is null", key)
		}
		if stringField(acc, idKey) == "" {
			if err := setJSON(acc, idKey, key); err != nil {
				return nil, err
			}
		}
		accounts = append(accounts, acc)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func objectField(doc Document, key string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if raw, ok := doc[key]; ok && !isNull(raw) {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}
