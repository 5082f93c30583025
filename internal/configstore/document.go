package configstore

import (
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/migration"
)

// Document is the persisted configuration at the current schema version.
type Document struct {
	SchemaVersion int                        `json:"schemaVersion" validate:"min=1"`
	Target        string                     `json:"target,omitempty"`
	Providers     map[string]json.RawMessage `json:"providers,omitempty"`
	Sinks         map[string]json.RawMessage `json:"sinks,omitempty"`
	Categorizer   *CategorizerConfig         `json:"categorizer,omitempty"`
	Accounts      []AccountConfig            `json:"accounts" validate:"unique=AccountID,dive"`

	// Top-level keys this build does not know, kept so a rewrite does not
	// lose them.
	extra map[string]json.RawMessage
}

// AccountConfig is one configured account. Settings are provider specific
// and are handed to the provider adapter untouched.
type AccountConfig struct {
	AccountID    string              `json:"accountId" validate:"required"`
	ProviderKind domain.ProviderKind `json:"providerKind" validate:"required,provider_kind"`
	Service      string              `json:"service,omitempty"`
	Name         string              `json:"name,omitempty"`
	Settings     json.RawMessage     `json:"settings,omitempty"`
	Cursor       *domain.Cursor      `json:"cursor"`
}

// CategorizerConfig enables the optional categorization stage.
type CategorizerConfig struct {
	Enabled    bool     `json:"enabled"`
	Model      string   `json:"model,omitempty"`
	Project    string   `json:"project,omitempty"`
	Location   string   `json:"location,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Fresh returns an empty document at the current schema version.
func Fresh() *Document {
	return &Document{
		SchemaVersion: migration.CurrentVersion,
		Accounts:      []AccountConfig{},
	}
}

// Account returns the account with the given id, or nil.
func (d *Document) Account(id string) *AccountConfig {
	for i := range d.Accounts {
		if d.Accounts[i].AccountID == id {
			return &d.Accounts[i]
		}
	}
	return nil
}

// ProviderSettings decodes the shared settings block for a provider service
// into v. A missing block leaves v untouched.
func (d *Document) ProviderSettings(service string, v interface{}) error {
	return decodeSection(d.Providers, service, v)
}

// SinkSettings decodes the settings block for a sink into v.
func (d *Document) SinkSettings(sink string, v interface{}) error {
	return decodeSection(d.Sinks, sink, v)
}

// SetProviderSettings replaces the settings block for a provider service.
func (d *Document) SetProviderSettings(service string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("SetProviderSettings: %w", err)
	}
	if d.Providers == nil {
		d.Providers = map[string]json.RawMessage{}
	}
	d.Providers[service] = raw
	return nil
}

// SetSinkSettings replaces the settings block for a sink.
func (d *Document) SetSinkSettings(sink string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("SetSinkSettings: %w", err)
	}
	if d.Sinks == nil {
		d.Sinks = map[string]json.RawMessage{}
	}
	d.Sinks[sink] = raw
	return nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		// Every field is plain JSON; this cannot fail for a decoded document.
		panic(fmt.Sprintf("configstore: clone: %v", err))
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("configstore: clone: %v", err))
	}
	return &out
}

func decodeSection(m map[string]json.RawMessage, key string, v interface{}) error {
	raw, ok := m[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: settings %q: %v", domain.ErrConfigCorrupt, key, err)
	}
	return nil
}

type documentAlias Document

var knownKeys = map[string]bool{
	"schemaVersion": true,
	"target":        true,
	"providers":     true,
	"sinks":         true,
	"categorizer":   true,
	"accounts":      true,
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var alias documentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range knownKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		alias.extra = all
	}
	if alias.Accounts == nil {
		alias.Accounts = []AccountConfig{}
	}
	*d = Document(alias)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(documentAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.extra) == 0 {
		return data, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range d.extra {
		if !knownKeys[k] {
			all[k] = v
		}
	}
	return json.Marshal(all)
}
