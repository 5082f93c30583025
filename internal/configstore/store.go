// Package configstore loads and persists the versioned configuration
// document. Loading migrates stale documents forward before anything else
// reads them; every write is atomic and guarded by the version observed at
// read time.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dvloznov/finance-sync/internal/blob"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/migration"
)

// EnvConfig overrides the document location.
const EnvConfig = "FINSYNC_CONFIG"

// ErrUnknownAccount is returned when an operation names an account that is
// not configured.
var ErrUnknownAccount = errors.New("configstore: unknown account")

// Store is the single reader/writer of the configuration document.
type Store struct {
	mu       sync.Mutex
	blob     blob.Store
	migrator *migration.Migrator
	validate *validator.Validate
}

// DefaultLocation resolves the document location: $FINSYNC_CONFIG (after
// loading an optional .env file), else ~/.finsync/config.json.
func DefaultLocation() (string, error) {
	_ = godotenv.Load()

	if loc := os.Getenv(EnvConfig); loc != "" {
		return loc, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("DefaultLocation: %w", err)
	}
	return filepath.Join(home, ".finsync", "config.json"), nil
}

// Open returns a Store for location (a file path or gs:// URI).
func Open(ctx context.Context, location string) (*Store, error) {
	b, err := blob.New(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return New(b, migration.Default()), nil
}

// New wraps an existing blob store.
func New(b blob.Store, m *migration.Migrator) *Store {
	v := validator.New()
	_ = v.RegisterValidation("provider_kind", func(fl validator.FieldLevel) bool {
		return domain.ProviderKind(fl.Field().String()).Valid()
	})
	return &Store{
		blob:     b,
		migrator: m,
		validate: v,
	}
}

// Location returns where the document lives.
func (s *Store) Location() string {
	return s.blob.Location()
}

// Close releases the underlying storage client.
func (s *Store) Close() error {
	return s.blob.Close()
}

// Load reads, migrates (persisting the result) and validates the document.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load(ctx)
	return doc, err
}

// Update applies transform to the current document, or to a fresh one when
// allowReset is set, and persists the result atomically. If the stored
// document changed since it was read the write is refused.
func (s *Store) Update(ctx context.Context, transform func(*Document) error, allowReset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		doc     *Document
		version blob.Version
		err     error
	)
	if allowReset {
		doc = Fresh()
		version, err = s.blob.Stat(ctx)
		if err != nil {
			return fmt.Errorf("Update: %w", err)
		}
	} else {
		doc, version, err = s.load(ctx)
		if err != nil {
			return err
		}
	}

	if err := transform(doc); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	doc.SchemaVersion = s.migrator.Current()

	if err := s.check(doc); err != nil {
		return fmt.Errorf("Update: invalid document: %w", err)
	}

	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := s.blob.Replace(ctx, data, version); err != nil {
		return fmt.Errorf("Update: write %s: %w", s.Location(), err)
	}
	return nil
}

// CommitCursor records cursor as the fetch progress of accountID.
func (s *Store) CommitCursor(ctx context.Context, accountID string, cursor *domain.Cursor) error {
	err := s.Update(ctx, func(doc *Document) error {
		acct := doc.Account(accountID)
		if acct == nil {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		acct.Cursor = cursor
		return nil
	}, false)
	if err != nil {
		return fmt.Errorf("%w: account %s: %v", domain.ErrCursorCommit, accountID, err)
	}
	return nil
}

// AddAccount appends acct, or replaces the account with the same id in
// place. A replaced account keeps its cursor unless its provider changed.
func (s *Store) AddAccount(ctx context.Context, acct AccountConfig) error {
	return s.Update(ctx, func(doc *Document) error {
		if existing := doc.Account(acct.AccountID); existing != nil {
			if acct.Cursor == nil && existing.ProviderKind == acct.ProviderKind && existing.Service == acct.Service {
				acct.Cursor = existing.Cursor
			}
			*existing = acct
			return nil
		}
		doc.Accounts = append(doc.Accounts, acct)
		return nil
	}, false)
}

// Reset replaces the stored document with a fresh one.
func (s *Store) Reset(ctx context.Context) error {
	return s.Update(ctx, func(*Document) error { return nil }, true)
}

func (s *Store) load(ctx context.Context) (*Document, blob.Version, error) {
	log := logger.FromContext(ctx)

	data, version, err := blob.ReadAll(ctx, s.blob)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, blob.Missing, fmt.Errorf("%w: %s (run setup first)", domain.ErrConfigMissing, s.Location())
	}
	if err != nil {
		return nil, blob.Missing, fmt.Errorf("load: %w", err)
	}

	var raw migration.Document
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, blob.Missing, fmt.Errorf("%w: %s: %v", domain.ErrConfigCorrupt, s.Location(), err)
	}

	from, err := migration.DetectVersion(raw)
	if err != nil {
		return nil, blob.Missing, err
	}

	if from != s.migrator.Current() {
		checkpoint := func(ctx context.Context, doc migration.Document, v int) error {
			out, err := encodeRaw(doc)
			if err != nil {
				return err
			}
			if err := s.blob.Replace(ctx, out, version); err != nil {
				return err
			}
			version, err = s.blob.Stat(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Int("schema_version", v).
				Str("location", s.Location()).
				Msg("Persisted migrated configuration")
			return nil
		}

		raw, err = s.migrator.Migrate(ctx, raw, from, checkpoint)
		if err != nil {
			return nil, blob.Missing, err
		}

		if data, err = encodeRaw(raw); err != nil {
			return nil, blob.Missing, err
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, blob.Missing, fmt.Errorf("%w: %s: %v", domain.ErrConfigCorrupt, s.Location(), err)
	}
	if err := s.check(&doc); err != nil {
		return nil, blob.Missing, fmt.Errorf("%w: %s: %v", domain.ErrConfigCorrupt, s.Location(), err)
	}

	return &doc, version, nil
}

func (s *Store) check(doc *Document) error {
	return s.validate.Struct(doc)
}

func encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func encodeRaw(doc migration.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
