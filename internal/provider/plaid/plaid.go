// Package plaid is the linked-bank adapter for Plaid items, built on the
// official SDK. Progress is the opaque /transactions/sync cursor.
package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
)

// Service is the account service name served by this adapter.
const Service = "plaid"

const (
	pageSize        = 500
	maxSyncRestarts = 3
)

// Settings is the shared providers.plaid block.
type Settings struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
	Env      string `json:"env,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// AccountSettings is the per-account settings block.
type AccountSettings struct {
	AccessToken string `json:"accessToken"`
	// PlaidAccountIDs restricts the import to some accounts of the item.
	PlaidAccountIDs []string `json:"plaidAccountIds,omitempty"`
}

// Adapter implements provider.Adapter for Plaid.
type Adapter struct {
	client *Client
	retry  provider.RetryPolicy
}

// New creates an adapter. A nil httpClient uses a default client.
func New(s Settings, httpClient *http.Client) (*Adapter, error) {
	c, err := NewClient(s, httpClient)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, retry: provider.DefaultRetry}, nil
}

// WithRetry overrides the transient retry policy.
func (a *Adapter) WithRetry(p provider.RetryPolicy) *Adapter {
	a.retry = p
	return a
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return Service }

// CompareCursors implements provider.Adapter. Sync cursors are issued in
// increasing order and carry no comparable content, so any token different
// from b is taken to come after it.
func (a *Adapter) CompareCursors(x, y domain.Cursor) int {
	if x == y {
		return 0
	}
	return 1
}

// Fetch implements provider.Adapter.
func (a *Adapter) Fetch(ctx context.Context, acct configstore.AccountConfig, since *domain.Cursor) (*provider.Result, error) {
	log := logger.FromContext(ctx).With().
		Str("account_id", acct.AccountID).
		Str("provider", Service).
		Logger()

	var settings AccountSettings
	if len(acct.Settings) > 0 {
		if err := json.Unmarshal(acct.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%w: plaid settings: %v", domain.ErrProviderData, err)
		}
	}
	if settings.AccessToken == "" {
		return nil, fmt.Errorf("%w: account %s has no access token", domain.ErrProviderAuthExpired, acct.AccountID)
	}

	start := string(domain.CursorValue(since))

	for restart := 0; ; restart++ {
		result, err := a.syncAll(ctx, acct, settings, start)
		if errors.Is(err, errMutation) && restart < maxSyncRestarts {
			log.Warn().Int("restart", restart+1).Msg("Plaid item changed during pagination, restarting sync")
			continue
		}
		if errors.Is(err, errMutation) {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderTransient, err)
		}
		if err != nil {
			return nil, err
		}

		log.Info().
			Int("transactions", len(result.Transactions)).
			Bool("cursor_advanced", domain.CursorValue(result.NewCursor) != domain.Cursor(start)).
			Msg("Plaid sync complete")
		return result, nil
	}
}

// syncAll pages from cursor until has_more is false.
func (a *Adapter) syncAll(ctx context.Context, acct configstore.AccountConfig, settings AccountSettings, cursor string) (*provider.Result, error) {
	log := logger.FromContext(ctx)

	wanted := make(map[string]bool, len(settings.PlaidAccountIDs))
	for _, id := range settings.PlaidAccountIDs {
		wanted[id] = true
	}

	result := &provider.Result{}
	seen := make(map[string]bool)
	next := cursor
	pending, removedCount := 0, 0

	for {
		var page *plaidapi.TransactionsSyncResponse
		err := a.retry.Do(ctx, "plaid.transactions_sync", func(ctx context.Context) error {
			var err error
			page, err = a.client.SyncPage(ctx, settings.AccessToken, next, pageSize)
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, list := range [][]plaidapi.Transaction{page.GetAdded(), page.GetModified()} {
			for _, t := range list {
				if len(wanted) > 0 && !wanted[t.GetAccountId()] {
					continue
				}
				if t.GetPending() {
					pending++
					continue
				}
				if seen[t.GetTransactionId()] {
					continue
				}
				txn, err := convert(acct.AccountID, t)
				if err != nil {
					return nil, err
				}
				seen[t.GetTransactionId()] = true
				result.Transactions = append(result.Transactions, txn)
			}
		}
		removedCount += len(page.GetRemoved())

		if c := page.GetNextCursor(); c != "" {
			next = c
		}
		if !page.GetHasMore() {
			break
		}
	}

	if pending > 0 || removedCount > 0 {
		// Sinks never rewrite history, so removals are reported only.
		log.Info().
			Str("account_id", acct.AccountID).
			Int("pending_skipped", pending).
			Int("removed_ignored", removedCount).
			Msg("Plaid sync returned pending or removed transactions")
	}

	if next != "" {
		result.NewCursor = domain.CursorPtr(domain.Cursor(next))
	}
	return result, nil
}

func convert(accountID string, t plaidapi.Transaction) (domain.Transaction, error) {
	id := t.GetTransactionId()
	if id == "" {
		return domain.Transaction{}, fmt.Errorf("%w: plaid transaction without id", domain.ErrProviderData)
	}
	date, err := domain.ParseDay(t.GetDate())
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: plaid transaction %s: date %q", domain.ErrProviderData, id, t.GetDate())
	}
	// The SDK decodes amounts as float64; the shortest decimal form is the
	// value Plaid sent.
	amount := decimal.NewFromFloat(t.GetAmount())

	description := t.GetMerchantName()
	if description == "" {
		description = t.GetName()
	}
	pfc := t.GetPersonalFinanceCategory()

	return domain.Transaction{
		ID:        id,
		AccountID: accountID,
		Date:      date,
		// Plaid reports outflows as positive amounts.
		Amount:      amount.Neg(),
		Currency:    t.GetIsoCurrencyCode(),
		Description: description,
		Category:    humanize(pfc.GetPrimary()),
	}, nil
}

// humanize turns FOOD_AND_DRINK into "Food and drink".
func humanize(code string) string {
	if code == "" {
		return ""
	}
	s := strings.ToLower(strings.ReplaceAll(code, "_", " "))
	return strings.ToUpper(s[:1]) + s[1:]
}
