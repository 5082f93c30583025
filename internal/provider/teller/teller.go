// Package teller is the linked-bank adapter for Teller enrollments. Teller
// lists transactions newest first; progress is the newest posted day seen,
// held back to the oldest pending day so pending items are listed again
// once they post.
package teller

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
)

// Service is the account service name served by this adapter.
const Service = "teller"

const (
	defaultBaseURL = "https://api.teller.io"
	pageSize       = 250
	maxPages       = 400
)

// Settings is the shared providers.teller block.
type Settings struct {
	CertificateFile string `json:"certificateFile,omitempty"`
	PrivateKeyFile  string `json:"privateKeyFile,omitempty"`
	BaseURL         string `json:"baseUrl,omitempty"`
}

// AccountSettings is the per-account settings block.
type AccountSettings struct {
	AccessToken     string `json:"accessToken"`
	TellerAccountID string `json:"tellerAccountId"`
}

type transaction struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Details     struct {
		Category     string `json:"category"`
		Counterparty struct {
			Name string `json:"name"`
		} `json:"counterparty"`
	} `json:"details"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter implements provider.Adapter for Teller.
type Adapter struct {
	provider.DateCursors

	baseURL string
	http    *http.Client
	retry   provider.RetryPolicy
}

// New creates an adapter. When httpClient is nil a client presenting the
// configured client certificate is built.
func New(s Settings, httpClient *http.Client) (*Adapter, error) {
	if httpClient == nil {
		transport := &http.Transport{}
		if s.CertificateFile != "" {
			cert, err := tls.LoadX509KeyPair(s.CertificateFile, s.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("New: load teller certificate: %w", err)
			}
			transport.TLSClientConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}
		httpClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}
	}

	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{baseURL: base, http: httpClient, retry: provider.DefaultRetry}, nil
}

// WithRetry overrides the transient retry policy.
func (a *Adapter) WithRetry(p provider.RetryPolicy) *Adapter {
	a.retry = p
	return a
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return Service }

// Fetch implements provider.Adapter. Transactions dated on the cursor day
// are fetched again; downstream dedup drops the ones already merged.
func (a *Adapter) Fetch(ctx context.Context, acct configstore.AccountConfig, since *domain.Cursor) (*provider.Result, error) {
	log := logger.FromContext(ctx).With().
		Str("account_id", acct.AccountID).
		Str("provider", Service).
		Logger()

	var settings AccountSettings
	if len(acct.Settings) > 0 {
		if err := json.Unmarshal(acct.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%w: teller settings: %v", domain.ErrProviderData, err)
		}
	}
	if settings.AccessToken == "" {
		return nil, fmt.Errorf("%w: account %s has no access token", domain.ErrProviderAuthExpired, acct.AccountID)
	}
	if settings.TellerAccountID == "" {
		return nil, fmt.Errorf("%w: account %s has no tellerAccountId", domain.ErrProviderData, acct.AccountID)
	}

	floor := string(domain.CursorValue(since))
	result := &provider.Result{NewCursor: since}
	fromID := ""
	pending := 0
	oldestPending := ""

pages:
	for n := 0; n < maxPages; n++ {
		var page []transaction
		err := a.retry.Do(ctx, "teller.list_transactions", func(ctx context.Context) error {
			var err error
			page, err = a.list(ctx, settings, fromID)
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, t := range page {
			if floor != "" && t.Date < floor {
				break pages
			}
			if t.Status == "pending" {
				pending++
				if _, err := domain.ParseDay(t.Date); err == nil && (oldestPending == "" || t.Date < oldestPending) {
					oldestPending = t.Date
				}
				continue
			}
			txn, err := convert(acct.AccountID, t)
			if err != nil {
				return nil, err
			}
			result.Transactions = append(result.Transactions, txn)
			result.NewCursor = a.Advance(result.NewCursor, txn.Day())
		}

		if len(page) < pageSize {
			break
		}
		fromID = page[len(page)-1].ID
	}

	if oldestPending != "" && result.NewCursor != nil && string(*result.NewCursor) > oldestPending {
		result.NewCursor = domain.CursorPtr(domain.Cursor(oldestPending))
	}

	log.Info().
		Int("transactions", len(result.Transactions)).
		Int("pending_skipped", pending).
		Str("cursor", string(domain.CursorValue(result.NewCursor))).
		Msg("Teller fetch complete")

	return result, nil
}

func (a *Adapter) list(ctx context.Context, s AccountSettings, fromID string) ([]transaction, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(pageSize))
	if fromID != "" {
		q.Set("from_id", fromID)
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?%s", a.baseURL, url.PathEscape(s.TellerAccountID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("teller: build request: %w", err)
	}
	req.SetBasicAuth(s.AccessToken, "")

	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: teller: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: teller: read body: %v", domain.ErrProviderTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, data)
	}

	var page []transaction
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("%w: teller: malformed response: %v", domain.ErrProviderData, err)
	}
	return page, nil
}

func classify(status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("teller %d %s: %s", status, apiErr.Error.Code, apiErr.Error.Message)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrProviderRateLimited, detail)
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		apiErr.Error.Code == "enrollment.disconnected",
		apiErr.Error.Code == "enrollment.disconnected.user_action.mfa_required":
		return fmt.Errorf("%w: %s", domain.ErrProviderAuthExpired, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderTransient, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderData, detail)
	}
}

func convert(accountID string, t transaction) (domain.Transaction, error) {
	if t.ID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: teller transaction without id", domain.ErrProviderData)
	}
	date, err := domain.ParseDay(t.Date)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: teller transaction %s: date %q", domain.ErrProviderData, t.ID, t.Date)
	}
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: teller transaction %s: amount %q", domain.ErrProviderData, t.ID, t.Amount)
	}

	description := t.Details.Counterparty.Name
	if description == "" {
		description = t.Description
	}

	return domain.Transaction{
		ID:          t.ID,
		AccountID:   accountID,
		Date:        date,
		Amount:      amount,
		Description: description,
		Category:    t.Details.Category,
	}, nil
}
