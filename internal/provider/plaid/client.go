package plaid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"

	"github.com/dvloznov/finance-sync/internal/domain"
)

var environments = map[string]plaidapi.Environment{
	"sandbox":     plaidapi.Sandbox,
	"development": plaidapi.Environment("https://development.plaid.com"),
	"production":  plaidapi.Production,
}

// errMutation signals that the item changed while pages were being read;
// the whole sync must restart from the original cursor.
var errMutation = errors.New("plaid: mutation during pagination")

// fullHistoryDays is requested on the first sync of an item.
const fullHistoryDays = 730

// Client wraps the Plaid SDK for /transactions/sync.
type Client struct {
	api *plaidapi.APIClient
}

// NewClient builds a client from provider settings. BaseURL, when set,
// overrides the environment.
func NewClient(s Settings, httpClient *http.Client) (*Client, error) {
	env := plaidapi.Environment(s.BaseURL)
	if s.BaseURL == "" {
		name := s.Env
		if name == "" {
			name = "sandbox"
		}
		var ok bool
		if env, ok = environments[name]; !ok {
			return nil, fmt.Errorf("NewClient: unknown plaid environment %q", name)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	cfg := plaidapi.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", s.ClientID)
	cfg.AddDefaultHeader("PLAID-SECRET", s.Secret)
	cfg.UseEnvironment(env)
	cfg.HTTPClient = httpClient

	return &Client{api: plaidapi.NewAPIClient(cfg)}, nil
}

// SyncPage fetches one page of /transactions/sync. An empty cursor asks for
// the full history.
func (c *Client) SyncPage(ctx context.Context, accessToken, cursor string, count int) (*plaidapi.TransactionsSyncResponse, error) {
	req := plaidapi.NewTransactionsSyncRequest(accessToken)
	req.SetCount(int32(count))
	if cursor != "" {
		req.SetCursor(cursor)
	} else {
		opts := plaidapi.NewTransactionsSyncRequestOptions()
		opts.SetDaysRequested(fullHistoryDays)
		req.SetOptions(*opts)
	}

	resp, httpResp, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*req).Execute()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(httpResp, err)
	}
	return &resp, nil
}

// classify maps an SDK failure to the error taxonomy using the decoded
// Plaid error when there is one.
func classify(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("%w: plaid: %v", domain.ErrProviderTransient, err)
	}
	status := httpResp.StatusCode
	if status < 300 {
		return fmt.Errorf("%w: plaid: malformed response: %v", domain.ErrProviderData, err)
	}

	var errType, code, detail string
	if perr, perrErr := plaidapi.ToPlaidError(err); perrErr == nil && perr.GetErrorCode() != "" {
		errType, code = string(perr.GetErrorType()), perr.GetErrorCode()
		detail = fmt.Sprintf("plaid %s/%s: %s", errType, code, perr.GetErrorMessage())
	} else {
		detail = fmt.Sprintf("plaid HTTP %d: %v", status, err)
	}

	switch {
	case code == "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION":
		return fmt.Errorf("%w: %s", errMutation, detail)
	case status == http.StatusTooManyRequests,
		errType == "RATE_LIMIT_EXCEEDED",
		code == "RATE_LIMIT_EXCEEDED":
		return fmt.Errorf("%w: %s", domain.ErrProviderRateLimited, detail)
	case code == "ITEM_LOGIN_REQUIRED",
		code == "INVALID_ACCESS_TOKEN",
		code == "ACCESS_NOT_GRANTED",
		code == "PENDING_EXPIRATION",
		status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrProviderAuthExpired, detail)
	case status >= 500,
		errType == "API_ERROR",
		errType == "INSTITUTION_ERROR":
		return fmt.Errorf("%w: %s", domain.ErrProviderTransient, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderData, detail)
	}
}
