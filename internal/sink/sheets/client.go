package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// ValuesService is the slice of the Sheets values API the sink uses.
type ValuesService interface {
	// Get returns the cell values of rng, row major.
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)

	// Append adds rows after the last row of the table in rng.
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
}

// APIValues implements ValuesService with the Sheets v4 client.
type APIValues struct {
	srv *sheetsapi.Service
}

// NewAPIValues builds a Sheets client from the stored credentials: a
// service account or authorized-user file, or an OAuth client with a saved
// token.
func NewAPIValues(ctx context.Context, s Settings) (*APIValues, error) {
	var opts []option.ClientOption
	switch {
	case s.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
	case s.Token != nil:
		conf := OAuthConfig(s.ClientID, s.ClientSecret, "")
		opts = append(opts, option.WithTokenSource(conf.TokenSource(ctx, s.Token)))
	default:
		// Application default credentials.
	}

	srv, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewAPIValues: %w", err)
	}
	return &APIValues{srv: srv}, nil
}

// OAuthConfig returns the installed-app OAuth configuration for the
// spreadsheet scope.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{sheetsapi.SpreadsheetsScope},
	}
}

// Get implements ValuesService.
func (a *APIValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := a.srv.Spreadsheets.Values.Get(spreadsheetID, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("get", err)
	}
	return resp.Values, nil
}

// Append implements ValuesService.
func (a *APIValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	_, err := a.srv.Spreadsheets.Values.Append(spreadsheetID, rng, &sheetsapi.ValueRange{
		MajorDimension: "ROWS",
		Values:         rows,
	}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classify("append", err)
	}
	return nil
}

// classify maps API failures onto the sink error kinds. A 409 or a failed
// precondition means someone else edited the sheet.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: sheets %s: %v", domain.ErrSinkWriteConflict, op, err)
		}
	}
	return fmt.Errorf("%w: sheets %s: %v", domain.ErrSinkUnavailable, op, err)
}
