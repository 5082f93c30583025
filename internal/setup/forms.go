package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// FormAsker asks through terminal forms.
type FormAsker struct {
	// Accessible switches to plain line prompts for screen readers and
	// dumb terminals.
	Accessible bool
}

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

// Ask implements Asker.
func (f FormAsker) Ask(ctx context.Context, answers any) error {
	var groups []*huh.Group

	switch a := answers.(type) {
	case *ResetAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewConfirm().
				Title("Replace the existing configuration?").
				Description("Every account, cursor and credential will be removed.").
				Value(&a.Confirm),
		))

	case *PlaidAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewNote().Title("Plaid").Description("Keys are listed at https://dashboard.plaid.com/developers/keys"),
			huh.NewInput().Title("Client ID").Value(&a.ClientID).Validate(required("client id")),
			huh.NewInput().Title("Secret").EchoMode(huh.EchoModePassword).Value(&a.Secret).Validate(required("secret")),
			huh.NewSelect[string]().
				Title("Environment").
				Options(huh.NewOptions("sandbox", "development", "production")...).
				Value(&a.Env),
		))

	case *TellerAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewNote().Title("Teller").Description("Leave both empty to use the sandbox without a certificate."),
			huh.NewInput().Title("Certificate file (PEM)").Value(&a.CertificateFile),
			huh.NewInput().Title("Private key file (PEM)").Value(&a.PrivateKeyFile),
		))

	case *GoogleAnswers:
		groups = append(groups,
			huh.NewGroup(
				huh.NewInput().Title("Spreadsheet ID").
					Description("The long id in the spreadsheet URL.").
					Value(&a.SpreadsheetID).Validate(required("spreadsheet id")),
				huh.NewInput().Title("Sheet name").Placeholder("Transactions").Value(&a.SheetName),
			),
			huh.NewGroup(
				huh.NewInput().Title("Service account or credentials file").
					Description("Leave empty to authorize with an OAuth client instead.").
					Value(&a.CredentialsFile),
				huh.NewInput().Title("OAuth client ID").Value(&a.ClientID),
				huh.NewInput().Title("OAuth client secret").EchoMode(huh.EchoModePassword).Value(&a.ClientSecret),
				huh.NewConfirm().Title("Sync to this spreadsheet by default?").Value(&a.MakeDefault),
			),
		)

	case *OAuthCodeAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewNote().Title("Authorize access").Description("Open this URL, approve access, then paste the code parameter of the page you land on:\n\n"+a.URL),
			huh.NewInput().Title("Authorization code").Value(&a.Code).Validate(required("code")),
		))

	case *CSVImportAnswers:
		groups = append(groups,
			huh.NewGroup(
				huh.NewInput().Title("Account ID").Value(&a.AccountID).Validate(required("account id")),
				huh.NewInput().Title("Display name").Value(&a.Name),
				huh.NewInput().Title("CSV paths").
					Description("Comma separated files or globs, local or gs://").
					Value(&a.Paths).Validate(required("paths")),
			),
			huh.NewGroup(
				huh.NewInput().Title("Date column").Value(&a.DateColumn),
				huh.NewInput().Title("Description column").Value(&a.DescriptionColumn),
				huh.NewInput().Title("Amount column").Value(&a.AmountColumn),
				huh.NewInput().Title("Date format").Placeholder("2006-01-02").Value(&a.DateFormat),
				huh.NewConfirm().Title("Are outflows positive in this export?").Value(&a.Negate),
			),
		)

	case *CSVExportAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewInput().Title("Export path").Description("Local file or gs://bucket/object").
				Value(&a.Path).Validate(required("path")),
			huh.NewConfirm().Title("Sync to this file by default?").Value(&a.MakeDefault),
		))

	case *BigQueryAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewInput().Title("Project ID").Value(&a.ProjectID).Validate(required("project id")),
			huh.NewInput().Title("Dataset").Value(&a.Dataset).Validate(required("dataset")),
			huh.NewInput().Title("Table").Value(&a.Table),
			huh.NewConfirm().Title("Sync to BigQuery by default?").Value(&a.MakeDefault),
		))

	case *NotionAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewInput().Title("Integration token").EchoMode(huh.EchoModePassword).
				Value(&a.Token).Validate(required("token")),
			huh.NewInput().Title("Database ID").Value(&a.DatabaseID).Validate(required("database id")),
			huh.NewConfirm().Title("Sync to Notion by default?").Value(&a.MakeDefault),
		))

	case *AccountAnswers:
		groups = append(groups, huh.NewGroup(
			huh.NewSelect[string]().Title("Service").
				Options(huh.NewOptions("plaid", "teller")...).
				Value(&a.Service),
			huh.NewInput().Title("Account ID").Description("Your own name for this account, unique in the config.").
				Value(&a.AccountID).Validate(required("account id")),
			huh.NewInput().Title("Display name").Value(&a.Name),
			huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).
				Value(&a.AccessToken).Validate(required("access token")),
			huh.NewInput().Title("Provider account IDs").
				Description("Plaid: optional comma separated filter. Teller: the account id.").
				Value(&a.ProviderAccountIDs),
			huh.NewConfirm().Title("Add another account?").Value(&a.More),
		))

	default:
		return fmt.Errorf("setup: no form for %T", answers)
	}

	return huh.NewForm(groups...).
		WithAccessible(f.Accessible).
		RunWithContext(ctx)
}
