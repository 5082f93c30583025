// Package setup holds the interactive flows that write provider, sink and
// account settings into the configuration document.
package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider/csvimport"
	"github.com/dvloznov/finance-sync/internal/provider/plaid"
	"github.com/dvloznov/finance-sync/internal/provider/teller"
	"github.com/dvloznov/finance-sync/internal/sink/csvexport"
	"github.com/dvloznov/finance-sync/internal/sink/notion"
	"github.com/dvloznov/finance-sync/internal/sink/sheets"
	"github.com/dvloznov/finance-sync/internal/sink/warehouse"
)

// Setup targets.
const (
	TargetDefault  = "default"
	TargetReset    = "reset"
	TargetPlaid    = "plaid"
	TargetTeller   = "teller"
	TargetGoogle   = "google"
	TargetFromCSV  = "from-csv"
	TargetToCSV    = "to-csv"
	TargetBigQuery = "bigquery"
	TargetNotion   = "notion"
	TargetAccounts = "accounts"
)

// DefaultTargets run for a bare `setup` or the default target.
var DefaultTargets = []string{TargetReset, TargetPlaid, TargetGoogle, TargetAccounts}

// Targets lists every target in help order.
var Targets = []string{
	TargetDefault, TargetReset, TargetPlaid, TargetTeller, TargetGoogle,
	TargetFromCSV, TargetToCSV, TargetBigQuery, TargetNotion, TargetAccounts,
}

// oauthRedirect is where Google sends the consent code; the user copies
// the code parameter from the address bar.
const oauthRedirect = "http://localhost"

// Asker fills answers (a pointer to one of the *Answers types).
type Asker interface {
	Ask(ctx context.Context, answers any) error
}

// Store is the configuration access setup needs.
type Store interface {
	Load(ctx context.Context) (*configstore.Document, error)
	Update(ctx context.Context, transform func(*configstore.Document) error, allowReset bool) error
	Reset(ctx context.Context) error
	AddAccount(ctx context.Context, acct configstore.AccountConfig) error
}

// Runner runs setup targets against a store.
type Runner struct {
	store Store
	asker Asker
	out   io.Writer

	exchange func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error)
}

// NewRunner returns a Runner printing progress to out.
func NewRunner(store Store, asker Asker, out io.Writer) *Runner {
	return &Runner{
		store: store,
		asker: asker,
		out:   out,
		exchange: func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
			return conf.Exchange(ctx, code)
		},
	}
}

// Expand resolves `default`, rejects unknown names and drops repeats while
// keeping order. No targets means the default set.
func Expand(targets []string) ([]string, error) {
	if len(targets) == 0 {
		targets = []string{TargetDefault}
	}
	known := make(map[string]bool, len(Targets))
	for _, t := range Targets {
		known[t] = true
	}

	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if !known[t] {
			return nil, fmt.Errorf("unknown setup target %q (choose from %s)", t, strings.Join(Targets, ", "))
		}
		if t == TargetDefault {
			for _, d := range DefaultTargets {
				add(d)
			}
			continue
		}
		add(t)
	}
	return out, nil
}

// Run executes targets in order, stopping at the first error.
func (r *Runner) Run(ctx context.Context, targets []string) error {
	expanded, err := Expand(targets)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	for _, t := range expanded {
		log.Debug().Str("target", t).Msg("Running setup target")
		if err := r.runTarget(ctx, t); err != nil {
			return fmt.Errorf("setup %s: %w", t, err)
		}
	}
	return nil
}

func (r *Runner) runTarget(ctx context.Context, target string) error {
	if target == TargetReset {
		return r.reset(ctx)
	}

	doc, err := r.current(ctx)
	if err != nil {
		return err
	}

	switch target {
	case TargetPlaid:
		return r.plaid(ctx, doc)
	case TargetTeller:
		return r.teller(ctx, doc)
	case TargetGoogle:
		return r.google(ctx, doc)
	case TargetFromCSV:
		return r.fromCSV(ctx)
	case TargetToCSV:
		return r.toCSV(ctx, doc)
	case TargetBigQuery:
		return r.bigQuery(ctx, doc)
	case TargetNotion:
		return r.notion(ctx, doc)
	case TargetAccounts:
		return r.accounts(ctx)
	}
	return fmt.Errorf("unhandled target %q", target)
}

// current loads the document, creating a fresh one if none exists yet.
func (r *Runner) current(ctx context.Context) (*configstore.Document, error) {
	doc, err := r.store.Load(ctx)
	if errors.Is(err, domain.ErrConfigMissing) {
		if err := r.store.Reset(ctx); err != nil {
			return nil, err
		}
		return r.store.Load(ctx)
	}
	return doc, err
}

func (r *Runner) reset(ctx context.Context) error {
	_, err := r.store.Load(ctx)
	if errors.Is(err, domain.ErrConfigMissing) {
		if err := r.store.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Created a new configuration.")
		return nil
	}

	ans := &ResetAnswers{}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if !ans.Confirm {
		fmt.Fprintln(r.out, "Keeping the existing configuration.")
		return nil
	}
	if err := r.store.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Configuration reset.")
	return nil
}

func (r *Runner) plaid(ctx context.Context, doc *configstore.Document) error {
	var cur plaid.Settings
	if err := doc.ProviderSettings(plaid.Service, &cur); err != nil {
		return err
	}
	ans := &PlaidAnswers{ClientID: cur.ClientID, Secret: cur.Secret, Env: cur.Env}
	if ans.Env == "" {
		ans.Env = "sandbox"
	}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}

	cur.ClientID, cur.Secret, cur.Env = strings.TrimSpace(ans.ClientID), strings.TrimSpace(ans.Secret), ans.Env
	if cur.ClientID == "" || cur.Secret == "" {
		return fmt.Errorf("client id and secret are required")
	}
	return r.update(ctx, "Saved Plaid credentials.", func(d *configstore.Document) error {
		return d.SetProviderSettings(plaid.Service, cur)
	})
}

func (r *Runner) teller(ctx context.Context, doc *configstore.Document) error {
	var cur teller.Settings
	if err := doc.ProviderSettings(teller.Service, &cur); err != nil {
		return err
	}
	ans := &TellerAnswers{CertificateFile: cur.CertificateFile, PrivateKeyFile: cur.PrivateKeyFile}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}

	cur.CertificateFile, cur.PrivateKeyFile = ans.CertificateFile, ans.PrivateKeyFile
	if (cur.CertificateFile == "") != (cur.PrivateKeyFile == "") {
		return fmt.Errorf("certificate and private key must be given together")
	}
	return r.update(ctx, "Saved Teller certificate.", func(d *configstore.Document) error {
		return d.SetProviderSettings(teller.Service, cur)
	})
}

func (r *Runner) google(ctx context.Context, doc *configstore.Document) error {
	var cur sheets.Settings
	if err := doc.SinkSettings(sheets.Target, &cur); err != nil {
		return err
	}
	ans := &GoogleAnswers{
		SpreadsheetID:   cur.SpreadsheetID,
		SheetName:       cur.SheetName,
		CredentialsFile: cur.CredentialsFile,
		ClientID:        cur.ClientID,
		ClientSecret:    cur.ClientSecret,
		MakeDefault:     doc.Target == "" || doc.Target == sheets.Target,
	}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if ans.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet id is required")
	}

	next := sheets.Settings{
		SpreadsheetID:   ans.SpreadsheetID,
		SheetName:       ans.SheetName,
		CredentialsFile: ans.CredentialsFile,
		ClientID:        ans.ClientID,
		ClientSecret:    ans.ClientSecret,
	}
	if next.CredentialsFile == "" && next.ClientID != "" {
		if cur.Token != nil && cur.ClientID == next.ClientID {
			next.Token = cur.Token
		} else {
			tok, err := r.authorize(ctx, next)
			if err != nil {
				return err
			}
			next.Token = tok
		}
	}

	return r.update(ctx, "Saved spreadsheet settings.", func(d *configstore.Document) error {
		if ans.MakeDefault {
			d.Target = sheets.Target
		}
		return d.SetSinkSettings(sheets.Target, next)
	})
}

// authorize runs the installed-app OAuth consent for the spreadsheet scope.
func (r *Runner) authorize(ctx context.Context, s sheets.Settings) (*oauth2.Token, error) {
	conf := sheets.OAuthConfig(s.ClientID, s.ClientSecret, oauthRedirect)
	ans := &OAuthCodeAnswers{URL: conf.AuthCodeURL("finsync", oauth2.AccessTypeOffline, oauth2.ApprovalForce)}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return nil, err
	}
	code := strings.TrimSpace(ans.Code)
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	tok, err := r.exchange(ctx, conf, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

func (r *Runner) fromCSV(ctx context.Context) error {
	ans := &CSVImportAnswers{DateColumn: "date", DescriptionColumn: "description", AmountColumn: "amount"}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if ans.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	paths := splitList(ans.Paths)
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	settings := csvimport.AccountSettings{
		Paths: paths,
		Columns: csvimport.Columns{
			Date:        ans.DateColumn,
			Description: ans.DescriptionColumn,
			Amount:      ans.AmountColumn,
		},
		Negate: ans.Negate,
	}
	if ans.DateFormat != "" {
		settings.DateFormats = []string{ans.DateFormat}
	}
	acct, err := account(ans.AccountID, ans.Name, domain.ProviderManualCSV, "", settings)
	if err != nil {
		return err
	}
	if err := r.store.AddAccount(ctx, acct); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Added CSV account %s.\n", acct.AccountID)
	return nil
}

func (r *Runner) toCSV(ctx context.Context, doc *configstore.Document) error {
	var cur csvexport.Settings
	if err := doc.SinkSettings(csvexport.Target, &cur); err != nil {
		return err
	}
	ans := &CSVExportAnswers{Path: cur.Path, MakeDefault: doc.Target == csvexport.Target}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if ans.Path == "" {
		return fmt.Errorf("path is required")
	}
	return r.update(ctx, "Saved CSV export settings.", func(d *configstore.Document) error {
		if ans.MakeDefault {
			d.Target = csvexport.Target
		}
		return d.SetSinkSettings(csvexport.Target, csvexport.Settings{Path: ans.Path})
	})
}

func (r *Runner) bigQuery(ctx context.Context, doc *configstore.Document) error {
	var cur warehouse.Settings
	if err := doc.SinkSettings(warehouse.Target, &cur); err != nil {
		return err
	}
	ans := &BigQueryAnswers{ProjectID: cur.ProjectID, Dataset: cur.Dataset, Table: cur.Table, MakeDefault: doc.Target == warehouse.Target}
	if ans.Table == "" {
		ans.Table = "transactions"
	}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if ans.ProjectID == "" || ans.Dataset == "" {
		return fmt.Errorf("project and dataset are required")
	}
	return r.update(ctx, "Saved BigQuery settings.", func(d *configstore.Document) error {
		if ans.MakeDefault {
			d.Target = warehouse.Target
		}
		return d.SetSinkSettings(warehouse.Target, warehouse.Settings{ProjectID: ans.ProjectID, Dataset: ans.Dataset, Table: ans.Table})
	})
}

func (r *Runner) notion(ctx context.Context, doc *configstore.Document) error {
	var cur notion.Settings
	if err := doc.SinkSettings(notion.Target, &cur); err != nil {
		return err
	}
	ans := &NotionAnswers{Token: cur.Token, DatabaseID: cur.DatabaseID, MakeDefault: doc.Target == notion.Target}
	if err := r.asker.Ask(ctx, ans); err != nil {
		return err
	}
	if ans.Token == "" || ans.DatabaseID == "" {
		return fmt.Errorf("token and database id are required")
	}
	return r.update(ctx, "Saved Notion settings.", func(d *configstore.Document) error {
		if ans.MakeDefault {
			d.Target = notion.Target
		}
		return d.SetSinkSettings(notion.Target, notion.Settings{Token: ans.Token, DatabaseID: ans.DatabaseID})
	})
}

func (r *Runner) accounts(ctx context.Context) error {
	for {
		ans := &AccountAnswers{Service: plaid.Service}
		if err := r.asker.Ask(ctx, ans); err != nil {
			return err
		}
		if ans.AccountID == "" || ans.AccessToken == "" {
			return fmt.Errorf("account id and access token are required")
		}

		var settings any
		switch ans.Service {
		case plaid.Service:
			settings = plaid.AccountSettings{AccessToken: ans.AccessToken, PlaidAccountIDs: splitList(ans.ProviderAccountIDs)}
		case teller.Service:
			ids := splitList(ans.ProviderAccountIDs)
			if len(ids) != 1 {
				return fmt.Errorf("teller accounts need exactly one teller account id")
			}
			settings = teller.AccountSettings{AccessToken: ans.AccessToken, TellerAccountID: ids[0]}
		default:
			return fmt.Errorf("unknown service %q", ans.Service)
		}

		acct, err := account(ans.AccountID, ans.Name, domain.ProviderLinkedBank, ans.Service, settings)
		if err != nil {
			return err
		}
		if err := r.store.AddAccount(ctx, acct); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Added %s account %s.\n", ans.Service, acct.AccountID)

		if !ans.More {
			return nil
		}
	}
}

func (r *Runner) update(ctx context.Context, done string, transform func(*configstore.Document) error) error {
	if err := r.store.Update(ctx, transform, false); err != nil {
		return err
	}
	fmt.Fprintln(r.out, done)
	return nil
}

func account(id, name string, kind domain.ProviderKind, service string, settings any) (configstore.AccountConfig, error) {
	raw, err := marshalSettings(settings)
	if err != nil {
		return configstore.AccountConfig{}, err
	}
	return configstore.AccountConfig{
		AccountID:    strings.TrimSpace(id),
		ProviderKind: kind,
		Service:      service,
		Name:         name,
		Settings:     raw,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func marshalSettings(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding account settings: %w", err)
	}
	return raw, nil
}
