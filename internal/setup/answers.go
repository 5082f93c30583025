package setup

// Answers collected by the setup flows. An Asker fills one of these,
// pre-populated with the stored values.

// ResetAnswers confirms replacing the configuration.
type ResetAnswers struct {
	Confirm bool
}

// PlaidAnswers are the Plaid API credentials.
type PlaidAnswers struct {
	ClientID string
	Secret   string
	Env      string
}

// TellerAnswers locate the Teller client certificate.
type TellerAnswers struct {
	CertificateFile string
	PrivateKeyFile  string
}

// GoogleAnswers configure the spreadsheet sink. Either CredentialsFile or
// the OAuth client pair is needed.
type GoogleAnswers struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	ClientID        string
	ClientSecret    string
	MakeDefault     bool
}

// OAuthCodeAnswers carries the consent URL shown to the user and the code
// they paste back.
type OAuthCodeAnswers struct {
	URL  string
	Code string
}

// CSVImportAnswers describe a manual CSV account.
type CSVImportAnswers struct {
	AccountID         string
	Name              string
	Paths             string // comma separated paths or globs
	DateColumn        string
	DescriptionColumn string
	AmountColumn      string
	DateFormat        string
	Negate            bool
}

// CSVExportAnswers configure the CSV-export sink.
type CSVExportAnswers struct {
	Path        string
	MakeDefault bool
}

// BigQueryAnswers configure the warehouse sink.
type BigQueryAnswers struct {
	ProjectID   string
	Dataset     string
	Table       string
	MakeDefault bool
}

// NotionAnswers configure the Notion sink.
type NotionAnswers struct {
	Token       string
	DatabaseID  string
	MakeDefault bool
}

// AccountAnswers describe one linked-bank account.
type AccountAnswers struct {
	Service            string // plaid or teller
	AccountID          string
	Name               string
	AccessToken        string
	ProviderAccountIDs string // comma separated; a single id for teller
	More               bool
}
