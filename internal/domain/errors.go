package domain

import "errors"

// Error kinds surfaced by the sync engine. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrConfigMissing is returned when no configuration document exists yet.
	ErrConfigMissing = errors.New("configuration missing")

	// ErrConfigCorrupt is returned when the document cannot be parsed or validated.
	ErrConfigCorrupt = errors.New("configuration corrupt")

	// ErrConfigUnsupportedVersion is returned when the document is newer than this build.
	ErrConfigUnsupportedVersion = errors.New("configuration schema version unsupported")

	// ErrMigrationChainBroken is returned when no step bridges two adjacent versions.
	ErrMigrationChainBroken = errors.New("migration chain broken")

	// ErrProviderAuthExpired is returned when provider credentials are stale.
	ErrProviderAuthExpired = errors.New("provider credentials expired")

	// ErrProviderRateLimited is returned when the provider asks us to back off.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrProviderTransient covers network failures and 5xx responses.
	ErrProviderTransient = errors.New("provider transient error")

	// ErrProviderData is returned for malformed provider responses or rows.
	ErrProviderData = errors.New("provider data error")

	// ErrSinkUnavailable covers sink auth, quota and IO failures.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrSinkWriteConflict is returned when the sink changed underneath a merge.
	ErrSinkWriteConflict = errors.New("sink write conflict")

	// ErrCursorCommit is returned when a fetched cursor could not be persisted.
	ErrCursorCommit = errors.New("cursor commit failed")
)

var kindNames = []struct {
	err  error
	name string
}{
	{ErrConfigMissing, "ConfigMissing"},
	{ErrConfigCorrupt, "ConfigCorrupt"},
	{ErrConfigUnsupportedVersion, "ConfigUnsupportedVersion"},
	{ErrMigrationChainBroken, "MigrationChainBroken"},
	{ErrProviderAuthExpired, "ProviderAuthExpired"},
	{ErrProviderRateLimited, "ProviderRateLimited"},
	{ErrProviderTransient, "ProviderTransientError"},
	{ErrProviderData, "ProviderDataError"},
	{ErrSinkUnavailable, "SinkUnavailable"},
	{ErrSinkWriteConflict, "SinkWriteConflict"},
	{ErrCursorCommit, "CursorCommitFailed"},
}

// KindOf returns the taxonomy name of err, or "Unknown" when err does not
// wrap one of the sentinel kinds. A nil error has no kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// IsFatalConfig reports whether err must abort the whole invocation.
func IsFatalConfig(err error) bool {
	return errors.Is(err, ErrConfigMissing) ||
		errors.Is(err, ErrConfigCorrupt) ||
		errors.Is(err, ErrConfigUnsupportedVersion) ||
		errors.Is(err, ErrMigrationChainBroken)
}

// IsRunFatal reports whether err stops the remaining accounts of a run.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrSinkUnavailable) || errors.Is(err, ErrSinkWriteConflict)
}
