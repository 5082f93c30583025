package domain

// Cursor is an opaque marker of fetch progress for one account. Only the
// provider that issued it knows how two cursors compare; callers must never
// assume it holds a date.
type Cursor string

// CursorPtr returns a pointer to c, or nil when c is empty.
func CursorPtr(c Cursor) *Cursor {
	if c == "" {
		return nil
	}
	return &c
}

// CursorValue dereferences c, treating nil as the empty cursor.
func CursorValue(c *Cursor) Cursor {
	if c == nil {
		return ""
	}
	return *c
}

// ProviderKind identifies the family of provider an account is fed by.
type ProviderKind string

const (
	// ProviderLinkedBank is a bank-linking service (Plaid, Teller).
	ProviderLinkedBank ProviderKind = "linked-bank"
	// ProviderManualCSV is a manually exported CSV feed.
	ProviderManualCSV ProviderKind = "manual-csv"
)

// Valid reports whether k is a provider kind this build recognizes.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderLinkedBank, ProviderManualCSV:
		return true
	}
	return false
}
