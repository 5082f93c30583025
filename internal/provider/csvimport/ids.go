package csvimport

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// normalizeDescription canonicalizes free text so that the same statement
// line exported twice hashes the same.
func normalizeDescription(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// rowKey identifies the underlying event before occurrence counting.
func rowKey(day string, amount decimal.Decimal, description string) string {
	return day + "\x1f" + amount.String() + "\x1f" + strings.ToLower(description)
}

// transactionID derives a stable id from the account, the event key and
// the occurrence index of identical events within one file.
func transactionID(accountID, key string, occurrence int) string {
	h := sha256.New()
	h.Write([]byte(accountID))
	h.Write([]byte{0x1f})
	h.Write([]byte(key))
	h.Write([]byte{0x1f})
	h.Write([]byte(strconv.Itoa(occurrence)))
	return "csv_" + hex.EncodeToString(h.Sum(nil))[:32]
}
