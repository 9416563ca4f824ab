// Package canonical renders field maps as stable bytes for fingerprinting.
//
// Two encodings of the same logical fields must be byte-identical across
// process restarts so hashes computed over them stay comparable. Keys are
// sorted, string values are NFC-normalized, absent values encode as null,
// and decimals always carry two fraction digits.
package canonical

import (
	"encoding/json/v2"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Encode marshals fields with deterministic key order. A nil value
// encodes as null.
func Encode(fields map[string]*string) ([]byte, error) {
	return json.Marshal(fields, json.Deterministic(true))
}

// String renders s for hashing. Unicode is normalized to NFC so visually
// identical text from different fetches hashes the same; whitespace is
// preserved as scraped.
func String(s string) *string {
	n := norm.NFC.String(s)
	return &n
}

// Decimal renders d with exactly two fraction digits ("19.99", "20.00").
func Decimal(d decimal.Decimal) *string {
	s := d.StringFixed(2)
	return &s
}

// Int renders i in base 10.
func Int(i int) *string {
	s := strconv.Itoa(i)
	return &s
}

// IntPtr renders i in base 10, or null when absent.
func IntPtr(i *int) *string {
	if i == nil {
		return nil
	}
	return Int(*i)
}
