// Package canonicalization converts loosely typed report fields into canonical column values.
//
// Report rows carry money as formatted strings ("$1,250.00"), dates in more than one layout,
// and booleans as either JSON booleans or "Yes"/"No". The helpers here accept the raw
// decoded value (string, json.Number, float64, bool or nil) so mappers never type-switch.
//
// Key functions:
//   - ParseAmount: strips currency symbols and separators into a decimal
//   - ParseDate: tolerant date parsing, nil when unparseable
//   - ParseBool: native or Yes/No booleans
//   - PayloadFingerprint: content hash of a raw payload
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for field parsing.
var (
	// ErrInvalidAmount is returned when a non-empty value is not a money amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInteger is returned when a non-empty value is not a whole number.
	ErrInvalidInteger = errors.New("invalid integer")
)

// dateLayouts are tried in order. Report exports use US dates; API filters and some
// reports use ISO dates.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"Jan 2, 2006",
}

// ParseAmount parses a money value. Currency symbols, thousands separators and surrounding
// whitespace are stripped; "(12.50)" is read as -12.50. Empty values yield an invalid
// NullDecimal with no error. Anything else that does not parse is an error.
//
// Examples:
//   - ParseAmount("$1,250.00") → 1250.00
//   - ParseAmount("(45.10)")   → -45.10
//   - ParseAmount("")          → NULL
//   - ParseAmount("n/a")       → ErrInvalidAmount
func ParseAmount(v any) (decimal.NullDecimal, error) {
	var raw string

	switch val := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case json.Number:
		raw = val.String()
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(val)), nil
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(val))), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(val)), nil
	case string:
		raw = val
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}

	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.NullDecimal{}, nil
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}

	cleaned = strings.NewReplacer("$", "", ",", "", " ", "").Replace(cleaned)
	if cleaned == "" {
		return decimal.NullDecimal{}, nil
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	if negative {
		amount = amount.Neg()
	}

	return decimal.NewNullDecimal(amount), nil
}

// ParseDate parses a date in any known layout and returns nil when the value is empty or
// unparseable. A bad date drops the field, never the record.
func ParseDate(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()

			return &t
		}
	}

	return nil
}

// ParseBool accepts JSON booleans and the strings Yes/No/True/False/Y/N/1/0 in any case.
// Anything else yields nil.
func ParseBool(v any) *bool {
	var b bool

	switch val := v.(type) {
	case bool:
		b = val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "y", "true", "1":
			b = true
		case "no", "n", "false", "0":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}

	return &b
}

// ParseInt parses a whole number, tolerating thousands separators. Empty values yield nil.
func ParseInt(v any) (*int, error) {
	var raw string

	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		raw = val.String()
	case float64:
		i := int(val)
		if float64(i) != val {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInteger, val)
		}

		return &i, nil
	case int:
		return &val, nil
	case string:
		raw = val
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidInteger, v)
	}

	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return nil, nil
	}

	i, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInteger, raw)
	}

	return &i, nil
}

// PayloadFingerprint returns the SHA256 of a raw payload as lowercase hex. Identical
// payloads fetched in different runs share a fingerprint.
func PayloadFingerprint(payload []byte) string {
	hash := sha256.Sum256(payload)

	return hex.EncodeToString(hash[:])
}
