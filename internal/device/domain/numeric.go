package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NumericString is a JSON value the API sends as a numeric string, a bare number or null.
type NumericString struct {
	Raw   string
	Valid bool
}

// NewNumericString returns a valid NumericString holding s.
func NewNumericString(s string) NumericString {
	return NumericString{Raw: s, Valid: true}
}

// UnmarshalJSON accepts "12.5", 12.5 and null.
func (n *NumericString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = NumericString{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumericString{Raw: s, Valid: true}
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = NumericString{Raw: num.String(), Valid: true}
	return nil
}

// MarshalJSON writes the raw string, or null when absent.
func (n NumericString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Raw)
}

// Float parses the value strictly. Trailing garbage, NaN and infinities are rejected.
func (n NumericString) Float() (float64, bool) {
	if !n.Valid {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n.Raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
