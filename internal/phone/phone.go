package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ValidationError reports a malformed phone number.
type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%q is not a valid phone number", e.Input)
}

// Normalize parses raw against the default region and returns the E.164
// form, so the same number always maps to the same ledger and account key.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Input: raw}
	}

	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", &ValidationError{Input: raw}
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", &ValidationError{Input: raw}
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
