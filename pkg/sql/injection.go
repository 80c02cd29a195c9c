package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a
// filter-condition value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string // Condition field whose value failed the check
	Value       any    // The value that was checked
}

// CheckConditionValue uses libinjection to detect SQL injection patterns in a
// free-form filter condition value.
//
// Condition values are always bound as parameters, so an injection attempt
// cannot execute; the check exists to reject and report hostile input early
// instead of silently matching nothing.
//
// Only string values are checked - numbers, booleans, and other types cannot
// contain SQL injection patterns and return nil (no injection detected).
func CheckConditionValue(field string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Field:       field,
			Value:       value,
		}
	}

	return nil
}
