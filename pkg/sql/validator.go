// Package sql vets the SQL text the engine executes on behalf of
// configuration: KPI aggregation statements and restricted metrics filter
// conditions.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the aggregation text chains more than
	// one SQL statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult carries the normalized statement text or the reason it
// was rejected.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize rejects statement text that chains multiple
// statements and strips a trailing semicolon. A definition's aggregation SQL
// runs verbatim against the audit trail, so a smuggled second statement must
// never get past this point.
//
// Order matters: the trailing semicolon is stripped first, so any semicolon
// still present afterwards (outside string literals) marks a second
// statement.
func ValidateAndNormalize(sqlText string) ValidationResult {
	sqlText = strings.TrimSpace(sqlText)

	if sqlText == "" {
		return ValidationResult{NormalizedSQL: sqlText}
	}

	normalized := stripTrailingSemicolon(sqlText)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// hasSemicolonOutsideStrings reports whether the statement contains a
// semicolon outside of string literals. Semicolons inside quoted values
// ('it''s; fine') are data, not statement separators.
func hasSemicolonOutsideStrings(sqlText string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlText {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Both backslash escapes (\') and SQL doubled quotes ('') keep
			// us logically inside the literal: a doubled quote exits here
			// and immediately re-enters on the next rune.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes one trailing semicolon plus surrounding
// whitespace, so stored statements compose cleanly into larger queries.
func stripTrailingSemicolon(sqlText string) string {
	sqlText = strings.TrimRight(sqlText, " \t\n\r")

	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSuffix(sqlText, ";")
		sqlText = strings.TrimRight(sqlText, " \t\n\r")
	}

	return sqlText
}
