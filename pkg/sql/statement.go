package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// positionalParamRegex matches $N positional parameters in SQL text.
var positionalParamRegex = regexp.MustCompile(`\$(\d+)`)

// AggregationParamCount is the fixed arity of KPI aggregation statements:
// $1 period start, $2 period end, $3 company id.
const AggregationParamCount = 3

// ValidateAggregationStatement vets KPI aggregation SQL before it is stored.
//
// The statement must be a single SELECT and may only reference the three
// positional parameters $1..$3. Values are always bound at execution time;
// nothing from the definition is ever interpolated into the text.
func ValidateAggregationStatement(sqlText string) (string, error) {
	result := ValidateAndNormalize(sqlText)
	if result.Error != nil {
		return "", result.Error
	}

	normalized := result.NormalizedSQL
	if normalized == "" {
		return "", fmt.Errorf("aggregation statement is empty")
	}

	upper := strings.ToUpper(strings.TrimSpace(normalized))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("aggregation statement must be a SELECT, got %q", firstWord(normalized))
	}

	for _, match := range positionalParamRegex.FindAllStringSubmatch(normalized, -1) {
		if n := match[1]; n != "1" && n != "2" && n != "3" {
			return "", fmt.Errorf("aggregation statement references $%s; only $1..$%d are bound", n, AggregationParamCount)
		}
	}

	return normalized, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
