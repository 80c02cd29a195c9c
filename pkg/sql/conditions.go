package sql

import (
	"fmt"
	"strings"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// conditionColumns is the allow-list of audit trail columns that free-form
// filter conditions may reference. Anything else is rejected.
var conditionColumns = map[string]string{
	"entity_type":  "entity_type",
	"entity_id":    "entity_id",
	"operation":    "operation",
	"change_kind":  "change_kind",
	"app_source":   "app_source",
	"user_id":      "user_id",
	"session_id":   "session_id",
	"impact_score": "impact_score",
	"endpoint":     "endpoint",
}

var conditionOps = map[models.ConditionOp]string{
	models.OpEq:  "=",
	models.OpNeq: "!=",
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// CompileConditions turns restricted filter conditions into a parameterized
// WHERE fragment. Placeholders start at startIndex; the returned args line up
// with them. Field names come from the allow-list and operators from a fixed
// set, so no caller-supplied text ever lands in the SQL.
func CompileConditions(conditions []models.FilterCondition, startIndex int) (string, []any, error) {
	if len(conditions) == 0 {
		return "", nil, nil
	}

	var (
		fragments []string
		args      []any
	)
	idx := startIndex

	for _, cond := range conditions {
		column, ok := conditionColumns[cond.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: field %q is not filterable", apperrors.ErrInvalidCondition, cond.Field)
		}

		if cond.Op == models.OpIn {
			if len(cond.Values) == 0 {
				return "", nil, fmt.Errorf("%w: 'in' condition on %q has no values", apperrors.ErrInvalidCondition, cond.Field)
			}
			placeholders := make([]string, 0, len(cond.Values))
			for _, v := range cond.Values {
				if res := CheckConditionValue(cond.Field, v); res != nil {
					return "", nil, fmt.Errorf("%w: value for %q matched injection fingerprint %s",
						apperrors.ErrInvalidCondition, res.Field, res.Fingerprint)
				}
				placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
				args = append(args, v)
				idx++
			}
			fragments = append(fragments, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
			continue
		}

		op, ok := conditionOps[cond.Op]
		if !ok {
			return "", nil, fmt.Errorf("%w: operator %q is not supported", apperrors.ErrInvalidCondition, cond.Op)
		}
		if res := CheckConditionValue(cond.Field, cond.Value); res != nil {
			return "", nil, fmt.Errorf("%w: value for %q matched injection fingerprint %s",
				apperrors.ErrInvalidCondition, res.Field, res.Fingerprint)
		}

		fragments = append(fragments, fmt.Sprintf("%s %s $%d", column, op, idx))
		args = append(args, cond.Value)
		idx++
	}

	return strings.Join(fragments, " AND "), args, nil
}
