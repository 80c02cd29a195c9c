package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAggregationStatement(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{
			name: "valid count",
			sql:  "SELECT COUNT(*)::float8, COUNT(*) FROM audit_records WHERE occurred_at >= $1 AND occurred_at < $2 AND company_id = $3",
		},
		{
			name: "valid CTE",
			sql:  "WITH changes AS (SELECT * FROM audit_records WHERE company_id = $3) SELECT COUNT(*)::float8 FROM changes",
		},
		{
			name: "trailing semicolon is stripped",
			sql:  "SELECT COUNT(*) FROM audit_records WHERE company_id = $3;",
		},
		{
			name:    "empty",
			sql:     "   ",
			wantErr: true,
		},
		{
			name:    "not a select",
			sql:     "DELETE FROM audit_records WHERE company_id = $3",
			wantErr: true,
		},
		{
			name:    "multiple statements",
			sql:     "SELECT 1; DROP TABLE audit_records",
			wantErr: true,
		},
		{
			name:    "unbound parameter",
			sql:     "SELECT COUNT(*) FROM audit_records WHERE company_id = $4",
			wantErr: true,
		},
		{
			name: "semicolon inside a string literal is fine",
			sql:  "SELECT COUNT(*) FROM audit_records WHERE endpoint = 'a;b' AND company_id = $3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, err := ValidateAggregationStatement(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, normalized)
			assert.NotContains(t, normalized[len(normalized)-1:], ";")
		})
	}
}
