package repositories

import (
	"context"
	"fmt"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// CompanyRepository enumerates companies for batch fan-out. Company CRUD is
// owned by the surrounding application.
type CompanyRepository interface {
	ListActive(ctx context.Context) ([]*models.Company, error)
}

type companyRepository struct {
	db *database.DB
}

// NewCompanyRepository creates a new CompanyRepository.
func NewCompanyRepository(db *database.DB) CompanyRepository {
	return &companyRepository{db: db}
}

var _ CompanyRepository = (*companyRepository)(nil)

func (r *companyRepository) ListActive(ctx context.Context) ([]*models.Company, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM companies
		WHERE is_active
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active companies: %w", err)
	}
	defer rows.Close()

	var companies []*models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}

	return companies, nil
}
