package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidPeriodType = errors.New("invalid period type")
	ErrInvalidStatement  = errors.New("invalid aggregation statement")
	ErrInvalidCondition  = errors.New("invalid filter condition")
	ErrCompanyRequired   = errors.New("company id is required")
)
