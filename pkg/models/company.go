package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is the active-company enumerator row used to fan out batch jobs.
// Company lifecycle itself is owned by the surrounding application.
type Company struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
