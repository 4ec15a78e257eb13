package model

import (
	"time"

	"github.com/google/uuid"
)

// Project is an API-key scoped tenant.
type Project struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	APIKey    string     `json:"apiKey"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// IsExpired reports whether the project has an expiry that lies before now.
func (p *Project) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}
