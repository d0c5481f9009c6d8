package repository

import (
	"context"
	"time"

	"mixbridge/internal/domain"
)

// Repository persists the routing project
type Repository interface {
	// LoadProject returns the saved project, or nil if none was saved yet
	LoadProject(ctx context.Context) (*domain.Project, error)
	// SaveProject replaces the saved project in one transaction
	SaveProject(ctx context.Context, p *domain.Project) error
	// SavedAt returns when the project was last saved
	SavedAt(ctx context.Context) (time.Time, bool, error)

	// Close releases resources
	Close() error
}
