package port

import (
	"context"

	"github.com/google/uuid"

	"tablenorm/internal/domain"
)

// RunRepository defines the contract for pipeline run history persistence.
type RunRepository interface {
	Create(ctx context.Context, summary *domain.Summary) error
	GetByID(ctx context.Context, runID uuid.UUID) (*domain.Summary, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Summary, error)
}
