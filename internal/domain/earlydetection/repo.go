package earlydetection

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists assessments. Every read and delete is scoped to the
// owning user.
type Repository interface {
	Create(ctx context.Context, rec *AssessmentRecord) error
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*AssessmentRecord, error)
	// Complete moves a pending record to completed with its computed fields.
	Complete(ctx context.Context, rec *AssessmentRecord) error
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	List(ctx context.Context, userID string, q ListQuery) ([]*AssessmentRecord, int, error)
}
