package ports

import (
	"context"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// RunRepository persists generation run reports.
type RunRepository interface {
	Save(ctx context.Context, run *domain.RunReport) error
	GetByID(ctx context.Context, id string) (*domain.RunReport, error)
	List(ctx context.Context, limit, offset int) ([]domain.RunReport, error)
	Count(ctx context.Context) (int, error)
}

// TransmitterRepository persists transmitters provisioned by runs.
type TransmitterRepository interface {
	UpsertBatch(ctx context.Context, txs []domain.Transmitter) error
	ListByRun(ctx context.Context, runID string) ([]domain.Transmitter, error)
	List(ctx context.Context, limit, offset int) ([]domain.Transmitter, error)
}
