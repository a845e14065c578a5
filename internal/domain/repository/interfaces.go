package repository

import (
	"context"

	"PriceSim/internal/domain/models"
)

// ObservationSink receives observations in emission order. Emit must not block.
type ObservationSink interface {
	Emit(o models.Observation)
}

// Exporter persists a finished (or interrupted) run.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rec *models.RunRecord) error
}

// StatusCache keeps the latest host-visible status per run.
type StatusCache interface {
	PutStatus(ctx context.Context, st models.RunStatus) error
	GetStatus(ctx context.Context, runID string) (models.RunStatus, error)
}

type Metrics interface {
	RecordObservation(interval string, price float64)
	RecordError(kind string)
	RecordRunState(state string)
	RecordStepLateness(seconds float64)
	RecordLatency(op string, seconds float64)
}
