package store

import (
	"context"
	"time"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, exp *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	ListEligible(ctx context.Context, minAge time.Duration, now time.Time) ([]*Experiment, error)
	UpdateStatus(ctx context.Context, id string, status ExperimentStatus) error
	SetWinner(ctx context.Context, id, variantID string) error
	DeleteExperiment(ctx context.Context, id string) error

	// Variant operations
	UpsertVariant(ctx context.Context, v *Variant) error
	GetVariants(ctx context.Context, experimentID string) ([]*Variant, error)

	// Conclusion operations
	SaveConclusion(ctx context.Context, c *Conclusion) error
	LatestConclusion(ctx context.Context, experimentID string) (*Conclusion, error)
	ListConclusions(ctx context.Context, experimentID string) ([]*Conclusion, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
