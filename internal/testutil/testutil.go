// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/headline-goat/verdict/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := tmpDir + "/test.db"

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// VariantCounts is a compact variant fixture: the first entry passed to
// SeedExperiment is the control.
type VariantCounts struct {
	ID          string
	Impressions int
	Conversions int
	Revenue     float64
}

// SeedExperiment inserts a running, auto-declaring experiment that started
// at start, with traffic split evenly across variants.
func SeedExperiment(t *testing.T, s store.Store, id string, start time.Time, variants ...VariantCounts) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	exp := &store.Experiment{
		ID:                id,
		Name:              "Experiment " + id,
		Status:            store.StatusRunning,
		AutoDeclareWinner: true,
		StartDate:         &start,
	}
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("failed to create experiment %s: %v", id, err)
	}

	share := 100.0 / float64(len(variants))
	for i, vc := range variants {
		err := s.UpsertVariant(ctx, &store.Variant{
			ExperimentID:      id,
			ID:                vc.ID,
			Name:              "Variant " + vc.ID,
			IsControl:         i == 0,
			TrafficAllocation: share,
			Impressions:       vc.Impressions,
			Clicks:            vc.Impressions / 2,
			Conversions:       vc.Conversions,
			Revenue:           vc.Revenue,
			StartDate:         &start,
		})
		if err != nil {
			t.Fatalf("failed to upsert variant %s/%s: %v", id, vc.ID, err)
		}
	}
	return exp
}

// ClearWinner is a two-arm fixture where "b" beats control decisively.
func ClearWinner() []VariantCounts {
	return []VariantCounts{
		{ID: "a", Impressions: 10000, Conversions: 500, Revenue: 5000},
		{ID: "b", Impressions: 10000, Conversions: 700, Revenue: 7000},
	}
}

// NoDifference is a two-arm fixture with identical rates.
func NoDifference() []VariantCounts {
	return []VariantCounts{
		{ID: "a", Impressions: 5000, Conversions: 250},
		{ID: "b", Impressions: 5000, Conversions: 250},
	}
}
