package store

import (
	"time"

	"github.com/headline-goat/verdict/internal/significance"
)

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusStopped   ExperimentStatus = "stopped"
	StatusCompleted ExperimentStatus = "completed"
)

// Valid reports whether s is a known status.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusStopped, StatusCompleted:
		return true
	}
	return false
}

type Experiment struct {
	ID                string
	Name              string
	Status            ExperimentStatus
	AutoDeclareWinner bool
	TestType          string // "ab" or "multivariate"
	StartDate         *time.Time
	WinnerVariant     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Variant struct {
	ExperimentID      string
	ID                string
	Name              string
	IsControl         bool
	TrafficAllocation float64 // percent
	Impressions       int
	Clicks            int
	Conversions       int
	Revenue           float64
	BounceRate        *float64
	TimeOnPage        *float64
	EngagementRate    *float64
	StartDate         *time.Time
}

// Analysis converts the stored row into the shape the significance engine
// consumes.
func (v Variant) Analysis() significance.Variant {
	out := significance.Variant{
		ID:                v.ID,
		Name:              v.Name,
		IsControl:         v.IsControl,
		TrafficAllocation: v.TrafficAllocation,
		Metrics: significance.Metrics{
			Impressions:    v.Impressions,
			Clicks:         v.Clicks,
			Conversions:    v.Conversions,
			Revenue:        v.Revenue,
			BounceRate:     v.BounceRate,
			TimeOnPage:     v.TimeOnPage,
			EngagementRate: v.EngagementRate,
		},
	}
	if v.StartDate != nil {
		out.StartDate = *v.StartDate
	}
	return out
}

// AnalysisVariants converts a slice of stored variants.
func AnalysisVariants(vs []*Variant) []significance.Variant {
	out := make([]significance.Variant, len(vs))
	for i, v := range vs {
		out[i] = v.Analysis()
	}
	return out
}

// Conclusion is a persisted decision. Payload holds the full JSON-encoded
// conclusion.
type Conclusion struct {
	ID            string
	ExperimentID  string
	Action        string
	Status        string
	WinnerVariant string
	Payload       []byte
	CreatedAt     time.Time
}
