// Package evaluator is the per-test evaluation boundary the scheduler calls.
// The in-process implementation drives the conclusion engine against the
// store; the HTTP implementation forwards to a remote verdict server.
package evaluator

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/headline-goat/verdict/internal/conclusion"
)

var validate = validator.New()

// Request asks for one test to be evaluated.
type Request struct {
	TestID          string               `json:"test_id" validate:"required"`
	ForceEvaluation bool                 `json:"force_evaluation"`
	StrategyHint    conclusion.Strategy  `json:"implementation_strategy_hint,omitempty"`
	CustomCriteria  *conclusion.Criteria `json:"custom_criteria,omitempty"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	return validate.Struct(r)
}

type Status string

const (
	StatusConcluded Status = "concluded"
	StatusNoAction  Status = "no_action"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Response reports what happened. Conclusion is set only when Status is
// concluded.
type Response struct {
	EvaluationCompleted bool                       `json:"evaluation_completed"`
	Status              Status                     `json:"status"`
	Conclusion          *conclusion.TestConclusion `json:"conclusion,omitempty"`
	Error               string                     `json:"error,omitempty"`
}

// Winner returns the selected variant, if any.
func (r *Response) Winner() *conclusion.WinnerSelection {
	if r == nil || r.Conclusion == nil {
		return nil
	}
	return r.Conclusion.Winner
}

// Evaluator evaluates a single test. A returned error means the boundary
// itself failed (storage, transport); an evaluation that ran but could not
// reach a decision is reported through Response.Status.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Response, error)
}
