package significance

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoControl        = errors.New("no control variant")
	ErrMultipleControls = errors.New("more than one control variant")
	ErrNoVariants       = errors.New("no variants")
	ErrInvalidMetrics   = errors.New("invalid variant metrics")
)

// ConfigurationError reports input that makes analysis impossible.
// It is fatal to the call that produced it and is returned to the caller.
type ConfigurationError struct {
	TestID string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.TestID == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error for test %s: %v", e.TestID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(testID string, err error) error {
	return &ConfigurationError{TestID: testID, Err: err}
}
