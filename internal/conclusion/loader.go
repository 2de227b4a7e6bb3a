package conclusion

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/verdict/internal/significance"
)

var ruleValidate = validator.New()

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules" validate:"dive"`
}

type ruleSpec struct {
	ID         string          `yaml:"id" validate:"required"`
	Name       string          `yaml:"name" validate:"required"`
	Type       string          `yaml:"type" validate:"required,oneof=significance sample_size duration performance business"`
	Priority   int             `yaml:"priority" validate:"min=0"`
	Conditions []conditionSpec `yaml:"conditions" validate:"required,min=1,dive"`
	Action     string          `yaml:"action" validate:"required,oneof=continue extend pause stop conclude"`
	Active     *bool           `yaml:"active"`
}

type conditionSpec struct {
	Metric    string  `yaml:"metric" validate:"required"`
	Operator  string  `yaml:"operator" validate:"required,oneof=gt gte lt lte eq between"`
	Threshold float64 `yaml:"threshold"`
	Range     *Range  `yaml:"range" validate:"required_if=Operator between"`
}

// LoadRules reads custom rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read rules file %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set of the form
//
//	rules:
//	  - id: big-lift
//	    name: Big lift
//	    type: performance
//	    priority: 0
//	    action: conclude
//	    conditions:
//	      - {metric: improvement, operator: gte, threshold: 30}
//
// Rules are active unless they say otherwise. A malformed rule set is
// reported as a *significance.ConfigurationError.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &significance.ConfigurationError{Err: errors.Wrap(err, "decode rules")}
	}
	if err := ruleValidate.Struct(file); err != nil {
		return nil, &significance.ConfigurationError{Err: errors.Wrap(err, "validate rules")}
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, rf := range file.Rules {
		rule := Rule{
			ID:       rf.ID,
			Name:     rf.Name,
			Type:     RuleType(rf.Type),
			Priority: rf.Priority,
			Action:   Action(rf.Action),
			Active:   rf.Active == nil || *rf.Active,
		}
		for _, cs := range rf.Conditions {
			metric, err := ParseMetric(cs.Metric)
			if err != nil {
				return nil, &significance.ConfigurationError{Err: errors.Wrapf(err, "rule %s", rf.ID)}
			}
			rule.Conditions = append(rule.Conditions, Condition{
				Metric:    metric,
				Operator:  Operator(cs.Operator),
				Threshold: cs.Threshold,
				Range:     cs.Range,
			})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
