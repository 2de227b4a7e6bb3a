package conclusion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Action is what a rule asks the engine to do with a test.
type Action string

const (
	ActionContinue Action = "continue"
	ActionExtend   Action = "extend"
	ActionPause    Action = "pause"
	ActionStop     Action = "stop"
	ActionConclude Action = "conclude"
)

// actionRank orders actions by precedence; the highest triggered rank wins.
var actionRank = map[Action]int{
	ActionContinue: 0,
	ActionExtend:   1,
	ActionPause:    2,
	ActionConclude: 3,
	ActionStop:     4,
}

// Terminal reports whether the action ends the evaluation cycle with a
// conclusion.
func (a Action) Terminal() bool {
	return a == ActionPause || a == ActionStop || a == ActionConclude
}

type RuleType string

const (
	RuleSignificance RuleType = "significance"
	RuleSampleSize   RuleType = "sample_size"
	RuleDuration     RuleType = "duration"
	RulePerformance  RuleType = "performance"
	RuleBusiness     RuleType = "business"
)

// Metric is the closed set of quantities a condition can test.
type Metric int

const (
	MetricConfidence  Metric = iota // overall significance, percent
	MetricPValue                    // smallest candidate p-value
	MetricSampleSize                // total impressions
	MetricDuration                  // days since the earliest variant started
	MetricImprovement               // best candidate improvement, percent
	MetricRevenue                   // total revenue
	MetricRiskScore                 // risk of the best candidate, 0-100
)

var metricNames = [...]string{
	MetricConfidence:  "confidence",
	MetricPValue:      "p_value",
	MetricSampleSize:  "sample_size",
	MetricDuration:    "duration",
	MetricImprovement: "improvement",
	MetricRevenue:     "revenue",
	MetricRiskScore:   "risk_score",
}

var metricAliases = map[string]Metric{
	"pvalue":     MetricPValue,
	"samplesize": MetricSampleSize,
	"riskscore":  MetricRiskScore,
}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricNames[m]
}

// ParseMetric accepts snake_case names and their camelCase spellings.
func ParseMetric(s string) (Metric, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range metricNames {
		if key == name {
			return Metric(i), nil
		}
	}
	if m, ok := metricAliases[key]; ok {
		return m, nil
	}
	return 0, errors.Errorf("unknown metric %q", s)
}

func (m Metric) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(metricNames) {
		return nil, errors.Errorf("unknown metric %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

type Operator string

const (
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpBetween      Operator = "between"
)

type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Condition compares one metric against a threshold or an inclusive range.
type Condition struct {
	Metric    Metric   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Range     *Range   `json:"range,omitempty"`
}

func (c Condition) holds(v float64) (bool, error) {
	switch c.Operator {
	case OpGreater:
		return v > c.Threshold, nil
	case OpGreaterEqual:
		return v >= c.Threshold, nil
	case OpLess:
		return v < c.Threshold, nil
	case OpLessEqual:
		return v <= c.Threshold, nil
	case OpEqual:
		return math.Abs(v-c.Threshold) < 1e-9, nil
	case OpBetween:
		if c.Range == nil {
			return false, errors.New("between condition without range")
		}
		return v >= c.Range.Min && v <= c.Range.Max, nil
	default:
		return false, errors.Errorf("unknown operator %q", c.Operator)
	}
}

// Rule is a prioritized set of AND-ed conditions. Lower priority values are
// evaluated first.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       RuleType    `json:"type"`
	Priority   int         `json:"priority"`
	Conditions []Condition `json:"conditions"`
	Action     Action      `json:"action"`
	Active     bool        `json:"active"`
}

// DefaultRules are the rules every evaluation starts from.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "significance-achieved",
			Name:     "Statistical significance achieved",
			Type:     RuleSignificance,
			Priority: 1,
			Conditions: []Condition{
				{Metric: MetricConfidence, Operator: OpGreaterEqual, Threshold: 95},
				{Metric: MetricSampleSize, Operator: OpGreaterEqual, Threshold: 1000},
			},
			Action: ActionConclude,
			Active: true,
		},
		{
			ID:       "early-winner",
			Name:     "Early winner with large effect",
			Type:     RulePerformance,
			Priority: 2,
			Conditions: []Condition{
				{Metric: MetricConfidence, Operator: OpGreaterEqual, Threshold: 99},
				{Metric: MetricImprovement, Operator: OpGreaterEqual, Threshold: 20},
			},
			Action: ActionConclude,
			Active: true,
		},
		{
			ID:       "sample-size-reached",
			Name:     "Maximum sample size reached",
			Type:     RuleSampleSize,
			Priority: 3,
			Conditions: []Condition{
				{Metric: MetricSampleSize, Operator: OpGreaterEqual, Threshold: 100000},
			},
			Action: ActionConclude,
			Active: true,
		},
		{
			ID:       "maximum-duration",
			Name:     "Maximum test duration exceeded",
			Type:     RuleDuration,
			Priority: 4,
			Conditions: []Condition{
				{Metric: MetricDuration, Operator: OpGreaterEqual, Threshold: 30},
			},
			Action: ActionStop,
			Active: true,
		},
		{
			ID:       "performance-degradation",
			Name:     "Every variant underperforms control",
			Type:     RulePerformance,
			Priority: 5,
			Conditions: []Condition{
				{Metric: MetricImprovement, Operator: OpLess, Threshold: -10},
				{Metric: MetricSampleSize, Operator: OpGreaterEqual, Threshold: 5000},
			},
			Action: ActionStop,
			Active: true,
		},
	}
}

// MergeRules combines the defaults with custom rules, keeps the active
// ones and orders them by ascending priority. Ties keep input order with
// defaults first.
func MergeRules(defaults, custom []Rule) []Rule {
	merged := make([]Rule, 0, len(defaults)+len(custom))
	for _, r := range defaults {
		if r.Active {
			merged = append(merged, r)
		}
	}
	for _, r := range custom {
		if r.Active {
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority < merged[j].Priority
	})
	return merged
}

// DetermineAction folds triggered rules into one action using the
// precedence stop > conclude > pause > extend > continue.
func DetermineAction(triggered []Rule) Action {
	action := ActionContinue
	for _, r := range triggered {
		if actionRank[r.Action] > actionRank[action] {
			action = r.Action
		}
	}
	return action
}

// evaluateRules returns the rules whose conditions all hold, in the order
// given.
func evaluateRules(rules []Rule, s *snapshot) ([]Rule, error) {
	var triggered []Rule
	for _, r := range rules {
		ok, err := ruleHolds(r, s)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", r.ID)
		}
		if ok {
			triggered = append(triggered, r)
		}
	}
	return triggered, nil
}

func ruleHolds(r Rule, s *snapshot) (bool, error) {
	if len(r.Conditions) == 0 {
		return false, nil
	}
	for _, c := range r.Conditions {
		v, err := s.value(c.Metric)
		if err != nil {
			return false, err
		}
		ok, err := c.holds(v)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
