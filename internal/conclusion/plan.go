package conclusion

import (
	"fmt"
	"time"
)

type phaseTemplate struct {
	name     string
	rollout  float64
	duration time.Duration
}

var phaseTemplates = map[Strategy][]phaseTemplate{
	StrategyImmediate: {
		{"Full rollout", 100, 24 * time.Hour},
	},
	StrategyGradual: {
		{"Initial rollout", 25, 24 * time.Hour},
		{"Expanded rollout", 50, 24 * time.Hour},
		{"Full rollout", 100, 24 * time.Hour},
	},
	StrategyStaged: {
		{"Canary", 10, 48 * time.Hour},
		{"Majority", 50, 72 * time.Hour},
		{"Full rollout", 100, 24 * time.Hour},
	},
}

// BuildPlan lays out the rollout for a strategy starting at start. The
// delayed strategy, and a missing winner, yield a plan with no phases.
func BuildPlan(strategy Strategy, start time.Time, winner *WinnerSelection) ImplementationPlan {
	plan := ImplementationPlan{
		Strategy:   strategy,
		Timeline:   Timeline{Start: start, End: start},
		Monitoring: monitoringPlan(),
	}
	if winner == nil {
		plan.Strategy = StrategyDelayed
		plan.SuccessCriteria = []string{"Re-evaluate when more data is available"}
		return plan
	}

	at := start
	for _, t := range phaseTemplates[strategy] {
		at = at.Add(t.duration)
		plan.Phases = append(plan.Phases, Phase{
			Name:              t.name,
			RolloutPercentage: t.rollout,
			Duration:          t.duration,
			SuccessCriteria: []string{
				fmt.Sprintf("Conversion rate improvement stays above %.1f%%", winner.ExpectedImprovement/2),
				"No critical monitoring alerts",
			},
			RollbackTriggers: []string{
				"Conversion rate drops 10% below control",
				"Error rate increases by more than 200%",
			},
		})
		plan.Timeline.PhaseEnds = append(plan.Timeline.PhaseEnds, at)
		plan.RolloutSequence = append(plan.RolloutSequence, t.rollout)
	}
	plan.Timeline.End = at
	plan.SuccessCriteria = []string{
		fmt.Sprintf("Sustain at least %.1f%% conversion improvement at full rollout", winner.ExpectedImprovement/2),
		"Error rate and latency within baseline",
		"No rollback triggered",
	}
	return plan
}

func monitoringPlan() MonitoringPlan {
	return MonitoringPlan{
		Checkpoints: []time.Duration{time.Hour, 4 * time.Hour, 24 * time.Hour, 72 * time.Hour},
		Thresholds: []MetricThreshold{
			{Metric: "conversion_rate", Warning: -5, Critical: -10, Window: 30 * time.Minute},
			{Metric: "error_rate", Warning: 50, Critical: 200, Window: 15 * time.Minute},
			{Metric: "revenue_per_visitor", Warning: -5, Critical: -15, Window: time.Hour},
			{Metric: "page_load_time", Warning: 20, Critical: 50, Window: 30 * time.Minute},
		},
		Escalation: []EscalationStep{
			{Level: 1, Trigger: "Warning threshold breached", Notify: "experiment owner", Action: "Investigate within 4 hours"},
			{Level: 2, Trigger: "Critical threshold breached", Notify: "engineering on-call", Action: "Pause rollout"},
			{Level: 3, Trigger: "Critical breach sustained for 1 hour", Notify: "product leadership", Action: "Execute rollback plan"},
		},
	}
}
