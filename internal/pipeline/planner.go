package pipeline

import (
	"strings"

	"assetline/internal/domain"
)

// PlannerConfig carries the policy knobs of step planning. The defaults live
// in config.Default; the planner itself has no hidden constants.
type PlannerConfig struct {
	BaseSteps       []string
	HoursPerStep    int
	DefaultSLAHours int
}

// expediteQueue marks a rule effect that promotes the request to the
// priority queue.
const expediteQueue = "expedite"

// PlanSteps expands the base step sequence for a request by applying every
// rule whose condition matches. Matching is exact and case-sensitive; a rule
// referencing an attribute the request does not carry never matches. All
// matched effects apply cumulatively in rule declaration order.
func PlanSteps(req domain.Request, rules []domain.Rule, cfg PlannerConfig) domain.Plan {
	steps := make([]string, len(cfg.BaseSteps))
	copy(steps, cfg.BaseSteps)

	matched := []domain.MatchedRule{}
	sla := cfg.DefaultSLAHours
	priorityQueue := false

	for _, rule := range rules {
		if !ruleMatches(req, rule) {
			continue
		}
		matched = append(matched, domain.MatchedRule{
			RuleID:    rule.ID,
			Condition: rule.If,
			Effect:    rule.Then,
		})
		// Recorded even when every step is already present, so the audit
		// trail shows the rule fired.
		for _, step := range rule.Then.Steps {
			steps = insertStep(steps, step)
		}
		if rule.Then.SLAHours > 0 && rule.Then.SLAHours < sla {
			sla = rule.Then.SLAHours
		}
		if strings.Contains(rule.Then.Queue, expediteQueue) {
			priorityQueue = true
		}
	}

	return domain.Plan{
		Steps:          steps,
		MatchedRules:   matched,
		EstimatedHours: cfg.HoursPerStep * len(steps),
		SLAHours:       sla,
		PriorityQueue:  priorityQueue,
	}
}

func ruleMatches(req domain.Request, rule domain.Rule) bool {
	if len(rule.If) == 0 {
		return false
	}
	for key, want := range rule.If {
		got, ok := req.Attribute(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// insertStep adds a step once, keeping the final two base steps (QA and
// delivery) terminal: rule-contributed steps slot in before them in
// first-seen order.
func insertStep(steps []string, step string) []string {
	for _, s := range steps {
		if s == step {
			return steps
		}
	}
	pos := len(steps) - 2
	if pos < 0 {
		pos = len(steps)
	}
	steps = append(steps, "")
	copy(steps[pos+1:], steps[pos:])
	steps[pos] = step
	return steps
}
