package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"assetline/internal/domain"
)

func plannerConfig() PlannerConfig {
	return PlannerConfig{
		BaseSteps:       []string{"initial_review", "modeling", "texturing", "qa_check", "delivery"},
		HoursPerStep:    2,
		DefaultSLAHours: 72,
	}
}

func TestPlanStepsNoRules(t *testing.T) {
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme"}, nil, plannerConfig())
	assert.Equal(t, []string{"initial_review", "modeling", "texturing", "qa_check", "delivery"}, plan.Steps)
	assert.Empty(t, plan.MatchedRules)
	assert.Equal(t, 10, plan.EstimatedHours)
	assert.Equal(t, 72, plan.SLAHours)
	assert.False(t, plan.PriorityQueue)
}

func TestPlanStepsRuleInsertsBeforeQA(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{Steps: []string{"style_review"}}},
	}
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme", Style: "stylized"}, rules, plannerConfig())
	assert.Equal(t, []string{"initial_review", "modeling", "texturing", "style_review", "qa_check", "delivery"}, plan.Steps)
	assert.Equal(t, 12, plan.EstimatedHours)
	if assert.Len(t, plan.MatchedRules, 1) {
		assert.Equal(t, "rule_0", plan.MatchedRules[0].RuleID)
	}
}

func TestPlanStepsDuplicateStepIgnored(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{Steps: []string{"texturing"}}},
	}
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme", Style: "stylized"}, rules, plannerConfig())
	assert.Equal(t, []string{"initial_review", "modeling", "texturing", "qa_check", "delivery"}, plan.Steps)
	// The rule still counts as matched even though the step already existed.
	assert.Len(t, plan.MatchedRules, 1)
}

func TestPlanStepsCumulativeEffects(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{Steps: []string{"style_review"}}},
		{ID: "rule_1", If: map[string]string{"engine": "unreal"}, Then: domain.RuleEffect{Steps: []string{"engine_export"}, SLAHours: 48}},
		{ID: "rule_2", If: map[string]string{"priority": "priority"}, Then: domain.RuleEffect{SLAHours: 24, Queue: "expedite"}},
	}
	req := domain.Request{ID: "req-1", Account: "Acme", Style: "stylized", Engine: "unreal", Priority: "priority"}
	plan := PlanSteps(req, rules, plannerConfig())
	assert.Equal(t, []string{"initial_review", "modeling", "texturing", "style_review", "engine_export", "qa_check", "delivery"}, plan.Steps)
	assert.Equal(t, 24, plan.SLAHours)
	assert.True(t, plan.PriorityQueue)
	assert.Len(t, plan.MatchedRules, 3)
	assert.Equal(t, 14, plan.EstimatedHours)
}

func TestPlanStepsMatchingIsExact(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "Stylized"}, Then: domain.RuleEffect{Steps: []string{"style_review"}}},
		{ID: "rule_1", If: map[string]string{"unknown_attr": "x"}, Then: domain.RuleEffect{Steps: []string{"extra"}}},
	}
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme", Style: "stylized"}, rules, plannerConfig())
	assert.Empty(t, plan.MatchedRules)
	assert.Equal(t, 5, len(plan.Steps))
}

func TestPlanStepsPartialConditionNeverMatches(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized", "engine": "unreal"}, Then: domain.RuleEffect{Steps: []string{"both"}}},
	}
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme", Style: "stylized", Engine: "unity"}, rules, plannerConfig())
	assert.Empty(t, plan.MatchedRules)
}

func TestPlanStepsSLANeverRaised(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{SLAHours: 96}},
	}
	plan := PlanSteps(domain.Request{ID: "req-1", Account: "Acme", Style: "stylized"}, rules, plannerConfig())
	assert.Equal(t, 72, plan.SLAHours)
	assert.Len(t, plan.MatchedRules, 1)
}

func TestPlanStepsDeterministic(t *testing.T) {
	rules := []domain.Rule{
		{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{Steps: []string{"style_review"}}},
	}
	req := domain.Request{ID: "req-1", Account: "Acme", Style: "stylized"}
	first := PlanSteps(req, rules, plannerConfig())
	second := PlanSteps(req, rules, plannerConfig())
	assert.Equal(t, first, second)
}
