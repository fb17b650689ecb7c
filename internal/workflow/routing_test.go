package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountRule(name, stage string, op RuleOperator, values ...string) RoutingRule {
	return RoutingRule{
		Name:         name,
		TriggerStage: stage,
		Condition:    RuleCondition{Field: FieldTotalAmount, Operator: op, Value: values},
		Action:       RuleOutcome{Type: ActionSkipStage, TargetStage: "department-approval"},
	}
}

func TestEvaluateRulesAmountOperators(t *testing.T) {
	tests := []struct {
		name   string
		op     RuleOperator
		value  string
		amount float64
		match  bool
	}{
		{"gt above threshold", OpGt, "10000", 15000, true},
		{"gt below threshold", OpGt, "10000", 5000, false},
		{"gt at threshold", OpGt, "10000", 10000, false},
		{"gte at threshold", OpGte, "10000", 10000, true},
		{"lt below", OpLt, "500", 499, true},
		{"lt at", OpLt, "500", 500, false},
		{"lte at", OpLte, "500", 500, true},
		{"eq exact", OpEq, "250", 250, true},
		{"eq off", OpEq, "250", 251, false},
		{"unparseable value never matches", OpGt, "ten thousand", 15000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := []RoutingRule{amountRule("r1", "hod-approval", tt.op, tt.value)}
			ctx := RuleContext{CurrentStage: "hod-approval", TotalAmount: tt.amount}

			outcome, ok := EvaluateRules(rules, ctx)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, ActionSkipStage, outcome.Type)
				assert.Equal(t, "department-approval", outcome.TargetStage)
			}
		})
	}
}

func TestEvaluateRulesBetween(t *testing.T) {
	rule := RoutingRule{
		Name:         "mid-range",
		TriggerStage: "hod-approval",
		Condition: RuleCondition{
			Field:    FieldTotalAmount,
			Operator: OpBetween,
			MinValue: "1000",
			MaxValue: "5000",
		},
		Action: RuleOutcome{Type: ActionNextStage, TargetStage: "finance-review"},
	}

	// Closed interval: both endpoints match.
	for _, amount := range []float64{1000, 2500, 5000} {
		_, ok := EvaluateRules([]RoutingRule{rule}, RuleContext{CurrentStage: "hod-approval", TotalAmount: amount})
		assert.True(t, ok, "amount %v", amount)
	}
	for _, amount := range []float64{999.99, 5000.01} {
		_, ok := EvaluateRules([]RoutingRule{rule}, RuleContext{CurrentStage: "hod-approval", TotalAmount: amount})
		assert.False(t, ok, "amount %v", amount)
	}
}

func TestEvaluateRulesMembershipFields(t *testing.T) {
	rules := []RoutingRule{
		{
			Name:         "kitchen fast-track",
			TriggerStage: "hod-approval",
			Condition:    RuleCondition{Field: FieldDepartment, Value: []string{"Kitchen", "Housekeeping"}},
			Action:       RuleOutcome{Type: ActionSkipStage, TargetStage: "gm-approval"},
		},
		{
			Name:         "capex category",
			TriggerStage: "hod-approval",
			Condition:    RuleCondition{Field: FieldCategory, Value: []string{"Capital Equipment"}},
			Action:       RuleOutcome{Type: ActionNextStage, TargetStage: "finance-review"},
		},
	}

	// Department membership is case-sensitive exact match.
	_, ok := EvaluateRules(rules, RuleContext{CurrentStage: "hod-approval", DepartmentName: "Kitchen"})
	assert.True(t, ok)
	_, ok = EvaluateRules(rules, RuleContext{CurrentStage: "hod-approval", DepartmentName: "kitchen"})
	assert.False(t, ok)

	// Category matches when any line item's category is in the value set.
	outcome, ok := EvaluateRules(rules, RuleContext{
		CurrentStage:   "hod-approval",
		DepartmentName: "Engineering",
		ItemCategories: []string{"Consumables", "Capital Equipment"},
	})
	require.True(t, ok)
	assert.Equal(t, ActionNextStage, outcome.Type)
	assert.Equal(t, "finance-review", outcome.TargetStage)
}

func TestEvaluateRulesFirstMatchWins(t *testing.T) {
	rules := []RoutingRule{
		amountRule("first", "hod-approval", OpGt, "100"),
		amountRule("second", "hod-approval", OpGt, "100"),
	}
	rules[1].Action = RuleOutcome{Type: ActionNextStage, TargetStage: "elsewhere"}

	outcome, ok := EvaluateRules(rules, RuleContext{CurrentStage: "hod-approval", TotalAmount: 200})
	require.True(t, ok)
	assert.Equal(t, ActionSkipStage, outcome.Type, "rules are evaluated in defined order; the first match applies")
}

func TestEvaluateRulesTriggerStageMustMatch(t *testing.T) {
	rules := []RoutingRule{amountRule("r1", "finance-review", OpGt, "0")}

	_, ok := EvaluateRules(rules, RuleContext{CurrentStage: "hod-approval", TotalAmount: 100})
	assert.False(t, ok, "rule triggered on another stage must not fire")
}

func TestEvaluateRulesNoMatchMeansNoOverride(t *testing.T) {
	rules := []RoutingRule{amountRule("r1", "hod-approval", OpGt, "10000")}

	_, ok := EvaluateRules(rules, RuleContext{CurrentStage: "hod-approval", TotalAmount: 5000})
	assert.False(t, ok)
}
