package workflow

import "strconv"

// RuleField is the purchase request attribute a routing condition inspects.
type RuleField string

const (
	FieldTotalAmount RuleField = "total_amount"
	FieldDepartment  RuleField = "department"
	FieldCategory    RuleField = "category"
)

// RuleOperator compares a numeric field against the condition values.
// Only total_amount conditions carry an operator; membership fields
// (department, category) ignore it.
type RuleOperator string

const (
	OpEq      RuleOperator = "eq"
	OpGt      RuleOperator = "gt"
	OpLt      RuleOperator = "lt"
	OpGte     RuleOperator = "gte"
	OpLte     RuleOperator = "lte"
	OpBetween RuleOperator = "between"
)

// RuleActionType is what a matched rule does to stage progression.
type RuleActionType string

const (
	ActionSkipStage RuleActionType = "SKIP_STAGE"
	ActionNextStage RuleActionType = "NEXT_STAGE"
)

// RuleCondition is the predicate half of a routing rule. Values are recorded
// as strings because their semantics are field-specific: numeric literals for
// total_amount, names for department and category.
type RuleCondition struct {
	Field    RuleField    `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    []string     `json:"value"`
	MinValue string       `json:"min_value,omitempty"`
	MaxValue string       `json:"max_value,omitempty"`
}

// RuleOutcome is the routing override a matched rule produces.
type RuleOutcome struct {
	Type        RuleActionType `json:"type"`
	TargetStage string         `json:"target_stage"`
}

// RoutingRule skips or redirects stage progression when its condition matches
// the purchase request at its trigger stage.
type RoutingRule struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	TriggerStage string        `json:"trigger_stage"`
	Condition    RuleCondition `json:"condition"`
	Action       RuleOutcome   `json:"action"`
}

// RuleContext is the slice of purchase request state a condition can inspect.
type RuleContext struct {
	CurrentStage   string
	TotalAmount    float64
	DepartmentName string
	ItemCategories []string
}

// EvaluateRules walks the rules in their defined order and returns the
// outcome of the first rule whose trigger stage and condition both match.
// Rule order is load-bearing: callers must pass rules in their persisted
// position order. A false second return means no override and default linear
// stage progression applies.
func EvaluateRules(rules []RoutingRule, ctx RuleContext) (RuleOutcome, bool) {
	for _, rule := range rules {
		if rule.TriggerStage != ctx.CurrentStage {
			continue
		}
		if rule.Condition.Matches(ctx) {
			return rule.Action, true
		}
	}
	return RuleOutcome{}, false
}

// Matches evaluates the condition against the request context.
func (c RuleCondition) Matches(ctx RuleContext) bool {
	switch c.Field {
	case FieldTotalAmount:
		return c.matchesAmount(ctx.TotalAmount)

	case FieldDepartment:
		return contains(c.Value, ctx.DepartmentName)

	case FieldCategory:
		for _, cat := range ctx.ItemCategories {
			if contains(c.Value, cat) {
				return true
			}
		}
		return false
	}
	return false
}

func (c RuleCondition) matchesAmount(amount float64) bool {
	if c.Operator == OpBetween {
		min, okMin := parseAmount(c.MinValue)
		max, okMax := parseAmount(c.MaxValue)
		if !okMin || !okMax {
			return false
		}
		return amount >= min && amount <= max
	}

	if len(c.Value) == 0 {
		return false
	}
	v, ok := parseAmount(c.Value[0])
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return amount == v
	case OpGt:
		return amount > v
	case OpLt:
		return amount < v
	case OpGte:
		return amount >= v
	case OpLte:
		return amount <= v
	}
	return false
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
