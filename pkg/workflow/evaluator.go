package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/template"
)

// Evaluator resolves condition step configuration to a boolean branch choice.
//
// Simple form:
//
//	{"field": "context.score", "operator": "greater_than", "value": 3}
//
// Compound form:
//
//	{"logic": "and", "conditions": [ ...simple conditions... ]}
//
// Field paths start with "trigger." or "context."; bare paths resolve against
// the execution's context data.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns the branch decision for a condition step. An empty config
// is vacuously true. Unknown operators are an error, not a silent false.
func (e *Evaluator) Evaluate(config map[string]any, execution *models.Execution) (bool, error) {
	if len(config) == 0 {
		return true, nil
	}

	logic, hasLogic := config["logic"].(string)

	if conditions, ok := config["conditions"].([]any); ok && hasLogic {
		return e.evaluateCompound(logic, conditions, execution)
	}

	return e.evaluateSimple(config, execution)
}

func (e *Evaluator) evaluateCompound(logic string, conditions []any, execution *models.Execution) (bool, error) {
	for i, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			return false, fmt.Errorf("condition %d is not an object", i)
		}

		result, err := e.Evaluate(condition, execution)
		if err != nil {
			return false, err
		}

		switch logic {
		case "or":
			if result {
				return true, nil
			}
		case "and", "":
			if !result {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported condition logic '%s'", logic)
		}
	}

	return logic != "or", nil
}

func (e *Evaluator) evaluateSimple(config map[string]any, execution *models.Execution) (bool, error) {
	field, _ := config["field"].(string)

	operatorName, _ := config["operator"].(string)
	if operatorName == "" {
		operatorName = "equals"
	}

	expected := config["value"]

	// Templated expected values resolve against execution state first.
	if str, ok := expected.(string); ok && strings.Contains(str, "{{") {
		rendered, err := template.RenderWithExecution(str, execution)
		if err != nil {
			return false, fmt.Errorf("failed to render condition value: %w", err)
		}

		expected = rendered
	}

	actual := resolveField(field, execution)

	return applyOperator(operatorName, actual, expected)
}

// resolveField walks a dotted path through the execution's data.
func resolveField(field string, execution *models.Execution) any {
	if field == "" {
		return nil
	}

	root := map[string]any{
		"trigger":      execution.TriggerData,
		"trigger_data": execution.TriggerData,
		"context":      execution.ContextData,
	}

	parts := strings.Split(field, ".")

	if _, ok := root[parts[0]]; !ok {
		// Bare paths resolve against context data.
		return lookupPath(execution.ContextData, parts)
	}

	return lookupPath(root, parts)
}

func lookupPath(data map[string]any, parts []string) any {
	var current any = data

	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current, ok = node[part]
		if !ok {
			return nil
		}
	}

	return current
}

func applyOperator(name string, actual, expected any) (bool, error) {
	switch name {
	case "equals":
		return looseEquals(actual, expected), nil
	case "not_equals":
		return !looseEquals(actual, expected), nil
	case "contains":
		if actual == nil {
			return false, nil
		}

		return strings.Contains(stringify(actual), stringify(expected)), nil
	case "not_contains":
		if actual == nil {
			return true, nil
		}

		return !strings.Contains(stringify(actual), stringify(expected)), nil
	case "starts_with":
		return actual != nil && strings.HasPrefix(stringify(actual), stringify(expected)), nil
	case "ends_with":
		return actual != nil && strings.HasSuffix(stringify(actual), stringify(expected)), nil
	case "greater_than":
		return compareNumbers(actual, expected, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareNumbers(actual, expected, func(a, b float64) bool { return a < b })
	case "is_empty":
		return isEmpty(actual), nil
	case "is_not_empty":
		return !isEmpty(actual), nil
	case "exists":
		return actual != nil, nil
	default:
		return false, fmt.Errorf("unsupported condition operator '%s'", name)
	}
}

// looseEquals compares after normalizing numbers, so a JSON 5 matches an int 5.
func looseEquals(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == expected
	}

	actualNum, actualOK := toFloat(actual)

	expectedNum, expectedOK := toFloat(expected)
	if actualOK && expectedOK {
		return actualNum == expectedNum
	}

	return stringify(actual) == stringify(expected)
}

func compareNumbers(actual, expected any, cmp func(a, b float64) bool) (bool, error) {
	if actual == nil {
		return false, nil
	}

	actualNum, ok := toFloat(actual)
	if !ok {
		return false, fmt.Errorf("value '%v' is not numeric", actual)
	}

	expectedNum, ok := toFloat(expected)
	if !ok {
		return false, fmt.Errorf("value '%v' is not numeric", expected)
	}

	return cmp(actualNum, expectedNum), nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		num, err := strconv.ParseFloat(v, 64)

		return num, err == nil
	default:
		return 0, false
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case bool:
		return !v
	default:
		num, ok := toFloat(value)

		return ok && num == 0
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}
