// Package template renders dynamic step configuration against execution state.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/flowq/pkg/models"
)

// RenderWithExecution renders input with the execution's accumulated state bound
// as template data. Step outputs are reachable under .context, the trigger
// payload under .trigger_data.
func RenderWithExecution(input string, execution *models.Execution) (any, error) {
	data := map[string]any{
		"context":      execution.ContextData,
		"trigger_data": execution.TriggerData,
		"env":          getEnvVars(),
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
		},
	}

	return Render(input, data)
}

// RenderConfig returns a copy of config with every string value rendered
// against the execution. Nested maps and slices are walked recursively;
// non-string leaves pass through untouched.
func RenderConfig(config map[string]any, execution *models.Execution) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}

	rendered := make(map[string]any, len(config))

	for key, value := range config {
		result, err := renderValue(value, execution)
		if err != nil {
			return nil, fmt.Errorf("failed to render config key '%s': %w", key, err)
		}

		rendered[key] = result
	}

	return rendered, nil
}

func renderValue(value any, execution *models.Execution) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return RenderWithExecution(v, execution)
	case map[string]any:
		return RenderConfig(v, execution)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			result, err := renderValue(item, execution)
			if err != nil {
				return nil, err
			}

			out[i] = result
		}

		return out, nil
	default:
		return value, nil
	}
}

// Parse validates a template string without executing it.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Try to parse as JSON if it looks like JSON
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	// Try to parse as number
	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	// Try to parse as boolean
	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func newTemplate() *template.Template {
	return template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		})
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
