package httprequest

import (
	"github.com/dukex/flowq/pkg/protocol"
)

// Factory creates HTTP request actions.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "http_request"
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// Schema returns the JSON schema for configuring this action.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the request to. Supports templating.",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/orders/{{.trigger_data.order_id}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body content. Supports templating for dynamic JSON.",
			},
			"timeout_seconds": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 300,
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "In-step retry for transient failures and 5xx responses",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "integer",
						"default": 1,
						"minimum": 1,
						"maximum": 5,
					},
					"delay": map[string]any{
						"type":        "integer",
						"description": "Delay between attempts in milliseconds",
						"default":     0,
						"minimum":     0,
						"maximum":     30000,
					},
				},
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
