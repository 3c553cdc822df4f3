package registry

import (
	"log/slog"

	delayaction "github.com/dukex/flowq/pkg/actions/delay"
	httprequestaction "github.com/dukex/flowq/pkg/actions/httprequest"
	logaction "github.com/dukex/flowq/pkg/actions/log"
	transformaction "github.com/dukex/flowq/pkg/actions/transform"
)

// NewDefaultRegistry returns a registry with all built-in actions registered.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	registry := NewRegistry(logger)

	registry.RegisterAction(logaction.NewFactory())
	registry.RegisterAction(httprequestaction.NewFactory())
	registry.RegisterAction(transformaction.NewFactory())
	registry.RegisterAction(delayaction.NewFactory())

	return registry
}
