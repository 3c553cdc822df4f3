package cmd

import (
	"log/slog"

	"github.com/dukex/flowq/pkg/registry"
)

// NewRegistry builds the action registry with all built-in actions.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	return registry.NewDefaultRegistry(logger)
}
