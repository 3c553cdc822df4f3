package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func (w *Workflow) Validate() error {
	err := validate.Struct(w)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	return nil
}

func (s *WorkflowStep) Validate() error {
	err := validate.Struct(s)
	if err != nil {
		return fmt.Errorf("invalid workflow step: %w", err)
	}

	return nil
}

func (d *Dispatch) Validate() error {
	err := validate.Struct(d)
	if err != nil {
		return fmt.Errorf("invalid dispatch: %w", err)
	}

	return nil
}

func (l *LogEntry) Validate() error {
	err := validate.Struct(l)
	if err != nil {
		return fmt.Errorf("invalid log entry: %w", err)
	}

	return nil
}
