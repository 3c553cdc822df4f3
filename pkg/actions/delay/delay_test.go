package delay

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowq/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNewAction(t *testing.T) {
	action, err := NewAction(map[string]any{"duration": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, action.Duration)

	action, err = NewAction(map[string]any{"duration": float64(3), "unit": "minutes"})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, action.Duration)
}

func TestNewActionValidation(t *testing.T) {
	_, err := NewAction(map[string]any{})
	require.ErrorIs(t, err, ErrDurationRequired)

	_, err = NewAction(map[string]any{"duration": float64(1), "unit": "hours"})
	require.ErrorIs(t, err, ErrDurationRequired)

	_, err = NewAction(map[string]any{"duration": float64(10), "unit": "minutes"})
	require.ErrorIs(t, err, ErrDelayTooLong)
}

func TestExecute(t *testing.T) {
	action, err := NewAction(map[string]any{"duration": 0.01})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.Execution{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(10), output["delayed_ms"])
}

func TestExecuteCancelled(t *testing.T) {
	action, err := NewAction(map[string]any{"duration": float64(60)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = action.Execute(ctx, models.Execution{}, testLogger())
	require.ErrorIs(t, err, context.Canceled)
}
