package httprequest

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
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
	action, err := NewAction(map[string]any{
		"url":    "https://api.example.com/users",
		"method": "post",
		"headers": map[string]any{
			"Content-Type": "application/json",
		},
		"body":            `{"name":"Ada"}`,
		"timeout_seconds": float64(5),
		"retry": map[string]any{
			"attempts": float64(3),
			"delay":    float64(100),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/users", action.URL)
	assert.Equal(t, http.MethodPost, action.Method)
	assert.Equal(t, "application/json", action.Headers["Content-Type"])
	assert.Equal(t, 5*time.Second, action.Timeout)
	assert.Equal(t, 3, action.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, action.Retry.Delay)
}

func TestNewActionMissingURL(t *testing.T) {
	_, err := NewAction(map[string]any{"method": "GET"})
	require.ErrorIs(t, err, ErrURLRequired)
}

func TestExecuteParsesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "u-1"}`))
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{
		"url": server.URL,
		"headers": map[string]any{
			"Authorization": "token-1",
		},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.Execution{ID: "exec-1"}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, map[string]any{"id": "u-1"}, output["body"])
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{
		"url": server.URL,
		"retry": map[string]any{
			"attempts": float64(3),
		},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.Execution{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, "ok", output["body"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteNonRetryableClientError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{
		"url": server.URL,
		"retry": map[string]any{
			"attempts": float64(3),
		},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.Execution{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, output["status_code"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestFactorySchemaRejectsMissingURL(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "http_request", factory.ID())

	schema := factory.Schema()
	require.NotNil(t, schema)

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Contains(t, required, "url")
}
