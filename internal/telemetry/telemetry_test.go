package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Endpoint: "localhost:4317"}.Enabled())
}

func TestIsHTTPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", false},
		{"otel-collector:4317", false},
		{"localhost:4318/v1/traces", true},
		{"collector.example.com/v1/traces", true},
	}

	for _, tc := range tests {
		t.Run(tc.endpoint, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isHTTPEndpoint(tc.endpoint))
		})
	}
}
