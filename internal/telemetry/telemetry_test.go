package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
		{"localhost:4318", "localhost:4318", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, insecure := parseEndpoint(tt.in)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.insecure, insecure)
		})
	}
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "library-circulation", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
