package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

func TestEndpoint_URLs(t *testing.T) {
	endpoint := DefaultEndpoint()

	assert.Equal(t, "127.0.0.1:8000", endpoint.Address())
	assert.Equal(t, "http://127.0.0.1:8000", endpoint.BaseURL())
	assert.Equal(t, "http://127.0.0.1:8000/api/v1/analyze", endpoint.URL("analyze"))
	assert.Equal(t, "http://127.0.0.1:8000/api/v1/analyze-page", endpoint.URL("/analyze-page"))
}

func TestEndpoint_URLWithoutBasePath(t *testing.T) {
	endpoint := Endpoint{Host: "localhost", Port: 9000, BasePath: "/"}

	assert.Equal(t, "http://localhost:9000/analyze", endpoint.URL("analyze"))
}

func TestEndpoint_WithDefaults(t *testing.T) {
	endpoint := Endpoint{Port: 8100}.WithDefaults()

	assert.Equal(t, DefaultHost, endpoint.Host)
	assert.Equal(t, 8100, endpoint.Port)
	assert.Equal(t, DefaultBasePath, endpoint.BasePath)
}

func TestEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		wantErr  bool
	}{
		{name: "default", endpoint: DefaultEndpoint()},
		{name: "missing host", endpoint: Endpoint{Port: 8000}, wantErr: true},
		{name: "url as host", endpoint: Endpoint{Host: "http://x/", Port: 8000}, wantErr: true},
		{name: "port zero", endpoint: Endpoint{Host: "127.0.0.1"}, wantErr: true},
		{name: "port too large", endpoint: Endpoint{Host: "127.0.0.1", Port: 70000}, wantErr: true},
		{name: "relative base path", endpoint: Endpoint{Host: "127.0.0.1", Port: 8000, BasePath: "api"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.endpoint.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
