package exporters

import (
	"context"
	"testing"

	"gps-campaign-dashboard/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewOTLPHTTPDisabled(t *testing.T) {
	exp, err := NewOTLPHTTP(context.Background(), &config.Config{})
	require.NoError(t, err)
	require.Nil(t, exp)
}

func TestNewOTLPHTTP(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Addr = "127.0.0.1:4318"

	exp, err := NewOTLPHTTP(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, exp)
	require.NoError(t, exp.Shutdown(context.Background()))
}
