package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/lead-scout/internal/config"
)

func TestSetupLogger_DevEnablesDebug(t *testing.T) {
	t.Parallel()
	logger := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "lead-scout"})
	require.NotNil(t, logger)
	require.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupLogger_ProdDefaultsToInfo(t *testing.T) {
	t.Parallel()
	logger := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "lead-scout"})
	require.NotNil(t, logger)
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestSetupTracing_DisabledWithoutEndpoint_Parallel(t *testing.T) {
	t.Parallel()
	shutdown, err := SetupTracing(config.Config{})
	require.NoError(t, err)
	require.Nil(t, shutdown)
}
