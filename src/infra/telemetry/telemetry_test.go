package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/grups/src/infra/telemetry"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "grups-test", "", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "grups-test", "127.0.0.1:4318", true)
	require.NoError(t, err)
	// Nothing was exported, so shutdown does not need the collector.
	require.NoError(t, shutdown(ctx))
}
