//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDevicesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for _, backend := range []Backend{Pulse{}, Miniaudio{}} {
		devices, err := backend.ListDevices(ctx)
		require.NoError(t, err, backend.Name())
		require.NotEmpty(t, devices, backend.Name())
	}
}
