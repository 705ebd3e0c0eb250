package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidyzon/enroute/internal/models"
)

func TestFakeClient_ComputeEta(t *testing.T) {
	c := New()
	eta, err := c.ComputeEta(context.Background(),
		models.Location{Lat: 0, Lng: 0.01},
		models.Location{Lat: 0, Lng: 0.02})
	require.NoError(t, err)
	require.Greater(t, eta.DistanceMeters, int64(1000))
	require.Greater(t, eta.EtaSeconds, int64(0))
	require.NotEmpty(t, eta.EtaText)
	require.NotEmpty(t, eta.DistanceText)
}
