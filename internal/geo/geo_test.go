package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistance_SamePoint(t *testing.T) {
	require.Zero(t, Distance(55.75, 37.61, 55.75, 37.61))
}

func TestDistance_Symmetric(t *testing.T) {
	d1 := Distance(55.75, 37.61, 59.93, 30.33)
	d2 := Distance(59.93, 30.33, 55.75, 37.61)
	require.InDelta(t, d1, d2, 0.001)
}

func TestDistance_OneDegreeLongitudeAtEquator(t *testing.T) {
	// один градус долготы на экваторе ~ 111 195 м
	d := Distance(0, 0, 0, 1)
	require.InEpsilon(t, 111195.0, d, 0.01)
}

func TestDistance_KnownPair(t *testing.T) {
	// Москва -> Санкт-Петербург, порядка 630-640 км по прямой
	d := Distance(55.7558, 37.6173, 59.9311, 30.3609)
	require.Greater(t, d, 600_000.0)
	require.Less(t, d, 680_000.0)
	require.False(t, math.IsNaN(d))
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "5 min", FormatDuration(300))
	require.Equal(t, "0 min", FormatDuration(30))
	require.Equal(t, "2 hour(s) 5 min", FormatDuration(2*3600+5*60))
}

func TestFormatDistance(t *testing.T) {
	require.Equal(t, "400 m", FormatDistance(400))
	require.Equal(t, "1.2 km", FormatDistance(1234))
}
