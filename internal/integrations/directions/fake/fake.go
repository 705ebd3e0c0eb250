package fake

import (
	"context"

	"github.com/tidyzon/enroute/internal/geo"
	"github.com/tidyzon/enroute/internal/models"
)

// FakeClient — заглушка directions-провайдера для локальной разработки.
// Считает ETA из прямого расстояния при средней скорости ~30 км/ч.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

const averageSpeedMetersPerSecond = 8.3

func (f *FakeClient) ComputeEta(ctx context.Context, origin, destination models.Location) (models.EtaEstimate, error) {
	meters := int64(geo.Distance(origin.Lat, origin.Lng, destination.Lat, destination.Lng))
	seconds := int64(float64(meters) / averageSpeedMetersPerSecond)

	return models.EtaEstimate{
		EtaSeconds:     seconds,
		EtaText:        geo.FormatDuration(seconds),
		DistanceMeters: meters,
		DistanceText:   geo.FormatDistance(meters),
	}, nil
}
