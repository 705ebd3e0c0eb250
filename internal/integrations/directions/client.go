package directions

import (
	"context"

	"github.com/tidyzon/enroute/internal/models"
)

// Client computes a driving ETA between two points. Implementations must
// return models.ErrUpstreamUnavailable (wrapped) when the provider
// errors or answers with a non-OK status; callers treat that as
// retryable-or-skip, never as fatal to the session.
type Client interface {
	ComputeEta(ctx context.Context, origin, destination models.Location) (models.EtaEstimate, error)
}
