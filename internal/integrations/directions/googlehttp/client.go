package googlehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/integrations/directions"
	"github.com/tidyzon/enroute/internal/models"
)

// Client вызывает Google Directions API (mode=driving, departure_time=now).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

var _ directions.Client = (*Client)(nil)

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type directionsResp struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Duration struct {
				Value int64  `json:"value"`
				Text  string `json:"text"`
			} `json:"duration"`
			DurationInTraffic *struct {
				Value int64  `json:"value"`
				Text  string `json:"text"`
			} `json:"duration_in_traffic"`
			Distance struct {
				Value int64  `json:"value"`
				Text  string `json:"text"`
			} `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

func (c *Client) ComputeEta(ctx context.Context, origin, destination models.Location) (models.EtaEstimate, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return models.EtaEstimate{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/maps/api/directions/json"

	q := u.Query()
	q.Set("origin", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destination", fmt.Sprintf("%f,%f", destination.Lat, destination.Lng))
	q.Set("mode", "driving")
	q.Set("departure_time", "now")
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.EtaEstimate{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.EtaEstimate{}, errors.Wrap(models.ErrUpstreamUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return models.EtaEstimate{}, errors.Wrapf(models.ErrUpstreamUnavailable, "directions http %d", resp.StatusCode)
	}

	var r directionsResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.EtaEstimate{}, errors.Wrap(models.ErrUpstreamUnavailable, err.Error())
	}
	if r.Status != "OK" || len(r.Routes) == 0 || len(r.Routes[0].Legs) == 0 {
		return models.EtaEstimate{}, errors.Wrapf(models.ErrUpstreamUnavailable, "directions status=%s", r.Status)
	}

	leg := r.Routes[0].Legs[0]

	// С учётом пробок, если провайдер их вернул.
	etaSeconds := leg.Duration.Value
	etaText := leg.Duration.Text
	if leg.DurationInTraffic != nil {
		etaSeconds = leg.DurationInTraffic.Value
		etaText = leg.DurationInTraffic.Text
	}

	return models.EtaEstimate{
		EtaSeconds:     etaSeconds,
		EtaText:        etaText,
		DistanceMeters: leg.Distance.Value,
		DistanceText:   leg.Distance.Text,
	}, nil
}
