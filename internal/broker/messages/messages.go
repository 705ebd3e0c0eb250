// Package messages defines the Kafka envelopes exchanged between
// track-api and track-worker. Every envelope carries the full context
// the consumer needs, so no extra database round trip is required to
// act on one.
package messages

import (
	"encoding/json"
	"time"
)

// LocationReported goes to the location topic after a provider report is
// persisted. The worker refreshes the ETA and runs detection on it.
type LocationReported struct {
	TrackingID string  `json:"tracking_id"`
	OrderID    string  `json:"order_id"`
	ProviderID string  `json:"provider_id"`
	CustomerID string  `json:"customer_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`

	ObservedAt time.Time `json:"observed_at,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// NotificationFired goes to the notifications topic when the detector or
// the emergency path produces a customer-visible event. track-api owns
// the push hub, so it consumes these and runs the dispatcher.
type NotificationFired struct {
	Type       string `json:"type"`
	TrackingID string `json:"tracking_id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	ProviderID string `json:"provider_id"`

	Notification string `json:"notification"`
	Status       string `json:"status"`

	// MessageID is set when the producer already persisted the in-app
	// message; the dispatcher then pushes without persisting again.
	MessageID uint64 `json:"message_id,omitempty"`

	MilestoneMeters int64 `json:"milestone,omitempty"`

	// Data carries the event-specific payload for non-message events,
	// e.g. the fresh ETA for live tracking updates.
	Data json.RawMessage `json:"data,omitempty"`

	FiredAt time.Time `json:"fired_at"`
}

// EmergencyRaised goes to the emergency topic after the alert row is
// durably persisted. The worker performs the multi-party fan-out.
type EmergencyRaised struct {
	AlertID     string  `json:"alert_id"`
	ProviderID  string  `json:"provider_id"`
	OrderID     *string `json:"order_id,omitempty"`
	AlertType   string  `json:"alert_type"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`

	RaisedAt time.Time `json:"raised_at"`
}
