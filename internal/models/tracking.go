package models

import "time"

// Статусы сессии сопровождения.
const (
	SessionStatusInitializing = "initializing"
	SessionStatusActive       = "active"
	SessionStatusPaused       = "paused"
	SessionStatusEnded        = "ended"
)

// Типы записей в tracking_history.
const (
	HistoryInitialized   = "initialized"
	HistoryEtaCalculated = "eta_calculated"
	HistoryDelay         = "delay"
	HistoryMilestone     = "milestone"
	HistoryProximity     = "proximity"
	HistoryStatusChange  = "status_change"
)

// Location is a point report from a provider's device. ObservedAt is the
// device-side timestamp; ordering decisions are made against history
// timestamps, not against it.
type Location struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ObservedAt time.Time `json:"observedAt,omitempty"`
}

func (l Location) Valid() bool {
	if l.Lat == 0 && l.Lng == 0 {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// TrackingSession — одна сессия "исполнитель едет к клиенту" на заказ.
type TrackingSession struct {
	TrackingID string
	OrderID    string
	ProviderID string
	CustomerID string

	Status   string
	IsPaused bool

	// ProviderLocation is the last reported provider position.
	// CustomerLocation is the fixed destination, immutable after creation.
	ProviderLocation Location
	CustomerLocation Location

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is append-only: one row per notable event on a session.
// It doubles as the audit trail and as the "previous value" source for
// the detector (e.g. the prior eta_calculated entry).
type HistoryEntry struct {
	ID         uint64
	TrackingID string
	Status     string
	Timestamp  time.Time
	Data       []byte // event-specific JSON payload

	CustomerID string
	OrderID    string
	ProviderID string
}

// EtaEstimate is the normalized result of one directions lookup.
type EtaEstimate struct {
	EtaSeconds     int64  `json:"eta_seconds"`
	EtaText        string `json:"eta_text"`
	DistanceMeters int64  `json:"distance_meters"`
	DistanceText   string `json:"distance_text"`
}

// Типы клиентских уведомлений.
const (
	NotificationProximity = "proximity"
	NotificationMilestone = "milestone"
	NotificationDelay     = "delay"
	NotificationEmergency = "emergency_alert"
)

// NotificationEvent is a fired detector (or emergency) event on its way
// to the dispatcher. MessageID is set once the in-app row is persisted.
type NotificationEvent struct {
	Type       string
	TrackingID string
	OrderID    string
	CustomerID string
	ProviderID string

	Message string
	Status  string

	// Milestone threshold in meters, for milestone events only.
	MilestoneMeters int64

	MessageID uint64
}

// InAppMessage rows are shared with the chat subsystem; tracking only
// appends rows whose SenderID is the system sender.
type InAppMessage struct {
	MessageID  uint64
	OrderID    string
	SenderID   string
	ReceiverID string
	ThreadID   string
	Text       string

	TimeRequested time.Time
	TimeSent      *time.Time
	TimeReceived  *time.Time
}

const AlertStatusOpen = "open"

type EmergencyAlert struct {
	AlertID     string
	ProviderID  string
	OrderID     *string
	AlertType   string
	Description string
	Location    Location
	Status      string
	CreatedAt   time.Time
}

// PushConnection is one registered live channel for a user.
type PushConnection struct {
	ConnectionID string
	UserID       string
	Active       bool
	ConnectedAt  time.Time
}

// User is the minimal read-model of the profile subsystem needed for
// notification fan-out. The profile service owns the authoritative copy.
type User struct {
	UserID    string
	FirstName string
	Phone     string
	Email     string
	Role      string
	IsActive  bool
}

const (
	RoleAdmin = "admin"

	// SystemSenderID tags in-app rows produced by tracking, not humans.
	SystemSenderID = "system"
)
