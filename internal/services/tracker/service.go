package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/cache"
	"github.com/tidyzon/enroute/internal/models"
	"github.com/tidyzon/enroute/internal/storage/pgtracking"
)

type Repository interface {
	CreateSession(ctx context.Context, in pgtracking.SessionCreateInput) (*models.TrackingSession, error)
	GetSession(ctx context.Context, trackingID string) (*models.TrackingSession, error)
	GetSessionByOrder(ctx context.Context, orderID string) (*models.TrackingSession, error)
	SetPaused(ctx context.Context, trackingID string, paused bool) (*models.TrackingSession, error)
	UpdateProviderLocation(ctx context.Context, trackingID string, loc models.Location) error
	EndSession(ctx context.Context, trackingID, completedBy string) error
	ListHistory(ctx context.Context, trackingID string, limit int) ([]*models.HistoryEntry, error)
	CustomerDestination(ctx context.Context, userID string) (models.Location, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Service owns the session lifecycle and the location ingestion gateway.
// The ingestion path is deliberately cheap: no outbound network calls,
// all slow work (directions, notification delivery) is queued for the
// worker.
type Service struct {
	repo     Repository
	cache    cache.BytesCache
	producer Producer
	rl       RateLimiter

	locationTopic      string
	notificationsTopic string
	snapshotTTL        time.Duration
	reportsPerMinute   int64
}

func New(repo Repository, c cache.BytesCache, producer Producer, rl RateLimiter, locationTopic, notificationsTopic string) *Service {
	return &Service{
		repo:               repo,
		cache:              c,
		producer:           producer,
		rl:                 rl,
		locationTopic:      locationTopic,
		notificationsTopic: notificationsTopic,
		snapshotTTL:        time.Minute,
		reportsPerMinute:   60,
	}
}

func (s *Service) WithSettings(snapshotTTL time.Duration, reportsPerMinute int64) *Service {
	if snapshotTTL > 0 {
		s.snapshotTTL = snapshotTTL
	}
	if reportsPerMinute > 0 {
		s.reportsPerMinute = reportsPerMinute
	}
	return s
}

type InitializeInput struct {
	ProviderID string
	CustomerID string
	OrderID    string
	Location   models.Location
}

// Initialize creates the session. The customer's destination is read
// from the profile read-model once and frozen on the session.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*models.TrackingSession, error) {
	if in.ProviderID == "" || in.CustomerID == "" || in.OrderID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "providerId, customerId and orderId are required")
	}
	if !in.Location.Valid() {
		return nil, errors.Wrap(models.ErrInvalidInput, "initial location is missing or malformed")
	}

	destination, err := s.repo.CustomerDestination(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.CreateSession(ctx, pgtracking.SessionCreateInput{
		TrackingID:       uuid.NewString(),
		OrderID:          in.OrderID,
		ProviderID:       in.ProviderID,
		CustomerID:       in.CustomerID,
		ProviderLocation: in.Location,
		CustomerLocation: destination,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshot(ctx, in.OrderID)
	return session, nil
}

type ReportInput struct {
	TrackingID string
	ProviderID string
	Location   models.Location
}

type ReportResult struct {
	// Paused reports the expected, non-exceptional case: the session is
	// paused and the update was dropped by policy.
	Paused bool
	// Throttled reports that the per-session rate cap dropped the
	// update before it touched storage.
	Throttled bool
}

// ReportLocation is the ingestion gateway. Paused sessions return a
// paused result, not an error: providers keep sending periodic reports
// regardless of pause state.
func (s *Service) ReportLocation(ctx context.Context, in ReportInput) (ReportResult, error) {
	if in.TrackingID == "" || in.ProviderID == "" {
		return ReportResult{}, errors.Wrap(models.ErrInvalidInput, "trackingId and providerId are required")
	}
	if !in.Location.Valid() {
		return ReportResult{}, errors.Wrap(models.ErrInvalidInput, "location is missing or malformed")
	}

	if s.rl != nil && s.reportsPerMinute > 0 {
		key := fmt.Sprintf("rl:session:%s:%s", in.TrackingID, time.Now().UTC().Format("200601021504"))
		allowed, _, err := s.rl.Allow(ctx, key, s.reportsPerMinute, 70*time.Second)
		if err == nil && !allowed {
			return ReportResult{Throttled: true}, nil
		}
		// Недоступный rate limiter не роняет приём координат.
	}

	session, err := s.repo.GetSession(ctx, in.TrackingID)
	if err != nil {
		return ReportResult{}, err
	}
	if session.ProviderID != in.ProviderID {
		return ReportResult{}, errors.Wrapf(models.ErrInvalidInput, "provider %s does not own session %s", in.ProviderID, in.TrackingID)
	}
	if session.Status == models.SessionStatusEnded {
		return ReportResult{}, errors.Wrapf(models.ErrConflict, "session %s already ended", in.TrackingID)
	}
	if session.IsPaused {
		return ReportResult{Paused: true}, nil
	}

	if err := s.repo.UpdateProviderLocation(ctx, in.TrackingID, in.Location); err != nil {
		return ReportResult{}, err
	}
	s.invalidateSnapshot(ctx, session.OrderID)

	msg := messages.LocationReported{
		TrackingID: session.TrackingID,
		OrderID:    session.OrderID,
		ProviderID: session.ProviderID,
		CustomerID: session.CustomerID,
		Lat:        in.Location.Lat,
		Lng:        in.Location.Lng,
		ObservedAt: in.Location.ObservedAt,
		ReportedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return ReportResult{}, errors.Wrap(err, "marshal location message")
	}
	if err := s.producer.Publish(ctx, s.locationTopic, []byte(session.TrackingID), b); err != nil {
		return ReportResult{}, err
	}

	return ReportResult{}, nil
}

const (
	ActionPause  = "pause"
	ActionResume = "resume"
)

// PauseResume flips the pause flag. Both directions are idempotent.
// An empty providerID skips the ownership check.
func (s *Service) PauseResume(ctx context.Context, trackingID, providerID, action string) (*models.TrackingSession, error) {
	if trackingID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "trackingId is required")
	}
	if action != ActionPause && action != ActionResume {
		return nil, errors.Wrapf(models.ErrInvalidInput, "action must be %q or %q", ActionPause, ActionResume)
	}
	if providerID != "" {
		current, err := s.repo.GetSession(ctx, trackingID)
		if err != nil {
			return nil, err
		}
		if current.ProviderID != providerID {
			return nil, errors.Wrapf(models.ErrInvalidInput, "session %s does not belong to provider %s", trackingID, providerID)
		}
	}

	session, err := s.repo.SetPaused(ctx, trackingID, action == ActionPause)
	if err != nil {
		return nil, err
	}
	s.invalidateSnapshot(ctx, session.OrderID)
	return session, nil
}

// End terminates the session and pushes a completion notice to the
// customer. The notice is best-effort; the status change itself is
// already committed.
func (s *Service) End(ctx context.Context, trackingID, providerID, completedBy string) error {
	if trackingID == "" || completedBy == "" {
		return errors.Wrap(models.ErrInvalidInput, "trackingId and completedBy are required")
	}

	session, err := s.repo.GetSession(ctx, trackingID)
	if err != nil {
		return err
	}
	if providerID != "" && session.ProviderID != providerID {
		return errors.Wrapf(models.ErrInvalidInput, "session %s does not belong to provider %s", trackingID, providerID)
	}

	if err := s.repo.EndSession(ctx, trackingID, completedBy); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, session.OrderID)

	ev := messages.NotificationFired{
		Type:         models.HistoryStatusChange,
		TrackingID:   session.TrackingID,
		OrderID:      session.OrderID,
		CustomerID:   session.CustomerID,
		ProviderID:   session.ProviderID,
		Notification: "Your service has been completed",
		Status:       models.SessionStatusEnded,
		FiredAt:      time.Now().UTC(),
	}
	if b, err := json.Marshal(ev); err == nil {
		_ = s.producer.Publish(ctx, s.notificationsTopic, []byte(session.TrackingID), b)
	}

	return nil
}

type Snapshot struct {
	Session *models.TrackingSession `json:"session"`
	History []*models.HistoryEntry  `json:"history"`
}

// Snapshot returns the current session plus recent history for an
// order, cached best-effort in Redis.
func (s *Service) Snapshot(ctx context.Context, orderID string, historyLimit int) (*Snapshot, error) {
	if orderID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "orderId is required")
	}

	key := snapshotKey(orderID)
	if s.cache != nil && s.snapshotTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var snap Snapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	session, err := s.repo.GetSessionByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, session.TrackingID, historyLimit)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Session: session, History: history}
	if s.cache != nil && s.snapshotTTL > 0 {
		if b, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(ctx, key, b, s.snapshotTTL)
		}
	}
	return snap, nil
}

func (s *Service) invalidateSnapshot(ctx context.Context, orderID string) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, snapshotKey(orderID))
	}
}

func snapshotKey(orderID string) string {
	return fmt.Sprintf("tracking:order:%s:snapshot", orderID)
}
