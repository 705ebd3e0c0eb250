package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/geo"
	"github.com/tidyzon/enroute/internal/integrations/directions"
	"github.com/tidyzon/enroute/internal/models"
)

type Config struct {
	ProximityMeters float64
	// Milestones are checked outside-in; keep them sorted descending.
	MilestoneMeters []float64
	DelaySeconds    int64
}

func DefaultConfig() Config {
	return Config{
		ProximityMeters: 500,
		MilestoneMeters: []float64{5000, 2000, 1000, 500},
		DelaySeconds:    300,
	}
}

type Repository interface {
	GetSession(ctx context.Context, trackingID string) (*models.TrackingSession, error)
	AppendHistory(ctx context.Context, e *models.HistoryEntry, milestoneMeters int64) (bool, error)
	HasThresholdFired(ctx context.Context, trackingID, status string, milestoneMeters int64) (bool, error)
	LatestEtaEntries(ctx context.Context, trackingID string, limit int) ([]*models.HistoryEntry, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Detector turns raw location reports into ETA history and at-most-once
// customer notifications. One Process call handles one report
// end-to-end; reports for the same session are serialized by a keyed
// mutex on top of the partition-per-session topic keying.
type Detector struct {
	repo     Repository
	eta      directions.Client
	producer Producer
	cfg      Config
	topic    string
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sync.Mutex

	processed  atomic.Uint64
	fired      atomic.Uint64
	etaSkipped atomic.Uint64
}

func New(repo Repository, eta directions.Client, producer Producer, cfg Config, notificationsTopic string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		repo:     repo,
		eta:      eta,
		producer: producer,
		cfg:      cfg,
		topic:    notificationsTopic,
		logger:   logger,
		sessions: map[string]*sync.Mutex{},
	}
}

type Stats struct {
	Processed  uint64 `json:"processed"`
	Fired      uint64 `json:"fired"`
	EtaSkipped uint64 `json:"eta_skipped"`
}

func (d *Detector) Stats() Stats {
	return Stats{
		Processed:  d.processed.Load(),
		Fired:      d.fired.Load(),
		EtaSkipped: d.etaSkipped.Load(),
	}
}

func (d *Detector) sessionLock(trackingID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.sessions[trackingID]
	if !ok {
		m = &sync.Mutex{}
		d.sessions[trackingID] = m
	}
	return m
}

// dropSessionLock evicts the per-session mutex once the session is
// observed ended or unknown, so the map does not grow with every
// session ever seen. A racing holder of the old mutex is harmless: the
// unique index on tracking_history backstops the dedup anyway.
func (d *Detector) dropSessionLock(trackingID string) {
	d.mu.Lock()
	delete(d.sessions, trackingID)
	d.mu.Unlock()
}

// Process handles one location report: refresh ETA, then run
// proximity, milestone and delay checks against the session history.
// A directions outage skips ETA and delay but never the distance
// checks. Returned events are the notifications actually fired.
func (d *Detector) Process(ctx context.Context, msg messages.LocationReported) ([]messages.NotificationFired, error) {
	lock := d.sessionLock(msg.TrackingID)
	lock.Lock()
	defer lock.Unlock()

	session, err := d.repo.GetSession(ctx, msg.TrackingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			d.logger.Warn("location report for unknown session", "trackingId", msg.TrackingID)
			d.dropSessionLock(msg.TrackingID)
			return nil, nil
		}
		return nil, err
	}
	if session.Status == models.SessionStatusEnded {
		d.dropSessionLock(msg.TrackingID)
		return nil, nil
	}
	if session.IsPaused {
		return nil, nil
	}

	d.processed.Add(1)
	current := models.Location{Lat: msg.Lat, Lng: msg.Lng}
	destination := session.CustomerLocation

	var fired []messages.NotificationFired

	estimate, etaOK := d.refreshEta(ctx, msg, current, destination)

	distance := geo.Distance(current.Lat, current.Lng, destination.Lat, destination.Lng)

	if ev, err := d.checkProximity(ctx, msg, distance); err != nil {
		return fired, err
	} else if ev != nil {
		fired = append(fired, *ev)
	}

	evs, err := d.checkMilestones(ctx, msg, distance)
	if err != nil {
		return fired, err
	}
	fired = append(fired, evs...)

	if etaOK {
		if ev, err := d.checkDelay(ctx, msg, estimate); err != nil {
			return fired, err
		} else if ev != nil {
			fired = append(fired, *ev)
		}
	}

	for _, ev := range fired {
		d.fired.Add(1)
		if err := d.publish(ctx, ev); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

type etaPayload struct {
	Eta                 models.EtaEstimate `json:"eta"`
	CurrentLocation     models.Location    `json:"current_location"`
	DestinationLocation models.Location    `json:"destination_location"`
	Event               string             `json:"event"`
}

// refreshEta calls directions, appends an eta_calculated entry and
// emits a live eta update for the push channel. On upstream failure it
// logs and reports !ok so delay detection is skipped for this report.
func (d *Detector) refreshEta(ctx context.Context, msg messages.LocationReported, current, destination models.Location) (models.EtaEstimate, bool) {
	estimate, err := d.eta.ComputeEta(ctx, current, destination)
	if err != nil {
		d.etaSkipped.Add(1)
		d.logger.Error("directions lookup failed, skipping eta for this report",
			"trackingId", msg.TrackingID, "error", err)
		return models.EtaEstimate{}, false
	}

	entry := &models.HistoryEntry{
		TrackingID: msg.TrackingID,
		Status:     models.HistoryEtaCalculated,
		Timestamp:  time.Now().UTC(),
		Data: mustJSON(etaPayload{
			Eta:                 estimate,
			CurrentLocation:     current,
			DestinationLocation: destination,
			Event:               "eta_updated",
		}),
		CustomerID: msg.CustomerID,
		OrderID:    msg.OrderID,
		ProviderID: msg.ProviderID,
	}
	if _, err := d.repo.AppendHistory(ctx, entry, 0); err != nil {
		d.logger.Error("append eta history", "trackingId", msg.TrackingID, "error", err)
		return models.EtaEstimate{}, false
	}

	// Живое обновление ETA уходит на websocket без in-app сообщения.
	live := messages.NotificationFired{
		Type:       models.HistoryEtaCalculated,
		TrackingID: msg.TrackingID,
		OrderID:    msg.OrderID,
		CustomerID: msg.CustomerID,
		ProviderID: msg.ProviderID,
		Data:       entry.Data,
		FiredAt:    entry.Timestamp,
	}
	if err := d.publish(ctx, live); err != nil {
		d.logger.Error("publish eta update", "trackingId", msg.TrackingID, "error", err)
	}
	return estimate, true
}

func (d *Detector) checkProximity(ctx context.Context, msg messages.LocationReported, distance float64) (*messages.NotificationFired, error) {
	if distance > d.cfg.ProximityMeters {
		return nil, nil
	}

	already, err := d.repo.HasThresholdFired(ctx, msg.TrackingID, models.HistoryProximity, 0)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, nil
	}

	text := fmt.Sprintf("Provider is within %d meters of your location", int64(distance))
	entry := &models.HistoryEntry{
		TrackingID: msg.TrackingID,
		Status:     models.HistoryProximity,
		Timestamp:  time.Now().UTC(),
		Data:       mustJSON(map[string]any{"distance_meters": distance, "notification": text}),
		CustomerID: msg.CustomerID,
		OrderID:    msg.OrderID,
		ProviderID: msg.ProviderID,
	}
	ok, err := d.repo.AppendHistory(ctx, entry, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Конкурирующий воркер успел раньше.
		return nil, nil
	}

	return &messages.NotificationFired{
		Type:         models.NotificationProximity,
		TrackingID:   msg.TrackingID,
		OrderID:      msg.OrderID,
		CustomerID:   msg.CustomerID,
		ProviderID:   msg.ProviderID,
		Notification: text,
		FiredAt:      time.Now().UTC(),
	}, nil
}

func (d *Detector) checkMilestones(ctx context.Context, msg messages.LocationReported, distance float64) ([]messages.NotificationFired, error) {
	var out []messages.NotificationFired
	for _, m := range d.cfg.MilestoneMeters {
		if distance > m {
			continue
		}

		meters := int64(m)
		already, err := d.repo.HasThresholdFired(ctx, msg.TrackingID, models.HistoryMilestone, meters)
		if err != nil {
			return out, err
		}
		if already {
			continue
		}

		text := fmt.Sprintf("Provider is within %d meters of your location", meters)
		entry := &models.HistoryEntry{
			TrackingID: msg.TrackingID,
			Status:     models.HistoryMilestone,
			Timestamp:  time.Now().UTC(),
			Data:       mustJSON(map[string]any{"milestone_meters": meters, "distance_meters": distance, "notification": text}),
			CustomerID: msg.CustomerID,
			OrderID:    msg.OrderID,
			ProviderID: msg.ProviderID,
		}
		ok, err := d.repo.AppendHistory(ctx, entry, meters)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}

		out = append(out, messages.NotificationFired{
			Type:            models.NotificationMilestone,
			TrackingID:      msg.TrackingID,
			OrderID:         msg.OrderID,
			CustomerID:      msg.CustomerID,
			ProviderID:      msg.ProviderID,
			Notification:    text,
			MilestoneMeters: meters,
			FiredAt:         time.Now().UTC(),
		})
	}
	return out, nil
}

type delayPayload struct {
	PreviousEtaSeconds int64 `json:"previous_eta_seconds"`
	CurrentEtaSeconds  int64 `json:"current_eta_seconds"`
	DeltaSeconds       int64 `json:"delta_seconds"`
}

// checkDelay diffs the fresh estimate against the previous
// eta_calculated entry. The fresh entry is already appended, so the
// previous one is index 1 of the newest-first listing.
func (d *Detector) checkDelay(ctx context.Context, msg messages.LocationReported, estimate models.EtaEstimate) (*messages.NotificationFired, error) {
	entries, err := d.repo.LatestEtaEntries(ctx, msg.TrackingID, 2)
	if err != nil {
		return nil, err
	}
	if len(entries) < 2 {
		return nil, nil
	}

	var prev etaPayload
	if err := json.Unmarshal(entries[1].Data, &prev); err != nil {
		d.logger.Warn("unreadable eta payload in history", "trackingId", msg.TrackingID, "id", entries[1].ID)
		return nil, nil
	}

	delta := estimate.EtaSeconds - prev.Eta.EtaSeconds
	if delta < d.cfg.DelaySeconds {
		return nil, nil
	}

	minutes := delta / 60
	text := fmt.Sprintf("ETA has increased by %d minutes", minutes)
	entry := &models.HistoryEntry{
		TrackingID: msg.TrackingID,
		Status:     models.HistoryDelay,
		Timestamp:  time.Now().UTC(),
		Data: mustJSON(delayPayload{
			PreviousEtaSeconds: prev.Eta.EtaSeconds,
			CurrentEtaSeconds:  estimate.EtaSeconds,
			DeltaSeconds:       delta,
		}),
		CustomerID: msg.CustomerID,
		OrderID:    msg.OrderID,
		ProviderID: msg.ProviderID,
	}
	if _, err := d.repo.AppendHistory(ctx, entry, 0); err != nil {
		return nil, err
	}

	return &messages.NotificationFired{
		Type:         models.NotificationDelay,
		TrackingID:   msg.TrackingID,
		OrderID:      msg.OrderID,
		CustomerID:   msg.CustomerID,
		ProviderID:   msg.ProviderID,
		Notification: text,
		FiredAt:      time.Now().UTC(),
	}, nil
}

func (d *Detector) publish(ctx context.Context, ev messages.NotificationFired) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return d.producer.Publish(ctx, d.topic, []byte(ev.TrackingID), b)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
