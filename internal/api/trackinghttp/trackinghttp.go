// Package trackinghttp is the REST surface of the tracking subsystem.
// Handlers stay thin: decode, call the service, map the error taxonomy
// to a status code.
package trackinghttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
	"github.com/tidyzon/enroute/internal/services/alerts"
	"github.com/tidyzon/enroute/internal/services/tracker"
)

type API struct {
	tracker *tracker.Service
	alerts  *alerts.Service
	logger  *slog.Logger
}

func New(trackerSvc *tracker.Service, alertsSvc *alerts.Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{tracker: trackerSvc, alerts: alertsSvc, logger: logger}
}

func (a *API) Routes(r chi.Router) {
	r.Post("/tracking/initialize", a.initialize)
	r.Post("/tracking/location", a.reportLocation)
	r.Post("/tracking/pauseResume", a.pauseResume)
	r.Post("/tracking/end", a.end)
	r.Post("/tracking/emergency", a.emergency)
	r.Get("/tracking/{orderId}", a.snapshot)
}

type locationBody struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
}

func (b locationBody) toModel() models.Location {
	loc := models.Location{Lat: b.Lat, Lng: b.Lng}
	if b.ObservedAt != nil {
		loc.ObservedAt = b.ObservedAt.UTC()
	}
	return loc
}

type sessionResponse struct {
	TrackingID string  `json:"trackingId"`
	OrderID    string  `json:"orderId"`
	ProviderID string  `json:"providerId"`
	CustomerID string  `json:"customerId"`
	Status     string  `json:"status"`
	IsPaused   bool    `json:"isPaused"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

func toSessionResponse(s *models.TrackingSession) sessionResponse {
	return sessionResponse{
		TrackingID: s.TrackingID,
		OrderID:    s.OrderID,
		ProviderID: s.ProviderID,
		CustomerID: s.CustomerID,
		Status:     s.Status,
		IsPaused:   s.IsPaused,
		Lat:        s.ProviderLocation.Lat,
		Lng:        s.ProviderLocation.Lng,
	}
}

func (a *API) initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string       `json:"providerId"`
		CustomerID string       `json:"customerId"`
		OrderID    string       `json:"orderId"`
		Location   locationBody `json:"location"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	session, err := a.tracker.Initialize(r.Context(), tracker.InitializeInput{
		ProviderID: req.ProviderID,
		CustomerID: req.CustomerID,
		OrderID:    req.OrderID,
		Location:   req.Location.toModel(),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (a *API) reportLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingID string       `json:"trackingId"`
		ProviderID string       `json:"providerId"`
		Location   locationBody `json:"location"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	res, err := a.tracker.ReportLocation(r.Context(), tracker.ReportInput{
		TrackingID: req.TrackingID,
		ProviderID: req.ProviderID,
		Location:   req.Location.toModel(),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res.Throttled {
		a.writeJSON(w, http.StatusTooManyRequests, map[string]any{"accepted": false, "throttled": true})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"accepted": !res.Paused, "paused": res.Paused})
}

func (a *API) pauseResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingID string `json:"trackingId"`
		ProviderID string `json:"providerId"`
		Action     string `json:"action"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	session, err := a.tracker.PauseResume(r.Context(), req.TrackingID, req.ProviderID, req.Action)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) end(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingID  string `json:"trackingId"`
		ProviderID  string `json:"providerId"`
		CompletedBy string `json:"completedBy"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.CompletedBy == "" {
		req.CompletedBy = req.ProviderID
	}

	if err := a.tracker.End(r.Context(), req.TrackingID, req.ProviderID, req.CompletedBy); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"status": models.SessionStatusEnded})
}

func (a *API) emergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID  string       `json:"providerId"`
		OrderID     *string      `json:"orderId,omitempty"`
		AlertType   string       `json:"alertType,omitempty"`
		Description string       `json:"description,omitempty"`
		Location    locationBody `json:"location"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	alertID, err := a.alerts.Raise(r.Context(), alerts.RaiseInput{
		ProviderID:  req.ProviderID,
		OrderID:     req.OrderID,
		AlertType:   req.AlertType,
		Description: req.Description,
		Location:    req.Location.toModel(),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"alertId": alertID, "status": models.AlertStatusOpen})
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	snap, err := a.tracker.Snapshot(r.Context(), orderID, 50)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	history := make([]map[string]any, 0, len(snap.History))
	for _, e := range snap.History {
		item := map[string]any{
			"status":    e.Status,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		}
		if len(e.Data) > 0 {
			item["data"] = json.RawMessage(e.Data)
		}
		history = append(history, item)
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"session": toSessionResponse(snap.Session),
		"history": history,
	})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed json body"})
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, models.ErrUpstreamUnavailable):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	a.writeJSON(w, code, map[string]any{"error": err.Error()})
}
