// Package api exposes the guidance core over a small JSON control API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/assist"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/locations"
	"github.com/vista/nav-gateway/internal/navigation"
	"github.com/vista/nav-gateway/internal/routing"
)

const maxBodyBytes = 1 << 20

// Navigator is the part of the assistant the API drives.
type Navigator interface {
	StartNavigation(ctx context.Context, origin, destination routing.Coordinate) error
	StopNavigation(ctx context.Context) error
	ProcessFrame(ctx context.Context, f detection.Frame) []detection.Detection
	Status() assist.Status
}

// LocationStore resolves and edits saved locations.
type LocationStore interface {
	Add(ctx context.Context, name string, coord routing.Coordinate, description string) (locations.Location, error)
	Get(ctx context.Context, name string) (locations.Location, error)
	List(ctx context.Context) []locations.Location
	Delete(ctx context.Context, name string) error
}

// Handler serves the control API.
type Handler struct {
	nav    Navigator
	store  LocationStore
	logger zerolog.Logger
}

// NewHandler creates a handler. store may be nil, in which case only
// coordinate-based navigation is available.
func NewHandler(nav Navigator, store LocationStore, logger zerolog.Logger) *Handler {
	return &Handler{nav: nav, store: store, logger: logger}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/navigation/start", h.startNavigation)
	mux.HandleFunc("POST /api/navigation/stop", h.stopNavigation)
	mux.HandleFunc("GET /api/locations", h.listLocations)
	mux.HandleFunc("POST /api/locations/add", h.addLocation)
	mux.HandleFunc("DELETE /api/locations/{name}", h.deleteLocation)
	mux.HandleFunc("POST /api/frames", h.processFrame)
	mux.HandleFunc("GET /api/status", h.status)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type startRequest struct {
	// Saved location names.
	Start       string `json:"start"`
	Destination string `json:"destination"`

	// Raw coordinates take precedence over names.
	Origin *routing.Coordinate `json:"origin,omitempty"`
	Target *routing.Coordinate `json:"target,omitempty"`
}

func (h *Handler) startNavigation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, err.Error())
		return
	}

	origin, originLabel, err := h.resolve(r.Context(), req.Origin, req.Start, "Start location")
	if err != nil {
		h.writeResolveError(w, err)
		return
	}
	destination, destLabel, err := h.resolve(r.Context(), req.Target, req.Destination, "Destination")
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	err = h.nav.StartNavigation(speechContext(r), origin, destination)
	switch {
	case err == nil:
		writeEnvelope(w, http.StatusOK, true,
			fmt.Sprintf("Navigation started from %s to %s with obstacle detection", originLabel, destLabel))
	case errors.Is(err, assist.ErrNavigationActive):
		writeEnvelope(w, http.StatusConflict, false, "Navigation is already active")
	case errors.Is(err, navigation.ErrRouteUnavailable):
		writeEnvelope(w, http.StatusBadGateway, false, "Failed to start navigation - could not calculate route")
	case errors.Is(err, routing.ErrInvalidCoordinate):
		writeEnvelope(w, http.StatusBadRequest, false, err.Error())
	case errors.Is(err, assist.ErrClosed):
		writeEnvelope(w, http.StatusServiceUnavailable, false, "Service is shutting down")
	default:
		h.logger.Error().Err(err).Msg("Navigation start failed")
		writeEnvelope(w, http.StatusInternalServerError, false, fmt.Sprintf("Navigation error: %v", err))
	}
}

type resolveError struct {
	status  int
	message string
}

func (e *resolveError) Error() string { return e.message }

// resolve picks the coordinate for one end of a trip, either given directly
// or looked up by saved name.
func (h *Handler) resolve(ctx context.Context, coord *routing.Coordinate, name, what string) (routing.Coordinate, string, error) {
	if coord != nil {
		if !coord.Valid() {
			return routing.Coordinate{}, "", &resolveError{http.StatusBadRequest, fmt.Sprintf("%s coordinate %s is invalid", what, coord)}
		}
		return *coord, coord.String(), nil
	}
	if name == "" {
		return routing.Coordinate{}, "", &resolveError{http.StatusBadRequest, "Both start location and destination are required"}
	}
	if h.store == nil {
		return routing.Coordinate{}, "", &resolveError{http.StatusBadRequest, "Saved locations are not available"}
	}

	loc, err := h.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, locations.ErrNotFound) || errors.Is(err, locations.ErrInvalidName) {
			return routing.Coordinate{}, "", &resolveError{http.StatusNotFound, fmt.Sprintf("%s %q not found in saved locations", what, name)}
		}
		return routing.Coordinate{}, "", err
	}
	return loc.Coordinate(), name, nil
}

func (h *Handler) writeResolveError(w http.ResponseWriter, err error) {
	var re *resolveError
	if errors.As(err, &re) {
		writeEnvelope(w, re.status, false, re.message)
		return
	}
	h.logger.Error().Err(err).Msg("Location lookup failed")
	writeEnvelope(w, http.StatusInternalServerError, false, err.Error())
}

func (h *Handler) stopNavigation(w http.ResponseWriter, r *http.Request) {
	if err := h.nav.StopNavigation(speechContext(r)); err != nil {
		if errors.Is(err, assist.ErrNavigationInactive) {
			writeEnvelope(w, http.StatusConflict, false, "Navigation is not currently active")
			return
		}
		h.logger.Error().Err(err).Msg("Navigation stop failed")
		writeEnvelope(w, http.StatusInternalServerError, false, fmt.Sprintf("Error stopping navigation: %v", err))
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Navigation stopped successfully")
}

type locationView struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	SavedAt     time.Time `json:"saved_at"`
}

type locationsResponse struct {
	Success   bool           `json:"success"`
	Locations []locationView `json:"locations"`
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	resp := locationsResponse{Success: true, Locations: []locationView{}}
	if h.store != nil {
		for _, loc := range h.store.List(r.Context()) {
			resp.Locations = append(resp.Locations, locationView{
				Name:        loc.Key,
				Description: loc.Description,
				Lat:         loc.Lat,
				Lon:         loc.Lon,
				SavedAt:     loc.SavedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type addLocationRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

func (h *Handler) addLocation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, false, "Saved locations are not available")
		return
	}

	var req addLocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, err.Error())
		return
	}
	if req.Name == "" || req.Lat == nil || req.Lon == nil {
		writeEnvelope(w, http.StatusBadRequest, false, "Name, latitude, and longitude are required")
		return
	}

	coord := routing.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
	if _, err := h.store.Add(r.Context(), req.Name, coord, req.Description); err != nil {
		switch {
		case errors.Is(err, locations.ErrInvalidName), errors.Is(err, routing.ErrInvalidCoordinate):
			writeEnvelope(w, http.StatusBadRequest, false, err.Error())
		default:
			h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to save location")
			writeEnvelope(w, http.StatusInternalServerError, false, fmt.Sprintf("Error adding location: %v", err))
		}
		return
	}
	writeEnvelope(w, http.StatusOK, true, fmt.Sprintf("Location %q added successfully", req.Name))
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, false, "Saved locations are not available")
		return
	}

	name := r.PathValue("name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		if errors.Is(err, locations.ErrNotFound) {
			writeEnvelope(w, http.StatusNotFound, false, fmt.Sprintf("Location %q not found", name))
			return
		}
		h.logger.Error().Err(err).Str("name", name).Msg("Failed to delete location")
		writeEnvelope(w, http.StatusInternalServerError, false, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, true, fmt.Sprintf("Location %q deleted", name))
}

type framesResponse struct {
	Success    bool                  `json:"success"`
	Detections []detection.Detection `json:"detections"`
}

// processFrame runs one frame synchronously, for clients that poll instead
// of streaming.
func (h *Handler) processFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, "Failed to read request body")
		return
	}
	f, err := detection.DecodeFrame(body)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, err.Error())
		return
	}

	dets := h.nav.ProcessFrame(speechContext(r), f)
	if dets == nil {
		dets = []detection.Detection{}
	}
	writeJSON(w, http.StatusOK, framesResponse{Success: true, Detections: dets})
}

type statusResponse struct {
	assist.Status
	NavigationActive bool   `json:"navigation_active"`
	Message          string `json:"message"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.nav.Status()
	state := "inactive"
	if st.Navigating {
		state = "active"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           st,
		NavigationActive: st.Navigating,
		Message:          "Navigation: " + state,
	})
}

// speechContext keeps the request's values but not its cancellation. An
// utterance is recorded before it plays, so cutting it short when a client
// disconnects would silence it for as long as it repeats.
func speechContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeEnvelope(w http.ResponseWriter, code int, success bool, message string) {
	writeJSON(w, code, envelope{Success: success, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
