package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/catalog"
	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/models"
	"github.com/neurotunes/sequencer/profile"
	"github.com/neurotunes/sequencer/session"
)

const (
	MaxTrackIDLength = 255
	MaxInputLength   = 1000
)

// Recommendation constants
const (
	DefaultRecommendationSize = 20
	MaxRecommendationSize     = 500
)

// ASCII control character constants
const (
	ASCIIControlCharMin = 32
	ASCIIControlCharMax = 127
)

type Handler struct {
	logger     *logrus.Logger
	controller *session.Controller
	catalog    *catalog.Catalog
	profile    *profile.Profile
}

func New(logger *logrus.Logger, controller *session.Controller, cat *catalog.Catalog, prof *profile.Profile) *Handler {
	return &Handler{
		logger:     logger,
		controller: controller,
		catalog:    cat,
		profile:    prof,
	}
}

// SanitizeForLogging removes control characters and limits length to prevent log injection
func SanitizeForLogging(input string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r < ASCIIControlCharMin || r == ASCIIControlCharMax {
			return -1
		}
		return r
	}, input)

	if len(sanitized) > MaxInputLength {
		sanitized = sanitized[:MaxInputLength] + "..."
	}

	return sanitized
}

// ValidateTrackID validates track ID format and length
func ValidateTrackID(trackID string) error {
	if len(trackID) == 0 {
		return errors.ErrMissingParameter.WithContext("parameter", "trackId")
	}
	if len(trackID) > MaxTrackIDLength {
		return errors.ErrInvalidInput.WithContext("field", "trackId").WithContext("length", len(trackID))
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

type sessionResponse struct {
	ID        string        `json:"id"`
	Goal      string        `json:"goal"`
	Current   *models.Track `json:"current,omitempty"`
	Blocked   []string      `json:"blocked"`
	Favorites []string      `json:"favorites"`
}

func sessionView(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Goal:      s.Goal.Name,
		Current:   s.Current(),
		Blocked:   s.Blocked(),
		Favorites: s.Favorites(),
	}
}

// HandleCreateSession starts a session for one of the fixed goal presets.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.controller.Start(req.Goal)
	if err != nil {
		h.logger.WithError(err).WithField("goal", SanitizeForLogging(req.Goal)).Warn("Session start rejected")
		h.writeError(w, http.StatusBadRequest, "unknown goal preset")
		return
	}

	h.writeJSON(w, http.StatusCreated, sessionView(s))
}

// HandleGetSession returns the session state.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.writeJSON(w, http.StatusOK, sessionView(s))
}

// HandleEndSession destroys the session.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.End(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdvance picks the next track and returns it with the transition
// plan. An empty result (no eligible candidate) is a 200 with a null track;
// the caller decides how to degrade.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	result, err := h.controller.Advance(sessionID)
	if err != nil {
		switch errors.GetErrorCode(err) {
		case "SESSION_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "session not found")
		case "ADVANCE_SUPERSEDED":
			h.writeError(w, http.StatusConflict, "advance superseded by a newer request")
		default:
			h.logger.WithError(err).WithField("sessionId", SanitizeForLogging(sessionID)).Error("Advance failed")
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type trackRequest struct {
	TrackID string `json:"trackId"`
}

// HandleBlock blocks a track for the session's lifetime. Blocking the
// current track forces an advance whose result is returned.
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateTrackID(req.TrackID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trackId")
		return
	}

	result, err := h.controller.Block(sessionID, req.TrackID)
	if err != nil {
		switch errors.GetErrorCode(err) {
		case "SESSION_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "session not found")
		case "ADVANCE_SUPERSEDED":
			h.writeError(w, http.StatusConflict, "advance superseded by a newer request")
		default:
			h.logger.WithError(err).Error("Block failed")
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleFavorite marks a track as favorited within the session.
func (h *Handler) HandleFavorite(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateTrackID(req.TrackID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trackId")
		return
	}

	if err := h.controller.Favorite(sessionID, req.TrackID); err != nil {
		switch errors.GetErrorCode(err) {
		case "SESSION_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "session not found")
		case "TRACK_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "track not found")
		default:
			h.logger.WithError(err).Error("Favorite failed")
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleQueue appends a track to the session's explicit upcoming queue.
func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateTrackID(req.TrackID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trackId")
		return
	}

	if err := h.controller.Queue(sessionID, req.TrackID); err != nil {
		switch errors.GetErrorCode(err) {
		case "SESSION_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "session not found")
		case "TRACK_NOT_FOUND":
			h.writeError(w, http.StatusNotFound, "track not found")
		default:
			h.logger.WithError(err).Error("Queue failed")
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleEvent ingests an engagement event from the playback surface.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event models.EngagementEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateTrackID(event.TrackID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trackId")
		return
	}
	if !models.ValidAction(event.Action) {
		h.writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Unknown tracks still advance history and time-slot state.
	track, _ := h.catalog.ByID(event.TrackID)
	h.profile.RecordEvent(event, track)

	w.WriteHeader(http.StatusAccepted)
}

// HandleGenreMismatch accepts a genre-mismatch report from the playback
// surface. The report is logged for curation but not consumed by scoring.
func (h *Handler) HandleGenreMismatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID       string `json:"trackId"`
		ReportedGenre string `json:"reportedGenre"`
		ExpectedGenre string `json:"expectedGenre"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateTrackID(req.TrackID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trackId")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"trackId":       SanitizeForLogging(req.TrackID),
		"reportedGenre": SanitizeForLogging(req.ReportedGenre),
		"expectedGenre": SanitizeForLogging(req.ExpectedGenre),
	}).Info("Genre mismatch reported")

	w.WriteHeader(http.StatusAccepted)
}

// HandleRecommendations serves the general-purpose discovery queue ranked by
// the personalization score. This path is separate from session sequencing.
func (h *Handler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	var reference *models.Track
	if refID := r.URL.Query().Get("trackId"); refID != "" {
		track, ok := h.catalog.ByID(refID)
		if !ok {
			h.writeError(w, http.StatusNotFound, "track not found")
			return
		}
		reference = track
	}

	limit := DefaultRecommendationSize
	if sizeStr := r.URL.Query().Get("limit"); sizeStr != "" {
		parsed, err := strconv.Atoi(sizeStr)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if parsed > MaxRecommendationSize {
			h.writeError(w, http.StatusBadRequest, "limit parameter too large")
			return
		}
		limit = parsed
	}

	now := time.Now()
	ranked := make([]models.WeightedTrack, 0, h.catalog.Size())
	for _, track := range h.catalog.Tracks() {
		if reference != nil && track.ID == reference.ID {
			continue
		}
		ranked = append(ranked, models.WeightedTrack{
			Track: track,
			Score: h.profile.DiscoveryScore(track, reference, now),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"recommendations": ranked})
}

// HandleHealth reports liveness and catalog size.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tracks": h.catalog.Size(),
	})
}
