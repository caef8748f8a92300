// Package session implements the sequencing controller: it owns listening
// sessions, builds candidate pools from the catalog snapshot, and ranks
// candidates with the composite of harmonic, target-state and novelty scores.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/camelot"
	"github.com/neurotunes/sequencer/catalog"
	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/models"
	"github.com/neurotunes/sequencer/scoring"
	"github.com/neurotunes/sequencer/transition"
)

// Composite weights. First pick has no predecessor so harmonic scoring is
// skipped; the fallback ignores harmonic fit entirely. Weights are used as
// configured and are not normalized to sum to 1.
const (
	FirstPickTargetWeight  = 0.7
	FirstPickNoveltyWeight = 0.3
	AdvanceTargetWeight    = 0.4
	FallbackTargetWeight   = 0.6
	FallbackNoveltyWeight  = 0.4
)

// Session holds the per-session mutable state. Blocked tracks stay blocked
// for the session's lifetime. The generation counter implements the
// last-request-wins policy for concurrent advances.
type Session struct {
	ID         string
	Goal       models.GoalPreset
	mu         sync.Mutex
	current    *models.Track
	queue      []*models.Track
	blocked    map[string]bool
	favorites  map[string]bool
	generation uint64
}

// Current returns the now-playing track, nil when idle.
func (s *Session) Current() *models.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Blocked returns a copy of the blocked track IDs.
func (s *Session) Blocked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.blocked))
	for id := range s.blocked {
		ids = append(ids, id)
	}
	return ids
}

// Favorites returns a copy of the favorited track IDs.
func (s *Session) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		ids = append(ids, id)
	}
	return ids
}

// Upcoming returns a copy of the explicit queue.
func (s *Session) Upcoming() []*models.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := make([]*models.Track, len(s.queue))
	copy(queue, s.queue)
	return queue
}

// Controller orchestrates sessions against a read-only catalog snapshot.
// Sessions are fully independent; they share the immutable snapshot, the
// compatibility table and the controller's last-played map. The map is
// guarded by its own lock so concurrent sessions never write through the
// snapshot's track pointers.
type Controller struct {
	catalog    *catalog.Catalog
	transition *transition.Calculator
	logger     *logrus.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	playedMu   sync.RWMutex
	lastPlayed map[string]time.Time
}

// New creates a controller over the given catalog snapshot.
func New(cat *catalog.Catalog, calc *transition.Calculator, logger *logrus.Logger) *Controller {
	return &Controller{
		catalog:    cat,
		transition: calc,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		lastPlayed: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Tests use this to pin novelty scoring.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Start creates a session for one of the fixed goal presets.
func (c *Controller) Start(goalName string) (*Session, error) {
	preset, ok := models.PresetByName(goalName)
	if !ok {
		return nil, errors.ErrUnknownGoal.WithContext("goal", goalName)
	}

	session := &Session{
		ID:        uuid.NewString(),
		Goal:      preset,
		blocked:   make(map[string]bool),
		favorites: make(map[string]bool),
	}

	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"sessionId": session.ID,
		"goal":      goalName,
	}).Info("Session started")

	return session, nil
}

// Get returns a session by ID.
func (c *Controller) Get(sessionID string) (*Session, error) {
	c.mu.RLock()
	session, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.ErrSessionNotFound.WithContext("sessionId", sessionID)
	}
	return session, nil
}

// End destroys a session.
func (c *Controller) End(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return errors.ErrSessionNotFound.WithContext("sessionId", sessionID)
	}
	delete(c.sessions, sessionID)
	c.logger.WithField("sessionId", sessionID).Info("Session ended")
	return nil
}

// Advance picks the next track for the session. A nil Track in the result
// means no eligible candidate exists; the caller decides how to degrade. When
// a newer advance is issued while this one is still computing, the stale
// result is discarded and ErrSuperseded is returned.
func (c *Controller) Advance(sessionID string) (models.AdvanceResult, error) {
	session, err := c.Get(sessionID)
	if err != nil {
		return models.AdvanceResult{}, err
	}

	session.mu.Lock()
	session.generation++
	generation := session.generation
	current := session.current
	blocked := make(map[string]bool, len(session.blocked))
	for id := range session.blocked {
		blocked[id] = true
	}
	queued := session.popEligibleLocked()
	session.mu.Unlock()

	var pick *models.Track
	fallback := false
	if queued != nil {
		pick = queued
	} else if current == nil {
		pick = c.pickFirst(session.Goal, blocked)
	} else {
		pick, fallback = c.pickNext(session.Goal, current, blocked)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.generation != generation {
		// A newer advance superseded this one; discard the result so the
		// stale pick neither becomes current nor burns its freshness.
		if queued != nil {
			session.queue = append([]*models.Track{queued}, session.queue...)
		}
		c.logger.WithFields(logrus.Fields{
			"sessionId":  sessionID,
			"generation": generation,
		}).Debug("Discarding superseded advance result")
		return models.AdvanceResult{}, errors.ErrSuperseded.WithContext("sessionId", sessionID)
	}

	if pick == nil {
		c.logger.WithField("sessionId", sessionID).Warn("No eligible candidate for advance")
		return models.AdvanceResult{}, nil
	}

	var plan *models.TransitionPlan
	if current != nil {
		p := c.transition.Plan(current)
		plan = &p
	}

	// Playback begins for the committed pick, so only now does its
	// last-played timestamp move. The timestamp lives in the controller's
	// map and on a per-session copy; the shared catalog track is never
	// written.
	playedAt := c.now()
	c.playedMu.Lock()
	c.lastPlayed[pick.ID] = playedAt
	c.playedMu.Unlock()

	playing := *pick
	playing.LastPlayed = &playedAt
	session.current = &playing

	c.logger.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"trackId":   pick.ID,
		"fallback":  fallback,
	}).Info("Advanced session")

	return models.AdvanceResult{Track: &playing, Transition: plan, Fallback: fallback}, nil
}

// popEligibleLocked pops the first explicitly queued track that is still
// eligible. Caller holds s.mu.
func (s *Session) popEligibleLocked() *models.Track {
	for len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = s.queue[1:]
		if s.blocked[head.ID] {
			continue
		}
		if s.current != nil && head.ID == s.current.ID {
			continue
		}
		return head
	}
	return nil
}

// Queue appends a track to the session's explicit upcoming queue. Queued
// tracks are served ahead of scored selection on the next advance.
func (c *Controller) Queue(sessionID, trackID string) error {
	session, err := c.Get(sessionID)
	if err != nil {
		return err
	}
	track, ok := c.catalog.ByID(trackID)
	if !ok {
		return errors.ErrTrackNotFound.WithContext("trackId", trackID)
	}

	session.mu.Lock()
	session.queue = append(session.queue, track)
	session.mu.Unlock()
	return nil
}

// Block adds a track to the session's blocked set for the session's
// lifetime. Blocking the current track forces an immediate advance, whose
// result is returned; otherwise the result is empty.
func (c *Controller) Block(sessionID, trackID string) (models.AdvanceResult, error) {
	session, err := c.Get(sessionID)
	if err != nil {
		return models.AdvanceResult{}, err
	}

	session.mu.Lock()
	session.blocked[trackID] = true
	isCurrent := session.current != nil && session.current.ID == trackID
	session.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"trackId":   trackID,
		"current":   isCurrent,
	}).Info("Blocked track")

	if isCurrent {
		return c.Advance(sessionID)
	}
	return models.AdvanceResult{}, nil
}

// Favorite marks a track as favorited within the session.
func (c *Controller) Favorite(sessionID, trackID string) error {
	session, err := c.Get(sessionID)
	if err != nil {
		return err
	}
	if _, ok := c.catalog.ByID(trackID); !ok {
		return errors.ErrTrackNotFound.WithContext("trackId", trackID)
	}

	session.mu.Lock()
	session.favorites[trackID] = true
	session.mu.Unlock()
	return nil
}

// lastPlayedAt returns the freshness timestamp for novelty scoring. The
// controller's map wins over any timestamp carried by the catalog record.
func (c *Controller) lastPlayedAt(track *models.Track) *time.Time {
	c.playedMu.RLock()
	playedAt, ok := c.lastPlayed[track.ID]
	c.playedMu.RUnlock()
	if ok {
		return &playedAt
	}
	return track.LastPlayed
}

// pickFirst scores the full eligible catalog without a harmonic term.
func (c *Controller) pickFirst(goal models.GoalPreset, blocked map[string]bool) *models.Track {
	target := scoring.PresetVAD(goal)
	now := c.now()

	var best *models.Track
	bestScore := -1.0
	for _, track := range c.catalog.Tracks() {
		if blocked[track.ID] {
			continue
		}
		score := FirstPickTargetWeight*scoring.TargetState(scoring.TrackVAD(track), target) +
			FirstPickNoveltyWeight*scoring.Novelty(c.lastPlayedAt(track), now)
		c.traceScore(track, score, "first")
		if score > bestScore {
			best = track
			bestScore = score
		}
	}
	return best
}

// pickNext scores the harmonically restricted pool; when that pool is empty
// it falls back to the whole eligible catalog with harmonic fit ignored.
func (c *Controller) pickNext(goal models.GoalPreset, current *models.Track, blocked map[string]bool) (*models.Track, bool) {
	target := scoring.PresetVAD(goal)
	now := c.now()

	currentKey, err := camelot.ParseKey(current.Key)
	if err != nil {
		// Catalog validation guarantees a parseable key; treat a violation
		// like an empty compatible pool.
		c.logger.WithField("trackId", current.ID).Error("Current track has unparseable key")
		return c.pickFallback(target, current, blocked, now), true
	}

	var best *models.Track
	bestScore := -1.0
	for _, track := range c.catalog.Tracks() {
		if track.ID == current.ID || blocked[track.ID] {
			continue
		}
		trackKey, err := camelot.ParseKey(track.Key)
		if err != nil {
			continue
		}
		if trackKey != currentKey && !camelot.Compatible(currentKey, trackKey) {
			continue
		}
		score := AdvanceTargetWeight*scoring.TargetState(scoring.TrackVAD(track), target) +
			goal.HarmonicWeight*camelot.Score(currentKey, trackKey) +
			goal.NoveltyWeight*scoring.Novelty(c.lastPlayedAt(track), now)
		c.traceScore(track, score, "advance")
		if score > bestScore {
			best = track
			bestScore = score
		}
	}

	if best != nil {
		return best, false
	}
	return c.pickFallback(target, current, blocked, now), true
}

// pickFallback ranks the entire eligible catalog on therapeutic fit and
// novelty alone. Never fails while at least one eligible track exists.
func (c *Controller) pickFallback(target scoring.VAD, current *models.Track, blocked map[string]bool, now time.Time) *models.Track {
	var best *models.Track
	bestScore := -1.0
	for _, track := range c.catalog.Tracks() {
		if track.ID == current.ID || blocked[track.ID] {
			continue
		}
		score := FallbackTargetWeight*scoring.TargetState(scoring.TrackVAD(track), target) +
			FallbackNoveltyWeight*scoring.Novelty(c.lastPlayedAt(track), now)
		c.traceScore(track, score, "fallback")
		if score > bestScore {
			best = track
			bestScore = score
		}
	}
	return best
}

func (c *Controller) traceScore(track *models.Track, score float64, phase string) {
	c.logger.WithFields(logrus.Fields{
		"trackId": track.ID,
		"score":   score,
		"phase":   phase,
	}).Debug("Scored candidate")
}
