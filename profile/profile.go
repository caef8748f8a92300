// Package profile aggregates user engagement history into genre, time-of-day
// and skip affinities, and computes the general-purpose discovery score used
// for recommendation queues. This path is independent of the harmonic session
// controller; the two mechanisms share no feedback loop.
package profile

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/models"
	"github.com/neurotunes/sequencer/storage"
)

// History buffer capacity. Oldest entries are dropped first.
const HistoryCapacity = 1000

// Skip events within the first 10% of playback count as early skips.
const EarlySkipRatio = 0.1

// Discovery score term bounds.
const (
	BaseScore        = 0.5
	GenreBonusStep   = 0.05
	GenreBonusCap    = 0.3
	SlotBonusStep    = 0.02
	SlotBonusCap     = 0.2
	MoodMatchBonus   = 0.15
	TempoMatchBonus  = 0.1
	TempoMatchWindow = 20.0
	SkipPenaltyStep  = 0.05
	SkipPenaltyCap   = 0.2
	ExplorationSpan  = 0.1
)

// Time-of-day buckets.
const (
	SlotMorning = iota // 6-12
	SlotAfternoon      // 12-17
	SlotEvening        // 17-22
	SlotNight          // otherwise
	slotCount
)

// BlobStore is the narrow persistence surface the profile needs. The store is
// an opaque asynchronous collaborator; in-memory state stays authoritative.
type BlobStore interface {
	Get(name string) ([]byte, error)
	SetAsync(name string, data []byte)
}

// Profile is the mutable, persisted engagement aggregate.
type Profile struct {
	mu            sync.Mutex
	logger        *logrus.Logger
	store         BlobStore
	rng           *rand.Rand
	genrePrefs    map[string]int
	slotCounts    [slotCount]int
	skipPenalties map[string]int
	favorites     map[string]bool
	history       []models.EngagementEvent
	createdAt     time.Time
}

type persistedProfile struct {
	GenrePrefs    map[string]int `json:"genrePrefs"`
	SlotCounts    [slotCount]int `json:"slotCounts"`
	SkipPenalties map[string]int `json:"skipPenalties"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type persistedPreferences struct {
	Favorites []string `json:"favorites"`
}

// New loads the profile from the store. Missing blobs start a fresh profile;
// other read failures are logged and the profile still starts empty rather
// than blocking initialization.
func New(store BlobStore, rng *rand.Rand, logger *logrus.Logger) *Profile {
	p := &Profile{
		logger:        logger,
		store:         store,
		rng:           rng,
		genrePrefs:    make(map[string]int),
		skipPenalties: make(map[string]int),
		favorites:     make(map[string]bool),
		createdAt:     time.Now(),
	}

	p.load()
	return p
}

func (p *Profile) load() {
	if data, err := p.store.Get(storage.BlobProfile); err != nil {
		p.logLoadError(storage.BlobProfile, err)
	} else {
		var stored persistedProfile
		if err := json.Unmarshal(data, &stored); err != nil {
			p.logger.WithError(err).Warn("Corrupt profile blob, starting fresh")
		} else {
			if stored.GenrePrefs != nil {
				p.genrePrefs = stored.GenrePrefs
			}
			if stored.SkipPenalties != nil {
				p.skipPenalties = stored.SkipPenalties
			}
			p.slotCounts = stored.SlotCounts
			if !stored.CreatedAt.IsZero() {
				p.createdAt = stored.CreatedAt
			}
		}
	}

	if data, err := p.store.Get(storage.BlobHistory); err != nil {
		p.logLoadError(storage.BlobHistory, err)
	} else {
		var history []models.EngagementEvent
		if err := json.Unmarshal(data, &history); err != nil {
			p.logger.WithError(err).Warn("Corrupt history blob, starting fresh")
		} else {
			if len(history) > HistoryCapacity {
				history = history[len(history)-HistoryCapacity:]
			}
			p.history = history
		}
	}

	if data, err := p.store.Get(storage.BlobPreferences); err != nil {
		p.logLoadError(storage.BlobPreferences, err)
	} else {
		var prefs persistedPreferences
		if err := json.Unmarshal(data, &prefs); err != nil {
			p.logger.WithError(err).Warn("Corrupt preferences blob, starting fresh")
		} else {
			for _, id := range prefs.Favorites {
				p.favorites[id] = true
			}
		}
	}
}

func (p *Profile) logLoadError(name string, err error) {
	if errors.GetErrorCode(err) == "BLOB_NOT_FOUND" {
		p.logger.WithField("name", name).Debug("No persisted blob, starting fresh")
		return
	}
	p.logger.WithError(err).WithField("name", name).Error("Failed to load blob, continuing in-memory")
}

// SlotForHour maps an hour of day to its time-of-day bucket.
func SlotForHour(hour int) int {
	switch {
	case hour >= 6 && hour < 12:
		return SlotMorning
	case hour >= 12 && hour < 17:
		return SlotAfternoon
	case hour >= 17 && hour < 22:
		return SlotEvening
	default:
		return SlotNight
	}
}

// RecordEvent folds an engagement event into the aggregate and schedules a
// flush. The track supplies genre/mood context; it may be nil when the event
// references an unknown track, in which case only the history and time-slot
// state advance.
func (p *Profile) RecordEvent(event models.EngagementEvent, track *models.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, event)
	if len(p.history) > HistoryCapacity {
		p.history = p.history[len(p.history)-HistoryCapacity:]
	}

	p.slotCounts[SlotForHour(event.Timestamp.Hour())]++

	if track != nil {
		switch event.Action {
		case models.ActionComplete:
			p.genrePrefs[track.Genre]++
		case models.ActionLike:
			p.genrePrefs[track.Genre]++
			p.favorites[track.ID] = true
		case models.ActionSkip:
			if event.DurationSec > 0 && event.PositionSec/event.DurationSec < EarlySkipRatio {
				p.skipPenalties[track.Genre]++
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"trackId": event.TrackID,
		"action":  event.Action,
	}).Debug("Recorded engagement event")

	p.flushLocked()
}

func (p *Profile) flushLocked() {
	stored := persistedProfile{
		GenrePrefs:    p.genrePrefs,
		SlotCounts:    p.slotCounts,
		SkipPenalties: p.skipPenalties,
		CreatedAt:     p.createdAt,
	}
	if data, err := json.Marshal(stored); err == nil {
		p.store.SetAsync(storage.BlobProfile, data)
	}

	if data, err := json.Marshal(p.history); err == nil {
		p.store.SetAsync(storage.BlobHistory, data)
	}

	prefs := persistedPreferences{Favorites: make([]string, 0, len(p.favorites))}
	for id := range p.favorites {
		prefs.Favorites = append(prefs.Favorites, id)
	}
	if data, err := json.Marshal(prefs); err == nil {
		p.store.SetAsync(storage.BlobPreferences, data)
	}
}

// DiscoveryScore ranks a candidate for the general-purpose discovery queue
// against a reference track: base 0.5, genre and time-slot affinity bonuses,
// mood and tempo proximity bonuses, skip penalty, plus a bounded random
// exploration term. Result is clamped to [0,1]. This score never feeds the
// harmonic session path.
func (p *Profile) DiscoveryScore(candidate, reference *models.Track, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	score := BaseScore

	score += math.Min(float64(p.genrePrefs[candidate.Genre])*GenreBonusStep, GenreBonusCap)
	score += math.Min(float64(p.slotCounts[SlotForHour(now.Hour())])*SlotBonusStep, SlotBonusCap)

	if reference != nil {
		if candidate.Mood != "" && candidate.Mood == reference.Mood {
			score += MoodMatchBonus
		}
		if math.Abs(candidate.Tempo-reference.Tempo) < TempoMatchWindow {
			score += TempoMatchBonus
		}
	}

	score -= math.Min(float64(p.skipPenalties[candidate.Genre])*SkipPenaltyStep, SkipPenaltyCap)
	score += p.rng.Float64() * ExplorationSpan

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// HistoryLen returns the number of buffered events.
func (p *Profile) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// GenreCount returns the preference count for a genre.
func (p *Profile) GenreCount(genre string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.genrePrefs[genre]
}

// SkipPenalty returns the skip-penalty count for a genre.
func (p *Profile) SkipPenalty(genre string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipPenalties[genre]
}

// SlotCountFor returns the bucket count for a time slot.
func (p *Profile) SlotCountFor(slot int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= slotCount {
		return 0
	}
	return p.slotCounts[slot]
}

// IsFavorite reports whether the track has been liked.
func (p *Profile) IsFavorite(trackID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.favorites[trackID]
}
