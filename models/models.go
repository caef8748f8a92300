package models

import (
	"time"
)

// Track is a read-only catalog record. The sequencer only ever mutates
// LastPlayed, and only once a pick is confirmed as now playing.
type Track struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	Key         string     `json:"key"` // Camelot notation, e.g. "8A"
	Valence     float64    `json:"valence"`
	Arousal     float64    `json:"arousal"`
	Dominance   float64    `json:"dominance"`
	Tempo       float64    `json:"tempo"`
	DurationSec float64    `json:"duration"`
	LastPlayed  *time.Time `json:"lastPlayed,omitempty"`
	Genre       string     `json:"genre"`
	Mood        string     `json:"mood"`
}

// GoalPreset bundles the target emotional state and scoring weights for a
// named therapeutic listening intent. Immutable once a session starts.
type GoalPreset struct {
	Name            string  `json:"name"`
	TargetValence   float64 `json:"targetValence"`
	TargetArousal   float64 `json:"targetArousal"`
	TargetDominance float64 `json:"targetDominance"`
	NoveltyWeight   float64 `json:"noveltyWeight"`
	HarmonicWeight  float64 `json:"harmonicWeight"`
}

// Goal preset names accepted at session construction.
const (
	GoalFocus      = "focus"
	GoalEnergy     = "energy"
	GoalChill      = "chill"
	GoalSleep      = "sleep"
	GoalPainRelief = "pain_relief"
	GoalRelaxation = "relaxation"
)

var goalPresets = map[string]GoalPreset{
	GoalFocus:      {Name: GoalFocus, TargetValence: 0.6, TargetArousal: 0.5, TargetDominance: 0.7, NoveltyWeight: 0.2, HarmonicWeight: 0.4},
	GoalEnergy:     {Name: GoalEnergy, TargetValence: 0.8, TargetArousal: 0.8, TargetDominance: 0.8, NoveltyWeight: 0.2, HarmonicWeight: 0.4},
	GoalChill:      {Name: GoalChill, TargetValence: 0.6, TargetArousal: 0.3, TargetDominance: 0.5, NoveltyWeight: 0.3, HarmonicWeight: 0.3},
	GoalSleep:      {Name: GoalSleep, TargetValence: 0.5, TargetArousal: 0.1, TargetDominance: 0.3, NoveltyWeight: 0.1, HarmonicWeight: 0.5},
	GoalPainRelief: {Name: GoalPainRelief, TargetValence: 0.6, TargetArousal: 0.3, TargetDominance: 0.6, NoveltyWeight: 0.2, HarmonicWeight: 0.4},
	GoalRelaxation: {Name: GoalRelaxation, TargetValence: 0.7, TargetArousal: 0.2, TargetDominance: 0.5, NoveltyWeight: 0.25, HarmonicWeight: 0.35},
}

// PresetByName returns the preset for a goal name. The second return value is
// false for names outside the fixed enumeration.
func PresetByName(name string) (GoalPreset, bool) {
	preset, ok := goalPresets[name]
	return preset, ok
}

// PresetNames lists the accepted goal names. The slice is a copy.
func PresetNames() []string {
	return []string{GoalFocus, GoalEnergy, GoalChill, GoalSleep, GoalPainRelief, GoalRelaxation}
}

// TransitionPlan carries the fade timing handed to the playback subsystem.
// PreloadAtMs may be negative for very short outgoing tracks; the consumer
// clamps scheduling to "immediately".
type TransitionPlan struct {
	FadeOutStartMs   int64 `json:"fadeOutStartMs"`
	PreloadAtMs      int64 `json:"preloadAtMs"`
	FadeInDurationMs int64 `json:"fadeInDurationMs"`
}

// Engagement actions reported by the playback surface.
const (
	ActionPlay     = "play"
	ActionSkip     = "skip"
	ActionLike     = "like"
	ActionPause    = "pause"
	ActionSeek     = "seek"
	ActionComplete = "complete"
)

// EngagementEvent is a single playback interaction with position metadata.
type EngagementEvent struct {
	TrackID     string    `json:"trackId"`
	Action      string    `json:"action"`
	PositionSec float64   `json:"position"`
	DurationSec float64   `json:"duration"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValidAction reports whether action is one of the recognized engagement
// actions.
func ValidAction(action string) bool {
	switch action {
	case ActionPlay, ActionSkip, ActionLike, ActionPause, ActionSeek, ActionComplete:
		return true
	}
	return false
}

// WeightedTrack pairs a candidate with its composite score during ranking.
type WeightedTrack struct {
	Track *Track  `json:"track"`
	Score float64 `json:"score"`
}

// AdvanceResult is the outcome of a session advance. Track is nil when no
// eligible candidate exists; the caller decides how to degrade.
type AdvanceResult struct {
	Track      *Track          `json:"track,omitempty"`
	Transition *TransitionPlan `json:"transition,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
}
