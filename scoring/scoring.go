// Package scoring holds the pure scoring functions the session controller
// combines into a composite rank. All outputs lie in [0,1].
package scoring

import (
	"time"

	"github.com/neurotunes/sequencer/models"
)

// Novelty band thresholds in elapsed hours since last play.
const (
	NoveltyFullHours = 24
	NoveltyHighHours = 12
	NoveltyMidHours  = 6
	NoveltyLowHours  = 3
)

// VAD is a point in valence/arousal/dominance space, each axis in [0,1].
type VAD struct {
	Valence   float64
	Arousal   float64
	Dominance float64
}

// TrackVAD extracts a track's emotional profile.
func TrackVAD(track *models.Track) VAD {
	return VAD{Valence: track.Valence, Arousal: track.Arousal, Dominance: track.Dominance}
}

// PresetVAD extracts a goal preset's target profile.
func PresetVAD(preset models.GoalPreset) VAD {
	return VAD{Valence: preset.TargetValence, Arousal: preset.TargetArousal, Dominance: preset.TargetDominance}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func axisFit(track, target float64) float64 {
	diff := clamp01(track) - clamp01(target)
	if diff < 0 {
		diff = -diff
	}
	return 1 - diff
}

// TargetState scores how closely a track's emotional profile matches the
// session target: per-axis 1-|track-target|, averaged. Out-of-range inputs
// are clamped rather than rejected.
func TargetState(track, target VAD) float64 {
	v := axisFit(track.Valence, target.Valence)
	a := axisFit(track.Arousal, target.Arousal)
	d := axisFit(track.Dominance, target.Dominance)
	return (v + a + d) / 3
}

// Novelty scores freshness as a step function of hours elapsed since last
// play. Never-played tracks score 1.0. Band edges are inclusive at the lower
// bound, so the function is monotonic non-decreasing in elapsed time.
func Novelty(lastPlayed *time.Time, now time.Time) float64 {
	if lastPlayed == nil {
		return 1.0
	}

	hours := now.Sub(*lastPlayed).Hours()
	switch {
	case hours >= NoveltyFullHours:
		return 1.0
	case hours >= NoveltyHighHours:
		return 0.8
	case hours >= NoveltyMidHours:
		return 0.6
	case hours >= NoveltyLowHours:
		return 0.4
	default:
		return 0.1
	}
}
