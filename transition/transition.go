// Package transition derives crossfade timing for a track change. The
// calculation is pure and stateless; the playback subsystem owns the actual
// fade curves.
package transition

import (
	"github.com/neurotunes/sequencer/models"
)

// Defaults in milliseconds.
const (
	DefaultCrossfadeMs   = 3000
	DefaultPreloadLeadMs = 1000
)

// Calculator produces transition plans with a fixed crossfade window.
type Calculator struct {
	crossfadeMs   int64
	preloadLeadMs int64
}

// New returns a calculator with the given crossfade duration and preload
// lead. Non-positive values fall back to the defaults.
func New(crossfadeMs, preloadLeadMs int64) *Calculator {
	if crossfadeMs <= 0 {
		crossfadeMs = DefaultCrossfadeMs
	}
	if preloadLeadMs <= 0 {
		preloadLeadMs = DefaultPreloadLeadMs
	}
	return &Calculator{crossfadeMs: crossfadeMs, preloadLeadMs: preloadLeadMs}
}

// Plan computes the fade plan for an outgoing track. Fade-out starts
// crossfadeMs before the end, clamped to zero for short tracks. PreloadAtMs
// can go negative when the track is shorter than the crossfade window plus
// the preload lead; the consumer must clamp that to "preload immediately".
func (c *Calculator) Plan(outgoing *models.Track) models.TransitionPlan {
	durationMs := int64(outgoing.DurationSec * 1000)

	fadeOutStart := durationMs - c.crossfadeMs
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}

	return models.TransitionPlan{
		FadeOutStartMs:   fadeOutStart,
		PreloadAtMs:      fadeOutStart - c.preloadLeadMs,
		FadeInDurationMs: c.crossfadeMs,
	}
}
