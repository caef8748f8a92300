// Package catalog builds the validated, read-only track snapshot the
// sequencer works against. Malformed records are dropped at construction so
// the scorers stay total functions over validated input.
package catalog

import (
	"encoding/json"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/camelot"
	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/models"
)

// Catalog is an immutable snapshot of key-bearing, validated tracks.
// Snapshot order is preserved and used as the deterministic tie-break order
// during selection.
type Catalog struct {
	tracks []*models.Track
	byID   map[string]*models.Track
	logger *logrus.Logger
}

// Load reads a JSON catalog file and builds a validated snapshot.
func Load(path string, logger *logrus.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryCatalog, "CATALOG_READ_FAILED", "failed to read catalog file").
			WithContext("path", path)
	}

	var records []models.Track
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, errors.CategoryCatalog, "CATALOG_DECODE_FAILED", "failed to decode catalog file").
			WithContext("path", path)
	}

	return New(records, logger)
}

// New validates the supplied records and keeps the well-formed, key-bearing
// ones. Returns a catalog-empty error when nothing survives validation.
func New(records []models.Track, logger *logrus.Logger) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[string]*models.Track),
		logger: logger,
	}

	dropped := 0
	for i := range records {
		track := records[i]
		if reason := validate(&track); reason != "" {
			dropped++
			logger.WithFields(logrus.Fields{
				"trackId": track.ID,
				"reason":  reason,
			}).Warn("Dropping malformed catalog record")
			continue
		}
		kept := track
		c.tracks = append(c.tracks, &kept)
		c.byID[kept.ID] = &kept
	}

	if len(c.tracks) == 0 {
		return nil, errors.ErrCatalogEmpty.WithContext("records", len(records))
	}

	logger.WithFields(logrus.Fields{
		"tracks":  len(c.tracks),
		"dropped": dropped,
	}).Info("Catalog snapshot built")

	return c, nil
}

func validate(track *models.Track) string {
	if track.ID == "" {
		return "missing id"
	}
	if !camelot.IsValid(track.Key) {
		return "missing or invalid harmonic key"
	}
	for _, axis := range []float64{track.Valence, track.Arousal, track.Dominance} {
		if math.IsNaN(axis) || axis < 0 || axis > 1 {
			return "emotional axis out of range"
		}
	}
	if math.IsNaN(track.DurationSec) || track.DurationSec <= 0 {
		return "invalid duration"
	}
	return ""
}

// Tracks returns the snapshot in catalog order. Callers must not mutate the
// slice; track LastPlayed is updated only through the session controller.
func (c *Catalog) Tracks() []*models.Track {
	return c.tracks
}

// ByID looks up a track by identifier.
func (c *Catalog) ByID(id string) (*models.Track, bool) {
	track, ok := c.byID[id]
	return track, ok
}

// Size returns the number of validated tracks.
func (c *Catalog) Size() int {
	return len(c.tracks)
}
