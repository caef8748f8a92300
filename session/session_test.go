package session

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/catalog"
	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/models"
	"github.com/neurotunes/sequencer/transition"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func track(id, key string, valence, arousal, dominance float64) models.Track {
	return models.Track{
		ID:          id,
		Title:       "Track " + id,
		Key:         key,
		Valence:     valence,
		Arousal:     arousal,
		Dominance:   dominance,
		Tempo:       120,
		DurationSec: 180,
		Genre:       "ambient",
		Mood:        "calm",
	}
}

func newController(t *testing.T, tracks ...models.Track) *Controller {
	t.Helper()

	cat, err := catalog.New(tracks, testLogger())
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	c := New(cat, transition.New(0, 0), testLogger())
	c.SetClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return c
}

func mustStart(t *testing.T, c *Controller, goal string) *Session {
	t.Helper()
	session, err := c.Start(goal)
	if err != nil {
		t.Fatalf("Start(%s) returned error: %v", goal, err)
	}
	return session
}

func mustAdvance(t *testing.T, c *Controller, sessionID string) models.AdvanceResult {
	t.Helper()
	result, err := c.Advance(sessionID)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	return result
}

func TestStartUnknownGoal(t *testing.T) {
	c := newController(t, track("a", "1A", 0.5, 0.5, 0.5))

	_, err := c.Start("shoegaze")
	if err == nil {
		t.Fatal("Expected error for unknown goal")
	}
	if errors.GetErrorCode(err) != "UNKNOWN_GOAL" {
		t.Errorf("Expected UNKNOWN_GOAL, got %s", errors.GetErrorCode(err))
	}
}

func TestAdvanceUnknownSession(t *testing.T) {
	c := newController(t, track("a", "1A", 0.5, 0.5, 0.5))

	_, err := c.Advance("nope")
	if err == nil {
		t.Fatal("Expected error for unknown session")
	}
	if errors.GetErrorCode(err) != "SESSION_NOT_FOUND" {
		t.Errorf("Expected SESSION_NOT_FOUND, got %s", errors.GetErrorCode(err))
	}
}

// First pick for an energy session: A's exact match of the 0.8/0.8/0.8 target
// dominates the 0.7/0.3 composite.
func TestFirstPickEnergyGoal(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.5, 0.5, 0.5),
	)
	session := mustStart(t, c, models.GoalEnergy)

	result := mustAdvance(t, c, session.ID)
	if result.Track == nil {
		t.Fatal("Expected a pick")
	}
	if result.Track.ID != "A" {
		t.Errorf("First pick = %s, want A", result.Track.ID)
	}
	if result.Transition != nil {
		t.Error("First pick has no predecessor, expected no transition plan")
	}
}

func TestFirstPickSetsLastPlayed(t *testing.T) {
	c := newController(t, track("A", "1A", 0.8, 0.8, 0.8))
	session := mustStart(t, c, models.GoalEnergy)

	result := mustAdvance(t, c, session.ID)
	if result.Track.LastPlayed == nil {
		t.Fatal("Committed pick should carry a last-played timestamp")
	}
	if session.Current() == nil || session.Current().ID != "A" {
		t.Error("Committed pick should become the current track")
	}
}

// Harmonic regression: with the current track in 1A, the harmonically
// compatible B (1B) must beat the incompatible C (6A) even though C's raw
// therapeutic score is higher by 0.2, less than the 0.24 harmonic gap.
func TestAdvancePrefersCompatibleKey(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.6, 0.6, 0.6), // therapeutic 0.8 vs energy target
		track("C", "6A", 0.8, 0.8, 0.8), // therapeutic 1.0, harmonic mismatch
	)
	session := mustStart(t, c, models.GoalEnergy)

	first := mustAdvance(t, c, session.ID)
	if first.Track.ID != "A" {
		t.Fatalf("First pick = %s, want A", first.Track.ID)
	}

	second := mustAdvance(t, c, session.ID)
	if second.Track == nil {
		t.Fatal("Expected a pick")
	}
	if second.Track.ID != "B" {
		t.Errorf("Advance pick = %s, want B (compatible key wins)", second.Track.ID)
	}
	if second.Fallback {
		t.Error("Compatible pool was non-empty, fallback should not trigger")
	}
	if second.Transition == nil {
		t.Fatal("Advance from a playing track should carry a transition plan")
	}
	if second.Transition.FadeOutStartMs != 177000 {
		t.Errorf("FadeOutStartMs = %d, want 177000 for a 180s outgoing track", second.Transition.FadeOutStartMs)
	}
}

func TestAdvanceNeverReturnsCurrentOrBlocked(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.8, 0.8, 0.8),
		track("C", "2A", 0.8, 0.8, 0.8),
	)
	session := mustStart(t, c, models.GoalEnergy)

	if _, err := c.Block(session.ID, "B"); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}

	seen := mustAdvance(t, c, session.ID).Track.ID
	for i := 0; i < 5; i++ {
		result := mustAdvance(t, c, session.ID)
		if result.Track == nil {
			t.Fatal("Expected a pick")
		}
		if result.Track.ID == "B" {
			t.Fatal("Blocked track must never be picked")
		}
		if result.Track.ID == seen {
			t.Fatal("Current track must never be picked again immediately")
		}
		seen = result.Track.ID
	}
}

// Empty compatible pool: 1A's compatible set is {12A, 2A, 1B}, so a catalog
// holding only 6A alternatives forces the therapeutic/novelty fallback.
func TestAdvanceFallbackWhenNoCompatibleKey(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("C", "6A", 0.7, 0.7, 0.7),
		track("D", "6B", 0.5, 0.5, 0.5),
	)
	session := mustStart(t, c, models.GoalEnergy)

	first := mustAdvance(t, c, session.ID)
	if first.Track.ID != "A" {
		t.Fatalf("First pick = %s, want A", first.Track.ID)
	}

	second := mustAdvance(t, c, session.ID)
	if second.Track == nil {
		t.Fatal("Fallback must not fail while eligible tracks exist")
	}
	if !second.Fallback {
		t.Error("Expected fallback flag when the compatible pool is empty")
	}
	if second.Track.ID != "C" {
		t.Errorf("Fallback pick = %s, want C (closer to the energy target)", second.Track.ID)
	}
}

// Every track except the current one blocked: the advance returns the
// explicit empty result, not an error.
func TestAdvanceNoEligibleCandidates(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.5, 0.5, 0.5),
		track("C", "2A", 0.5, 0.5, 0.5),
	)
	session := mustStart(t, c, models.GoalEnergy)

	first := mustAdvance(t, c, session.ID)
	if first.Track.ID != "A" {
		t.Fatalf("First pick = %s, want A", first.Track.ID)
	}

	for _, id := range []string{"B", "C"} {
		if _, err := c.Block(session.ID, id); err != nil {
			t.Fatalf("Block(%s) returned error: %v", id, err)
		}
	}

	result, err := c.Advance(session.ID)
	if err != nil {
		t.Fatalf("Advance should not error when no candidate exists: %v", err)
	}
	if result.Track != nil {
		t.Errorf("Expected empty result, got pick %s", result.Track.ID)
	}
	if session.Current().ID != "A" {
		t.Error("Current track should be unchanged after an empty advance")
	}
}

func TestTieBreakFirstInCatalogOrder(t *testing.T) {
	// Identical profiles and keys: the earlier catalog entry must win.
	c := newController(t,
		track("first", "1A", 0.8, 0.8, 0.8),
		track("second", "1A", 0.8, 0.8, 0.8),
	)
	session := mustStart(t, c, models.GoalEnergy)

	result := mustAdvance(t, c, session.ID)
	if result.Track.ID != "first" {
		t.Errorf("Tie should break to catalog order, got %s", result.Track.ID)
	}
}

func TestNoveltyPenalizesRecentPlay(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "2A", 0.8, 0.8, 0.8),
		track("C", "3A", 0.8, 0.8, 0.8),
	)
	session := mustStart(t, c, models.GoalEnergy)

	first := mustAdvance(t, c, session.ID)
	second := mustAdvance(t, c, session.ID)
	third := mustAdvance(t, c, session.ID)

	// With equal therapeutic and harmonic fit, freshly played tracks lose
	// the novelty term, so three advances visit three distinct tracks.
	ids := map[string]bool{first.Track.ID: true, second.Track.ID: true, third.Track.ID: true}
	if len(ids) != 3 {
		t.Errorf("Expected three distinct picks, got %v", ids)
	}
}

func TestBlockCurrentForcesAdvance(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.7, 0.7, 0.7),
	)
	session := mustStart(t, c, models.GoalEnergy)

	first := mustAdvance(t, c, session.ID)
	if first.Track.ID != "A" {
		t.Fatalf("First pick = %s, want A", first.Track.ID)
	}

	result, err := c.Block(session.ID, "A")
	if err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if result.Track == nil || result.Track.ID != "B" {
		t.Errorf("Blocking the current track should advance to B, got %+v", result.Track)
	}
	if session.Current().ID != "B" {
		t.Errorf("Current = %s, want B", session.Current().ID)
	}
}

func TestBlockNonCurrentDoesNotAdvance(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.7, 0.7, 0.7),
	)
	session := mustStart(t, c, models.GoalEnergy)
	mustAdvance(t, c, session.ID)

	result, err := c.Block(session.ID, "B")
	if err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if result.Track != nil {
		t.Error("Blocking a non-current track should not advance")
	}
	if session.Current().ID != "A" {
		t.Errorf("Current = %s, want A", session.Current().ID)
	}
}

func TestQueueServedBeforeScoring(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.1, 0.1, 0.1),
	)
	session := mustStart(t, c, models.GoalEnergy)

	if err := c.Queue(session.ID, "B"); err != nil {
		t.Fatalf("Queue returned error: %v", err)
	}

	result := mustAdvance(t, c, session.ID)
	if result.Track.ID != "B" {
		t.Errorf("Queued track should be served first, got %s", result.Track.ID)
	}
	if len(session.Upcoming()) != 0 {
		t.Error("Queue should be consumed by the advance")
	}
}

func TestQueueSkipsBlockedTrack(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.1, 0.1, 0.1),
	)
	session := mustStart(t, c, models.GoalEnergy)

	if err := c.Queue(session.ID, "B"); err != nil {
		t.Fatalf("Queue returned error: %v", err)
	}
	if _, err := c.Block(session.ID, "B"); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}

	result := mustAdvance(t, c, session.ID)
	if result.Track.ID != "A" {
		t.Errorf("Blocked queued track must be skipped, got %s", result.Track.ID)
	}
}

func TestFavorite(t *testing.T) {
	c := newController(t, track("A", "1A", 0.8, 0.8, 0.8))
	session := mustStart(t, c, models.GoalEnergy)

	if err := c.Favorite(session.ID, "A"); err != nil {
		t.Fatalf("Favorite returned error: %v", err)
	}
	if got := session.Favorites(); len(got) != 1 || got[0] != "A" {
		t.Errorf("Favorites = %v, want [A]", got)
	}

	if err := c.Favorite(session.ID, "missing"); err == nil {
		t.Error("Expected error favoriting an unknown track")
	}
}

func TestEndSession(t *testing.T) {
	c := newController(t, track("A", "1A", 0.8, 0.8, 0.8))
	session := mustStart(t, c, models.GoalEnergy)

	if err := c.End(session.ID); err != nil {
		t.Fatalf("End returned error: %v", err)
	}
	if _, err := c.Get(session.ID); err == nil {
		t.Error("Expected session to be gone after End")
	}
	if err := c.End(session.ID); err == nil {
		t.Error("Expected error ending a session twice")
	}
}

// Rapid concurrent advances: every call must either commit or report
// supersession, and the session must end in a consistent state.
func TestConcurrentAdvancesLastRequestWins(t *testing.T) {
	tracks := []models.Track{
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1B", 0.8, 0.8, 0.8),
		track("C", "2A", 0.8, 0.8, 0.8),
		track("D", "12A", 0.8, 0.8, 0.8),
	}
	c := newController(t, tracks...)
	session := mustStart(t, c, models.GoalEnergy)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Advance(session.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	committed := 0
	for err := range results {
		switch {
		case err == nil:
			committed++
		case errors.GetErrorCode(err) == "ADVANCE_SUPERSEDED":
		default:
			t.Fatalf("Unexpected advance error: %v", err)
		}
	}

	if committed == 0 {
		t.Fatal("At least one advance should commit")
	}
	if session.Current() == nil {
		t.Fatal("Session should be playing after concurrent advances")
	}
}

// Independent sessions share only the catalog snapshot, so concurrent
// advances across sessions must never write through its track pointers.
// Run with the race detector enabled.
func TestConcurrentAdvancesAcrossSessions(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "2A", 0.8, 0.8, 0.8),
		track("C", "3A", 0.8, 0.8, 0.8),
	)

	first := mustStart(t, c, models.GoalEnergy)
	second := mustStart(t, c, models.GoalChill)

	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(sessionID string) {
				defer wg.Done()
				if _, err := c.Advance(sessionID); err != nil &&
					errors.GetErrorCode(err) != "ADVANCE_SUPERSEDED" {
					t.Errorf("Unexpected advance error: %v", err)
				}
			}(id)
		}
	}
	wg.Wait()

	if first.Current() == nil || second.Current() == nil {
		t.Fatal("Both sessions should be playing")
	}
}

func TestAdvanceLeavesCatalogRecordUntouched(t *testing.T) {
	cat, err := catalog.New([]models.Track{track("A", "1A", 0.8, 0.8, 0.8)}, testLogger())
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	c := New(cat, transition.New(0, 0), testLogger())
	session := mustStart(t, c, models.GoalEnergy)

	result := mustAdvance(t, c, session.ID)
	if result.Track.LastPlayed == nil {
		t.Fatal("Committed pick should carry a last-played timestamp")
	}

	stored, ok := cat.ByID("A")
	if !ok {
		t.Fatal("Catalog lost the track")
	}
	if stored.LastPlayed != nil {
		t.Error("Catalog record must stay unmodified after an advance")
	}
}

func TestNoveltySeenAcrossSessions(t *testing.T) {
	c := newController(t,
		track("A", "1A", 0.8, 0.8, 0.8),
		track("B", "1A", 0.8, 0.8, 0.8),
	)

	first := mustStart(t, c, models.GoalEnergy)
	if got := mustAdvance(t, c, first.ID).Track.ID; got != "A" {
		t.Fatalf("First session pick = %s, want A", got)
	}

	// A just played, so a second session's first pick loses the novelty
	// term on A and takes B despite the catalog-order tie-break.
	second := mustStart(t, c, models.GoalEnergy)
	if got := mustAdvance(t, c, second.ID).Track.ID; got != "B" {
		t.Errorf("Second session pick = %s, want B (A lost freshness)", got)
	}
}
