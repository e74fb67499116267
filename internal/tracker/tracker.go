// Package tracker assigns stable identities to a stream of per-frame person
// bounding boxes. Matching is a greedy per-detection nearest-neighbor scan
// over the active persons, not an optimal bipartite assignment; that is the
// intended behavior, not an approximation to improve on.
package tracker

import (
	"math"
	"time"

	"sentry-worker-go/internal/identity"
	"sentry-worker-go/internal/models"
)

// Person is one tracked identity within a single camera's field of view.
type Person struct {
	ID       int64
	Centroid models.Point
	// Trace holds recent centroids, oldest first, capped at MaxHistory.
	// Display and diagnostics only; matching uses Centroid.
	Trace     []models.Point
	FirstSeen time.Time
	LastSeen  time.Time
}

// Config carries the tracker tunables.
type Config struct {
	// MaxDisappeared is how long an identity survives without a matching
	// detection before it is forgotten.
	MaxDisappeared time.Duration
	// MatchRadius is the maximum centroid distance, in pixels, for a
	// detection to be considered the same identity.
	MatchRadius float64
	// MaxHistory caps the trace length.
	MaxHistory int
}

// Tracker tracks the persons visible to one camera. It is not safe for
// concurrent use; each camera pipeline owns exactly one tracker.
type Tracker struct {
	cfg     Config
	alloc   *identity.Allocator
	persons []*Person
	now     func() time.Time
}

// New creates a tracker drawing identity IDs from alloc. The allocator is
// shared across cameras so IDs stay globally unique.
func New(alloc *identity.Allocator, cfg Config) *Tracker {
	return &Tracker{
		cfg:   cfg,
		alloc: alloc,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests use this to step through
// disappearance windows without sleeping.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Update feeds one frame's bounding boxes through the tracker and returns the
// identity observations for this frame. Every input box either matches an
// existing active person or allocates a new identity, never both. Persons not
// seen for longer than MaxDisappeared are pruned afterwards; an empty input
// still prunes.
func (t *Tracker) Update(rects []models.BoundingBox) map[int64]models.Observation {
	now := t.now()
	out := make(map[int64]models.Observation, len(rects))
	claimed := make(map[int64]bool, len(rects))

	for _, rect := range rects {
		c := rect.Centroid()

		var best *Person
		bestDist := t.cfg.MatchRadius
		for _, p := range t.persons {
			if claimed[p.ID] {
				continue
			}
			if now.Sub(p.LastSeen) > t.cfg.MaxDisappeared {
				continue
			}
			d := dist(c, p.Centroid)
			if d < bestDist {
				best = p
				bestDist = d
			}
		}

		if best != nil {
			best.Centroid = c
			best.Trace = append(best.Trace, c)
			if len(best.Trace) > t.cfg.MaxHistory {
				best.Trace = best.Trace[len(best.Trace)-t.cfg.MaxHistory:]
			}
			best.LastSeen = now
			claimed[best.ID] = true
			out[best.ID] = models.Observation{PersonID: best.ID, Centroid: c, BBox: rect}
			continue
		}

		id := t.alloc.Next()
		p := &Person{
			ID:        id,
			Centroid:  c,
			Trace:     []models.Point{c},
			FirstSeen: now,
			LastSeen:  now,
		}
		t.persons = append(t.persons, p)
		claimed[id] = true
		out[id] = models.Observation{PersonID: id, Centroid: c, BBox: rect}
	}

	t.prune(now)
	return out
}

func (t *Tracker) prune(now time.Time) {
	kept := t.persons[:0]
	for _, p := range t.persons {
		if now.Sub(p.LastSeen) > t.cfg.MaxDisappeared {
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(t.persons); i++ {
		t.persons[i] = nil
	}
	t.persons = kept
}

// Active returns copies of the currently tracked persons, for status views.
func (t *Tracker) Active() []Person {
	out := make([]Person, 0, len(t.persons))
	for _, p := range t.persons {
		cp := *p
		cp.Trace = append([]models.Point(nil), p.Trace...)
		out = append(out, cp)
	}
	return out
}

func dist(a, b models.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Hypot(dx, dy)
}
