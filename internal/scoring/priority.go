// Package scoring computes an entry's composite priority score from its
// category and attributes. Scoring is a pure function of the entry and
// a reference time, so tests and batch recalculation are deterministic.
package scoring

import (
	"math"
	"time"

	"github.com/kalambet/cortex/internal/notes"
)

const (
	taskBase    = 100.0
	projectBase = 50.0
	ideaBase    = 30.0
	bucketBase  = 20.0

	urgencyHighBonus   = 50.0
	urgencyMediumBonus = 25.0

	taskDueMax   = 50.0
	bucketDueMax = 30.0

	// Due-date proximity halves every 7 days out and is 0 beyond 30.
	dueHalfLifeDays = 7.0
	dueHorizonDays  = 30.0

	recencyMax          = 20.0
	recencyHalfLifeDays = 14.0

	projectConnectionMax = 15.0
	ideaConnectionMax    = 10.0

	stalenessPerWeek = 5.0

	starredBonus = 25.0

	// Global modifiers dominate every category term so pinned entries
	// always sort first and completed/archived entries always sort last.
	pinnedModifier    = 10000.0
	completedModifier = -10000.0
	archivedModifier  = -10000.0
)

// Score returns the entry's priority score at the given reference time.
func Score(e notes.Entry, now time.Time) float64 {
	var score float64

	switch e.Category {
	case notes.CategoryTask:
		score = taskBase + urgencyBonus(e.Urgency) + DueDateProximity(e.DueDate, now, taskDueMax) - stalenessPenalty(e.UpdatedAt, now)
	case notes.CategoryProject:
		score = projectBase + recencyBonus(e.UpdatedAt, now) + connectionBonus(e.ConnectionCount, projectConnectionMax)
	case notes.CategoryIdea:
		score = ideaBase + recencyBonus(e.UpdatedAt, now) + connectionBonus(e.ConnectionCount, ideaConnectionMax)
	case notes.CategoryBucket:
		score = bucketBase + DueDateProximity(e.DueDate, now, bucketDueMax)
		if e.Starred {
			score += starredBonus
		}
	}

	if e.Pinned {
		score += pinnedModifier
	}
	if e.Completed {
		score += completedModifier
	}
	if e.Archived {
		score += archivedModifier
	}
	return score
}

// ScoreAll recomputes every non-archived entry's score in place.
// Archived entries are excluded from bulk refresh: their stored score
// is left untouched even if stale.
func ScoreAll(entries []*notes.Entry, now time.Time) {
	for _, e := range entries {
		if e.Archived {
			continue
		}
		e.Score = Score(*e, now)
	}
}

func urgencyBonus(u notes.Urgency) float64 {
	switch u {
	case notes.UrgencyHigh:
		return urgencyHighBonus
	case notes.UrgencyMedium:
		return urgencyMediumBonus
	}
	return 0
}

// DueDateProximity rises exponentially as the deadline approaches:
// overdue pins at max, half-value at 7 days out, 0 beyond 30 days.
// A nil due date contributes nothing.
func DueDateProximity(due *time.Time, now time.Time, max float64) float64 {
	if due == nil {
		return 0
	}
	days := due.Sub(now).Hours() / 24.0
	if days <= 0 {
		return max
	}
	if days > dueHorizonDays {
		return 0
	}
	return max * math.Exp2(-days/dueHalfLifeDays)
}

// recencyBonus decays exponentially since last update, half-life 14 days.
func recencyBonus(updated, now time.Time) float64 {
	days := now.Sub(updated).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return recencyMax * math.Exp2(-days/recencyHalfLifeDays)
}

// connectionBonus grows logarithmically with connection count and
// saturates at max once the entry has 20 connections.
func connectionBonus(count int, max float64) float64 {
	if count <= 0 {
		return 0
	}
	frac := math.Log(1+float64(count)) / math.Log(21)
	if frac > 1 {
		frac = 1
	}
	return frac * max
}

// stalenessPenalty charges 5 points per elapsed week since last update,
// unbounded.
func stalenessPenalty(updated, now time.Time) float64 {
	weeks := now.Sub(updated).Hours() / (24.0 * 7.0)
	if weeks < 0 {
		return 0
	}
	return stalenessPerWeek * weeks
}
