package followup

import (
	"fmt"
	"strings"
	"time"

	"serviceflow_backend/internal/jobber"
	"serviceflow_backend/platform/logger"
)

// historicalCapDays is the oldest note age, in days relative to the visit
// completion, still worth showing the composer.
const historicalCapDays = 7

// HistoricalNote is a note from a previous calendar day.
type HistoricalNote struct {
	Message   string
	CreatedAt time.Time
	DaysAgo   int
}

// Classification partitions a visit's parseable notes into current (same
// calendar day as completion) and historical. The two buckets are disjoint
// and together cover every parseable note; the prompt-facing accessors apply
// the historical age cap on top.
type Classification struct {
	Current    []string
	Historical []HistoricalNote
	// Unparseable counts notes dropped for bad timestamps.
	Unparseable int
}

// Classifier separates fresh visit notes from older job history so the
// composer never presents stale work as today's.
type Classifier struct {
	log *logger.Logger
}

// NewClassifier creates a note classifier.
func NewClassifier(log *logger.Logger) *Classifier {
	return &Classifier{log: log}
}

var noteTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Classify buckets notes by calendar day relative to the completion time.
// Notes with unparseable timestamps are dropped with a warning, except when
// no completion time is known at all; then every note defaults to current,
// since with no reference day there is no basis to call anything stale.
func (c *Classifier) Classify(notes []jobber.Note, completedAt *time.Time) Classification {
	var result Classification

	if completedAt == nil {
		for _, n := range notes {
			result.Current = append(result.Current, n.Message)
		}
		return result
	}

	completionDay := truncateToDay(*completedAt)

	for _, n := range notes {
		createdAt, ok := parseNoteTime(n.CreatedAt)
		if !ok {
			result.Unparseable++
			c.log.Warn("note timestamp unparseable, note dropped", "created_at", n.CreatedAt)
			continue
		}

		noteDay := truncateToDay(createdAt)
		daysAgo := int(completionDay.Sub(noteDay).Hours() / 24)
		if daysAgo < 0 {
			daysAgo = -daysAgo
		}

		if daysAgo == 0 {
			result.Current = append(result.Current, n.Message)
			continue
		}
		result.Historical = append(result.Historical, HistoricalNote{
			Message:   n.Message,
			CreatedAt: createdAt,
			DaysAgo:   daysAgo,
		})
	}

	return result
}

// CurrentOrSynthetic returns the current notes, or a synthetic line when the
// visit produced none, so the composer always has something to write about.
func (cl Classification) CurrentOrSynthetic(lineItems []jobber.LineItem) []string {
	if len(cl.Current) > 0 {
		return cl.Current
	}
	if len(lineItems) > 0 {
		names := make([]string, 0, len(lineItems))
		for _, li := range lineItems {
			if li.Name != "" {
				names = append(names, li.Name)
			}
		}
		if len(names) > 0 {
			return []string{"Completed work: " + strings.Join(names, ", ")}
		}
	}
	return []string{"Visit completed successfully."}
}

// HistoricalForPrompt returns historical notes within the age cap, each
// annotated with its age.
func (cl Classification) HistoricalForPrompt() []string {
	var lines []string
	for _, h := range cl.Historical {
		if h.DaysAgo > historicalCapDays {
			continue
		}
		unit := "days"
		if h.DaysAgo == 1 {
			unit = "day"
		}
		lines = append(lines, fmt.Sprintf("%s (%d %s ago)", h.Message, h.DaysAgo, unit))
	}
	return lines
}

func parseNoteTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range noteTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
