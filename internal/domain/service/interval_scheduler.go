package service

import (
	"sort"

	"PriceSim/internal/domain/models"
)

const (
	stepsPer5Minutes = 300
	stepsPerHour     = 3600
)

// Fires reports whether iv emits at step for a run of horizon steps.
//
// END_OF_MINUTE is a one-shot wrap-up signal at horizon-1, the last regular
// step before the forced close. It is relative to the horizon, not to
// wall-clock minute boundaries. EVERY_5_MINUTES and EVERY_1_HOUR fire on
// multiples of their period, so runs shorter than the period see them once,
// at step 0.
func Fires(iv models.Interval, step, horizon int) (bool, error) {
	switch iv {
	case models.EverySecond:
		return true, nil
	case models.Every5Seconds:
		return step%5 == 0, nil
	case models.EndOfMinute:
		return step == horizon-1, nil
	case models.Every5Minutes:
		return step%stepsPer5Minutes == 0, nil
	case models.Every1Hour:
		return step%stepsPerHour == 0, nil
	default:
		return false, &models.ConfigurationError{Field: "interval", Value: string(iv), Reason: "unrecognized interval"}
	}
}

// Scheduler holds the requested interval set in canonical order.
type Scheduler struct {
	intervals []models.Interval
}

// NewScheduler rejects unknown intervals and drops duplicates. An empty set
// means every interval.
func NewScheduler(intervals []models.Interval) (*Scheduler, error) {
	if len(intervals) == 0 {
		return &Scheduler{intervals: models.AllIntervals()}, nil
	}
	seen := make(map[models.Interval]bool, len(intervals))
	set := make([]models.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.IsValid() {
			return nil, &models.ConfigurationError{Field: "interval", Value: string(iv), Reason: "unrecognized interval"}
		}
		if seen[iv] {
			continue
		}
		seen[iv] = true
		set = append(set, iv)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Rank() < set[j].Rank() })
	return &Scheduler{intervals: set}, nil
}

// Due returns the intervals that fire at step, in canonical order.
func (s *Scheduler) Due(step, horizon int) []models.Interval {
	var due []models.Interval
	for _, iv := range s.intervals {
		if ok, _ := Fires(iv, step, horizon); ok {
			due = append(due, iv)
		}
	}
	return due
}

func (s *Scheduler) Intervals() []models.Interval {
	out := make([]models.Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// ResolveIntervals parses interval names. In lenient mode unknown names are
// reported through skipped and dropped; otherwise the first one is an error.
func ResolveIntervals(names []string, lenient bool, skipped func(name string)) ([]models.Interval, error) {
	out := make([]models.Interval, 0, len(names))
	for _, n := range names {
		iv, err := models.ParseInterval(n)
		if err != nil {
			if !lenient {
				return nil, err
			}
			if skipped != nil {
				skipped(n)
			}
			continue
		}
		out = append(out, iv)
	}
	return out, nil
}
