package output

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TimeOfDay is an hour and minute of the simulated day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, want HH:MM: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Policy holds the triggers of one output. Unset triggers are nil.
type Policy struct {
	// OnlyLastN fires when at most N timesteps remain.
	OnlyLastN *int
	// Frequency fires on every timestep that is a multiple of N, including 0.
	Frequency *int
	// SpecificTime fires when the simulated hour and minute match.
	SpecificTime *TimeOfDay
	// SpecificDateTime fires when the simulated date equals it exactly.
	SpecificDateTime *time.Time
	// Schedule fires when the simulated date is an activation time of a cron spec.
	Schedule cron.Schedule
	// ScheduleSpec is the source text of Schedule, kept for logging.
	ScheduleSpec string
}

// Empty reports whether no trigger is set.
func (p Policy) Empty() bool {
	return p.OnlyLastN == nil && p.Frequency == nil && p.SpecificTime == nil &&
		p.SpecificDateTime == nil && p.Schedule == nil
}

// ShouldOutput reports whether any trigger of p matches. maxTS is the index
// of the last timestep of the run.
func ShouldOutput(maxTS, currentTS int, date time.Time, p Policy) bool {
	if p.OnlyLastN != nil && maxTS-currentTS <= *p.OnlyLastN {
		return true
	}
	if p.Frequency != nil && *p.Frequency > 0 && currentTS%*p.Frequency == 0 {
		return true
	}
	if p.SpecificTime != nil && date.Hour() == p.SpecificTime.Hour && date.Minute() == p.SpecificTime.Minute {
		return true
	}
	if p.SpecificDateTime != nil && date.Equal(*p.SpecificDateTime) {
		return true
	}
	if p.Schedule != nil && p.Schedule.Next(date.Add(-time.Nanosecond)).Equal(date) {
		return true
	}
	return false
}

// LogValue lists the configured triggers.
func (p Policy) LogValue() slog.Value {
	var attrs []slog.Attr
	if p.OnlyLastN != nil {
		attrs = append(attrs, slog.Int("only_last_n", *p.OnlyLastN))
	}
	if p.Frequency != nil {
		attrs = append(attrs, slog.Int("frequency", *p.Frequency))
	}
	if p.SpecificTime != nil {
		attrs = append(attrs, slog.String("specific_time", p.SpecificTime.String()))
	}
	if p.SpecificDateTime != nil {
		attrs = append(attrs, slog.Time("specific_datetime", *p.SpecificDateTime))
	}
	if p.Schedule != nil {
		attrs = append(attrs, slog.String("schedule", p.ScheduleSpec))
	}
	return slog.GroupValue(attrs...)
}
