// Package schedule builds and runs recurring workflow triggers: cron and
// interval specifications validated by constructing the underlying cron
// schedule, and a persistent runner that fires them against the engine.
package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tidegraph/tide/internal/workflow"
)

// Trigger kinds.
const (
	KindCron     = "cron"
	KindInterval = "interval"
)

// cronParser accepts the six-field form with seconds. Every trigger is
// validated by actually parsing it with this parser, never by a
// hand-rolled pattern, so what validates is exactly what fires.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// CronFields are the per-field cron sub-expressions of a cron trigger.
// Empty fields default to "*". Each field accepts a fixed value, a
// wildcard, a step, or a range within its domain (hour 0-23,
// minute/second 0-59, day 1-31, month 1-12, day_of_week 0-6 or named).
type CronFields struct {
	Second    string
	Minute    string
	Hour      string
	Day       string
	Month     string
	DayOfWeek string

	Timezone  string
	StartDate *time.Time
	EndDate   *time.Time
}

func (f CronFields) expression() string {
	field := func(v string) string {
		if v == "" {
			return "*"
		}
		return v
	}
	return fmt.Sprintf("%s %s %s %s %s %s",
		field(f.Second), field(f.Minute), field(f.Hour),
		field(f.Day), field(f.Month), field(f.DayOfWeek))
}

// IntervalFields are the combinable units of an interval trigger.
// Fractional units are allowed as long as the combined total is a
// strictly positive whole number of seconds.
type IntervalFields struct {
	Seconds float64
	Minutes float64
	Hours   float64
	Days    float64
	Weeks   float64

	Timezone  string
	StartDate *time.Time
	EndDate   *time.Time
}

func (f IntervalFields) totalSeconds() float64 {
	return f.Seconds +
		f.Minutes*60 +
		f.Hours*3600 +
		f.Days*86400 +
		f.Weeks*604800
}

// TriggerSpec is an opaque, validated trigger definition. It implements
// the cron runner's Schedule contract (Next), bounded by the optional
// start and end dates.
type TriggerSpec struct {
	kind     string
	expr     string
	seconds  int64
	schedule cron.Schedule
	location *time.Location
	start    *time.Time
	end      *time.Time
	config   map[string]any
}

// Kind returns "cron" or "interval".
func (s *TriggerSpec) Kind() string { return s.kind }

// Expression returns the cron expression or @every form the spec fires on.
func (s *TriggerSpec) Expression() string { return s.expr }

// IntervalSeconds returns the interval length in seconds, or 0 for cron
// triggers.
func (s *TriggerSpec) IntervalSeconds() int64 { return s.seconds }

// Config returns the serializable trigger configuration the spec was
// built from, suitable for persisting on a Schedule row. Builders
// round-trip: rebuilding from Config yields an equivalent spec.
func (s *TriggerSpec) Config() map[string]any {
	out := make(map[string]any, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

// Next returns the next fire time strictly after t, honoring the spec's
// timezone and start/end bounds. The zero time means the spec will never
// fire again.
func (s *TriggerSpec) Next(t time.Time) time.Time {
	if s.location != nil {
		t = t.In(s.location)
	}
	if s.start != nil && t.Before(*s.start) {
		t = s.start.Add(-time.Second)
	}
	next := s.schedule.Next(t)
	if s.end != nil && !next.IsZero() && next.After(*s.end) {
		return time.Time{}
	}
	return next
}

// BuildCronTrigger validates the cron fields by parsing the assembled
// expression and returns the resulting spec. Any field outside its
// domain fails the whole construction.
func BuildCronTrigger(fields CronFields) (*TriggerSpec, error) {
	expr := fields.expression()
	sched, err := cronParser.Parse(expr)
	if err != nil {
		cronErr := workflow.NewError(workflow.ErrCodeInvalidTrigger, "invalid cron trigger %q: %v", expr, err)
		cronErr.Cause = err
		return nil, cronErr
	}

	loc, err := resolveLocation(fields.Timezone)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(fields.StartDate, fields.EndDate); err != nil {
		return nil, err
	}

	config := map[string]any{
		"second":      fields.Second,
		"minute":      fields.Minute,
		"hour":        fields.Hour,
		"day":         fields.Day,
		"month":       fields.Month,
		"day_of_week": fields.DayOfWeek,
	}
	addBoundsConfig(config, fields.Timezone, fields.StartDate, fields.EndDate)

	return &TriggerSpec{
		kind:     KindCron,
		expr:     expr,
		schedule: sched,
		location: loc,
		start:    fields.StartDate,
		end:      fields.EndDate,
		config:   config,
	}, nil
}

// BuildIntervalTrigger validates that the combined units form a strictly
// positive whole number of seconds and returns the resulting spec.
func BuildIntervalTrigger(fields IntervalFields) (*TriggerSpec, error) {
	total := fields.totalSeconds()
	if !ValidateIntervalSeconds(total) {
		return nil, workflow.NewError(workflow.ErrCodeInvalidTrigger,
			"interval must be a strictly positive whole number of seconds, got %v", total)
	}

	loc, err := resolveLocation(fields.Timezone)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(fields.StartDate, fields.EndDate); err != nil {
		return nil, err
	}

	seconds := int64(total)
	every := time.Duration(seconds) * time.Second

	config := map[string]any{
		"seconds": fields.Seconds,
		"minutes": fields.Minutes,
		"hours":   fields.Hours,
		"days":    fields.Days,
		"weeks":   fields.Weeks,
	}
	addBoundsConfig(config, fields.Timezone, fields.StartDate, fields.EndDate)

	return &TriggerSpec{
		kind:     KindInterval,
		expr:     fmt.Sprintf("@every %s", every),
		seconds:  seconds,
		schedule: cron.Every(every),
		location: loc,
		start:    fields.StartDate,
		end:      fields.EndDate,
		config:   config,
	}, nil
}

// ValidateCronExpression reports whether the fields form a legal cron
// trigger, by attempting construction.
func ValidateCronExpression(fields CronFields) bool {
	_, err := BuildCronTrigger(fields)
	return err == nil
}

// ValidateIntervalSeconds reports whether n is a strictly positive,
// finite whole number of seconds.
func ValidateIntervalSeconds(n float64) bool {
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return false
	}
	return n > 0 && n == math.Trunc(n)
}

// SpecFromConfig rebuilds a TriggerSpec from a persisted schedule's kind
// and configuration, the inverse of TriggerSpec.Config.
func SpecFromConfig(kind string, config map[string]any) (*TriggerSpec, error) {
	tz, _ := config["timezone"].(string)
	start := configTime(config, "start_date")
	end := configTime(config, "end_date")

	switch kind {
	case KindCron:
		return BuildCronTrigger(CronFields{
			Second:    configString(config, "second"),
			Minute:    configString(config, "minute"),
			Hour:      configString(config, "hour"),
			Day:       configString(config, "day"),
			Month:     configString(config, "month"),
			DayOfWeek: configString(config, "day_of_week"),
			Timezone:  tz,
			StartDate: start,
			EndDate:   end,
		})
	case KindInterval:
		return BuildIntervalTrigger(IntervalFields{
			Seconds:   configNumber(config, "seconds"),
			Minutes:   configNumber(config, "minutes"),
			Hours:     configNumber(config, "hours"),
			Days:      configNumber(config, "days"),
			Weeks:     configNumber(config, "weeks"),
			Timezone:  tz,
			StartDate: start,
			EndDate:   end,
		})
	default:
		return nil, workflow.NewError(workflow.ErrCodeInvalidTrigger, "unknown trigger kind %q", kind)
	}
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		tzErr := workflow.NewError(workflow.ErrCodeInvalidTrigger, "unknown timezone %q", tz)
		tzErr.Cause = err
		return nil, tzErr
	}
	return loc, nil
}

func checkBounds(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return workflow.NewError(workflow.ErrCodeInvalidTrigger, "end date %s precedes start date %s", end, start)
	}
	return nil
}

func addBoundsConfig(config map[string]any, tz string, start, end *time.Time) {
	if tz != "" {
		config["timezone"] = tz
	}
	if start != nil {
		config["start_date"] = start.Format(time.RFC3339)
	}
	if end != nil {
		config["end_date"] = end.Format(time.RFC3339)
	}
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func configNumber(config map[string]any, key string) float64 {
	switch n := config[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func configTime(config map[string]any, key string) *time.Time {
	s, ok := config[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
