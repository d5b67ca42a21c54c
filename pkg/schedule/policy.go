package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/models"
)

const (
	KindInterval = "interval"
	KindWindows  = "windows"
	KindWeekly   = "weekly"
	KindManual   = "manual"
)

// Policy gates one source. Policies only look at LastSuccessAt, so a failed
// attempt leaves the source owed.
type Policy interface {
	Kind() string
	Mode() models.Mode
	// Eligible reports whether a run is owed at now.
	Eligible(now time.Time, lastSuccess *time.Time) bool
	// Next is the earliest instant at or after now when a run is owed.
	Next(now time.Time, lastSuccess *time.Time) (time.Time, bool)
	String() string
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "dom": time.Sunday, "domingo": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "lun": time.Monday, "lunes": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "mar": time.Tuesday, "martes": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "mie": time.Wednesday, "miercoles": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "jue": time.Thursday, "jueves": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "vie": time.Friday, "viernes": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sab": time.Saturday, "sabado": time.Saturday,
}

// ParsePolicy builds the policy declared for a source.
func ParsePolicy(cfg config.ScheduleConfig, loc *time.Location) (Policy, error) {
	if loc == nil {
		loc = time.UTC
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	defaultMode := models.ModeIncremental
	if kind == KindWeekly {
		defaultMode = models.ModeBatch
	}
	mode := defaultMode
	if cfg.Mode != "" {
		m, ok := models.ParseMode(cfg.Mode)
		if !ok || m == models.ModeHistorical {
			return nil, fmt.Errorf("schedule mode %q cannot be scheduled", cfg.Mode)
		}
		mode = m
	}

	switch kind {
	case KindInterval:
		every, err := time.ParseDuration(cfg.Every)
		if err != nil || every < time.Minute {
			return nil, fmt.Errorf("interval %q: must be a duration of at least 1m", cfg.Every)
		}
		return &IntervalPolicy{Every: every, Location: loc, mode: mode}, nil
	case KindWindows:
		days, err := parseDays(cfg.Days)
		if err != nil {
			return nil, err
		}
		if len(cfg.Windows) == 0 {
			return nil, fmt.Errorf("windows policy needs at least one window")
		}
		p := &WindowPolicy{Days: days, Location: loc, mode: mode}
		for _, w := range cfg.Windows {
			win, err := parseWindow(w)
			if err != nil {
				return nil, err
			}
			p.Windows = append(p.Windows, win)
		}
		sort.Slice(p.Windows, func(i, j int) bool { return p.Windows[i].Start < p.Windows[j].Start })
		return p, nil
	case KindWeekly:
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(cfg.Day))]
		if !ok {
			return nil, fmt.Errorf("weekly policy: unknown day %q", cfg.Day)
		}
		at, err := parseClock(cfg.At)
		if err != nil {
			return nil, err
		}
		return &WeeklyPolicy{Day: day, At: at, Location: loc, mode: mode}, nil
	case KindManual, "disabled", "":
		return &ManualPolicy{mode: mode}, nil
	}
	return nil, fmt.Errorf("unknown schedule kind %q", cfg.Kind)
}

func parseDays(names []string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool, len(names))
	if len(names) == 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = true
		}
		return days, nil
	}
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		days[d] = true
	}
	return days, nil
}

// parseClock reads "HH:MM" as minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return h*60 + m, nil
}

func parseWindow(s string) (Window, error) {
	bounds := strings.Split(s, "-")
	if len(bounds) != 2 {
		return Window{}, fmt.Errorf("window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(bounds[0])
	if err != nil {
		return Window{}, err
	}
	end, err := parseClock(bounds[1])
	if err != nil {
		return Window{}, err
	}
	if end <= start {
		return Window{}, fmt.Errorf("window %q ends before it starts", s)
	}
	return Window{Start: start, End: end}, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}

func before(last *time.Time, t time.Time) bool {
	return last == nil || last.Before(t)
}

// IntervalPolicy runs once per slot; slots start at midnight local time and
// repeat every Every, so "6h" means 00:00, 06:00, 12:00 and 18:00.
type IntervalPolicy struct {
	Every    time.Duration
	Location *time.Location
	mode     models.Mode
}

func (p *IntervalPolicy) Kind() string      { return KindInterval }
func (p *IntervalPolicy) Mode() models.Mode { return p.mode }
func (p *IntervalPolicy) String() string    { return "every " + p.Every.String() }

func (p *IntervalPolicy) slotStart(now time.Time) time.Time {
	day := midnight(now, p.Location)
	elapsed := now.Sub(day)
	return day.Add(elapsed / p.Every * p.Every)
}

func (p *IntervalPolicy) Eligible(now time.Time, lastSuccess *time.Time) bool {
	return before(lastSuccess, p.slotStart(now))
}

func (p *IntervalPolicy) Next(now time.Time, lastSuccess *time.Time) (time.Time, bool) {
	if p.Eligible(now, lastSuccess) {
		return now, true
	}
	next := p.slotStart(now).Add(p.Every)
	tomorrow := midnight(now, p.Location).AddDate(0, 0, 1)
	if next.After(tomorrow) {
		next = tomorrow
	}
	return next, true
}

// Window is a span of the day in minutes after midnight, end exclusive.
type Window struct {
	Start int
	End   int
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// WindowPolicy runs at most once per window on the listed weekdays.
type WindowPolicy struct {
	Days     map[time.Weekday]bool
	Windows  []Window
	Location *time.Location
	mode     models.Mode
}

func (p *WindowPolicy) Kind() string      { return KindWindows }
func (p *WindowPolicy) Mode() models.Mode { return p.mode }

func (p *WindowPolicy) String() string {
	var days []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if p.Days[d] {
			days = append(days, strings.ToLower(d.String()[:3]))
		}
	}
	var wins []string
	for _, w := range p.Windows {
		wins = append(wins, w.String())
	}
	return strings.Join(days, ",") + " " + strings.Join(wins, ",")
}

// current returns the start of the window containing now, if any.
func (p *WindowPolicy) current(now time.Time) (time.Time, bool) {
	day := midnight(now, p.Location)
	if !p.Days[day.Weekday()] {
		return time.Time{}, false
	}
	for _, w := range p.Windows {
		start, end := atMinute(day, w.Start), atMinute(day, w.End)
		if !now.Before(start) && now.Before(end) {
			return start, true
		}
	}
	return time.Time{}, false
}

func (p *WindowPolicy) Eligible(now time.Time, lastSuccess *time.Time) bool {
	start, ok := p.current(now)
	return ok && before(lastSuccess, start)
}

func (p *WindowPolicy) Next(now time.Time, lastSuccess *time.Time) (time.Time, bool) {
	if p.Eligible(now, lastSuccess) {
		return now, true
	}
	day := midnight(now, p.Location)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !p.Days[d.Weekday()] {
			continue
		}
		for _, w := range p.Windows {
			start := atMinute(d, w.Start)
			if start.After(now) {
				return start, true
			}
		}
	}
	return time.Time{}, false
}

// WeeklyPolicy runs once a week at a fixed day and time.
type WeeklyPolicy struct {
	Day      time.Weekday
	At       int
	Location *time.Location
	mode     models.Mode
}

func (p *WeeklyPolicy) Kind() string      { return KindWeekly }
func (p *WeeklyPolicy) Mode() models.Mode { return p.mode }

func (p *WeeklyPolicy) String() string {
	return fmt.Sprintf("weekly %s %02d:%02d", strings.ToLower(p.Day.String()[:3]), p.At/60, p.At%60)
}

// latest is the most recent scheduled instant at or before now.
func (p *WeeklyPolicy) latest(now time.Time) time.Time {
	day := midnight(now, p.Location)
	back := (int(day.Weekday()) - int(p.Day) + 7) % 7
	occ := atMinute(day.AddDate(0, 0, -back), p.At)
	if occ.After(now) {
		occ = atMinute(day.AddDate(0, 0, -back-7), p.At)
	}
	return occ
}

func (p *WeeklyPolicy) Eligible(now time.Time, lastSuccess *time.Time) bool {
	return before(lastSuccess, p.latest(now))
}

func (p *WeeklyPolicy) Next(now time.Time, lastSuccess *time.Time) (time.Time, bool) {
	if p.Eligible(now, lastSuccess) {
		return now, true
	}
	latest := p.latest(now)
	return atMinute(midnight(latest, p.Location).AddDate(0, 0, 7), p.At), true
}

// ManualPolicy is never eligible; the source only runs on explicit command.
type ManualPolicy struct {
	mode models.Mode
}

func (p *ManualPolicy) Kind() string                                 { return KindManual }
func (p *ManualPolicy) Mode() models.Mode                            { return p.mode }
func (p *ManualPolicy) String() string                               { return KindManual }
func (p *ManualPolicy) Eligible(time.Time, *time.Time) bool          { return false }
func (p *ManualPolicy) Next(time.Time, *time.Time) (time.Time, bool) { return time.Time{}, false }
