package bouncer

import (
	"fmt"
	"os"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

// maxICalDuration caps granted session lengths regardless of how long
// the calendar coverage runs.
const maxICalDuration = 24 * time.Hour

// icalEvent is one calendar entry; recurring entries carry their
// expanded rule and spawn one instance per occurrence.
type icalEvent struct {
	start    time.Time
	duration time.Duration
	rule     *rrule.RRule
}

// eventInstance is one concrete occurrence.
type eventInstance struct {
	start time.Time
	end   time.Time
}

// icalLogic grants access while any calendar event instance is active.
// The granted duration covers the union of overlapping instances, so a
// session started during one event survives into an adjoining one,
// capped at one day.
type icalLogic struct {
	events []icalEvent
	now    func() time.Time
}

func newICal(cfg config.BouncerConfig) (*icalLogic, error) {
	if cfg.ICalFile == "" {
		return nil, fmt.Errorf("ical bouncer requires ical_file")
	}
	raw, err := os.ReadFile(cfg.ICalFile)
	if err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}
	cal, err := ics.ParseCalendar(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	// Unparseable times or recurrence rules are fatal up front rather
	// than refusing every client at request time.
	l := &icalLogic{now: time.Now}
	for _, ev := range cal.Events() {
		start, err := ev.GetStartAt()
		if err != nil {
			return nil, fmt.Errorf("event %s: bad start time: %w", ev.Id(), err)
		}
		end, err := ev.GetEndAt()
		if err != nil {
			return nil, fmt.Errorf("event %s: bad end time: %w", ev.Id(), err)
		}
		start, end = start.UTC(), end.UTC()
		if !end.After(start) {
			return nil, fmt.Errorf("event %s: end does not follow start", ev.Id())
		}

		event := icalEvent{start: start, duration: end.Sub(start)}
		if prop := ev.GetProperty(ics.ComponentProperty(ics.PropertyRrule)); prop != nil {
			opt, err := rrule.StrToROption(prop.Value)
			if err != nil {
				return nil, fmt.Errorf("event %s: bad recurrence rule: %w", ev.Id(), err)
			}
			opt.Dtstart = start
			rule, err := rrule.NewRRule(*opt)
			if err != nil {
				return nil, fmt.Errorf("event %s: bad recurrence rule: %w", ev.Id(), err)
			}
			event.rule = rule
		}
		l.events = append(l.events, event)
	}
	return l, nil
}

// instancesNear expands the event's occurrences that could still be
// active at now or begin before the grant cap runs out.
func (e icalEvent) instancesNear(now time.Time) []eventInstance {
	if e.rule == nil {
		return []eventInstance{{start: e.start, end: e.start.Add(e.duration)}}
	}
	starts := e.rule.Between(now.Add(-e.duration), now.Add(maxICalDuration), true)
	instances := make([]eventInstance, 0, len(starts))
	for _, s := range starts {
		s = s.UTC()
		instances = append(instances, eventInstance{start: s, end: s.Add(e.duration)})
	}
	return instances
}

func (l *icalLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	now := l.now().UTC()

	var instances []eventInstance
	for _, ev := range l.events {
		instances = append(instances, ev.instancesNear(now)...)
	}

	// Seed with the instances active right now.
	var until time.Time
	for _, in := range instances {
		if !in.start.After(now) && now.Before(in.end) && in.end.After(until) {
			until = in.end
		}
	}
	if until.IsZero() {
		keycard.State = auth.Refused
		return keycard, nil
	}

	// Extend through every instance overlapping the covered span, so
	// back-to-back events grant one continuous session.
	for extended := true; extended && until.Sub(now) < maxICalDuration; {
		extended = false
		for _, in := range instances {
			if !in.start.After(until) && in.end.After(until) {
				until = in.end
				extended = true
			}
		}
	}

	remaining := until.Sub(now)
	if remaining > maxICalDuration {
		remaining = maxICalDuration
	}
	keycard.State = auth.Authenticated
	keycard.Duration = remaining
	return keycard, nil
}
