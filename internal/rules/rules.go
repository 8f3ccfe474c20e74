// Package rules holds the static stage/day rule table: for each timeline
// track, which canned message applies at which stage or elapsed-day window.
// The table is loaded once at startup and never mutated.
package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/casetrail/casealert/internal/domain/notifylog"
)

// Track selects one of the two timeline rule sets. The upstream case record
// carries it as the under_7_years boolean.
type Track string

const (
	TrackUnder7 Track = "under_7_years"
	TrackOver7  Track = "over_7_years"
)

func TrackFor(under7 bool) Track {
	if under7 {
		return TrackUnder7
	}
	return TrackOver7
}

type MatchKind int

const (
	MatchNone MatchKind = iota
	// MatchDirect means the key was found as a stage identifier.
	MatchDirect
	// MatchDay means the key fell inside an entry's elapsed-day set.
	MatchDay
)

func (k MatchKind) String() string {
	switch k {
	case MatchDirect:
		return "DIRECT"
	case MatchDay:
		return "DAY_MAPPED"
	default:
		return "NOT_FOUND"
	}
}

// Entry is one stage's rule: display name, message template and the set of
// elapsed days at which the stage fires. Templates may reference {case} and
// {day}.
type Entry struct {
	Stage    int    `mapstructure:"stage" yaml:"stage"`
	Name     string `mapstructure:"name" yaml:"name"`
	Color    string `mapstructure:"color" yaml:"color"`
	Template string `mapstructure:"message" yaml:"message"`
	Days     []int  `mapstructure:"days" yaml:"days"`
}

func (e Entry) matchesDay(day int) bool {
	for _, d := range e.Days {
		if d == day {
			return true
		}
	}
	return false
}

const (
	stageAlertSound  = "smooth_notification"
	stageAlertType   = "STAGE_ALERT"
	genericColor     = "#2196F3"
	genericSound     = "default"
	genericAlertType = "CASE_UPDATE"
)

// Payload renders the entry into a concrete notification for a case. A zero
// day means the day is unknown (direct stage match) and is left out of the
// title.
func (e Entry) Payload(caseNumber string, day int) notifylog.Payload {
	title := fmt.Sprintf("Stage %d: %s", e.Stage, e.Name)
	if day > 0 {
		title = fmt.Sprintf("Stage %d: %s (Day %d)", e.Stage, e.Name, day)
	}
	body := strings.ReplaceAll(e.Template, "{case}", caseNumber)
	body = strings.ReplaceAll(body, "{day}", strconv.Itoa(day))
	return notifylog.Payload{
		Title: title,
		Body:  body,
		Color: e.Color,
		Sound: stageAlertSound,
		Type:  stageAlertType,
	}
}

// Generic is the fallback payload used when no rule resolves. Delivery must
// still proceed with it rather than fail the operation.
func Generic(caseNumber string) notifylog.Payload {
	return notifylog.Payload{
		Title: "Case Update: " + caseNumber,
		Body:  fmt.Sprintf("There has been activity on Case %s.", caseNumber),
		Color: genericColor,
		Sound: genericSound,
		Type:  genericAlertType,
	}
}

// Table is the immutable two-track rule set. Entries are kept in ascending
// stage order so day-set fallback scans are deterministic.
type Table struct {
	tracks map[Track][]Entry
}

func New(tracks map[Track][]Entry) (*Table, error) {
	sorted := make(map[Track][]Entry, len(tracks))
	for track, entries := range tracks {
		es := make([]Entry, len(entries))
		copy(es, entries)
		sort.Slice(es, func(i, j int) bool { return es[i].Stage < es[j].Stage })
		sorted[track] = es
	}
	t := &Table{tracks: sorted}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// validate rejects duplicate stage ids and overlapping day-sets within a
// track. Overlaps would make day-mapped resolution order-dependent.
func (t *Table) validate() error {
	for track, entries := range t.tracks {
		stages := make(map[int]struct{}, len(entries))
		days := make(map[int]int, len(entries))
		for _, e := range entries {
			if e.Stage <= 0 {
				return fmt.Errorf("track %s: stage id must be positive, got %d", track, e.Stage)
			}
			if _, dup := stages[e.Stage]; dup {
				return fmt.Errorf("track %s: duplicate stage %d", track, e.Stage)
			}
			stages[e.Stage] = struct{}{}
			for _, d := range e.Days {
				if owner, taken := days[d]; taken {
					return fmt.Errorf("track %s: day %d claimed by both stage %d and stage %d", track, d, owner, e.Stage)
				}
				days[d] = e.Stage
			}
		}
	}
	return nil
}

// Resolve maps an ambiguous key (stage id or elapsed-day, the upstream field
// has meant both over time) to a rule entry. A direct stage match always wins;
// otherwise the first ascending-stage entry whose day-set contains the key is
// returned.
func (t *Table) Resolve(track Track, key int) (Entry, MatchKind, bool) {
	for _, e := range t.tracks[track] {
		if e.Stage == key {
			return e, MatchDirect, true
		}
	}
	if e, ok := t.ResolveDay(track, key); ok {
		return e, MatchDay, true
	}
	return Entry{}, MatchNone, false
}

// ResolveDay performs day-set matching only, first match in ascending stage
// order. The scheduled scanner uses this tier directly.
func (t *Table) ResolveDay(track Track, day int) (Entry, bool) {
	for _, e := range t.tracks[track] {
		if e.matchesDay(day) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries exposes a track's rules in resolution order, for introspection.
func (t *Table) Entries(track Track) []Entry {
	es := t.tracks[track]
	out := make([]Entry, len(es))
	copy(out, es)
	return out
}
