package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// GladeStay is how long a game stays current when no exit is given.
const GladeStay = 7 * 24 * time.Hour

// NextFridayNoon returns the first Friday 12:00 UTC strictly after now.
// New games enter The Glade at this instant unless told otherwise.
func NextFridayNoon(now time.Time) time.Time {
	now = now.UTC()
	daysUntil := (int(time.Friday) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day()+daysUntil, 12, 0, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// DefaultGladeWindow fills in whichever bounds are zero.
func DefaultGladeWindow(entry, exit, now time.Time) (time.Time, time.Time) {
	if entry.IsZero() {
		entry = NextFridayNoon(now)
	}
	if exit.IsZero() {
		exit = entry.Add(GladeStay)
	}
	return entry, exit
}

var phraseParser = newPhraseParser()

// numericDate matches input made only of digits and date/time separators,
// e.g. "2027-02-30" or "12/01 10:00". Such input is either a strict date or
// invalid; it never goes to the phrase parser, which would read a fragment
// of it as a time of day.
var numericDate = regexp.MustCompile(`^[0-9][0-9\s:./-]*[-/][0-9\s:./-]*$`)

func newPhraseParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseSchedule turns an admin-supplied date into an instant.
//
// An empty string yields the zero time so callers can apply their own default.
// RFC 3339 and YYYY-MM-DD are tried first; anything else goes through the
// natural-language parser relative to now ("tomorrow at noon", "next friday
// 18:00"). A phrase is accepted only when the parser consumed all of it.
func ParseSchedule(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, input); err == nil {
		return t.UTC(), nil
	}
	if numericDate.MatchString(input) {
		return time.Time{}, fmt.Errorf("policy: invalid date %q, use YYYY-MM-DD or RFC 3339", input)
	}

	phrase := strings.ToLower(input)
	r, err := phraseParser.Parse(phrase, now.UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("policy: parsing %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("policy: unrecognised date %q", input)
	}
	if !consumedAll(phrase, r) {
		return time.Time{}, fmt.Errorf("policy: unrecognised date %q (only %q was understood)", input, strings.TrimSpace(r.Text))
	}
	return r.Time.UTC(), nil
}

// consumedAll reports whether the match covers the whole phrase. A leading
// preposition the parser skips ("at friday noon") is the only slack allowed.
func consumedAll(phrase string, r *when.Result) bool {
	if r.Index < 0 || r.Index+len(r.Text) > len(phrase) {
		return false
	}
	if strings.TrimSpace(phrase[r.Index+len(r.Text):]) != "" {
		return false
	}
	switch strings.TrimSpace(phrase[:r.Index]) {
	case "", "at", "on", "in":
		return true
	}
	return false
}
